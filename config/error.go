// Copyright 2025 The Rivaas Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidSize indicates a size value that is neither a byte count nor
	// a human-readable size such as "15MiB".
	ErrInvalidSize = errors.New("invalid size")

	// ErrUnknownFormat indicates a file whose format cannot be detected from
	// its extension.
	ErrUnknownFormat = errors.New("unknown configuration format")

	// ErrInvalidLimits indicates a decoded configuration that is out of range.
	ErrInvalidLimits = errors.New("invalid limits")
)

// Error represents a configuration error with detailed context.
// It tells where the error occurred (source, field), what operation was
// being performed, and the underlying error.
type Error struct {
	Source    string // where the error occurred (e.g., "source[0]", "binding")
	Field     string // the specific field, optional
	Operation string // the operation being performed (e.g., "load", "merge", "bind")
	Err       error  // the underlying error
}

// Error returns a formatted error message with context information.
func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config error in %s.%s during %s: %v",
			e.Source, e.Field, e.Operation, e.Err)
	}

	return fmt.Sprintf("config error in %s during %s: %v",
		e.Source, e.Operation, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new Error with the provided context.
func NewError(source, operation string, err error) *Error {
	return &Error{
		Source:    source,
		Operation: operation,
		Err:       err,
	}
}

// NewFieldError creates a new Error tied to a configuration field.
func NewFieldError(source, field, operation string, err error) *Error {
	return &Error{
		Source:    source,
		Field:     field,
		Operation: operation,
		Err:       err,
	}
}
