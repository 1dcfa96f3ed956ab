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
	"fmt"
	"reflect"
	"strings"

	"github.com/docker/go-units"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/cast"

	"rivaas.dev/multipart"
)

// Size is a byte count. In configuration files it is written either as an
// integer or as a human-readable size; unit prefixes are binary, so "30KB"
// and "30KiB" both mean 30720 bytes. The words "unlimited" and "none", and
// any negative number, mean no limit.
type Size int64

// Unlimited is the Size of an absent limit.
const Unlimited = Size(multipart.Unlimited)

// ParseSize parses a size written as in configuration files.
func ParseSize(s string) (Size, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "":
		return 0, fmt.Errorf("%w: empty value", ErrInvalidSize)
	case "unlimited", "none", "-1":
		return Unlimited, nil
	}

	n, err := units.RAMInBytes(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSize, s)
	}
	if n < 0 {
		return Unlimited, nil
	}

	return Size(n), nil
}

// Bytes returns the size as a limit understood by [multipart.SizeLimit].
func (s Size) Bytes() int64 {
	if s < 0 {
		return multipart.Unlimited
	}

	return int64(s)
}

// String renders the size in binary units, or "unlimited".
func (s Size) String() string {
	if s < 0 {
		return "unlimited"
	}

	return units.BytesSize(float64(s))
}

var sizeType = reflect.TypeFor[Size]()

// sizeHookFunc converts strings and numbers of any kind into Size values.
func sizeHookFunc() mapstructure.DecodeHookFuncType {
	return func(_ reflect.Type, to reflect.Type, data any) (any, error) {
		if to != sizeType {
			return data, nil
		}
		if s, ok := data.(string); ok {
			return ParseSize(s)
		}

		n, err := cast.ToInt64E(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSize, data)
		}
		if n < 0 {
			return Unlimited, nil
		}

		return Size(n), nil
	}
}
