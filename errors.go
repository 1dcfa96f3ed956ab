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

package multipart

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
)

// Error kinds. Every failure returned by this package matches exactly one of
// these with [errors.Is].
//
// Usage pattern:
//
//	field, err := mp.NextField(ctx)
//	switch {
//	case errors.Is(err, io.EOF):
//	    // no more fields
//	case errors.Is(err, multipart.ErrFieldNotAllowed):
//	    // reject with 400
//	case errors.Is(err, multipart.ErrStreamSizeExceeded):
//	    // reject with 413
//	}
var (
	// ErrInvalidContentType indicates the Content-Type header is absent, is not
	// multipart/form-data, or carries no boundary parameter.
	ErrInvalidContentType = errors.New("multipart: missing or invalid content type")

	// ErrTruncatedStream indicates the source ended before the closing boundary.
	ErrTruncatedStream = errors.New("multipart: stream ended before closing boundary")

	// ErrMalformedPartHeader indicates a part header block that cannot be parsed:
	// missing name, bad quoting, or a header block larger than allowed.
	ErrMalformedPartHeader = errors.New("multipart: malformed part header")

	// ErrFieldNotAllowed indicates a field whose name is not in the allowed set.
	ErrFieldNotAllowed = errors.New("multipart: field not allowed")

	// ErrStreamSizeExceeded indicates the whole-stream byte budget was exceeded,
	// or that a source capped with [http.MaxBytesReader] hit its cap.
	ErrStreamSizeExceeded = errors.New("multipart: stream size limit exceeded")

	// ErrFieldSizeExceeded indicates a per-field byte budget was exceeded.
	ErrFieldSizeExceeded = errors.New("multipart: field size limit exceeded")

	// ErrTooManyFields indicates the stream holds more parts than allowed.
	ErrTooManyFields = errors.New("multipart: too many fields")

	// ErrUpstream wraps a read failure of the underlying byte source.
	ErrUpstream = errors.New("multipart: upstream read failed")

	// ErrFieldStale is returned by a [Field] used after the next call to
	// [Multipart.NextField].
	ErrFieldStale = errors.New("multipart: field is no longer current")

	// ErrClosed is returned after [Multipart.Close].
	ErrClosed = errors.New("multipart: parser closed")

	// ErrDecode indicates a field body that could not be decoded as text.
	// It does not terminate the parse.
	ErrDecode = errors.New("multipart: cannot decode field text")
)

// Error describes a parse failure. Kind is one of the package sentinels;
// Err, when set, is the underlying cause (for example the source read error).
//
// Error implements the optional interfaces understood by rivaas.dev/errors
// formatters (HTTPStatus, Code, Details), so handlers can render it directly
// as an RFC 9457 problem document.
type Error struct {
	Kind  error  // sentinel kind
	Field string // field name, empty when the failure is not tied to a field
	Limit int64  // violated limit in bytes (or fields), zero when not applicable
	Err   error  // underlying cause, may be nil
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Field != "" {
		msg += fmt.Sprintf(" (field %q)", e.Field)
	}
	if e.Limit > 0 {
		msg += ": limit " + strconv.FormatInt(e.Limit, 10)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	return msg
}

// Unwrap exposes both the kind and the cause to [errors.Is] and [errors.As].
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}

	return []error{e.Kind, e.Err}
}

// HTTPStatus maps the failure to the response status a server should send.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case ErrInvalidContentType:
		return http.StatusUnsupportedMediaType
	case ErrStreamSizeExceeded, ErrFieldSizeExceeded, ErrTooManyFields:
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusBadRequest
	}
}

// Code returns a machine-readable error code.
func (e *Error) Code() string {
	switch e.Kind {
	case ErrInvalidContentType:
		return "invalid_content_type"
	case ErrTruncatedStream:
		return "truncated_stream"
	case ErrMalformedPartHeader:
		return "malformed_part_header"
	case ErrFieldNotAllowed:
		return "field_not_allowed"
	case ErrStreamSizeExceeded:
		return "stream_size_exceeded"
	case ErrFieldSizeExceeded:
		return "field_size_exceeded"
	case ErrTooManyFields:
		return "too_many_fields"
	case ErrUpstream:
		return "upstream_error"
	case ErrFieldStale:
		return "field_stale"
	case ErrClosed:
		return "closed"
	case ErrDecode:
		return "decode_failed"
	default:
		return "multipart_error"
	}
}

// Details returns the field and limit involved, if any.
func (e *Error) Details() any {
	d := make(map[string]any, 2)
	if e.Field != "" {
		d["field"] = e.Field
	}
	if e.Limit > 0 {
		d["limit"] = e.Limit
	}
	if len(d) == 0 {
		return nil
	}

	return d
}

func newError(kind error, field string, limit int64, cause error) *Error {
	return &Error{Kind: kind, Field: field, Limit: limit, Err: cause}
}

// errorCode returns the code of err when it is an [*Error], or "unknown".
func errorCode(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code()
	}

	return "unknown"
}
