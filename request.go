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
	"mime"
	"net/http"
)

// maxBoundaryLen is the RFC 2046 limit on boundary length.
const maxBoundaryLen = 70

// ParseBoundary extracts the boundary from a multipart/form-data Content-Type
// header value. It fails with [ErrInvalidContentType] when the value is
// empty, has another media type, or carries no usable boundary.
//
// Example:
//
//	boundary, err := multipart.ParseBoundary(r.Header.Get("Content-Type"))
func ParseBoundary(contentType string) (string, error) {
	if contentType == "" {
		return "", newError(ErrInvalidContentType, "", 0, errors.New("missing Content-Type"))
	}
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", newError(ErrInvalidContentType, "", 0, err)
	}
	if mediaType != "multipart/form-data" {
		return "", newError(ErrInvalidContentType, "", 0, fmt.Errorf("unexpected media type %q", mediaType))
	}
	boundary := params["boundary"]
	switch {
	case boundary == "":
		return "", newError(ErrInvalidContentType, "", 0, errors.New("missing boundary parameter"))
	case len(boundary) > maxBoundaryLen:
		return "", newError(ErrInvalidContentType, "", 0, fmt.Errorf("boundary longer than %d bytes", maxBoundaryLen))
	}

	return boundary, nil
}

// FromRequest returns a parser over the body of r, taking the boundary from
// its Content-Type header. The parser does not read anything until the first
// call to [Multipart.NextField].
//
// Example:
//
//	mp, err := multipart.FromRequest(r, multipart.WithConstraints(constraints))
//	if err != nil {
//	    http.Error(w, err.Error(), http.StatusUnsupportedMediaType)
//	    return
//	}
//	defer mp.Close()
func FromRequest(r *http.Request, opts ...Option) (*Multipart, error) {
	boundary, err := ParseBoundary(r.Header.Get("Content-Type"))
	if err != nil {
		return nil, err
	}
	body := r.Body
	if body == nil {
		body = http.NoBody
	}

	return New(body, boundary, opts...), nil
}
