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

// Package multipart provides a streaming multipart/form-data parser with
// field and size constraints.
//
// Unlike mime/multipart's ReadForm, nothing is buffered to memory or disk:
// fields are produced one at a time in stream order and their bodies are
// pulled from the source in chunks as the caller asks for them. Constraints
// are enforced while the bytes flow, so an oversized or unexpected upload is
// rejected without reading it to the end.
//
// # Quick Start
//
//	func upload(w http.ResponseWriter, r *http.Request) {
//		constraints := multipart.NewConstraints().
//			AllowedFields("my_text_field", "my_file_field").
//			SizeLimit(multipart.NewSizeLimit().
//				WholeStream(15 << 20).
//				PerField(10 << 20).
//				ForField("my_text_field", 30 << 10))
//
//		mp, err := multipart.FromRequest(r, multipart.WithConstraints(constraints))
//		if err != nil {
//			http.Error(w, err.Error(), http.StatusUnsupportedMediaType)
//			return
//		}
//		defer mp.Close()
//
//		for {
//			field, err := mp.NextField(r.Context())
//			if errors.Is(err, io.EOF) {
//				break
//			}
//			if err != nil {
//				http.Error(w, err.Error(), http.StatusBadRequest)
//				return
//			}
//			if _, err := io.Copy(dst, field); err != nil {
//				http.Error(w, err.Error(), http.StatusBadRequest)
//				return
//			}
//		}
//	}
//
// # Constraints
//
// [Constraints] is an immutable value built once and shared across requests.
// It restricts the accepted field names ([Constraints.AllowedFields],
// [Constraints.AllowedFieldPatterns]), the number of parts
// ([Constraints.MaxFields]) and the byte budgets ([SizeLimit]) of the whole
// stream and of each field. A count equal to a limit is accepted; one byte
// more fails the parse.
//
// # Errors
//
// Every failure matches one of the package sentinels with [errors.Is].
// Failures are sticky: once a parse fails, NextField and every field method
// report the same error. [*Error] implements the optional interfaces of
// rivaas.dev/errors, so it renders directly as an RFC 9457 problem document
// with the right status code.
//
// # Observability
//
// [WithLogger] receives field lifecycle events at debug level and rejections
// at warn level. [WithMeterProvider] records the multipart.fields,
// multipart.bytes and multipart.rejections counters. When the context passed
// to NextField or Chunk carries a recording span, field events are added to
// it and failures are recorded on it.
package multipart
