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


// Package formdata provides a router middleware that prepares a streaming
// multipart/form-data parser for each request.
//
// The middleware validates the Content-Type, optionally caps the raw request
// size, and attaches a [multipart.Multipart] to the request. Handlers read
// fields from it one at a time without buffering the upload:
//
//	r.POST("/upload", formdata.New(formdata.WithConstraints(c)), func(c *router.Context) {
//	    mp, _ := formdata.From(c)
//	    // mp.NextField(...)
//	})
//
// Parse errors implement the rivaas.dev/errors interfaces, and [WriteError]
// renders them as RFC 9457 problem details by default.
package formdata
