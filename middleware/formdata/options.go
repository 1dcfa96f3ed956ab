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


package formdata

import (
	"log/slog"

	riverrors "rivaas.dev/errors"
	"rivaas.dev/router"

	"rivaas.dev/multipart"
)

// WithConstraints sets the constraints applied to every request.
// Default: no constraints
//
// Example:
//
//	formdata.New(formdata.WithConstraints(multipart.NewConstraints().
//	    AllowedFields("my_text_field", "my_file_field").
//	    SizeLimit(multipart.NewSizeLimit().
//	        WholeStream(15 << 20).
//	        PerField(10 << 20))))
func WithConstraints(c multipart.Constraints) Option {
	return func(cfg *config) {
		cfg.constraints = c
	}
}

// WithMaxRequestBytes caps the raw request body, boundaries and part headers
// included. Requests declaring a larger Content-Length are rejected before
// the handler runs; larger chunked bodies fail while being parsed.
// A negative value removes the cap.
// Default: no cap
//
// Example:
//
//	formdata.New(
//	    formdata.WithConstraints(c),
//	    formdata.WithMaxRequestBytes(16 << 20),
//	)
func WithMaxRequestBytes(n int64) Option {
	return func(cfg *config) {
		if n < 0 {
			n = multipart.Unlimited
		}
		cfg.maxRequestBytes = n
	}
}

// WithMultipartOptions passes extra options to the parser, such as
// [multipart.WithMeterProvider] or [multipart.WithReadBufferSize].
// Constraints set here are overridden by [WithConstraints].
func WithMultipartOptions(opts ...multipart.Option) Option {
	return func(cfg *config) {
		cfg.multipartOpts = append(cfg.multipartOpts, opts...)
	}
}

// WithErrorHandler sets a custom handler for requests rejected before
// parsing: a missing or non-multipart Content-Type, or a Content-Length over
// the [WithMaxRequestBytes] cap. The middleware aborts the chain after it returns.
// Default: the error is rendered with the configured formatter
//
// Example:
//
//	formdata.New(
//	    formdata.WithErrorHandler(func(c *router.Context, err error) {
//	        c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
//	    }),
//	)
func WithErrorHandler(handler func(c *router.Context, err error)) Option {
	return func(cfg *config) {
		cfg.errorHandler = handler
	}
}

// WithFormatter sets the formatter used for rejections and by [WriteError].
// Default: RFC 9457 problem details
//
// Example:
//
//	formdata.New(formdata.WithFormatter(errors.NewSimple()))
func WithFormatter(formatter riverrors.Formatter) Option {
	return func(cfg *config) {
		if formatter != nil {
			cfg.formatter = formatter
		}
	}
}

// WithLogger sets the logger for rejections. It is also handed to the
// parser unless [WithMultipartOptions] sets another one.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *config) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithSkipPaths sets paths that pass through without a parser attached.
//
// Example:
//
//	formdata.New(
//	    formdata.WithSkipPaths("/health"),
//	)
func WithSkipPaths(paths ...string) Option {
	return func(cfg *config) {
		for _, path := range paths {
			cfg.skipPaths[path] = true
		}
	}
}
