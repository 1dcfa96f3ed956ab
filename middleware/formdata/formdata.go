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
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	riverrors "rivaas.dev/errors"
	"rivaas.dev/router"

	"rivaas.dev/multipart"
)

// contextKey is the request context key of the attached parser.
type contextKey struct{}

// state is what the middleware attaches to the request context.
type state struct {
	mp        *multipart.Multipart
	formatter riverrors.Formatter
	logger    *slog.Logger
}

// Option defines functional options for formdata middleware configuration.
type Option func(*config)

// config holds the configuration for the formdata middleware.
type config struct {
	// constraints are applied to every parsed request
	constraints multipart.Constraints

	// multipartOpts are passed to the parser before the constraints
	multipartOpts []multipart.Option

	// maxRequestBytes caps the raw request body, framing included.
	// multipart.Unlimited disables the cap.
	maxRequestBytes int64

	// errorHandler is called when a request is rejected before parsing
	// starts. Nil renders the error with formatter.
	errorHandler func(c *router.Context, err error)

	// formatter renders rejections and errors passed to WriteError
	formatter riverrors.Formatter

	logger *slog.Logger

	// skipPaths are paths that pass through without a parser attached.
	skipPaths map[string]bool
}

// defaultConfig returns the default configuration for formdata middleware.
func defaultConfig() *config {
	return &config{
		constraints:     multipart.NewConstraints(),
		maxRequestBytes: multipart.Unlimited,
		formatter:       riverrors.NewRFC9457(""),
		logger:          slog.New(slog.DiscardHandler),
		skipPaths:       make(map[string]bool),
	}
}

// New returns a middleware that prepares a streaming multipart/form-data
// parser for the request and attaches it to the request context, where
// handlers retrieve it with [From].
//
// Requests without a multipart/form-data Content-Type are rejected with
// 415 Unsupported Media Type. The constraints are enforced by the parser
// while the handler reads fields; their whole-stream budget counts field
// bytes, not the boundaries and part headers around them.
//
// [WithMaxRequestBytes] additionally caps the raw body. A request whose
// Content-Length exceeds the cap is rejected with 413 Request Entity Too
// Large before any of the body is read, and a chunked body that grows past
// it fails the parse with [multipart.ErrStreamSizeExceeded].
//
// Basic usage:
//
//	r := router.MustNew()
//	r.POST("/upload", formdata.New(
//	    formdata.WithConstraints(multipart.NewConstraints().
//	        AllowedFields("title", "avatar").
//	        SizeLimit(multipart.NewSizeLimit().WholeStream(15 << 20))),
//	), upload)
//
//	func upload(c *router.Context) {
//	    mp, _ := formdata.From(c)
//	    for {
//	        field, err := mp.NextField(c.Request.Context())
//	        if errors.Is(err, io.EOF) {
//	            break
//	        }
//	        if err != nil {
//	            formdata.WriteError(c, err)
//	            return
//	        }
//	        // Process field...
//	    }
//	    c.Status(http.StatusNoContent)
//	}
//
// The parser is closed once the handler chain returns.
func New(opts ...Option) router.HandlerFunc {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	maxBytes := cfg.maxRequestBytes

	// The logger goes first so that WithMultipartOptions can replace it.
	mpOpts := make([]multipart.Option, 0, len(cfg.multipartOpts)+2)
	mpOpts = append(mpOpts, multipart.WithLogger(cfg.logger))
	mpOpts = append(mpOpts, cfg.multipartOpts...)
	mpOpts = append(mpOpts, multipart.WithConstraints(cfg.constraints))

	return func(c *router.Context) {
		if cfg.skipPaths[c.Request.URL.Path] {
			c.Next()
			return
		}

		boundary, err := multipart.ParseBoundary(c.Request.Header.Get("Content-Type"))
		if err != nil {
			cfg.reject(c, err)
			return
		}

		body := c.Request.Body
		if body == nil {
			body = http.NoBody
		}
		if maxBytes >= 0 {
			// ContentLength is -1 for chunked requests; those are cut off
			// by the reader instead.
			if c.Request.ContentLength > maxBytes {
				cfg.reject(c, &multipart.Error{Kind: multipart.ErrStreamSizeExceeded, Limit: maxBytes})
				return
			}
			body = http.MaxBytesReader(c.Response, body, maxBytes)
		}
		mp := multipart.New(body, boundary, mpOpts...)
		defer mp.Close()

		ctx := context.WithValue(c.Request.Context(), contextKey{}, &state{
			mp:        mp,
			formatter: cfg.formatter,
			logger:    cfg.logger,
		})
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// reject reports a request refused before parsing started.
func (cfg *config) reject(c *router.Context, err error) {
	cfg.logger.Warn("multipart request rejected",
		"error", err,
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
	)
	if cfg.errorHandler != nil {
		cfg.errorHandler(c, err)
	} else {
		write(c, cfg.formatter, cfg.logger, err)
	}
	c.Abort()
}

// From returns the parser attached by the middleware.
//
// Example:
//
//	func handler(c *router.Context) {
//	    mp, ok := formdata.From(c)
//	    if !ok {
//	        c.Status(http.StatusInternalServerError)
//	        return
//	    }
//	    // Read fields...
//	}
func From(c *router.Context) (*multipart.Multipart, bool) {
	st, ok := c.Request.Context().Value(contextKey{}).(*state)
	if !ok {
		return nil, false
	}

	return st.mp, true
}

// WriteError renders err with the formatter configured on the middleware,
// or an RFC 9457 formatter when the request did not pass through it. Parse
// errors carry their own HTTP status, so a size violation becomes 413 and a
// malformed stream 400.
func WriteError(c *router.Context, err error) {
	if err == nil {
		return
	}

	formatter := riverrors.Formatter(riverrors.NewRFC9457(""))
	logger := slog.New(slog.DiscardHandler)
	if st, ok := c.Request.Context().Value(contextKey{}).(*state); ok {
		formatter = st.formatter
		logger = st.logger
	}
	write(c, formatter, logger, err)
}

func write(c *router.Context, formatter riverrors.Formatter, logger *slog.Logger, err error) {
	resp := formatter.Format(c.Request, err)

	body, marshalErr := json.Marshal(resp.Body)
	if marshalErr != nil {
		logger.Error("failed to encode error response", "error", marshalErr)
		c.Response.WriteHeader(http.StatusInternalServerError)

		return
	}

	header := c.Response.Header()
	for key, values := range resp.Headers {
		for _, value := range values {
			header.Add(key, value)
		}
	}
	header.Set("Content-Type", resp.ContentType)
	c.Response.WriteHeader(resp.Status)
	if _, writeErr := c.Response.Write(body); writeErr != nil {
		logger.Error("failed to write error response", "error", writeErr)
	}
}
