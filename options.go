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
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const (
	// DefaultReadBufferSize is the largest chunk requested from the source per read.
	DefaultReadBufferSize = 32 * 1024

	// DefaultMaxHeaderBytes bounds the header block of a single part.
	DefaultMaxHeaderBytes = 16 * 1024

	minReadBufferSize = 512
)

// Option defines functional options for [Multipart] configuration.
type Option func(*config)

// config holds the configuration for a Multipart parser.
type config struct {
	constraints    Constraints
	readBufferSize int
	maxHeaderBytes int
	logger         *slog.Logger
	meterProvider  metric.MeterProvider
}

// defaultConfig returns the default configuration for Multipart.
func defaultConfig() *config {
	return &config{
		constraints:    NewConstraints(),
		readBufferSize: DefaultReadBufferSize,
		maxHeaderBytes: DefaultMaxHeaderBytes,
		logger:         slog.New(slog.DiscardHandler),
		meterProvider:  noop.NewMeterProvider(),
	}
}

// WithConstraints applies field and size constraints to the stream.
//
// Example:
//
//	mp := multipart.New(body, boundary, multipart.WithConstraints(
//	    multipart.NewConstraints().AllowedFields("avatar"),
//	))
func WithConstraints(c Constraints) Option {
	return func(cfg *config) {
		cfg.constraints = c
	}
}

// WithReadBufferSize sets the largest chunk read from the source at once.
// It bounds the memory held by the parser, together with the boundary length
// and the part header limit. Values below 512 bytes are raised to 512.
// Default: 32KB
func WithReadBufferSize(size int) Option {
	return func(cfg *config) {
		cfg.readBufferSize = max(size, minReadBufferSize)
	}
}

// WithMaxHeaderBytes bounds the header block of each part.
// Default: 16KB
func WithMaxHeaderBytes(size int) Option {
	return func(cfg *config) {
		if size <= 0 {
			panic("max header bytes must be positive")
		}
		cfg.maxHeaderBytes = size
	}
}

// WithLogger sets the logger used for field lifecycle and rejection events.
// Default: discard
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *config) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithMeterProvider records field, byte and rejection counters on the given provider.
// Default: no-op
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(cfg *config) {
		if mp != nil {
			cfg.meterProvider = mp
		}
	}
}
