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
	"context"
	"fmt"
	"os"

	"dario.cat/mergo"
	"github.com/go-viper/mapstructure/v2"
	"github.com/gobwas/glob"

	"rivaas.dev/multipart"
)

// Limits is the decoded upload policy.
type Limits struct {
	// AllowedFields lists the accepted field names. Empty means no restriction
	// unless AllowedPatterns is set.
	AllowedFields []string `config:"allowed_fields"`

	// AllowedPatterns lists glob patterns of accepted field names.
	AllowedPatterns []string `config:"allowed_patterns"`

	// MaxFields caps the number of parts. Zero means unlimited.
	MaxFields int `config:"max_fields"`

	// MaxHeaderBytes bounds each part's header block. Zero keeps the default.
	MaxHeaderBytes Size `config:"max_header_bytes"`

	// ReadBufferSize is the largest chunk read from the body at once.
	// Zero keeps the default.
	ReadBufferSize Size `config:"read_buffer_size"`

	SizeLimit SizeLimits `config:"size_limit"`
}

// SizeLimits holds the byte budgets.
type SizeLimits struct {
	WholeStream Size            `config:"whole_stream"`
	PerField    Size            `config:"per_field"`
	ForField    map[string]Size `config:"for_field"`
}

// defaults are the values every source is merged over.
func defaults() map[string]any {
	return map[string]any{
		"size_limit": map[string]any{
			"whole_stream": int64(Unlimited),
			"per_field":    int64(Unlimited),
		},
	}
}

// Option configures [Load].
type Option func(*loader)

type loader struct {
	sources []Source
	errs    []error
}

// WithFile adds a configuration file. Its format is detected from the
// extension (.yaml, .yml, .toml, .json).
func WithFile(path string) Option {
	return func(l *loader) {
		format, err := detectFormat(path)
		if err != nil {
			l.errs = append(l.errs, err)
			return
		}
		l.sources = append(l.sources, &file{path: path, format: format})
	}
}

// WithFileAs adds a configuration file in the given format.
func WithFileAs(path string, format Format) Option {
	return func(l *loader) {
		l.sources = append(l.sources, &file{path: path, format: format})
	}
}

// WithContent adds in-memory configuration content in the given format.
func WithContent(data []byte, format Format) Option {
	return func(l *loader) {
		l.sources = append(l.sources, &file{data: data, format: format})
	}
}

// WithEnv adds the environment variables starting with prefix. Nesting levels
// are separated by a double underscore; see the package documentation.
func WithEnv(prefix string) Option {
	return func(l *loader) {
		l.sources = append(l.sources, &env{prefix: prefix, environ: os.Environ})
	}
}

// WithSource adds a custom source.
func WithSource(src Source) Option {
	return func(l *loader) {
		if src != nil {
			l.sources = append(l.sources, src)
		}
	}
}

// Load reads the sources in order, later ones overriding earlier ones, and
// decodes the result into Limits.
//
// Example:
//
//	limits, err := config.Load(ctx,
//	    config.WithFile("upload.yaml"),
//	    config.WithEnv("UPLOAD_"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	mp := multipart.New(body, boundary, limits.Options()...)
func Load(ctx context.Context, opts ...Option) (*Limits, error) {
	l := &loader{}
	for _, opt := range opts {
		opt(l)
	}
	if len(l.errs) > 0 {
		return nil, NewError("options", "configure", l.errs[0])
	}

	values := defaults()
	for i, src := range l.sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		conf, err := src.Load(ctx)
		if err != nil {
			return nil, NewError(fmt.Sprintf("source[%d]", i), "load", err)
		}
		if conf == nil {
			continue
		}
		if err = mergo.Map(&values, conf, mergo.WithOverride); err != nil {
			return nil, NewError(fmt.Sprintf("source[%d]", i), "merge", err)
		}
	}

	limits := &Limits{}
	if err := bind(values, limits); err != nil {
		return nil, NewError("binding", "bind", err)
	}
	if err := limits.Validate(); err != nil {
		return nil, err
	}

	return limits, nil
}

// MustLoad is like [Load] but panics on error.
func MustLoad(ctx context.Context, opts ...Option) *Limits {
	limits, err := Load(ctx, opts...)
	if err != nil {
		panic(err)
	}

	return limits
}

func bind(values map[string]any, out *Limits) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "config",
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			sizeHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	if err = decoder.Decode(values); err != nil {
		return fmt.Errorf("failed to decode configuration: %w", err)
	}

	return nil
}

// Validate reports out-of-range values.
func (l *Limits) Validate() error {
	if l.MaxFields < 0 {
		return NewFieldError("binding", "max_fields", "validate", fmt.Errorf("%w: must not be negative", ErrInvalidLimits))
	}
	if l.MaxHeaderBytes < 0 {
		return NewFieldError("binding", "max_header_bytes", "validate", fmt.Errorf("%w: must be a positive size", ErrInvalidLimits))
	}
	if l.ReadBufferSize < 0 {
		return NewFieldError("binding", "read_buffer_size", "validate", fmt.Errorf("%w: must be a positive size", ErrInvalidLimits))
	}
	for _, pattern := range l.AllowedPatterns {
		if _, err := glob.Compile(pattern); err != nil {
			return NewFieldError("binding", "allowed_patterns", "validate", fmt.Errorf("%w: pattern %q: %w", ErrInvalidLimits, pattern, err))
		}
	}

	return nil
}

// Constraints converts the limits into parser constraints. It panics on an
// invalid allowed pattern; limits returned by [Load] are already validated.
func (l *Limits) Constraints() multipart.Constraints {
	c := multipart.NewConstraints()
	if len(l.AllowedFields) > 0 {
		c = c.AllowedFields(l.AllowedFields...)
	}
	if len(l.AllowedPatterns) > 0 {
		c = c.AllowedFieldPatterns(l.AllowedPatterns...)
	}
	if l.MaxFields > 0 {
		c = c.MaxFields(l.MaxFields)
	}

	sl := multipart.NewSizeLimit().
		WholeStream(l.SizeLimit.WholeStream.Bytes()).
		PerField(l.SizeLimit.PerField.Bytes())
	for name, size := range l.SizeLimit.ForField {
		sl = sl.ForField(name, size.Bytes())
	}

	return c.SizeLimit(sl)
}

// Options returns the parser options implementing the limits.
func (l *Limits) Options() []multipart.Option {
	opts := []multipart.Option{multipart.WithConstraints(l.Constraints())}
	if l.MaxHeaderBytes > 0 {
		opts = append(opts, multipart.WithMaxHeaderBytes(int(l.MaxHeaderBytes)))
	}
	if l.ReadBufferSize > 0 {
		opts = append(opts, multipart.WithReadBufferSize(int(l.ReadBufferSize)))
	}

	return opts
}
