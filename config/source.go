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
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/goccy/go-yaml"
)

// Source loads raw configuration data. Keys of the returned map follow the
// configuration schema (allowed_fields, size_limit, ...).
type Source interface {
	Load(ctx context.Context) (map[string]any, error)
}

// Format is a configuration file format.
type Format string

// Supported formats. JSON documents are read by the YAML decoder.
const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
	FormatJSON Format = "json"
)

// extensionFormats maps file extensions to formats for automatic detection.
var extensionFormats = map[string]Format{
	".yaml": FormatYAML,
	".yml":  FormatYAML,
	".json": FormatJSON,
	".toml": FormatTOML,
}

// detectFormat detects the format of a file from its extension.
func detectFormat(path string) (Format, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if format, ok := extensionFormats[ext]; ok {
		return format, nil
	}

	return "", fmt.Errorf("%w: cannot detect format from extension %q; use WithFileAs to specify it", ErrUnknownFormat, ext)
}

func decode(format Format, data []byte) (map[string]any, error) {
	var out map[string]any
	switch format {
	case FormatYAML, FormatJSON:
		if err := yaml.Unmarshal(data, &out); err != nil {
			return nil, err
		}
	case FormatTOML:
		if err := toml.Unmarshal(data, &out); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}

	return out, nil
}

// file loads configuration from a file path or from in-memory content.
type file struct {
	path   string
	data   []byte
	format Format
}

func (f *file) Load(context.Context) (map[string]any, error) {
	data := f.data
	if f.path != "" {
		var err error
		if data, err = os.ReadFile(f.path); err != nil {
			return nil, fmt.Errorf("failed to read file: %w", err)
		}
	}

	conf, err := decode(f.format, data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode file: %w", err)
	}

	return conf, nil
}

// envSeparator separates nesting levels in environment variable names, since
// single underscores are part of the keys themselves.
const envSeparator = "__"

// env loads configuration from environment variables starting with prefix.
//
// For example, with prefix "UPLOAD_":
//
//	UPLOAD_MAX_FIELDS=16                       -> max_fields = "16"
//	UPLOAD_ALLOWED_FIELDS=title,avatar         -> allowed_fields = "title,avatar"
//	UPLOAD_SIZE_LIMIT__WHOLE_STREAM=15MiB      -> size_limit.whole_stream = "15MiB"
//	UPLOAD_SIZE_LIMIT__FOR_FIELD__AVATAR=2MiB  -> size_limit.for_field.avatar = "2MiB"
type env struct {
	prefix  string
	environ func() []string
}

func (e *env) Load(context.Context) (map[string]any, error) {
	conf := make(map[string]any)

	for _, kv := range e.environ() {
		if !strings.HasPrefix(kv, e.prefix) {
			continue
		}
		key, value, ok := strings.Cut(strings.TrimPrefix(kv, e.prefix), "=")
		if !ok {
			continue
		}

		var parts []string
		for part := range strings.SplitSeq(strings.ToLower(strings.TrimSpace(key)), envSeparator) {
			if part != "" {
				parts = append(parts, part)
			}
		}
		if len(parts) == 0 {
			continue
		}

		current := conf
		for _, part := range parts[:len(parts)-1] {
			next, ok := current[part].(map[string]any)
			if !ok {
				// A scalar at an intermediate level is replaced by the nested map.
				next = make(map[string]any)
				current[part] = next
			}
			current = next
		}
		current[parts[len(parts)-1]] = strings.TrimSpace(value)
	}

	return conf, nil
}
