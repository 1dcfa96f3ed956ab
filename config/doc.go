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

// Package config loads multipart upload limits from files and the environment.
//
// Sources are merged in order, with later sources overriding earlier ones,
// and decoded into [Limits], which converts to [multipart.Constraints] and
// parser options.
//
// # File Format
//
//	allowed_fields: [my_text_field, my_file_field]
//	allowed_patterns: ["attachment_*"]
//	max_fields: 64
//	max_header_bytes: 16KiB
//	size_limit:
//	  whole_stream: 15MiB
//	  per_field: 10MiB
//	  for_field:
//	    my_text_field: 30KiB
//
// YAML (.yaml, .yml), TOML (.toml) and JSON (.json) files are supported.
// Sizes are integers or human-readable sizes with binary units; "unlimited"
// lifts a limit. Budgets that are not configured are unlimited.
//
// # Environment Variables
//
// With [WithEnv] and a prefix such as "UPLOAD_", variable names map to keys
// in lower case, with a double underscore between nesting levels:
//
//	UPLOAD_ALLOWED_FIELDS=title,avatar
//	UPLOAD_SIZE_LIMIT__WHOLE_STREAM=15MiB
//	UPLOAD_SIZE_LIMIT__FOR_FIELD__AVATAR=2MiB
//
// Unknown keys are rejected, so choose a prefix no other variable uses.
package config
