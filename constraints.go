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
	"maps"
	"slices"

	"github.com/gobwas/glob"
)

// Unlimited marks an absent limit.
const Unlimited int64 = -1

// Constraints restricts which fields a stream may carry and how large they may be.
//
// Constraints is an immutable value: every builder method returns a modified
// copy and leaves the receiver untouched, so one Constraints value can be
// shared by any number of concurrent parsers.
//
// Example:
//
//	c := multipart.NewConstraints().
//	    AllowedFields("my_text_field", "my_file_field").
//	    SizeLimit(multipart.NewSizeLimit().
//	        WholeStream(15 << 20).
//	        PerField(10 << 20).
//	        ForField("my_text_field", 30 << 10))
type Constraints struct {
	allowed   map[string]struct{}
	patterns  []glob.Glob
	maxFields int
	sizeLimit SizeLimit
}

// NewConstraints returns Constraints that accept everything.
func NewConstraints() Constraints {
	return Constraints{sizeLimit: NewSizeLimit()}
}

// AllowedFields restricts the stream to the given field names. Any other name
// fails the parse with [ErrFieldNotAllowed] before its body is read.
// Calling it again adds to the set.
func (c Constraints) AllowedFields(names ...string) Constraints {
	allowed := make(map[string]struct{}, len(c.allowed)+len(names))
	maps.Copy(allowed, c.allowed)
	for _, name := range names {
		allowed[name] = struct{}{}
	}
	c.allowed = allowed

	return c
}

// AllowedFieldPatterns admits field names matching any of the glob patterns
// (for example "attachment_*"). Patterns combine with [Constraints.AllowedFields]:
// a field is accepted when it matches either. Invalid patterns panic, as they
// are programmer errors caught at startup.
func (c Constraints) AllowedFieldPatterns(patterns ...string) Constraints {
	compiled := slices.Clip(slices.Clone(c.patterns))
	for _, p := range patterns {
		compiled = append(compiled, glob.MustCompile(p))
	}
	c.patterns = compiled

	return c
}

// MaxFields caps the number of parts in the stream. Zero or less means unlimited.
func (c Constraints) MaxFields(n int) Constraints {
	c.maxFields = n
	return c
}

// SizeLimit sets the byte budgets.
func (c Constraints) SizeLimit(l SizeLimit) Constraints {
	c.sizeLimit = l
	return c
}

// FieldCountLimit returns the MaxFields setting; zero or less means unlimited.
func (c Constraints) FieldCountLimit() int {
	return c.maxFields
}

// Limits returns the configured byte budgets.
func (c Constraints) Limits() SizeLimit {
	return c.sizeLimit
}

// IsFieldAllowed reports whether a field named name may appear in the stream.
func (c Constraints) IsFieldAllowed(name string) bool {
	if c.allowed == nil && c.patterns == nil {
		return true
	}
	if _, ok := c.allowed[name]; ok {
		return true
	}
	for _, g := range c.patterns {
		if g.Match(name) {
			return true
		}
	}

	return false
}

// SizeLimit holds byte budgets for the whole stream and for individual fields.
// Like [Constraints] it is an immutable value. The zero value is unlimited.
type SizeLimit struct {
	set         bool
	wholeStream int64
	perField    int64
	fields      map[string]int64
}

// NewSizeLimit returns a SizeLimit with every budget unlimited.
func NewSizeLimit() SizeLimit {
	return SizeLimit{set: true, wholeStream: Unlimited, perField: Unlimited}
}

func (l SizeLimit) normalize() SizeLimit {
	if l.set {
		return l
	}
	l.set = true
	l.wholeStream = Unlimited
	l.perField = Unlimited

	return l
}

// WholeStream caps the total number of body bytes across all fields.
func (l SizeLimit) WholeStream(n int64) SizeLimit {
	l = l.normalize()
	l.wholeStream = n

	return l
}

// PerField caps the body size of every field without a specific override.
func (l SizeLimit) PerField(n int64) SizeLimit {
	l = l.normalize()
	l.perField = n

	return l
}

// ForField caps the body size of the field called name, overriding PerField.
func (l SizeLimit) ForField(name string, n int64) SizeLimit {
	l = l.normalize()
	fields := make(map[string]int64, len(l.fields)+1)
	maps.Copy(fields, l.fields)
	fields[name] = n
	l.fields = fields

	return l
}

// WholeStreamLimit returns the whole-stream budget, or [Unlimited].
func (l SizeLimit) WholeStreamLimit() int64 {
	return l.normalize().wholeStream
}

// FieldLimit returns the effective budget for the field called name: the
// override if present, else the default per-field budget, else [Unlimited].
func (l SizeLimit) FieldLimit(name string) int64 {
	if n, ok := l.fields[name]; ok {
		return n
	}

	return l.normalize().perField
}

// exceeds reports whether count is beyond limit.
func exceeds(count, limit int64) bool {
	return limit >= 0 && count > limit
}
