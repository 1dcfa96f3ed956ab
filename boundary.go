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

// This file contains the read buffer over the byte source and the boundary
// matcher that splits the buffered bytes into part bodies and delimiters.

import (
	"bytes"
	"context"
	"io"
	"sync"
)

// maxTransportPadding bounds the linear whitespace allowed between a
// delimiter and its line break (RFC 2046 transport padding).
const maxTransportPadding = 64

// maxEmptyReads is the number of consecutive (0, nil) reads tolerated
// before the source is reported as making no progress.
const maxEmptyReads = 100

var crlf = []byte("\r\n")

// bufPool recycles read buffers of the default size.
var bufPool = sync.Pool{
	New: func() any {
		b := make([]byte, defaultBufferLen)
		return &b
	},
}

// defaultBufferLen is the buffer length used with default options and
// boundaries of up to 70 bytes (the RFC 2046 maximum).
const defaultBufferLen = DefaultReadBufferSize + DefaultMaxHeaderBytes + 128

// stream is a compacting read buffer over the byte source. The unread window
// is buf[r:w]. Besides one read's worth of fresh bytes it only ever retains
// a delimiter-sized tail or a part header block, so its size is fixed for
// the lifetime of the parser regardless of the size of the parts.
type stream struct {
	src      io.Reader
	buf      []byte
	pooled   *[]byte
	r, w     int
	readSize int
	eof      bool
	err      error
}

func newStream(src io.Reader, readSize, retain int) *stream {
	s := &stream{src: src, readSize: readSize}
	size := readSize + retain
	if size <= defaultBufferLen {
		s.pooled = bufPool.Get().(*[]byte)
		s.buf = (*s.pooled)[:defaultBufferLen]
	} else {
		s.buf = make([]byte, size)
	}

	return s
}

// seed places b at the start of the buffer, before any source bytes.
func (s *stream) seed(b []byte) {
	s.w = copy(s.buf, b)
}

func (s *stream) buffered() []byte {
	return s.buf[s.r:s.w]
}

func (s *stream) consume(n int) {
	s.r += n
}

// fill reads once from the source, appending to the unread window.
// It returns io.EOF when the source is exhausted and nothing new was read,
// and the source error (sticky) when the read failed.
func (s *stream) fill(ctx context.Context) error {
	if s.err != nil {
		return s.err
	}
	if s.eof {
		return io.EOF
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if s.r > 0 {
		s.w = copy(s.buf, s.buf[s.r:s.w])
		s.r = 0
	}
	end := min(s.w+s.readSize, len(s.buf))
	if end == s.w {
		return io.ErrShortBuffer
	}

	for range maxEmptyReads {
		n, err := s.src.Read(s.buf[s.w:end])
		s.w += n
		if err == io.EOF {
			s.eof = true
			if n == 0 {
				return io.EOF
			}

			return nil
		}
		if err != nil {
			s.err = err
			if n == 0 {
				return err
			}

			return nil
		}
		if n > 0 {
			return nil
		}
	}
	s.err = io.ErrNoProgress

	return s.err
}

// release returns the buffer to the pool. The stream must not be used afterwards.
func (s *stream) release() {
	if s.pooled != nil {
		bufPool.Put(s.pooled)
		s.pooled = nil
	}
	s.buf = nil
	s.r, s.w = 0, 0
}

// match describes what follows the body bytes reported by matcher.scan.
type match int

const (
	// matchPending means no complete delimiter was recognised; more input is
	// needed before anything beyond the reported body bytes can be classified.
	matchPending match = iota
	// matchPart is a part separator: "\r\n--boundary" [padding] "\r\n".
	matchPart
	// matchFinal is the closing delimiter: "\r\n--boundary--".
	matchFinal
)

// matcher locates "\r\n--boundary" delimiters in buffered bytes.
type matcher struct {
	delim []byte // "\r\n--" + boundary
}

func newMatcher(boundary string) *matcher {
	return &matcher{delim: []byte("\r\n--" + boundary)}
}

// scan inspects b and returns n, the number of leading bytes that are
// certainly part body, and what follows them. For matchPart and matchFinal,
// skip is the length of the delimiter line starting at b[n].
//
// Bytes that might be the beginning of a delimiter split across reads are
// never reported as body: at most len(delim)-1 bytes (plus padding) are held
// back until the next read resolves them.
func (m *matcher) scan(b []byte) (n int, res match, skip int) {
	from := 0
	for {
		i := bytes.Index(b[from:], m.delim)
		if i < 0 {
			break
		}
		i += from
		res, skip := m.classify(b[i+len(m.delim):])
		switch res {
		case matchPart, matchFinal:
			return i, res, len(m.delim) + skip
		case matchPending:
			return i, matchPending, 0
		}
		// "\r\n--boundary" followed by other bytes is body data.
		from = i + len(m.delim)
	}

	return len(b) - m.partialTail(b[from:]), matchPending, 0
}

// classifyNone is returned by classify for bytes that cannot follow a delimiter.
const classifyNone match = -1

// classify inspects the bytes following a delimiter.
func (m *matcher) classify(after []byte) (match, int) {
	if len(after) == 0 {
		return matchPending, 0
	}
	if after[0] == '-' {
		if len(after) < 2 {
			return matchPending, 0
		}
		if after[1] == '-' {
			return matchFinal, 2
		}

		return classifyNone, 0
	}

	k := 0
	for k < len(after) && (after[k] == ' ' || after[k] == '\t') {
		k++
		if k > maxTransportPadding {
			return classifyNone, 0
		}
	}
	rest := after[k:]
	switch {
	case len(rest) == 0:
		return matchPending, 0
	case rest[0] != '\r':
		return classifyNone, 0
	case len(rest) == 1:
		return matchPending, 0
	case rest[1] == '\n':
		return matchPart, k + 2
	default:
		return classifyNone, 0
	}
}

// partialTail returns the length of the longest suffix of b that is a proper
// prefix of the delimiter. A boundary never contains CR, so such a suffix can
// only start at the last CR of b.
func (m *matcher) partialTail(b []byte) int {
	window := b
	if len(window) >= len(m.delim) {
		window = window[len(window)-len(m.delim)+1:]
	}
	i := bytes.LastIndexByte(window, '\r')
	if i < 0 {
		return 0
	}
	if bytes.HasPrefix(m.delim, window[i:]) {
		return len(window) - i
	}

	return 0
}
