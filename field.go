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
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/textproto"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/htmlindex"
)

// Field is one part of a multipart stream. Its body is pulled from the
// source on demand with [Field.Chunk] or [Field.Read].
//
// A Field is valid until the next call to [Multipart.NextField]; after that
// every body method returns [ErrFieldStale].
type Field struct {
	mp          *Multipart
	ctx         context.Context //nolint:containedctx // used by Read, which has no ctx parameter
	index       int
	name        string
	fileName    string
	isFile      bool
	contentType string
	header      textproto.MIMEHeader
	limit       int64 // effective per-field budget, or Unlimited
	read        int64 // body bytes delivered to the caller
	done        bool
	stale       bool
}

// Name returns the name parameter of the part's Content-Disposition header.
func (f *Field) Name() string {
	return f.name
}

// FileName returns the filename parameter as sent by the client. It is not
// safe to use as a path; see [Field.SafeFileName].
func (f *Field) FileName() string {
	return f.fileName
}

// IsFile reports whether the part carried a filename parameter, even an empty one.
func (f *Field) IsFile() bool {
	return f.isFile
}

// SafeFileName returns the base name of the client file name with any
// remaining path separators replaced, or "" when the part is not a file.
func (f *Field) SafeFileName() string {
	if f.fileName == "" {
		return ""
	}
	// Clients on Windows may send backslash separated paths.
	name := filepath.Base(strings.ReplaceAll(f.fileName, "\\", "/"))
	name = strings.ReplaceAll(name, "/", "_")
	switch name {
	case ".", "..":
		return ""
	}

	return name
}

// ContentType returns the part's Content-Type header, or "" if absent.
func (f *Field) ContentType() string {
	return f.contentType
}

// Headers returns all headers of the part with canonicalised keys.
func (f *Field) Headers() textproto.MIMEHeader {
	return f.header
}

// Index returns the 0-based position of the field in the stream.
func (f *Field) Index() int {
	return f.index
}

// BytesRead returns the number of body bytes delivered so far.
func (f *Field) BytesRead() int64 {
	return f.read
}

// Chunk returns the next piece of the field body. The returned slice is owned
// by the caller. Chunk returns io.EOF once the body is exhausted; chunk
// boundaries follow the source reads and carry no meaning.
//
// A chunk that would take the field or the stream beyond its byte budget is
// not returned: Chunk fails with [ErrFieldSizeExceeded] or
// [ErrStreamSizeExceeded] and the whole parse is terminated.
func (f *Field) Chunk(ctx context.Context) ([]byte, error) {
	b, err := f.next(ctx, f.mp.cfg.readBufferSize)
	if err != nil {
		return nil, err
	}

	return bytes.Clone(b), nil
}

// Read implements [io.Reader] over the field body, using the context the
// field was opened with.
func (f *Field) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	b, err := f.next(f.ctx, len(p))
	if err != nil {
		return 0, err
	}

	return copy(p, b), nil
}

// Bytes reads the rest of the field body into memory. The per-field budget
// bounds the result, so configure one before calling Bytes on untrusted input.
func (f *Field) Bytes(ctx context.Context) ([]byte, error) {
	var buf bytes.Buffer
	for {
		b, err := f.next(ctx, f.mp.cfg.readBufferSize)
		if errors.Is(err, io.EOF) {
			return buf.Bytes(), nil
		}
		if err != nil {
			return nil, err
		}
		buf.Write(b)
	}
}

// Text reads the rest of the field body as UTF-8 text.
// It fails with [ErrDecode] when the body is not valid UTF-8.
func (f *Field) Text(ctx context.Context) (string, error) {
	b, err := f.Bytes(ctx)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", newError(ErrDecode, f.name, 0, errors.New("invalid UTF-8"))
	}

	return string(b), nil
}

// TextWithCharset reads the rest of the field body and decodes it to UTF-8
// using the charset parameter of the part's Content-Type, or defaultCharset
// when the part declares none. Charset names follow the WHATWG encoding
// labels ("utf-8", "iso-8859-1", "windows-1252", "shift_jis", ...).
func (f *Field) TextWithCharset(ctx context.Context, defaultCharset string) (string, error) {
	charset := defaultCharset
	if f.contentType != "" {
		if _, params, err := mime.ParseMediaType(f.contentType); err == nil && params["charset"] != "" {
			charset = params["charset"]
		}
	}
	if charset == "" || strings.EqualFold(charset, "utf-8") || strings.EqualFold(charset, "utf8") {
		return f.Text(ctx)
	}

	enc, err := htmlindex.Get(charset)
	if err != nil {
		return "", newError(ErrDecode, f.name, 0, fmt.Errorf("charset %q: %w", charset, err))
	}
	b, err := f.Bytes(ctx)
	if err != nil {
		return "", err
	}
	out, err := enc.NewDecoder().Bytes(b)
	if err != nil {
		return "", newError(ErrDecode, f.name, 0, err)
	}

	return string(out), nil
}

// next returns up to size body bytes, aliasing the parser buffer, after
// charging them to the field and stream budgets.
func (f *Field) next(ctx context.Context, size int) ([]byte, error) {
	mp := f.mp
	switch {
	case mp.state == stateClosed:
		return nil, ErrClosed
	case f.stale:
		return nil, ErrFieldStale
	case mp.state == stateFailed:
		return nil, mp.err
	case f.done:
		return nil, io.EOF
	}

	b, err := mp.readBody(ctx, size, f.name)
	if errors.Is(err, io.EOF) {
		f.done = true
		mp.inst.fieldDone(ctx, resultComplete)
		mp.cfg.logger.Debug("multipart field closed",
			slog.String("field", f.name),
			slog.Int64("bytes", f.read),
		)
		fieldEvent(ctx, "multipart.field.close", f)

		return nil, io.EOF
	}
	if err != nil {
		return nil, err
	}

	f.read += int64(len(b))
	mp.total += int64(len(b))
	if exceeds(f.read, f.limit) {
		return nil, mp.fail(ctx, newError(ErrFieldSizeExceeded, f.name, f.limit, nil))
	}
	if limit := mp.cfg.constraints.sizeLimit.WholeStreamLimit(); exceeds(mp.total, limit) {
		return nil, mp.fail(ctx, newError(ErrStreamSizeExceeded, f.name, limit, nil))
	}
	mp.inst.delivered(ctx, len(b))

	return b, nil
}
