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
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
)

// state is the position of the parser within the stream.
type state int

const (
	statePreamble state = iota // before the first delimiter
	stateHeaders               // at the start of a part's header block
	stateBody                  // inside a part body
	stateDone                  // closing delimiter consumed
	stateFailed                // terminated by an error
	stateClosed                // Close called
)

// Multipart is a streaming multipart/form-data parser.
//
// Fields are produced in stream order by [Multipart.NextField]; the body of
// each field is pulled from the source on demand through the [Field]. Only one
// field is open at a time: requesting the next field discards whatever the
// caller left unread of the current one. Memory use is bounded by the read
// buffer size and the part header limit, independent of the size of the body.
//
// ⚠️ THREAD SAFETY: Multipart is NOT safe for concurrent use. It is meant to
// be driven by the goroutine handling the request. Independent parsers share
// no state and may run concurrently.
//
// Example:
//
//	mp, err := multipart.FromRequest(r)
//	if err != nil {
//	    http.Error(w, err.Error(), http.StatusBadRequest)
//	    return
//	}
//	defer mp.Close()
//
//	for {
//	    field, err := mp.NextField(r.Context())
//	    if errors.Is(err, io.EOF) {
//	        break
//	    }
//	    if err != nil {
//	        return err
//	    }
//	    for {
//	        chunk, err := field.Chunk(r.Context())
//	        if errors.Is(err, io.EOF) {
//	            break
//	        }
//	        if err != nil {
//	            return err
//	        }
//	        process(field.Name(), chunk)
//	    }
//	}
type Multipart struct {
	cfg     *config
	src     io.Reader
	s       *stream
	m       *matcher
	inst    *instruments
	state   state
	err     error
	current *Field
	fields  int   // number of fields produced
	total   int64 // body bytes consumed across all fields, discarded ones included
}

// New returns a parser reading the multipart body from src, whose parts are
// separated by boundary. An empty boundary yields a parser whose first
// NextField fails with [ErrInvalidContentType].
//
// Example:
//
//	mp := multipart.New(body, "X-BOUNDARY",
//	    multipart.WithConstraints(multipart.NewConstraints().AllowedFields("file")),
//	)
func New(src io.Reader, boundary string, opts ...Option) *Multipart {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	mp := &Multipart{
		cfg:  cfg,
		src:  src,
		inst: instrumentsFor(cfg.meterProvider, cfg.logger),
	}
	if boundary == "" {
		mp.state = stateFailed
		mp.err = newError(ErrInvalidContentType, "", 0, errors.New("empty boundary"))

		return mp
	}

	mp.m = newMatcher(boundary)
	retain := cfg.maxHeaderBytes + len(mp.m.delim) + maxTransportPadding + 4
	mp.s = newStream(src, cfg.readBufferSize, retain)
	// The first delimiter may open the stream without a preceding line break.
	mp.s.seed(crlf)

	return mp
}

// NextField advances to the next field of the stream.
//
// Any unread remainder of the previous field is discarded first; those bytes
// still count towards the whole-stream limit. The previous [Field] becomes
// stale and its methods return [ErrFieldStale].
//
// NextField returns io.EOF once the closing boundary has been consumed, and on
// every call after that. After a failure it returns the same error on every
// call; failures are never retried.
func (mp *Multipart) NextField(ctx context.Context) (*Field, error) {
	switch mp.state {
	case stateFailed:
		return nil, mp.err
	case stateClosed:
		return nil, ErrClosed
	case stateDone:
		return nil, io.EOF
	}

	if prev := mp.current; prev != nil {
		mp.current = nil
		if err := mp.discard(ctx, prev); err != nil {
			return nil, err
		}
		prev.stale = true
	}

	if mp.state == statePreamble {
		if err := mp.skipPreamble(ctx); err != nil {
			return nil, err
		}
	}
	if mp.state == stateDone {
		return nil, io.EOF
	}

	if limit := mp.cfg.constraints.maxFields; limit > 0 && mp.fields >= limit {
		return nil, mp.fail(ctx, newError(ErrTooManyFields, "", int64(limit), nil))
	}

	ph, err := mp.readPartHeader(ctx)
	if err != nil {
		return nil, err
	}
	if !mp.cfg.constraints.IsFieldAllowed(ph.name) {
		return nil, mp.fail(ctx, newError(ErrFieldNotAllowed, ph.name, 0, nil))
	}

	f := &Field{
		mp:          mp,
		ctx:         ctx,
		index:       mp.fields,
		name:        ph.name,
		fileName:    ph.fileName,
		isFile:      ph.isFile,
		contentType: ph.contentType,
		header:      ph.header,
		limit:       mp.cfg.constraints.sizeLimit.FieldLimit(ph.name),
	}
	mp.fields++
	mp.current = f
	mp.state = stateBody

	mp.cfg.logger.Debug("multipart field opened",
		slog.String("field", f.name),
		slog.String("file_name", f.fileName),
		slog.Int("index", f.index),
	)
	fieldEvent(ctx, "multipart.field.open", f)

	return f, nil
}

// Close releases the parser's buffer and closes the source when it is an
// [io.Closer]. Subsequent calls on the parser or its fields return [ErrClosed].
func (mp *Multipart) Close() error {
	if mp.state == stateClosed {
		return nil
	}
	mp.state = stateClosed
	mp.current = nil
	mp.release()
	if c, ok := mp.src.(io.Closer); ok {
		return c.Close()
	}

	return nil
}

// BytesRead returns the number of body bytes consumed so far, including the
// bytes of fields that were discarded.
func (mp *Multipart) BytesRead() int64 {
	return mp.total
}

// FieldCount returns the number of fields produced so far.
func (mp *Multipart) FieldCount() int {
	return mp.fields
}

// skipPreamble discards everything before the first delimiter. Preamble
// bytes are charged to the whole-stream budget like discarded field bytes.
func (mp *Multipart) skipPreamble(ctx context.Context) error {
	limit := mp.cfg.constraints.sizeLimit.WholeStreamLimit()
	seeded := len(crlf)
	for {
		n, res, skip := mp.m.scan(mp.s.buffered())
		mp.s.consume(n)
		fromSeed := min(n, seeded)
		seeded -= fromSeed
		mp.total += int64(n - fromSeed)
		if exceeds(mp.total, limit) {
			return mp.fail(ctx, newError(ErrStreamSizeExceeded, "", limit, nil))
		}
		switch res {
		case matchPart:
			mp.s.consume(skip)
			mp.state = stateHeaders

			return nil
		case matchFinal:
			mp.state = stateDone
			mp.release()

			return nil
		}
		if err := mp.fillOrFail(ctx, ""); err != nil {
			return err
		}
	}
}

// readPartHeader reads the header block of the part at the read position.
func (mp *Multipart) readPartHeader(ctx context.Context) (*partHeader, error) {
	limit := mp.cfg.maxHeaderBytes
	for {
		b := mp.s.buffered()
		blockLen, consumed := headerEnd(b)
		if blockLen >= 0 {
			if consumed > limit {
				return nil, mp.fail(ctx, newError(ErrMalformedPartHeader, "", int64(limit), errHeaderBlockTooLarge))
			}
			ph, err := parsePartHeader(b[:blockLen])
			if err != nil {
				return nil, mp.fail(ctx, newError(ErrMalformedPartHeader, "", 0, err))
			}
			mp.s.consume(consumed)

			return ph, nil
		}
		if len(b) > limit {
			return nil, mp.fail(ctx, newError(ErrMalformedPartHeader, "", int64(limit), errHeaderBlockTooLarge))
		}

		switch err := mp.s.fill(ctx); {
		case err == nil:
		case errors.Is(err, io.EOF):
			return nil, mp.fail(ctx, newError(ErrTruncatedStream, "", 0, errHeaderBlockTruncated))
		default:
			return nil, mp.fail(ctx, mp.readError(err, ""))
		}
	}
}

// readBody returns up to size bytes of the current part body. The returned
// slice aliases the read buffer and is only valid until the next call.
// It returns io.EOF at the end of the part, after which the parser is
// positioned at the next part's headers or is done.
func (mp *Multipart) readBody(ctx context.Context, size int, field string) ([]byte, error) {
	for {
		b := mp.s.buffered()
		n, res, skip := mp.m.scan(b)
		if n > 0 {
			n = min(n, size)
			mp.s.consume(n)

			return b[:n], nil
		}
		switch res {
		case matchPart:
			mp.s.consume(skip)
			mp.state = stateHeaders

			return nil, io.EOF
		case matchFinal:
			// The epilogue after the closing delimiter is ignored.
			mp.state = stateDone
			mp.release()

			return nil, io.EOF
		}
		if err := mp.fillOrFail(ctx, field); err != nil {
			return nil, err
		}
	}
}

// discard drains the unread remainder of f. Discarded bytes are charged to
// the whole-stream budget only.
func (mp *Multipart) discard(ctx context.Context, f *Field) error {
	if f.done {
		return nil
	}
	limit := mp.cfg.constraints.sizeLimit.WholeStreamLimit()
	for {
		b, err := mp.readBody(ctx, mp.cfg.readBufferSize, f.name)
		if errors.Is(err, io.EOF) {
			f.done = true
			mp.inst.fieldDone(ctx, resultDiscarded)
			mp.cfg.logger.Debug("multipart field discarded",
				slog.String("field", f.name),
				slog.Int64("bytes", f.read),
			)
			fieldEvent(ctx, "multipart.field.discard", f)

			return nil
		}
		if err != nil {
			return err
		}
		mp.total += int64(len(b))
		if exceeds(mp.total, limit) {
			return mp.fail(ctx, newError(ErrStreamSizeExceeded, f.name, limit, nil))
		}
	}
}

// fillOrFail reads more input, turning exhaustion into ErrTruncatedStream.
func (mp *Multipart) fillOrFail(ctx context.Context, field string) error {
	err := mp.s.fill(ctx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, io.EOF):
		return mp.fail(ctx, newError(ErrTruncatedStream, field, 0, nil))
	default:
		return mp.fail(ctx, mp.readError(err, field))
	}
}

// readError classifies a failed fill: context errors are returned as they
// are, anything else came from the source.
func (mp *Multipart) readError(err error, field string) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return newError(ErrStreamSizeExceeded, field, tooLarge.Limit, err)
	}

	return newError(ErrUpstream, field, 0, err)
}

// fail terminates the parse with err. Every later call reports err.
func (mp *Multipart) fail(ctx context.Context, err error) error {
	if mp.state == stateFailed {
		return mp.err
	}
	mp.state = stateFailed
	mp.err = err
	if f := mp.current; f != nil {
		f.done = true
		mp.inst.fieldDone(ctx, resultFailed)
	}

	mp.cfg.logger.Warn("multipart parse failed", slog.Any("error", err), slog.Int("fields", mp.fields))
	mp.inst.rejected(ctx, err)
	failSpan(ctx, err)
	mp.release()

	return err
}

func (mp *Multipart) release() {
	if mp.s != nil {
		mp.s.release()
		mp.s = nil
	}
}
