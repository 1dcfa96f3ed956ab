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

//go:build !integration

package multipart

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMultipart_TwoFields(t *testing.T) {
	t.Parallel()

	body := buildBody(testBoundary,
		textPart("my_text_field", "hello"),
		filePart("my_file_field", "a.txt", "text/plain", "hello world"),
	)

	for name, newReader := range readers(body) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			mp := New(newReader(), testBoundary)
			fields, err := collect(t.Context(), mp)
			require.NoError(t, err)

			assert.Equal(t, []collected{
				{name: "my_text_field", body: "hello"},
				{name: "my_file_field", fileName: "a.txt", isFile: true, body: "hello world"},
			}, fields)
			assert.Equal(t, 2, mp.FieldCount())
			assert.Equal(t, int64(len("hello")+len("hello world")), mp.BytesRead())
		})
	}
}

func TestMultipart_EndOfStreamIsIdempotent(t *testing.T) {
	t.Parallel()

	mp := New(strings.NewReader(buildBody(testBoundary, textPart("a", "1"))), testBoundary)
	_, err := collect(t.Context(), mp)
	require.NoError(t, err)

	for range 3 {
		f, err := mp.NextField(t.Context())
		assert.Nil(t, f)
		assert.ErrorIs(t, err, io.EOF)
	}
}

func TestMultipart_FieldOrderAndMetadata(t *testing.T) {
	t.Parallel()

	body := buildBody(testBoundary,
		textPart("first", "1"),
		filePart("second", "photo.png", "image/png", "\x89PNG"),
		textPart("third", ""),
	)
	mp := New(strings.NewReader(body), testBoundary)
	ctx := t.Context()

	f, err := mp.NextField(ctx)
	require.NoError(t, err)
	assert.Equal(t, "first", f.Name())
	assert.Equal(t, 0, f.Index())
	assert.False(t, f.IsFile())
	assert.Empty(t, f.ContentType())
	assert.Equal(t, `form-data; name="first"`, f.Headers().Get("Content-Disposition"))

	f, err = mp.NextField(ctx)
	require.NoError(t, err)
	assert.Equal(t, "second", f.Name())
	assert.Equal(t, 1, f.Index())
	assert.True(t, f.IsFile())
	assert.Equal(t, "photo.png", f.FileName())
	assert.Equal(t, "image/png", f.ContentType())
	data, err := f.Bytes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("\x89PNG"), data)

	f, err = mp.NextField(ctx)
	require.NoError(t, err)
	assert.Equal(t, "third", f.Name())
	text, err := f.Text(ctx)
	require.NoError(t, err)
	assert.Empty(t, text)

	_, err = mp.NextField(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestMultipart_ChunkSizeIndependence(t *testing.T) {
	t.Parallel()

	// Bodies that contain near-misses of the delimiter.
	bodies := []string{
		"plain",
		"line\r\nbreaks\r\n\r\n",
		"\r\n--" + testBoundary + "X not a delimiter",
		"\r\n--" + testBoundary + "-x",
		"--" + testBoundary + " without leading line break",
		"trailing CR\r",
		"\r\r\r\n\r\n-",
		strings.Repeat("\r\n-", 100),
	}

	var parts []testPart
	for i, b := range bodies {
		parts = append(parts, textPart("f"+string(rune('a'+i)), b))
	}
	body := buildBody(testBoundary, parts...)

	want, err := collect(t.Context(), New(strings.NewReader(body), testBoundary))
	require.NoError(t, err)
	require.Len(t, want, len(bodies))
	for i, b := range bodies {
		assert.Equal(t, b, want[i].body)
	}

	for name, newReader := range readers(body) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			got, err := collect(t.Context(), New(newReader(), testBoundary, WithReadBufferSize(1)))
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestMultipart_PreambleAndEpilogue(t *testing.T) {
	t.Parallel()

	body := "This is the preamble.\r\nIt is ignored.\r\n" +
		buildBody(testBoundary, textPart("a", "value")) +
		"This is the epilogue. --" + testBoundary + "\r\n"

	for name, newReader := range readers(body) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			fields, err := collect(t.Context(), New(newReader(), testBoundary))
			require.NoError(t, err)
			assert.Equal(t, []collected{{name: "a", body: "value"}}, fields)
		})
	}
}

func TestMultipart_TransportPadding(t *testing.T) {
	t.Parallel()

	body := "--" + testBoundary + " \t \r\n" +
		"Content-Disposition: form-data; name=\"a\"\r\n\r\n" +
		"one\r\n" +
		"--" + testBoundary + "\t\r\n" +
		"Content-Disposition: form-data; name=\"b\"\r\n\r\n" +
		"two\r\n" +
		"--" + testBoundary + "--"

	fields, err := collect(t.Context(), New(iotest.OneByteReader(strings.NewReader(body)), testBoundary))
	require.NoError(t, err)
	assert.Equal(t, []collected{{name: "a", body: "one"}, {name: "b", body: "two"}}, fields)
}

func TestMultipart_EmptyStreamOfFields(t *testing.T) {
	t.Parallel()

	mp := New(strings.NewReader("--"+testBoundary+"--\r\n"), testBoundary)
	fields, err := collect(t.Context(), mp)
	require.NoError(t, err)
	assert.Empty(t, fields)
}

func TestMultipart_Truncated(t *testing.T) {
	t.Parallel()

	full := buildBody(testBoundary, textPart("a", "hello"), textPart("b", "world"))

	tests := []struct {
		name string
		body string
	}{
		{name: "empty body", body: ""},
		{name: "preamble only", body: "no delimiter here"},
		{name: "inside headers", body: "--" + testBoundary + "\r\nContent-Disposition: form-data; name=\"a\"\r\n"},
		{name: "inside body", body: strings.TrimSuffix(full, "\r\n--"+testBoundary+"--\r\n")},
		{name: "partial closing delimiter", body: strings.TrimSuffix(full, "--\r\n")},
		{name: "after part delimiter", body: buildBody(testBoundary, textPart("a", "x"))[:len("--"+testBoundary+"\r\n")]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			for name, newReader := range readers(tt.body) {
				mp := New(newReader(), testBoundary)
				_, err := collect(t.Context(), mp)
				require.ErrorIs(t, err, ErrTruncatedStream, name)

				// The failure is sticky.
				_, again := mp.NextField(t.Context())
				assert.Equal(t, err, again, name)
			}
		})
	}
}

func TestMultipart_MalformedHeaders(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		headers string
		cause   error
	}{
		{name: "missing disposition", headers: "Content-Type: text/plain\r\n", cause: errMissingDisposition},
		{name: "missing name", headers: "Content-Disposition: form-data; filename=\"a.txt\"\r\n", cause: errMissingName},
		{name: "empty name", headers: "Content-Disposition: form-data; name=\"\"\r\n", cause: errMissingName},
		{name: "attachment disposition", headers: "Content-Disposition: attachment; name=\"a\"\r\n", cause: errNotFormData},
		{name: "missing colon", headers: "Content-Disposition form-data\r\n", cause: errMissingColon},
		{name: "no headers", headers: ""},
		{name: "unterminated quote", headers: "Content-Disposition: form-data; name=\"abc\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			body := "--" + testBoundary + "\r\n" + tt.headers + "\r\nbody\r\n--" + testBoundary + "--\r\n"
			mp := New(strings.NewReader(body), testBoundary)

			_, err := mp.NextField(t.Context())
			require.ErrorIs(t, err, ErrMalformedPartHeader)
			if tt.cause != nil {
				assert.ErrorIs(t, err, tt.cause)
			}
		})
	}
}

func TestMultipart_HeaderBlockTooLarge(t *testing.T) {
	t.Parallel()

	body := "--" + testBoundary + "\r\n" +
		"Content-Disposition: form-data; name=\"a\"\r\n" +
		"X-Padding: " + strings.Repeat("p", 2000) + "\r\n\r\n" +
		"body\r\n--" + testBoundary + "--\r\n"

	for name, newReader := range readers(body) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			mp := New(newReader(), testBoundary, WithMaxHeaderBytes(1024))
			_, err := mp.NextField(t.Context())
			require.ErrorIs(t, err, ErrMalformedPartHeader)
			assert.ErrorIs(t, err, errHeaderBlockTooLarge)
		})
	}
}

func TestMultipart_FoldedHeader(t *testing.T) {
	t.Parallel()

	body := "--" + testBoundary + "\r\n" +
		"Content-Disposition: form-data;\r\n name=\"folded\"\r\n" +
		"content-type: text/plain\r\n\r\n" +
		"v\r\n--" + testBoundary + "--\r\n"

	mp := New(strings.NewReader(body), testBoundary)
	f, err := mp.NextField(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "folded", f.Name())
	assert.Equal(t, "text/plain", f.ContentType())
}

func TestMultipart_QuotedStringUnescaping(t *testing.T) {
	t.Parallel()

	body := "--" + testBoundary + "\r\n" +
		`Content-Disposition: form-data; name="say \"hi\""; filename="my file.txt"` + "\r\n\r\n" +
		"v\r\n--" + testBoundary + "--\r\n"

	mp := New(strings.NewReader(body), testBoundary)
	f, err := mp.NextField(t.Context())
	require.NoError(t, err)
	assert.Equal(t, `say "hi"`, f.Name())
	assert.Equal(t, "my file.txt", f.FileName())
}

func TestMultipart_AbandonedFieldIsDiscarded(t *testing.T) {
	t.Parallel()

	body := buildBody(testBoundary,
		textPart("skipped", strings.Repeat("x", 100_000)),
		textPart("partial", "abcdefghij"),
		textPart("kept", "value"),
	)

	for name, newReader := range readers(body) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			ctx := t.Context()
			mp := New(newReader(), testBoundary, WithReadBufferSize(1024))

			skipped, err := mp.NextField(ctx)
			require.NoError(t, err)
			assert.Equal(t, "skipped", skipped.Name())

			partial, err := mp.NextField(ctx)
			require.NoError(t, err)
			buf := make([]byte, 3)
			n, err := io.ReadFull(partial, buf)
			require.NoError(t, err)
			assert.Equal(t, "abc", string(buf[:n]))

			kept, err := mp.NextField(ctx)
			require.NoError(t, err)
			text, err := kept.Text(ctx)
			require.NoError(t, err)
			assert.Equal(t, "value", text)

			_, err = mp.NextField(ctx)
			require.ErrorIs(t, err, io.EOF)
			assert.Equal(t, int64(100_000+10+5), mp.BytesRead())
		})
	}
}

func TestMultipart_StaleField(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	mp := New(strings.NewReader(buildBody(testBoundary, textPart("a", "1"), textPart("b", "2"))), testBoundary)

	a, err := mp.NextField(ctx)
	require.NoError(t, err)
	_, err = mp.NextField(ctx)
	require.NoError(t, err)

	_, err = a.Chunk(ctx)
	require.ErrorIs(t, err, ErrFieldStale)
	_, err = a.Read(make([]byte, 8))
	require.ErrorIs(t, err, ErrFieldStale)
	_, err = a.Text(ctx)
	assert.ErrorIs(t, err, ErrFieldStale)
}

func TestMultipart_Close(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	src := &closeRecorder{Reader: strings.NewReader(buildBody(testBoundary, textPart("a", "1")))}
	mp := New(src, testBoundary)

	f, err := mp.NextField(ctx)
	require.NoError(t, err)

	require.NoError(t, mp.Close())
	assert.True(t, src.closed)
	require.NoError(t, mp.Close(), "Close is idempotent")

	_, err = mp.NextField(ctx)
	require.ErrorIs(t, err, ErrClosed)
	_, err = f.Chunk(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMultipart_EmptyBoundary(t *testing.T) {
	t.Parallel()

	mp := New(strings.NewReader("--\r\n"), "")
	_, err := mp.NextField(t.Context())
	assert.ErrorIs(t, err, ErrInvalidContentType)
}

func TestMultipart_UpstreamError(t *testing.T) {
	t.Parallel()

	errBoom := errors.New("connection reset")

	t.Run("before first field", func(t *testing.T) {
		t.Parallel()

		mp := New(iotest.ErrReader(errBoom), testBoundary)
		_, err := mp.NextField(t.Context())
		require.ErrorIs(t, err, ErrUpstream)
		assert.ErrorIs(t, err, errBoom)
	})

	t.Run("inside body", func(t *testing.T) {
		t.Parallel()

		head := "--" + testBoundary + "\r\nContent-Disposition: form-data; name=\"a\"\r\n\r\npartial body"
		mp := New(io.MultiReader(strings.NewReader(head), iotest.ErrReader(errBoom)), testBoundary)
		_, err := collect(t.Context(), mp)
		require.ErrorIs(t, err, ErrUpstream)
		assert.ErrorIs(t, err, errBoom)

		var perr *Error
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, "a", perr.Field)
	})

	t.Run("timeout", func(t *testing.T) {
		t.Parallel()

		body := buildBody(testBoundary, textPart("a", strings.Repeat("z", 4096)))
		mp := New(iotest.TimeoutReader(strings.NewReader(body)), testBoundary, WithReadBufferSize(512))
		_, err := collect(t.Context(), mp)
		require.ErrorIs(t, err, ErrUpstream)
		assert.ErrorIs(t, err, iotest.ErrTimeout)
	})
}

func TestMultipart_ContextCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	mp := New(strings.NewReader(buildBody(testBoundary, textPart("a", "1"))), testBoundary)
	_, err := mp.NextField(ctx)
	require.ErrorIs(t, err, context.Canceled)

	_, err = mp.NextField(t.Context())
	assert.ErrorIs(t, err, context.Canceled, "cancellation terminates the parse")
}

func TestMultipart_ContextCancelledBetweenChunks(t *testing.T) {
	t.Parallel()

	body := buildBody(testBoundary, textPart("a", strings.Repeat("z", 8192)))
	ctx, cancel := context.WithCancel(t.Context())
	mp := New(&chunkReader{data: []byte(body), size: 1024}, testBoundary)

	f, err := mp.NextField(ctx)
	require.NoError(t, err)
	_, err = f.Chunk(ctx)
	require.NoError(t, err)

	cancel()
	for {
		_, err = f.Chunk(ctx)
		if err != nil {
			break
		}
	}
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMultipart_BoundedMemory(t *testing.T) {
	t.Parallel()

	const fieldSize = 8 << 20
	head := "--" + testBoundary + "\r\nContent-Disposition: form-data; name=\"big\"; filename=\"big.bin\"\r\n\r\n"
	tail := "\r\n--" + testBoundary + "--\r\n"
	src := io.MultiReader(
		strings.NewReader(head),
		io.LimitReader(zeroReader{}, fieldSize),
		strings.NewReader(tail),
	)

	ctx := t.Context()
	mp := New(src, testBoundary)
	bufLen := len(mp.s.buf)

	f, err := mp.NextField(ctx)
	require.NoError(t, err)

	var total int
	for {
		chunk, err := f.Chunk(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		require.LessOrEqual(t, len(chunk), DefaultReadBufferSize)
		if mp.s != nil {
			require.Len(t, mp.s.buf, bufLen, "the read buffer never grows")
		}
		total += len(chunk)
	}
	assert.Equal(t, fieldSize, total)
}
