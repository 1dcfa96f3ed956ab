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
	"strings"
	"testing/iotest"
)

const testBoundary = "X-BOUNDARY"

// testPart describes one part of a generated multipart body.
type testPart struct {
	name        string
	fileName    *string
	contentType string
	body        string
}

func textPart(name, body string) testPart {
	return testPart{name: name, body: body}
}

func filePart(name, fileName, contentType, body string) testPart {
	return testPart{name: name, fileName: &fileName, contentType: contentType, body: body}
}

// buildBody encodes parts as a multipart/form-data body.
func buildBody(boundary string, parts ...testPart) string {
	var b strings.Builder
	for _, p := range parts {
		fmt.Fprintf(&b, "--%s\r\n", boundary)
		fmt.Fprintf(&b, "Content-Disposition: form-data; name=%q", p.name)
		if p.fileName != nil {
			fmt.Fprintf(&b, "; filename=%q", *p.fileName)
		}
		b.WriteString("\r\n")
		if p.contentType != "" {
			fmt.Fprintf(&b, "Content-Type: %s\r\n", p.contentType)
		}
		b.WriteString("\r\n")
		b.WriteString(p.body)
		b.WriteString("\r\n")
	}
	fmt.Fprintf(&b, "--%s--\r\n", boundary)

	return b.String()
}

// collected is a fully read field.
type collected struct {
	name     string
	fileName string
	isFile   bool
	body     string
}

// collect reads every field of mp chunk by chunk. It returns the fields read
// completely and the error that stopped the parse, or nil at a clean end.
func collect(ctx context.Context, mp *Multipart) ([]collected, error) {
	var out []collected
	for {
		f, err := mp.NextField(ctx)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}

		var body bytes.Buffer
		for {
			chunk, err := f.Chunk(ctx)
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return out, err
			}
			body.Write(chunk)
		}
		out = append(out, collected{
			name:     f.Name(),
			fileName: f.FileName(),
			isFile:   f.IsFile(),
			body:     body.String(),
		})
	}
}

// readers returns the chunkings used to check that results do not depend on
// how the source splits the body.
func readers(body string) map[string]func() io.Reader {
	return map[string]func() io.Reader{
		"whole":     func() io.Reader { return strings.NewReader(body) },
		"one byte":  func() io.Reader { return iotest.OneByteReader(strings.NewReader(body)) },
		"half":      func() io.Reader { return iotest.HalfReader(strings.NewReader(body)) },
		"data eof":  func() io.Reader { return iotest.DataErrReader(strings.NewReader(body)) },
		"seven":     func() io.Reader { return &chunkReader{data: []byte(body), size: 7} },
		"delimiter": func() io.Reader { return &chunkReader{data: []byte(body), size: len(testBoundary) + 3} },
	}
}

// chunkReader returns at most size bytes per Read.
type chunkReader struct {
	data []byte
	size int
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	n := copy(p[:min(len(p), r.size)], r.data)
	r.data = r.data[n:]

	return n, nil
}

// zeroReader produces an endless stream of zero bytes.
type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	clear(p)
	return len(p), nil
}

// closeRecorder records whether Close was called.
type closeRecorder struct {
	io.Reader
	closed bool
}

func (c *closeRecorder) Close() error {
	c.closed = true
	return nil
}
