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
	"errors"
	"fmt"
	"mime"
	"net/textproto"
	"strings"
)

var (
	errMissingColon         = errors.New("missing colon in header line")
	errEmptyHeaderName      = errors.New("empty header name")
	errInvalidContinuation  = errors.New("continuation line without header")
	errMissingDisposition   = errors.New("missing Content-Disposition header")
	errNotFormData          = errors.New("disposition type is not form-data")
	errMissingName          = errors.New("missing name parameter")
	errHeaderBlockTooLarge  = errors.New("header block too large")
	errHeaderBlockTruncated = errors.New("stream ended inside part headers")
)

// partHeader is the parsed header block of one part.
type partHeader struct {
	header      textproto.MIMEHeader
	name        string
	fileName    string
	isFile      bool
	contentType string
}

// parseHeaderBlock parses CRLF-separated header lines. The block excludes the
// empty line that terminates it. Folded continuation lines are joined to the
// preceding header with a single space.
func parseHeaderBlock(block []byte) (textproto.MIMEHeader, error) {
	h := make(textproto.MIMEHeader, 2)
	var key string
	var val strings.Builder

	finish := func() {
		if key != "" {
			h.Add(key, strings.TrimSpace(val.String()))
			key = ""
		}
		val.Reset()
	}

	for len(block) > 0 {
		line := block
		if i := bytes.Index(block, crlf); i >= 0 {
			line, block = block[:i], block[i+2:]
		} else {
			block = nil
		}
		if len(line) == 0 {
			continue
		}

		if line[0] == ' ' || line[0] == '\t' {
			if key == "" {
				return nil, errInvalidContinuation
			}
			val.WriteByte(' ')
			val.Write(bytes.TrimLeft(line, " \t"))
			continue
		}

		finish()
		colon := bytes.IndexByte(line, ':')
		if colon < 0 {
			return nil, fmt.Errorf("%w: %q", errMissingColon, line)
		}
		name := bytes.TrimRight(line[:colon], " \t")
		if len(name) == 0 {
			return nil, errEmptyHeaderName
		}
		key = textproto.CanonicalMIMEHeaderKey(string(name))
		val.Write(line[colon+1:])
	}
	finish()

	return h, nil
}

// parsePartHeader parses the header block of one part and extracts the field
// metadata from its Content-Disposition and Content-Type headers.
func parsePartHeader(block []byte) (*partHeader, error) {
	h, err := parseHeaderBlock(block)
	if err != nil {
		return nil, err
	}

	cd := h.Get("Content-Disposition")
	if cd == "" {
		return nil, errMissingDisposition
	}
	disposition, params, err := mime.ParseMediaType(cd)
	if err != nil {
		return nil, fmt.Errorf("content disposition %q: %w", cd, err)
	}
	if disposition != "form-data" {
		return nil, fmt.Errorf("%w: %q", errNotFormData, disposition)
	}
	name := params["name"]
	if name == "" {
		return nil, errMissingName
	}
	fileName, isFile := params["filename"]

	return &partHeader{
		header:      h,
		name:        name,
		fileName:    fileName,
		isFile:      isFile,
		contentType: h.Get("Content-Type"),
	}, nil
}

// headerEnd returns the length of the header block at the start of b
// (excluding its terminating empty line) and the number of bytes to consume,
// or -1 when the block is not complete yet.
func headerEnd(b []byte) (blockLen, consumed int) {
	if bytes.HasPrefix(b, crlf) {
		return 0, 2
	}
	if i := bytes.Index(b, []byte("\r\n\r\n")); i >= 0 {
		return i, i + 4
	}

	return -1, 0
}
