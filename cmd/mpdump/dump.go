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


package main

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/zeebo/blake3"

	"rivaas.dev/multipart"
	"rivaas.dev/multipart/config"
)

// dumpFlags holds the command line flags.
type dumpFlags struct {
	boundary    string
	contentType string
	configPath  string
	chunkSize   int
	format      string
	showBody    bool
	verbose     bool
}

// fieldReport is one printed field.
type fieldReport struct {
	Index       int    `json:"index"`
	Name        string `json:"name"`
	FileName    string `json:"file_name,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Size        int64  `json:"size"`
	BLAKE3      string `json:"blake3"`
	Body        string `json:"body,omitempty"`
}

func newRootCmd() *cobra.Command {
	flags := &dumpFlags{}

	cmd := &cobra.Command{
		Use:   "mpdump [file]",
		Short: "Parse a multipart/form-data body and print its fields",
		Long: `mpdump reads a raw multipart/form-data body from a file, or from stdin when
no file (or "-") is given, and prints every field with its size and BLAKE3
digest.

The boundary comes from --boundary or from a full --content-type header value.
Limits can be loaded from a YAML, TOML or JSON file with --config, and
--chunk-size feeds the parser a few bytes at a time to mimic a slow network.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var in io.Reader = cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			return dump(cmd, in, flags)
		},
	}

	cmd.Flags().StringVarP(&flags.boundary, "boundary", "b", "", "multipart boundary")
	cmd.Flags().StringVar(&flags.contentType, "content-type", "", "Content-Type header carrying the boundary")
	cmd.Flags().StringVarP(&flags.configPath, "config", "c", "", "limits file (.yaml, .toml, .json)")
	cmd.Flags().IntVar(&flags.chunkSize, "chunk-size", 0, "read the input at most this many bytes at a time")
	cmd.Flags().StringVarP(&flags.format, "output", "o", "text", "output format: text|json")
	cmd.Flags().BoolVar(&flags.showBody, "body", false, "print field bodies as text")
	cmd.Flags().BoolVarP(&flags.verbose, "verbose", "v", false, "log parser events to stderr")
	cmd.MarkFlagsMutuallyExclusive("boundary", "content-type")

	return cmd
}

func dump(cmd *cobra.Command, in io.Reader, flags *dumpFlags) error {
	ctx := cmd.Context()

	boundary := flags.boundary
	if boundary == "" {
		if flags.contentType == "" {
			return errors.New("one of --boundary or --content-type is required")
		}
		var err error
		if boundary, err = multipart.ParseBoundary(flags.contentType); err != nil {
			return err
		}
	}
	if flags.format != "text" && flags.format != "json" {
		return fmt.Errorf("unknown output format %q", flags.format)
	}

	var opts []multipart.Option
	if flags.configPath != "" {
		limits, err := config.Load(ctx, config.WithFile(flags.configPath))
		if err != nil {
			return err
		}
		opts = append(opts, limits.Options()...)
	}
	if flags.verbose {
		logger := log.NewWithOptions(cmd.ErrOrStderr(), log.Options{Level: log.DebugLevel})
		opts = append(opts, multipart.WithLogger(slog.New(logger)))
	}
	if flags.chunkSize > 0 {
		in = &chunkedReader{r: in, size: flags.chunkSize}
	}

	mp := multipart.New(in, boundary, opts...)
	defer mp.Close()

	out := cmd.OutOrStdout()
	var reports []fieldReport
	for {
		field, err := mp.NextField(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}

		report, err := inspect(cmd, field, flags.showBody)
		if err != nil {
			return err
		}
		if flags.format == "json" {
			reports = append(reports, report)
			continue
		}
		printReport(out, report)
	}

	if flags.format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(reports)
	}
	fmt.Fprintf(out, "%d fields, %d bytes\n", mp.FieldCount(), mp.BytesRead())

	return nil
}

func inspect(cmd *cobra.Command, field *multipart.Field, showBody bool) (fieldReport, error) {
	hash := blake3.New()
	var body []byte
	for {
		chunk, err := field.Chunk(cmd.Context())
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fieldReport{}, err
		}
		_, _ = hash.Write(chunk)
		if showBody {
			body = append(body, chunk...)
		}
	}

	return fieldReport{
		Index:       field.Index(),
		Name:        field.Name(),
		FileName:    field.FileName(),
		ContentType: field.ContentType(),
		Size:        field.BytesRead(),
		BLAKE3:      hex.EncodeToString(hash.Sum(nil)),
		Body:        string(body),
	}, nil
}

func printReport(w io.Writer, r fieldReport) {
	fmt.Fprintf(w, "#%d %s", r.Index, r.Name)
	if r.FileName != "" {
		fmt.Fprintf(w, " file=%q", r.FileName)
	}
	if r.ContentType != "" {
		fmt.Fprintf(w, " type=%s", r.ContentType)
	}
	fmt.Fprintf(w, " size=%d blake3=%s\n", r.Size, r.BLAKE3)
	if r.Body != "" {
		fmt.Fprintf(w, "%s\n", r.Body)
	}
}

// chunkedReader returns at most size bytes per Read.
type chunkedReader struct {
	r    io.Reader
	size int
}

func (c *chunkedReader) Read(p []byte) (int, error) {
	if len(p) > c.size {
		p = p[:c.size]
	}

	return c.r.Read(p)
}
