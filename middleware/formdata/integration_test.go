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


//go:build integration

package formdata_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"rivaas.dev/router"

	mp "rivaas.dev/multipart"
	"rivaas.dev/multipart/config"
	"rivaas.dev/multipart/middleware/formdata"
)

const uploadLimits = `
allowed_fields: [title]
allowed_patterns: ["attachment_*"]
max_fields: 3
size_limit:
  whole_stream: 4KiB
  per_field: 1KiB
  for_field:
    title: 32
`

// testLogHandler captures log records for assertions.
type testLogHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

func (h *testLogHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *testLogHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, r)

	return nil
}

func (h *testLogHandler) WithAttrs([]slog.Attr) slog.Handler { return h }

func (h *testLogHandler) WithGroup(string) slog.Handler { return h }

func (h *testLogHandler) messages(level slog.Level) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []string
	for _, r := range h.records {
		if r.Level == level {
			out = append(out, r.Message)
		}
	}

	return out
}

type upload struct {
	name, fileName, body string
}

func encode(parts ...upload) (*bytes.Buffer, string) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, p := range parts {
		var (
			pw  io.Writer
			err error
		)
		if p.fileName != "" {
			pw, err = w.CreateFormFile(p.name, p.fileName)
		} else {
			pw, err = w.CreateFormField(p.name)
		}
		Expect(err).NotTo(HaveOccurred())
		_, err = io.WriteString(pw, p.body)
		Expect(err).NotTo(HaveOccurred())
	}
	Expect(w.Close()).To(Succeed())

	return &buf, w.FormDataContentType()
}

// counterValue sums the data points of a counter, optionally filtered by one
// attribute.
func counterValue(rm metricdata.ResourceMetrics, name string, attr ...attribute.KeyValue) int64 {
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				if len(attr) > 0 {
					if v, found := dp.Attributes.Value(attr[0].Key); !found || v.Emit() != attr[0].Value.Emit() {
						continue
					}
				}
				total += dp.Value
			}
		}
	}

	return total
}

var _ = Describe("FormData Integration", Label("integration"), func() {
	var (
		r       *router.Router
		logs    *testLogHandler
		reader  *sdkmetric.ManualReader
		stored  map[string]string
		storeMu sync.Mutex
	)

	collect := func() metricdata.ResourceMetrics {
		var rm metricdata.ResourceMetrics
		Expect(reader.Collect(context.Background(), &rm)).To(Succeed())

		return rm
	}

	serve := func(body io.Reader, contentType string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/upload", body)
		req.Header.Set("Content-Type", contentType)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		return w
	}

	BeforeEach(func() {
		limits, err := config.Load(context.Background(),
			config.WithContent([]byte(uploadLimits), config.FormatYAML))
		Expect(err).NotTo(HaveOccurred())

		logs = &testLogHandler{}
		reader = sdkmetric.NewManualReader()
		stored = make(map[string]string)

		r = router.MustNew()
		r.POST("/upload", formdata.New(
			formdata.WithConstraints(limits.Constraints()),
			formdata.WithMaxRequestBytes(8<<10),
			formdata.WithLogger(slog.New(logs)),
			formdata.WithMultipartOptions(
				mp.WithMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))),
			),
		), func(c *router.Context) {
			parser, ok := formdata.From(c)
			Expect(ok).To(BeTrue())

			ctx := c.Request.Context()
			for {
				field, err := parser.NextField(ctx)
				if errors.Is(err, io.EOF) {
					break
				}
				if err != nil {
					formdata.WriteError(c, err)
					return
				}
				data, err := field.Bytes(ctx)
				if err != nil {
					formdata.WriteError(c, err)
					return
				}
				storeMu.Lock()
				stored[field.Name()+":"+field.SafeFileName()] = string(data)
				storeMu.Unlock()
			}
			c.JSON(http.StatusCreated, map[string]int{"fields": parser.FieldCount()})
		})
	})

	Describe("Accepted uploads", func() {
		It("should stream text and file fields within the configured limits", func() {
			body, ct := encode(
				upload{name: "title", body: "holiday"},
				upload{name: "attachment_1", fileName: "../../etc/passwd", body: "root:x:0:0"},
			)

			w := serve(body, ct)

			Expect(w.Code).To(Equal(http.StatusCreated))
			Expect(w.Body.String()).To(ContainSubstring(`"fields":2`))
			Expect(stored).To(HaveKeyWithValue("title:", "holiday"))
			Expect(stored).To(HaveKeyWithValue("attachment_1:passwd", "root:x:0:0"))

			rm := collect()
			Expect(counterValue(rm, "multipart.fields", attribute.String("multipart.result", "complete"))).To(Equal(int64(2)))
			Expect(counterValue(rm, "multipart.bytes")).To(Equal(int64(len("holiday") + len("root:x:0:0"))))
			Expect(counterValue(rm, "multipart.rejections")).To(BeZero())
		})
	})

	Describe("Rejected uploads", func() {
		It("should reject a field outside the allow list", func() {
			body, ct := encode(upload{name: "password", body: "hunter2"})

			w := serve(body, ct)

			Expect(w.Code).To(Equal(http.StatusBadRequest))
			Expect(w.Header().Get("Content-Type")).To(ContainSubstring("application/problem+json"))

			var problem map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &problem)).To(Succeed())
			Expect(problem).To(HaveKeyWithValue("code", "field_not_allowed"))
			Expect(problem).To(HaveKeyWithValue("errors", HaveKeyWithValue("field", "password")))

			Expect(counterValue(collect(), "multipart.rejections",
				attribute.String("multipart.reason", "field_not_allowed"))).To(Equal(int64(1)))
		})

		It("should enforce the per-field override", func() {
			body, ct := encode(upload{name: "title", body: strings.Repeat("t", 33)})

			w := serve(body, ct)

			Expect(w.Code).To(Equal(http.StatusRequestEntityTooLarge))
			Expect(w.Body.String()).To(ContainSubstring("field_size_exceeded"))
			Expect(stored).To(BeEmpty())
		})

		It("should reject oversized requests before reading them", func() {
			body, ct := encode(upload{name: "attachment_1", fileName: "big.bin", body: strings.Repeat("x", 10000)})

			w := serve(body, ct)

			Expect(w.Code).To(Equal(http.StatusRequestEntityTooLarge))
			Expect(w.Body.String()).To(ContainSubstring("stream_size_exceeded"))
			Expect(logs.messages(slog.LevelWarn)).To(ContainElement("multipart request rejected"))
			// The parser never ran.
			Expect(counterValue(collect(), "multipart.rejections")).To(BeZero())
		})

		It("should reject requests that are not form data", func() {
			w := serve(strings.NewReader(`{"title":"x"}`), "application/json")

			Expect(w.Code).To(Equal(http.StatusUnsupportedMediaType))
			Expect(w.Body.String()).To(ContainSubstring("invalid_content_type"))
		})

		It("should cap the number of fields", func() {
			body, ct := encode(
				upload{name: "attachment_1", body: "a"},
				upload{name: "attachment_2", body: "b"},
				upload{name: "attachment_3", body: "c"},
				upload{name: "attachment_4", body: "d"},
			)

			w := serve(body, ct)

			Expect(w.Code).To(Equal(http.StatusRequestEntityTooLarge))
			Expect(w.Body.String()).To(ContainSubstring("too_many_fields"))
			Expect(stored).To(HaveLen(3))
		})
	})
})
