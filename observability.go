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

// This file contains the metric instruments and span events emitted while parsing.

import (
	"context"
	"log/slog"
	"reflect"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "rivaas.dev/multipart"

// Field outcome values for the multipart.result attribute.
const (
	resultComplete  = "complete"
	resultDiscarded = "discarded"
	resultFailed    = "failed"
)

// instruments groups the counters shared by all parsers created with the
// same meter provider.
type instruments struct {
	fields     metric.Int64Counter
	bytes      metric.Int64Counter
	rejections metric.Int64Counter
}

// instrumentCache maps a metric.MeterProvider to its *instruments.
var instrumentCache sync.Map

// instrumentsFor returns the instruments of mp, creating them on first use.
// Providers that cannot be map keys get a fresh set on every call.
func instrumentsFor(mp metric.MeterProvider, logger *slog.Logger) *instruments {
	if !reflect.ValueOf(mp).Comparable() {
		return newInstruments(mp, logger)
	}
	if in, ok := instrumentCache.Load(mp); ok {
		return in.(*instruments) //nolint:forcetypeassert // only *instruments are stored
	}
	in, _ := instrumentCache.LoadOrStore(mp, newInstruments(mp, logger))

	return in.(*instruments) //nolint:forcetypeassert // only *instruments are stored
}

// newInstruments creates the counters on mp. Creation failures fall back to
// no-op counters and are logged, so a broken metrics pipeline never blocks parsing.
func newInstruments(mp metric.MeterProvider, logger *slog.Logger) *instruments {
	meter := mp.Meter(instrumentationName)
	fallback := noop.NewMeterProvider().Meter(instrumentationName)

	counter := func(name, unit, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithUnit(unit), metric.WithDescription(desc))
		if err != nil {
			logger.Warn("failed to create multipart counter", "metric", name, "error", err)
			c, _ = fallback.Int64Counter(name) //nolint:errcheck // noop meter never fails
		}

		return c
	}

	return &instruments{
		fields:     counter("multipart.fields", "{field}", "Number of multipart fields processed"),
		bytes:      counter("multipart.bytes", "By", "Number of field body bytes delivered to callers"),
		rejections: counter("multipart.rejections", "{error}", "Number of multipart parses terminated by an error"),
	}
}

func (in *instruments) fieldDone(ctx context.Context, result string) {
	in.fields.Add(ctx, 1, metric.WithAttributes(attribute.String("multipart.result", result)))
}

func (in *instruments) delivered(ctx context.Context, n int) {
	if n > 0 {
		in.bytes.Add(ctx, int64(n))
	}
}

func (in *instruments) rejected(ctx context.Context, err error) {
	in.rejections.Add(ctx, 1, metric.WithAttributes(attribute.String("multipart.reason", errorCode(err))))
}

// fieldEvent adds a span event describing f to the span carried by ctx, if any.
func fieldEvent(ctx context.Context, name string, f *Field) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(
		attribute.String("multipart.field.name", f.name),
		attribute.String("multipart.field.file_name", f.fileName),
		attribute.Int("multipart.field.index", f.index),
		attribute.Int64("multipart.field.bytes", f.read),
	))
}

// failSpan records err on the span carried by ctx, if any.
func failSpan(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.RecordError(err, trace.WithAttributes(attribute.String("multipart.reason", errorCode(err))))
	span.SetStatus(codes.Error, err.Error())
}
