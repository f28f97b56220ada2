// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func spanAttr(span sdktrace.ReadOnlySpan, key string) (attribute.Value, bool) {
	for _, kv := range span.Attributes() {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestTracing(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	const parentTrace = "4bf92f3577b34da6a3ce929d0e0e4736"

	tests := []struct {
		name        string
		path        string
		traceparent string
		wantName    string
		wantStatus  int
		wantError   bool
	}{
		{
			name:       "route pattern names the span",
			path:       "/api/v1/agents/data_analysis",
			wantName:   "GET /api/v1/agents/{id}",
			wantStatus: http.StatusOK,
		},
		{
			name:        "continues client trace",
			path:        "/api/v1/agents/data_analysis",
			traceparent: "00-" + parentTrace + "-00f067aa0ba902b7-01",
			wantName:    "GET /api/v1/agents/{id}",
			wantStatus:  http.StatusOK,
		},
		{
			name:       "server error marks span",
			path:       "/api/v1/boom",
			wantName:   "GET /api/v1/boom",
			wantStatus: http.StatusInternalServerError,
			wantError:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := tracetest.NewSpanRecorder()
			tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

			r := chi.NewRouter()
			r.Use(RequestID)
			r.Use(Tracing(tp))
			r.Route("/api/v1", func(r chi.Router) {
				r.Get("/agents/{id}", func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(http.StatusOK)
				})
				r.Get("/boom", func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(http.StatusInternalServerError)
				})
			})

			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.traceparent != "" {
				req.Header.Set("traceparent", tt.traceparent)
			}
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)
			require.Equal(t, tt.wantStatus, rec.Code)

			spans := recorder.Ended()
			require.Len(t, spans, 1)
			span := spans[0]
			assert.Equal(t, tt.wantName, span.Name())

			status, ok := spanAttr(span, "http.response.status_code")
			require.True(t, ok)
			assert.Equal(t, int64(tt.wantStatus), status.AsInt64())

			reqID, ok := spanAttr(span, "request_id")
			require.True(t, ok)
			assert.Equal(t, rec.Header().Get("X-Request-ID"), reqID.AsString())

			if tt.traceparent != "" {
				assert.Equal(t, parentTrace, span.SpanContext().TraceID().String())
				assert.True(t, span.Parent().IsRemote())
			} else {
				assert.False(t, span.Parent().IsValid())
			}

			if tt.wantError {
				assert.Equal(t, codes.Error, span.Status().Code)
			} else {
				assert.Equal(t, codes.Unset, span.Status().Code)
			}
		})
	}
}
