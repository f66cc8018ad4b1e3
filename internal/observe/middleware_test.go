package observe

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// testAPI mimics the control API's mux behind the middleware.
func testAPI(t *testing.T) (http.Handler, func() map[string]uint64, *tracetest.InMemoryExporter) {
	t.Helper()
	exp := useTestTracer(t)
	m, reader := newTestMetrics(t)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/sessions/current", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Seen-Correlation", CorrelationID(r.Context()))
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /v1/sessions/stop", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "device gone", http.StatusServiceUnavailable)
	})

	// routes counts recorded latencies per route label.
	routes := func() map[string]uint64 {
		data, ok := snapshot(t, reader)["voxnote.http.request.duration"]
		if !ok {
			return nil
		}
		out := make(map[string]uint64)
		for _, dp := range data.(metricdata.Histogram[float64]).DataPoints {
			route, _ := dp.Attributes.Value("route")
			out[route.AsString()] += dp.Count
		}
		return out
	}
	return Middleware(m)(mux), routes, exp
}

func TestMiddleware_CorrelationID(t *testing.T) {
	h, _, _ := testAPI(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sessions/current", nil))

	cid := rec.Header().Get("X-Correlation-ID")
	if len(cid) != 32 {
		t.Fatalf("X-Correlation-ID = %q, want a trace ID", cid)
	}
	if seen := rec.Header().Get("X-Seen-Correlation"); seen != cid {
		t.Errorf("handler saw %q, response carries %q", seen, cid)
	}
	if rec.Header().Get("Traceparent") == "" {
		t.Error("traceparent not injected into the response")
	}
}

func TestMiddleware_ContinuesIncomingTrace(t *testing.T) {
	h, _, exp := testAPI(t)

	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	req := httptest.NewRequest(http.MethodGet, "/v1/sessions/current", nil)
	req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Correlation-ID"); got != traceID {
		t.Errorf("X-Correlation-ID = %q, want the caller's trace %q", got, traceID)
	}
	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Parent.SpanID().String() != "00f067aa0ba902b7" {
		t.Errorf("server span not parented on the caller's span: %+v", spans)
	}
}

func TestMiddleware_SpanNamedByRoute(t *testing.T) {
	h, _, exp := testAPI(t)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/sessions/stop", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nope/123", nil))

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("spans = %d, want 2", len(spans))
	}
	if spans[0].Name != "POST /v1/sessions/stop" {
		t.Errorf("span name = %q", spans[0].Name)
	}
	if spans[0].Status.Code != codes.Error {
		t.Errorf("5xx span status = %v, want Error", spans[0].Status.Code)
	}
	var status int64
	for _, kv := range spans[0].Attributes {
		if kv.Key == "http.response.status_code" {
			status = kv.Value.AsInt64()
		}
	}
	if status != http.StatusServiceUnavailable {
		t.Errorf("status attribute = %d, want 503", status)
	}
	if spans[1].Name != unmatchedRoute {
		t.Errorf("unmatched span name = %q, want %q", spans[1].Name, unmatchedRoute)
	}
}

func TestMiddleware_RecordsLatencyPerRoute(t *testing.T) {
	h, routes, _ := testAPI(t)

	for range 3 {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/sessions/current", nil))
	}
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/random/1", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/random/2", nil))

	got := routes()
	if got["GET /v1/sessions/current"] != 3 {
		t.Errorf("current = %d, want 3 (all: %v)", got["GET /v1/sessions/current"], got)
	}
	if got[unmatchedRoute] != 2 {
		t.Errorf("unmatched = %d, want 2 (all: %v)", got[unmatchedRoute], got)
	}
}
