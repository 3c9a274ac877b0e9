package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

const upstreamTraceID = "4bf92f3577b34da6a3ce929d0e0e4736"

// reportsAPI mirrors the shape of the side-channel API: a fixed route and a
// parameterised one.
func reportsAPI() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /reports/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") == "missing" {
			http.Error(w, "report not found", http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func newInstrumented(t *testing.T) (http.Handler, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	exp := useTestTracer(t)
	return Middleware(m)(reportsAPI()), reader, exp
}

func serve(h http.Handler, target string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware_Routes(t *testing.T) {
	tests := []struct {
		target     string
		wantRoute  string
		wantStatus int
	}{
		{"/status", "/status", http.StatusOK},
		{"/reports/abc-123", "/reports/{id}", http.StatusOK},
		{"/reports/missing", "/reports/{id}", http.StatusNotFound},
		{"/nope", unmatchedRoute, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			h, reader, exp := newInstrumented(t)
			rec := serve(h, tt.target, nil)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}

			spans := exp.GetSpans()
			if len(spans) != 1 {
				t.Fatalf("recorded %d spans, want 1", len(spans))
			}
			if want := "GET " + tt.wantRoute; spans[0].Name != want {
				t.Errorf("span name = %q, want %q", spans[0].Name, want)
			}
			attrs := attribute.NewSet(spans[0].Attributes...)
			if v, _ := attrs.Value("http.route"); v.AsString() != tt.wantRoute {
				t.Errorf("http.route = %q, want %q", v.AsString(), tt.wantRoute)
			}
			if v, _ := attrs.Value("http.response.status_code"); v.AsInt64() != int64(tt.wantStatus) {
				t.Errorf("http.response.status_code = %d, want %d", v.AsInt64(), tt.wantStatus)
			}

			var rm metricdata.ResourceMetrics
			if err := reader.Collect(context.Background(), &rm); err != nil {
				t.Fatalf("Collect: %v", err)
			}
			met := findMetric(rm, "callcoach.http.request.duration")
			if met == nil {
				t.Fatal("duration metric not recorded")
			}
			hist := met.Data.(metricdata.Histogram[float64])
			if len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 1 {
				t.Fatalf("data points = %+v, want one sample", hist.DataPoints)
			}
			dp := hist.DataPoints[0].Attributes
			if v, _ := dp.Value("route"); v.AsString() != tt.wantRoute {
				t.Errorf("metric route = %q, want %q", v.AsString(), tt.wantRoute)
			}
			if v, _ := dp.Value("status"); v.AsInt64() != int64(tt.wantStatus) {
				t.Errorf("metric status = %d, want %d", v.AsInt64(), tt.wantStatus)
			}
			if _, ok := dp.Value("path"); ok {
				t.Error("raw paths must not be metric labels")
			}
		})
	}
}

func TestMiddleware_CorrelationID(t *testing.T) {
	tests := []struct {
		name   string
		header http.Header
		want   string
	}{
		{name: "new trace"},
		{
			name:   "upstream traceparent",
			header: http.Header{"Traceparent": {"00-" + upstreamTraceID + "-00f067aa0ba902b7-01"}},
			want:   upstreamTraceID,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _, _ := newInstrumented(t)
			rec := serve(h, "/status", tt.header)

			cid := rec.Header().Get("X-Correlation-ID")
			if len(cid) != 32 {
				t.Fatalf("X-Correlation-ID = %q, want a 32-char trace ID", cid)
			}
			if tt.want != "" && cid != tt.want {
				t.Errorf("X-Correlation-ID = %q, want %q", cid, tt.want)
			}
			if rec.Header().Get("Traceparent") == "" {
				t.Error("response must carry traceparent")
			}
		})
	}
}

func TestMiddleware_NilMetrics(t *testing.T) {
	useTestTracer(t)
	h := Middleware(nil)(reportsAPI())
	if rec := serve(h, "/status", nil); rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}
