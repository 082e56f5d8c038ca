package telemetry

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func metricValue(t *testing.T, m prometheus.Metric) float64 {
	t.Helper()
	var out dto.Metric
	if err := m.Write(&out); err != nil {
		t.Fatalf("read metric: %v", err)
	}
	if out.Counter != nil {
		return out.Counter.GetValue()
	}
	return out.Gauge.GetValue()
}

func TestMetricsMiddlewareLabelsByRoute(t *testing.T) {
	r := chi.NewRouter()
	r.Use(MetricsMiddleware)
	r.Post("/resync/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	r.Get("/jobs", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("[]"))
	})

	resync := APIRequestsTotal.WithLabelValues(http.MethodPost, "/resync/{id}", "202")
	jobs := APIRequestsTotal.WithLabelValues(http.MethodGet, "/jobs", "200")
	beforeResync, beforeJobs := metricValue(t, resync), metricValue(t, jobs)

	tests := []struct {
		method, path string
		want         int
	}{
		{http.MethodPost, "/resync/a1", http.StatusAccepted},
		{http.MethodPost, "/resync/a2", http.StatusAccepted},
		{http.MethodGet, "/jobs", http.StatusOK},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
		if rec.Code != tt.want {
			t.Fatalf("%s %s: status %d, want %d", tt.method, tt.path, rec.Code, tt.want)
		}
	}

	if got := metricValue(t, resync) - beforeResync; got != 2 {
		t.Errorf("resync requests = %v, want 2 under one route label", got)
	}
	if got := metricValue(t, jobs) - beforeJobs; got != 1 {
		t.Errorf("jobs requests = %v, want 1", got)
	}
	if got := metricValue(t, APIActiveConnections); got != 0 {
		t.Errorf("active connections = %v after requests finished", got)
	}
}
