package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"skyroute-hq/charon/pkg/agentpool"
	"skyroute-hq/charon/pkg/breaker"
	"skyroute-hq/charon/pkg/config"
)

func testConfig() config.ServerConfig {
	return config.ServerConfig{
		ListenAddress:   "127.0.0.1:0",
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    5 * time.Second,
		IdleTimeout:     5 * time.Second,
		ShutdownTimeout: time.Second,
	}
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthz(t *testing.T) {
	srv := New(testConfig(), Deps{Gateway: http.NotFoundHandler()})
	rec := get(t, srv.Handler(), "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %v", body["status"])
	}
}

func TestGatewayMountedAtRoot(t *testing.T) {
	gw := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	srv := New(testConfig(), Deps{Gateway: gw})
	rec := get(t, srv.Handler(), "/v1/messages")
	if rec.Code != http.StatusTeapot {
		t.Fatalf("gateway not mounted: status = %d", rec.Code)
	}
}

func TestCircuitsEndpoint(t *testing.T) {
	epBreaker := breaker.New(breaker.Settings{FailureThreshold: 1, OpenDuration: time.Minute})
	provBreaker := breaker.New(breaker.Settings{FailureThreshold: 5, OpenDuration: time.Minute})
	fuse := breaker.NewVendorTypeFuse(time.Minute)

	epBreaker.RecordFailure("ep-1", nil)
	fuse.OpenFuse("vendor-a", "claude", "all endpoints failed")

	srv := New(testConfig(), Deps{
		Gateway:         http.NotFoundHandler(),
		EndpointBreaker: epBreaker,
		ProviderBreaker: provBreaker,
		Fuse:            fuse,
	})
	rec := get(t, srv.Handler(), "/admin/circuits")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var report struct {
		Endpoints []breaker.Snapshot     `json:"endpoints"`
		Providers []breaker.Snapshot     `json:"providers"`
		Fuses     []breaker.FuseSnapshot `json:"fuses"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	if len(report.Endpoints) != 1 || report.Endpoints[0].Key != "ep-1" {
		t.Errorf("endpoints = %+v", report.Endpoints)
	}
	if len(report.Fuses) != 1 || report.Fuses[0].VendorID != "vendor-a" {
		t.Errorf("fuses = %+v", report.Fuses)
	}
}

func TestPoolEndpoint(t *testing.T) {
	pool := agentpool.New(agentpool.Config{})
	t.Cleanup(pool.Shutdown)

	srv := New(testConfig(), Deps{Gateway: http.NotFoundHandler(), Pool: pool})
	rec := get(t, srv.Handler(), "/admin/pool")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var stats agentpool.Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	if stats.CacheSize != 0 {
		t.Errorf("cache size = %d, want 0", stats.CacheSize)
	}
}

func TestMetricsRouteAbsentWhenNil(t *testing.T) {
	srv := New(testConfig(), Deps{Gateway: http.NotFoundHandler()})
	rec := get(t, srv.Handler(), "/metrics")
	// Falls through to the gateway handler mounted at "/".
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
