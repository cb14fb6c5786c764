package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"cymbytes.com/doppelganger/internal/generation"
	"cymbytes.com/doppelganger/internal/orchestrator"
	"cymbytes.com/doppelganger/internal/orchestrator/registry"
)

func TestServerRoutes(t *testing.T) {
	srv := New(DefaultConfig(), Dependencies{
		Orchestrator: orchestrator.New(generation.NewStub(3), zerolog.Nop()),
		Registry:     registry.New(registry.DefaultConfig(), zerolog.Nop()),
		Version:      "test",
		StartTime:    time.Now(),
	}, zerolog.Nop())

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodGet, "/ready", http.StatusOK},
		{http.MethodGet, "/api/stages", http.StatusOK},
		{http.MethodGet, "/api/simulations", http.StatusOK},
		{http.MethodGet, "/api/simulations/unknown", http.StatusNotFound},
		{http.MethodOptions, "/api/simulations", http.StatusOK},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(tt.method, tt.path, nil)
		w := httptest.NewRecorder()
		srv.Router().ServeHTTP(w, req)
		if w.Code != tt.want {
			t.Errorf("%s %s: expected %d, got %d", tt.method, tt.path, tt.want, w.Code)
		}
	}
}
