package forecast

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func modelWindow() [][]float64 {
	window := make([][]float64, WindowSize)
	for i := range window {
		window[i] = []float64{0.5, 0.5, 0.6, 0.4}
	}
	return window
}

func TestHTTPModel_Predict(t *testing.T) {
	var gotPath, gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotContentType = r.Header.Get("Content-Type")
		var req struct {
			Window [][]float64 `json:"window"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Window) != WindowSize || len(req.Window[0]) != Channels {
			t.Errorf("window shape %dx%d", len(req.Window), len(req.Window[0]))
		}
		json.NewEncoder(w).Encode(map[string]any{"forecast": fractions(Horizon)}) //nolint:errcheck
	}))
	defer srv.Close()

	m := NewHTTPModel(srv.URL+"/predict", time.Second)
	out, err := m.Predict(modelWindow())
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if len(out) != Horizon || out[0] != 0.5 {
		t.Fatalf("out = %v", out)
	}
	if gotPath != "/predict" || gotContentType != "application/json" {
		t.Fatalf("request = %s %s", gotPath, gotContentType)
	}
}

func TestHTTPModel_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model loading", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	if _, err := NewHTTPModel(srv.URL, time.Second).Predict(modelWindow()); err == nil {
		t.Fatal("expected error on non-200 status")
	}
}

func TestHTTPModel_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	if _, err := NewHTTPModel(srv.URL, time.Second).Predict(modelWindow()); err == nil {
		t.Fatal("expected error when the model service is down")
	}
}

func TestHTTPModel_RejectsBadWindow(t *testing.T) {
	m := NewHTTPModel("http://127.0.0.1:1", time.Second)
	if _, err := m.Predict(modelWindow()[:10]); err == nil {
		t.Fatal("expected error for short window")
	}
}

func TestHTTPModel_FeedsAdapter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"forecast": fractions(Horizon)}) //nolint:errcheck
	}))
	defer srv.Close()

	a := NewAdapter(NewHTTPModel(srv.URL, time.Second), nil)
	out, ok := a.Forecast(readings(WindowSize))
	if !ok {
		t.Fatal("expected forecast")
	}
	if out[0] != 50 {
		t.Fatalf("out[0] = %g, want 50", out[0])
	}
}
