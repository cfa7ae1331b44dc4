package forecast

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const maxModelResponseBytes = 1 << 20

// HTTPModel calls an out-of-process forecaster over HTTP. The window is
// POSTed as JSON and the response carries the predicted fractions.
type HTTPModel struct {
	url    string
	client *http.Client
}

// NewHTTPModel creates a model client for the given predict URL.
func NewHTTPModel(url string, timeout time.Duration) *HTTPModel {
	return &HTTPModel{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

type predictRequest struct {
	Window [][]float64 `json:"window"`
}

type predictResponse struct {
	Forecast []float64 `json:"forecast"`
}

// Predict sends the normalized window to the model service and returns its
// forecast. The adapter validates the output length.
func (m *HTTPModel) Predict(window [][]float64) ([]float64, error) {
	if err := ValidateWindow(window); err != nil {
		return nil, err
	}
	body, err := json.Marshal(predictRequest{Window: window})
	if err != nil {
		return nil, fmt.Errorf("forecast model: encode window: %w", err)
	}

	resp, err := m.client.Post(m.url, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("forecast model: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("forecast model: unexpected status %d", resp.StatusCode)
	}

	var out predictResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxModelResponseBytes)).Decode(&out); err != nil {
		return nil, fmt.Errorf("forecast model: decode response: %w", err)
	}
	return out.Forecast, nil
}
