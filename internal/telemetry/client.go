// Package telemetry implements the thin HTTP client over the data backend:
// sensor reads, irrigation event reports, and prediction notifications.
package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/trellis-farm/trellis/internal/model"
)

// ErrNoReading is returned when the backend has no latest reading for a
// greenhouse.
var ErrNoReading = errors.New("telemetry: no reading available")

// ObserveFunc receives the round-trip latency of each backend call.
type ObserveFunc func(host string, latency time.Duration)

// Config configures a Client.
type Config struct {
	BaseURL       string        // e.g. http://localhost:3000 (no trailing slash)
	ReadTimeout   time.Duration // latest/history/config fetches
	ReportTimeout time.Duration // irrigation/prediction posts
	Observe       ObserveFunc   // optional latency hook
}

// Client is a thin client over the telemetry backend. All methods take a
// context and apply the configured per-call timeout on top of it. The client
// never retries; retry cadence belongs to the supervisor tick.
type Client struct {
	baseURL       string
	readTimeout   time.Duration
	reportTimeout time.Duration
	observe       ObserveFunc
	httpClient    *http.Client
}

// NewClient creates a telemetry client.
func NewClient(cfg Config) *Client {
	readTimeout := cfg.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 10 * time.Second
	}
	reportTimeout := cfg.ReportTimeout
	if reportTimeout <= 0 {
		reportTimeout = 5 * time.Second
	}
	return &Client{
		baseURL:       cfg.BaseURL,
		readTimeout:   readTimeout,
		reportTimeout: reportTimeout,
		observe:       cfg.Observe,
		httpClient:    &http.Client{},
	}
}

// --- wire formats (backend JSON is camelCase) ---

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
}

type wireReading struct {
	AirTemperature  *float64 `json:"airTemperature"`
	AirHumidity     *float64 `json:"airHumidity"`
	SoilMoisture    *float64 `json:"soilMoisture"`
	SoilTemperature *float64 `json:"soilTemperature"`
	Timestamp       string   `json:"timestamp"`
}

func (w *wireReading) toModel() (model.SensorReading, error) {
	if w.SoilMoisture == nil || w.Timestamp == "" {
		return model.SensorReading{}, ErrNoReading
	}
	ts, err := time.Parse(time.RFC3339, w.Timestamp)
	if err != nil {
		return model.SensorReading{}, fmt.Errorf("telemetry: bad timestamp %q: %w", w.Timestamp, err)
	}
	r := model.SensorReading{
		SoilMoisture: *w.SoilMoisture,
		Timestamp:    ts,
	}
	if w.AirTemperature != nil {
		r.AirTemperature = *w.AirTemperature
	}
	if w.AirHumidity != nil {
		r.AirHumidity = *w.AirHumidity
	}
	if w.SoilTemperature != nil {
		r.SoilTemperature = *w.SoilTemperature
	}
	return r, nil
}

type wireIrrigationEvent struct {
	GreenhouseID   string   `json:"greenhouseId"`
	Status         string   `json:"status"`
	DurationMs     int      `json:"durationMs"`
	PulseCount     int      `json:"pulseCount"`
	MoistureBefore float64  `json:"moistureBefore"`
	MoistureAfter  *float64 `json:"moistureAfter,omitempty"`
	TargetMoisture float64  `json:"targetMoisture"`
	PlantType      string   `json:"plantType"`
	ActuatorHost   string   `json:"actuatorHost"`
	ErrorMessage   string   `json:"errorMessage,omitempty"`
}

type wirePrediction struct {
	GreenhouseID      string  `json:"greenhouseId"`
	PredictionType    string  `json:"predictionType"`
	CurrentMoisture   float64 `json:"currentMoisture"`
	PredictedMoisture float64 `json:"predictedMoisture"`
	TargetMoisture    float64 `json:"targetMoisture"`
	Confidence        float64 `json:"confidence"`
	HoursAhead        int     `json:"hoursAhead"`
	PlantType         string  `json:"plantType"`
	Recommendation    string  `json:"recommendation"`
}

type wirePredictionResult struct {
	Success        bool   `json:"success"`
	Skipped        bool   `json:"skipped"`
	Reason         string `json:"reason"`
	NotificationID string `json:"notificationId"`
}

type wirePlantConfig struct {
	GreenhouseID      string   `json:"greenhouseId"`
	PlantType         string   `json:"plantType"`
	PlantName         string   `json:"plantName"`
	SoilMoistureMin   *float64 `json:"soilMoistureMin"`
	SoilMoistureMax   *float64 `json:"soilMoistureMax"`
	SoilMoistureIdeal *float64 `json:"soilMoistureIdeal"`
}

// --- operations ---

// LatestReading fetches the most recent sensor reading for a greenhouse.
// The backend serves the reading either nested under "latestReading" or as
// the data object itself; both are tolerated.
func (c *Client) LatestReading(ctx context.Context, greenhouseID string) (model.SensorReading, error) {
	body, err := c.getJSON(ctx, "/sensor/greenhouse/"+url.PathEscape(greenhouseID)+"/latest", c.readTimeout)
	if err != nil {
		return model.SensorReading{}, err
	}

	var nested struct {
		LatestReading *wireReading `json:"latestReading"`
	}
	if err := json.Unmarshal(body.Data, &nested); err == nil && nested.LatestReading != nil {
		return nested.LatestReading.toModel()
	}

	var flat wireReading
	if err := json.Unmarshal(body.Data, &flat); err != nil {
		return model.SensorReading{}, fmt.Errorf("telemetry: decode latest reading: %w", err)
	}
	return flat.toModel()
}

// RecentWindow fetches up to maxPoints readings from the last `hours` hours,
// oldest first.
func (c *Client) RecentWindow(ctx context.Context, greenhouseID string, hours, maxPoints int) ([]model.SensorReading, error) {
	path := "/sensor/greenhouse/" + url.PathEscape(greenhouseID) + "/history" +
		"?hours=" + strconv.Itoa(hours) + "&limit=" + strconv.Itoa(maxPoints)
	body, err := c.getJSON(ctx, path, c.readTimeout)
	if err != nil {
		return nil, err
	}

	var rows []wireReading
	if err := json.Unmarshal(body.Data, &rows); err != nil {
		return nil, fmt.Errorf("telemetry: decode history: %w", err)
	}
	out := make([]model.SensorReading, 0, len(rows))
	for i := range rows {
		r, err := rows[i].toModel()
		if err != nil {
			continue // skip malformed rows, keep the window usable
		}
		out = append(out, r)
	}
	return out, nil
}

// ReportIrrigation posts an irrigation event. The backend accepts with 201.
func (c *Client) ReportIrrigation(ctx context.Context, event model.IrrigationEvent) error {
	wire := wireIrrigationEvent{
		GreenhouseID:   event.GreenhouseID,
		Status:         event.Status,
		DurationMs:     event.DurationMs,
		PulseCount:     event.PulseCount,
		MoistureBefore: event.MoistureBefore,
		MoistureAfter:  event.MoistureAfter,
		TargetMoisture: event.TargetMoisture,
		PlantType:      event.PlantType,
		ActuatorHost:   event.ActuatorHost,
		ErrorMessage:   event.ErrorMessage,
	}
	status, _, err := c.postJSON(ctx, "/irrigation/ai/report", wire, c.reportTimeout)
	if err != nil {
		return err
	}
	if status != http.StatusCreated {
		return fmt.Errorf("telemetry: irrigation report rejected with status %d", status)
	}
	return nil
}

// ReportPrediction posts a prediction notification. A deduplicated
// notification comes back accepted=false, skipped=true; that is not an error.
func (c *Client) ReportPrediction(ctx context.Context, payload model.PredictionPayload) (model.PredictionOutcome, error) {
	wire := wirePrediction{
		GreenhouseID:      payload.GreenhouseID,
		PredictionType:    string(payload.PredictionType),
		CurrentMoisture:   payload.CurrentMoisture,
		PredictedMoisture: payload.PredictedMoisture,
		TargetMoisture:    payload.TargetMoisture,
		Confidence:        payload.ConfidencePct,
		HoursAhead:        payload.HoursAhead,
		PlantType:         payload.PlantType,
		Recommendation:    payload.Recommendation,
	}
	status, respBody, err := c.postJSON(ctx, "/irrigation/ai/prediction", wire, c.reportTimeout)
	if err != nil {
		return model.PredictionOutcome{}, err
	}
	if status != http.StatusCreated && status != http.StatusOK {
		return model.PredictionOutcome{}, fmt.Errorf("telemetry: prediction rejected with status %d", status)
	}

	var result wirePredictionResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return model.PredictionOutcome{}, fmt.Errorf("telemetry: decode prediction result: %w", err)
	}
	return model.PredictionOutcome{
		Accepted:       result.Success && !result.Skipped,
		Skipped:        result.Skipped,
		Reason:         result.Reason,
		NotificationID: result.NotificationID,
	}, nil
}

// FetchPlantConfig fetches the backend's irrigation-config record.
// The raw data bytes are returned alongside for change fingerprinting.
func (c *Client) FetchPlantConfig(ctx context.Context) (model.PlantConfigDoc, []byte, error) {
	body, err := c.getJSON(ctx, "/greenhouses/ai/irrigation-config", c.readTimeout)
	if err != nil {
		return model.PlantConfigDoc{}, nil, err
	}

	var wire wirePlantConfig
	if err := json.Unmarshal(body.Data, &wire); err != nil {
		return model.PlantConfigDoc{}, nil, fmt.Errorf("telemetry: decode plant config: %w", err)
	}
	doc := model.PlantConfigDoc{
		GreenhouseID:      wire.GreenhouseID,
		PlantType:         wire.PlantType,
		PlantName:         wire.PlantName,
		SoilMoistureMin:   wire.SoilMoistureMin,
		SoilMoistureMax:   wire.SoilMoistureMax,
		SoilMoistureIdeal: wire.SoilMoistureIdeal,
	}
	return doc, body.Data, nil
}

// --- transport helpers ---

func (c *Client) getJSON(ctx context.Context, path string, timeout time.Duration) (*envelope, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("telemetry: build request: %w", err)
	}

	resp, err := c.doObserved(req)
	if err != nil {
		return nil, fmt.Errorf("telemetry: GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("telemetry: GET %s: status %d", path, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("telemetry: read response: %w", err)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("telemetry: decode envelope: %w", err)
	}
	if !env.Success {
		return nil, fmt.Errorf("telemetry: GET %s: backend reported failure", path)
	}
	return &env, nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload any, timeout time.Duration) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	data, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("telemetry: marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return 0, nil, fmt.Errorf("telemetry: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.doObserved(req)
	if err != nil {
		return 0, nil, fmt.Errorf("telemetry: POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("telemetry: read response: %w", err)
	}
	return resp.StatusCode, respBody, nil
}

func (c *Client) doObserved(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if c.observe != nil && err == nil {
		c.observe(req.URL.Host, time.Since(start))
	}
	return resp, err
}
