package api

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/trellis-farm/trellis/internal/greenhouse"
	"github.com/trellis-farm/trellis/internal/model"
	"github.com/trellis-farm/trellis/internal/service"
)

// AnalyzeResponse pairs the decision with a best-effort pump status probe.
// PumpStatus is null when the actuator node did not answer.
type AnalyzeResponse struct {
	Decision   model.IrrigationDecision `json:"decision"`
	PumpStatus map[string]any           `json:"pump_status,omitempty"`
}

// HandleAnalyze returns a handler for
// POST /api/v1/greenhouses/{id}/actions/analyze.
func HandleAnalyze(svc *service.IrrigationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := requireIDPathParam(w, r)
		if !ok {
			return
		}
		d, err := svc.Analyze(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		resp := AnalyzeResponse{Decision: d}
		if status, err := svc.PumpStatus(r.Context(), id); err == nil {
			resp.PumpStatus = status
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

// IrrigateResponse pairs the decision with the execution result. Result is
// null when the greenhouse did not need water and force was not set.
type IrrigateResponse struct {
	Decision model.IrrigationDecision `json:"decision"`
	Result   *model.IrrigationResult  `json:"result,omitempty"`
}

// HandleIrrigate returns a handler for
// POST /api/v1/greenhouses/{id}/actions/irrigate.
func HandleIrrigate(svc *service.IrrigationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := requireIDPathParam(w, r)
		if !ok {
			return
		}
		forcePtr, ok := parseBoolQueryOrWriteInvalid(w, r, "force")
		if !ok {
			return
		}
		force := forcePtr != nil && *forcePtr

		d, result, err := svc.ExecuteIrrigation(r.Context(), id, force)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, IrrigateResponse{Decision: d, Result: result})
	}
}

// StartMonitoringRequest is the optional body for start-monitoring. Naming an
// actuator endpoint lets an unconfigured greenhouse be registered with default
// parameters in the same call.
type StartMonitoringRequest struct {
	ActuatorEndpoint string `json:"actuator_endpoint"`
}

// MonitoringResponse reports the monitoring state after a start or stop.
type MonitoringResponse struct {
	Monitoring bool                 `json:"monitoring"`
	Stopped    int                  `json:"stopped,omitempty"`
	Greenhouse *greenhouse.Snapshot `json:"greenhouse,omitempty"`
}

// HandleStartMonitoring returns a handler for
// POST /api/v1/greenhouses/{id}/actions/start-monitoring.
func HandleStartMonitoring(svc *service.IrrigationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := requireIDPathParam(w, r)
		if !ok {
			return
		}
		body, ok := readRawBodyOrWriteInvalid(w, r)
		if !ok {
			return
		}
		var req StartMonitoringRequest
		if len(bytes.TrimSpace(body)) > 0 {
			dec := json.NewDecoder(bytes.NewReader(body))
			dec.DisallowUnknownFields()
			if err := dec.Decode(&req); err != nil {
				writeInvalidArgument(w, "invalid request body: "+err.Error())
				return
			}
		}
		snap, err := svc.StartMonitoring(r.Context(), id, req.ActuatorEndpoint)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, MonitoringResponse{Monitoring: true, Greenhouse: &snap})
	}
}

// HandleStopMonitoring returns a handler for
// POST /api/v1/greenhouses/{id}/actions/stop-monitoring.
func HandleStopMonitoring(svc *service.IrrigationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := requireIDPathParam(w, r)
		if !ok {
			return
		}
		if err := svc.StopMonitoring(id); err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, MonitoringResponse{Monitoring: false})
	}
}

// HandleStopAllMonitoring returns a handler for
// POST /api/v1/greenhouses/actions/stop-monitoring.
func HandleStopAllMonitoring(svc *service.IrrigationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n := svc.StopAllMonitoring()
		WriteJSON(w, http.StatusOK, MonitoringResponse{Monitoring: false, Stopped: n})
	}
}

// ReloadConfigResponse reports whether the reload changed anything.
type ReloadConfigResponse struct {
	Changed    bool                `json:"changed"`
	Greenhouse greenhouse.Snapshot `json:"greenhouse"`
	Message    string              `json:"message,omitempty"`
}

// HandleReloadConfig returns a handler for
// POST /api/v1/greenhouses/{id}/actions/reload-config.
func HandleReloadConfig(svc *service.IrrigationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := requireIDPathParam(w, r)
		if !ok {
			return
		}
		snap, changed, err := svc.ReloadConfig(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		resp := ReloadConfigResponse{Changed: changed, Greenhouse: snap}
		if !changed {
			resp.Message = "backend config unchanged"
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}
