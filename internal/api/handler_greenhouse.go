package api

import (
	"net/http"

	"github.com/trellis-farm/trellis/internal/service"
)

// HandleConfigureGreenhouse returns a handler for POST /api/v1/greenhouses.
func HandleConfigureGreenhouse(svc *service.IrrigationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req service.ConfigureRequest
		if err := DecodeBody(r, &req); err != nil {
			writeDecodeBodyError(w, err)
			return
		}
		snap, err := svc.Configure(r.Context(), req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, snap)
	}
}

// HandleListGreenhouses returns a handler for GET /api/v1/greenhouses.
func HandleListGreenhouses(svc *service.IrrigationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pg, ok := parsePaginationOrWriteInvalid(w, r)
		if !ok {
			return
		}
		WritePage(w, http.StatusOK, svc.StatusAll(), pg)
	}
}

// HandleGetGreenhouse returns a handler for GET /api/v1/greenhouses/{id}.
func HandleGetGreenhouse(svc *service.IrrigationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := requireIDPathParam(w, r)
		if !ok {
			return
		}
		snap, err := svc.Status(id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, snap)
	}
}

// HandlePumpStatus returns a handler for GET /api/v1/greenhouses/{id}/pump.
func HandlePumpStatus(svc *service.IrrigationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := requireIDPathParam(w, r)
		if !ok {
			return
		}
		status, err := svc.PumpStatus(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, status)
	}
}

// HandleDeleteGreenhouse returns a handler for DELETE /api/v1/greenhouses/{id}.
func HandleDeleteGreenhouse(svc *service.IrrigationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := requireIDPathParam(w, r)
		if !ok {
			return
		}
		if err := svc.RemoveGreenhouse(id); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
