package api

import (
	"net/http"

	"github.com/trellis-farm/trellis/internal/service"
)

// HandleListPlants returns a handler for GET /api/v1/plants.
func HandleListPlants(svc *service.IrrigationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, svc.ListPlants())
	}
}
