package api

import (
	"net/http"

	"github.com/dispatchlab/mail-dispatch-system/internal/store"
)

type DashboardHandler struct {
	store *store.PostgresStore
}

func NewDashboardHandler(s *store.PostgresStore) *DashboardHandler {
	return &DashboardHandler{store: s}
}

// Metrics returns aggregated campaign metrics for the dashboard.
func (h *DashboardHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	metrics, err := h.store.GetDispatchMetrics(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get metrics")
		return
	}
	respondJSON(w, http.StatusOK, metrics)
}
