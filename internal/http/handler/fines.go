package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"finesync/internal/fines"
)

type FineHandler struct {
	Store *fines.Store
}

func (h *FineHandler) List(w http.ResponseWriter, r *http.Request) {
	plate := chi.URLParam(r, "plate")
	if plate == "" {
		http.Error(w, "plate required", http.StatusBadRequest)
		return
	}

	recs, err := h.Store.ListByVehicle(plate)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"vehicle": plate,
		"fines":   recs,
		"count":   len(recs),
	})
}
