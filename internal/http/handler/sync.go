package handler

import (
	"encoding/json"
	"net/http"

	"finesync/internal/synctask"
)

type SyncHandler struct {
	Processor *synctask.Processor
	Seeder    *synctask.Seeder
}

// Run triggers one polling cycle. The external scheduler calls this on
// its batch cadence.
func (h *SyncHandler) Run(w http.ResponseWriter, r *http.Request) {
	res := h.Processor.RunBatch(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if res.Status == "error" {
		w.WriteHeader(http.StatusInternalServerError)
	}
	_ = json.NewEncoder(w).Encode(res)
}

func (h *SyncHandler) ResetCycle(w http.ResponseWriter, r *http.Request) {
	res, err := h.Processor.ResetCycle()
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(res)
}

func (h *SyncHandler) Seed(w http.ResponseWriter, r *http.Request) {
	res, err := h.Seeder.Seed()
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(res)
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "error",
		"message": err.Error(),
	})
}
