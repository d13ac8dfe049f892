package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"gorm.io/gorm"

	"finesync/internal/synctask"
)

type TaskHandler struct {
	DB     *gorm.DB
	Seeder *synctask.Seeder
}

type createTaskReq struct {
	VehicleNo string `json:"vehicle_no"`
	Priority  int    `json:"priority"`
	Immediate bool   `json:"immediate"`
}

func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createTaskReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	req.VehicleNo = strings.TrimSpace(req.VehicleNo)

	t, err := h.Seeder.CreateTask(req.VehicleNo, req.Priority, req.Immediate)
	if err != nil {
		if errors.Is(err, synctask.ErrInvalidPlate) {
			http.Error(w, "invalid vehicle_no", http.StatusBadRequest)
			return
		}
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":         t.ID,
		"vehicle_no": t.VehicleNo,
	})
}

func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	q := h.DB.Model(&synctask.Task{}).Order("priority desc, vehicle_no asc")

	if s := strings.TrimSpace(r.URL.Query().Get("status")); s != "" {
		q = q.Where("status = ?", s)
	}
	if r.URL.Query().Get("include_deleted") != "true" {
		q = q.Where("is_deleted = ?", false)
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	var tasks []synctask.Task
	if err := q.Limit(limit).Find(&tasks).Error; err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"tasks": tasks,
		"count": len(tasks),
	})
}
