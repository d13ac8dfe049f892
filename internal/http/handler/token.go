package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"finesync/internal/auth"
)

type TokenHandler struct {
	JWT        *auth.JWT
	APIKeyHash string
	APIKey     string
}

type tokenReq struct {
	Subject string `json:"subject"`
	Key     string `json:"key"`
}

// Token exchanges the configured operator key for a short-lived service
// token.
func (h *TokenHandler) Token(w http.ResponseWriter, r *http.Request) {
	var req tokenReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.Key == "" {
		http.Error(w, "key required", http.StatusBadRequest)
		return
	}
	if !auth.VerifyKey(req.Key, h.APIKeyHash, h.APIKey) {
		http.Error(w, "invalid key", http.StatusUnauthorized)
		return
	}

	subject := strings.TrimSpace(req.Subject)
	if subject == "" {
		subject = "operator"
	}
	token, err := h.JWT.Sign(subject)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"token": token,
	})
}
