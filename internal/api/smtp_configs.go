package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dispatchlab/mail-dispatch-system/internal/domain"
	"github.com/dispatchlab/mail-dispatch-system/internal/store"
)

type SMTPConfigHandler struct {
	store *store.PostgresStore
}

func NewSMTPConfigHandler(s *store.PostgresStore) *SMTPConfigHandler {
	return &SMTPConfigHandler{store: s}
}

func (h *SMTPConfigHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.UpsertSMTPConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" || req.Host == "" || req.FromEmail == "" {
		respondError(w, http.StatusBadRequest, "name, host and from_email are required")
		return
	}
	if req.Port == 0 {
		req.Port = 587
	}

	cfg, err := h.store.CreateSMTPConfig(r.Context(), req)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create smtp config")
		return
	}
	respondJSON(w, http.StatusCreated, cfg)
}

func (h *SMTPConfigHandler) List(w http.ResponseWriter, r *http.Request) {
	configs, err := h.store.ListSMTPConfigs(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list smtp configs")
		return
	}
	respondJSON(w, http.StatusOK, configs)
}

func (h *SMTPConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	cfg, err := h.store.GetSMTPConfig(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get smtp config")
		return
	}
	if cfg == nil {
		respondError(w, http.StatusNotFound, "smtp config not found")
		return
	}
	respondJSON(w, http.StatusOK, cfg)
}

func (h *SMTPConfigHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req domain.UpsertSMTPConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	cfg, err := h.store.UpdateSMTPConfig(r.Context(), id, req)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to update smtp config")
		return
	}
	if cfg == nil {
		respondError(w, http.StatusNotFound, "smtp config not found")
		return
	}
	respondJSON(w, http.StatusOK, cfg)
}

func (h *SMTPConfigHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	deleted, err := h.store.DeleteSMTPConfig(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to delete smtp config")
		return
	}
	if !deleted {
		respondError(w, http.StatusNotFound, "smtp config not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
