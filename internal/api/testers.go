package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dispatchlab/mail-dispatch-system/internal/domain"
	"github.com/dispatchlab/mail-dispatch-system/internal/store"
)

type TesterHandler struct {
	store *store.PostgresStore
}

func NewTesterHandler(s *store.PostgresStore) *TesterHandler {
	return &TesterHandler{store: s}
}

func (h *TesterHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.UpsertTesterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Email == "" {
		respondError(w, http.StatusBadRequest, "email is required")
		return
	}

	tester, err := h.store.CreateTester(r.Context(), req)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create tester")
		return
	}
	respondJSON(w, http.StatusCreated, tester)
}

func (h *TesterHandler) List(w http.ResponseWriter, r *http.Request) {
	testers, err := h.store.ListTesters(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list testers")
		return
	}
	respondJSON(w, http.StatusOK, testers)
}

func (h *TesterHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req domain.UpsertTesterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	updated, err := h.store.UpdateTester(r.Context(), id, req)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to update tester")
		return
	}
	if !updated {
		respondError(w, http.StatusNotFound, "tester not found")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "tester updated"})
}

func (h *TesterHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	deleted, err := h.store.DeleteTester(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to delete tester")
		return
	}
	if !deleted {
		respondError(w, http.StatusNotFound, "tester not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
