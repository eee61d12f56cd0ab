package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dispatchlab/mail-dispatch-system/internal/domain"
	"github.com/dispatchlab/mail-dispatch-system/internal/engine"
	"github.com/dispatchlab/mail-dispatch-system/internal/mailer"
	"github.com/dispatchlab/mail-dispatch-system/internal/store"
)

type DispatchHandler struct {
	store       *store.PostgresStore
	enqueuer    *engine.Enqueuer
	transmitter mailer.Transmitter
}

func NewDispatchHandler(s *store.PostgresStore, e *engine.Enqueuer, t mailer.Transmitter) *DispatchHandler {
	return &DispatchHandler{store: s, enqueuer: e, transmitter: t}
}

type sendDispatchRequest struct {
	domain.CreateDispatchRequest
	Recipients []domain.RecipientInput `json:"recipients,omitempty"`
	TesterIDs  []string                `json:"tester_ids,omitempty"`
}

// resolveRecipients merges inline recipients with saved testers.
func (h *DispatchHandler) resolveRecipients(r *http.Request, req sendDispatchRequest) ([]domain.RecipientInput, error) {
	recipients := req.Recipients

	if len(req.TesterIDs) > 0 {
		testers, err := h.store.GetTestersByIDs(r.Context(), req.TesterIDs)
		if err != nil {
			return nil, err
		}
		for _, t := range testers {
			recipients = append(recipients, domain.RecipientInput{
				Title:     t.Title,
				FirstName: t.FirstName,
				LastName:  t.LastName,
				Email:     t.Email,
			})
		}
	}
	return recipients, nil
}

// CreateDraft saves a dispatch without enqueuing anything.
func (h *DispatchHandler) CreateDraft(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateDispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Subject == "" || req.Body == "" || req.SMTPConfigID == "" {
		respondError(w, http.StatusBadRequest, "smtp_config_id, subject and body are required")
		return
	}

	d, err := h.store.CreateDraft(r.Context(), req)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to save draft")
		return
	}
	respondJSON(w, http.StatusCreated, d)
}

// Send creates a sending dispatch and enqueues its recipients in one call.
func (h *DispatchHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req sendDispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Subject == "" || req.Body == "" || req.SMTPConfigID == "" {
		respondError(w, http.StatusBadRequest, "smtp_config_id, subject and body are required")
		return
	}

	recipients, err := h.resolveRecipients(r, req)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to resolve recipients")
		return
	}

	d, err := h.enqueuer.Enqueue(r.Context(), req.CreateDispatchRequest, recipients)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, d)
}

// StartDraft promotes an existing draft to sending with recipients.
func (h *DispatchHandler) StartDraft(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req sendDispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	recipients, err := h.resolveRecipients(r, req)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to resolve recipients")
		return
	}

	d, err := h.enqueuer.Start(r.Context(), id, recipients)
	if err != nil {
		if errors.Is(err, store.ErrDispatchNotSendable) {
			respondError(w, http.StatusConflict, "dispatch is not in draft state")
			return
		}
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, d)
}

type testSendRequest struct {
	SMTPConfigID string  `json:"smtp_config_id"`
	ToEmail      string  `json:"to_email"`
	Subject      string  `json:"subject"`
	Body         string  `json:"body"`
	FromEmail    string  `json:"from_email"`
	ReplyTo      *string `json:"reply_to,omitempty"`
}

// SendTest sends a single email immediately, bypassing the queue. Used to
// verify an SMTP config before committing to a full dispatch.
func (h *DispatchHandler) SendTest(w http.ResponseWriter, r *http.Request) {
	var req testSendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ToEmail == "" || req.SMTPConfigID == "" {
		respondError(w, http.StatusBadRequest, "smtp_config_id and to_email are required")
		return
	}

	cfg, err := h.store.GetSMTPConfig(r.Context(), req.SMTPConfigID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load smtp config")
		return
	}
	if cfg == nil {
		respondError(w, http.StatusNotFound, "smtp config not found")
		return
	}

	fromEmail := req.FromEmail
	if fromEmail == "" {
		fromEmail = cfg.FromEmail
	}
	fromName := fromEmail
	if cfg.FromName != nil && *cfg.FromName != "" {
		fromName = *cfg.FromName
	}

	msg := mailer.Message{
		FromEmail: fromEmail,
		FromName:  fromName,
		ToEmail:   req.ToEmail,
		Subject:   req.Subject,
		HTMLBody:  req.Body,
	}
	if req.ReplyTo != nil {
		msg.ReplyTo = *req.ReplyTo
	}

	if err := h.transmitter.Send(r.Context(), *cfg, msg); err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "test email sent"})
}

func (h *DispatchHandler) List(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	limitStr := r.URL.Query().Get("limit")

	limit := 50
	if limitStr != "" {
		if n, err := strconv.Atoi(limitStr); err == nil && n > 0 {
			limit = n
		}
	}

	dispatches, err := h.store.ListDispatches(r.Context(), status, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list dispatches")
		return
	}
	respondJSON(w, http.StatusOK, dispatches)
}

type dispatchDetailResponse struct {
	domain.Dispatch
	Recipients []domain.Recipient `json:"recipients"`
}

// Get returns the campaign-detail view: the dispatch with its aggregate
// counters plus the per-recipient status table.
func (h *DispatchHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	d, err := h.store.GetDispatch(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get dispatch")
		return
	}
	if d == nil {
		respondError(w, http.StatusNotFound, "dispatch not found")
		return
	}

	recipients, err := h.store.ListRecipients(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list recipients")
		return
	}

	respondJSON(w, http.StatusOK, dispatchDetailResponse{
		Dispatch:   *d,
		Recipients: recipients,
	})
}
