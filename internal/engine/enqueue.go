package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"

	"github.com/dispatchlab/mail-dispatch-system/internal/domain"
)

// EnqueueStore is the slice of the data store the enqueuer needs.
type EnqueueStore interface {
	EnqueueDispatch(ctx context.Context, req domain.CreateDispatchRequest, recipients []domain.RecipientInput) (*domain.Dispatch, error)
	StartDraft(ctx context.Context, dispatchID string, recipients []domain.RecipientInput) (*domain.Dispatch, error)
	GetSMTPConfig(ctx context.Context, id string) (*domain.SMTPConfig, error)
}

// Enqueuer materializes a dispatch together with its recipient and queue
// rows, atomically as one unit. After enqueue the queue processor is the sole
// active component.
type Enqueuer struct {
	store  EnqueueStore
	logger *slog.Logger
}

func NewEnqueuer(store EnqueueStore, logger *slog.Logger) *Enqueuer {
	return &Enqueuer{store: store, logger: logger}
}

// Enqueue creates a sending dispatch fanned out to the given recipients.
// Recipients with unparseable addresses are dropped before the transaction,
// so total_recipients always matches the rows actually inserted.
func (e *Enqueuer) Enqueue(ctx context.Context, req domain.CreateDispatchRequest, recipients []domain.RecipientInput) (*domain.Dispatch, error) {
	if req.SMTPConfigID == "" {
		return nil, fmt.Errorf("smtp_config_id is required")
	}
	cfg, err := e.store.GetSMTPConfig(ctx, req.SMTPConfigID)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, fmt.Errorf("smtp config %s not found", req.SMTPConfigID)
	}
	if req.FromEmail == "" {
		req.FromEmail = cfg.FromEmail
	}

	valid := validRecipients(recipients)
	if len(valid) == 0 {
		return nil, fmt.Errorf("no valid recipients")
	}

	d, err := e.store.EnqueueDispatch(ctx, req, valid)
	if err != nil {
		return nil, fmt.Errorf("enqueuing dispatch: %w", err)
	}

	e.logger.Info("dispatch enqueued",
		"dispatch_id", d.ID,
		"recipients", d.TotalRecipients,
		"smtp_config_id", req.SMTPConfigID,
	)
	return d, nil
}

// Start promotes an existing draft to sending with the given recipients.
func (e *Enqueuer) Start(ctx context.Context, dispatchID string, recipients []domain.RecipientInput) (*domain.Dispatch, error) {
	valid := validRecipients(recipients)
	if len(valid) == 0 {
		return nil, fmt.Errorf("no valid recipients")
	}

	d, err := e.store.StartDraft(ctx, dispatchID, valid)
	if err != nil {
		return nil, err
	}

	e.logger.Info("draft dispatch started",
		"dispatch_id", dispatchID,
		"recipients", len(valid),
	)
	return d, nil
}

func validRecipients(recipients []domain.RecipientInput) []domain.RecipientInput {
	valid := make([]domain.RecipientInput, 0, len(recipients))
	for _, r := range recipients {
		if _, err := mail.ParseAddress(r.Email); err != nil {
			continue
		}
		valid = append(valid, r)
	}
	return valid
}
