package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dispatchlab/mail-dispatch-system/internal/domain"
)

// ErrDispatchNotSendable is returned when a draft promotion targets a
// dispatch that is missing or already past draft.
var ErrDispatchNotSendable = errors.New("dispatch is not in draft state")

const dispatchColumns = `id, smtp_config_id, subject, body, from_email, from_name, reply_to, status,
	total_recipients, sent_count, failed_count, opened_count, clicked_count,
	created_at, started_at, completed_at`

func scanDispatch(row pgx.Row) (*domain.Dispatch, error) {
	var d domain.Dispatch
	err := row.Scan(
		&d.ID, &d.SMTPConfigID, &d.Subject, &d.Body, &d.FromEmail, &d.FromName, &d.ReplyTo, &d.Status,
		&d.TotalRecipients, &d.SentCount, &d.FailedCount, &d.OpenedCount, &d.ClickedCount,
		&d.CreatedAt, &d.StartedAt, &d.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// CreateDraft saves a dispatch without enqueuing anything.
func (s *PostgresStore) CreateDraft(ctx context.Context, req domain.CreateDispatchRequest) (*domain.Dispatch, error) {
	d := domain.Dispatch{
		ID:           uuid.NewString(),
		SMTPConfigID: &req.SMTPConfigID,
		Subject:      req.Subject,
		Body:         req.Body,
		FromEmail:    req.FromEmail,
		FromName:     req.FromName,
		ReplyTo:      req.ReplyTo,
		Status:       domain.DispatchDraft,
		CreatedAt:    time.Now().UTC(),
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO dispatches (id, smtp_config_id, subject, body, from_email, from_name, reply_to, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, d.ID, d.SMTPConfigID, d.Subject, d.Body, d.FromEmail, d.FromName, d.ReplyTo, d.Status, d.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting draft dispatch: %w", err)
	}
	return &d, nil
}

// GetDispatch returns a single dispatch, or nil when it does not exist.
func (s *PostgresStore) GetDispatch(ctx context.Context, id string) (*domain.Dispatch, error) {
	d, err := scanDispatch(s.pool.QueryRow(ctx,
		`SELECT `+dispatchColumns+` FROM dispatches WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying dispatch: %w", err)
	}
	return d, nil
}

// ListDispatches returns dispatches newest first, optionally filtered by status.
func (s *PostgresStore) ListDispatches(ctx context.Context, status string, limit int) ([]domain.Dispatch, error) {
	query := `SELECT ` + dispatchColumns + ` FROM dispatches`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, len(args)+1)
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying dispatches: %w", err)
	}
	defer rows.Close()

	dispatches := []domain.Dispatch{}
	for rows.Next() {
		d, err := scanDispatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning dispatch: %w", err)
		}
		dispatches = append(dispatches, *d)
	}
	return dispatches, rows.Err()
}

// ListRecipients returns the per-recipient status table for a dispatch.
func (s *PostgresStore) ListRecipients(ctx context.Context, dispatchID string) ([]domain.Recipient, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, dispatch_id, title, fname, lname, email, status, error_message,
		       opened, clicked, opened_at, clicked_at, created_at, updated_at
		FROM dispatch_recipients
		WHERE dispatch_id = $1
		ORDER BY created_at
	`, dispatchID)
	if err != nil {
		return nil, fmt.Errorf("querying recipients: %w", err)
	}
	defer rows.Close()

	recipients := []domain.Recipient{}
	for rows.Next() {
		var r domain.Recipient
		err := rows.Scan(
			&r.ID, &r.DispatchID, &r.Title, &r.FirstName, &r.LastName, &r.Email, &r.Status, &r.ErrorMessage,
			&r.Opened, &r.Clicked, &r.OpenedAt, &r.ClickedAt, &r.CreatedAt, &r.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning recipient: %w", err)
		}
		recipients = append(recipients, r)
	}
	return recipients, rows.Err()
}

// EnqueueDispatch creates a sending dispatch plus one recipient and one queue
// entry per addressee, all in a single transaction. A failure rolls everything
// back so a dispatch can never claim more recipients than rows exist.
func (s *PostgresStore) EnqueueDispatch(ctx context.Context, req domain.CreateDispatchRequest, recipients []domain.RecipientInput) (*domain.Dispatch, error) {
	now := time.Now().UTC()
	d := domain.Dispatch{
		ID:              uuid.NewString(),
		SMTPConfigID:    &req.SMTPConfigID,
		Subject:         req.Subject,
		Body:            req.Body,
		FromEmail:       req.FromEmail,
		FromName:        req.FromName,
		ReplyTo:         req.ReplyTo,
		Status:          domain.DispatchSending,
		TotalRecipients: len(recipients),
		CreatedAt:       now,
		StartedAt:       &now,
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning enqueue tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO dispatches (id, smtp_config_id, subject, body, from_email, from_name, reply_to,
		                        status, total_recipients, created_at, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
	`, d.ID, d.SMTPConfigID, d.Subject, d.Body, d.FromEmail, d.FromName, d.ReplyTo, d.Status, d.TotalRecipients, now)
	if err != nil {
		return nil, fmt.Errorf("inserting dispatch: %w", err)
	}

	if err := insertRecipientPairs(ctx, tx, d.ID, recipients, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing enqueue tx: %w", err)
	}
	return &d, nil
}

// StartDraft promotes a draft to sending and enqueues its recipients
// atomically.
func (s *PostgresStore) StartDraft(ctx context.Context, dispatchID string, recipients []domain.RecipientInput) (*domain.Dispatch, error) {
	now := time.Now().UTC()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning start tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE dispatches
		SET status = $2, total_recipients = $3, started_at = $4
		WHERE id = $1 AND status = $5
	`, dispatchID, domain.DispatchSending, len(recipients), now, domain.DispatchDraft)
	if err != nil {
		return nil, fmt.Errorf("promoting draft: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrDispatchNotSendable
	}

	if err := insertRecipientPairs(ctx, tx, dispatchID, recipients, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing start tx: %w", err)
	}
	return s.GetDispatch(ctx, dispatchID)
}

func insertRecipientPairs(ctx context.Context, tx pgx.Tx, dispatchID string, recipients []domain.RecipientInput, now time.Time) error {
	for _, in := range recipients {
		recipientID := uuid.NewString()
		_, err := tx.Exec(ctx, `
			INSERT INTO dispatch_recipients (id, dispatch_id, title, fname, lname, email, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		`, recipientID, dispatchID, in.Title, in.FirstName, in.LastName, in.Email, domain.RecipientPending, now)
		if err != nil {
			return fmt.Errorf("inserting recipient %s: %w", in.Email, err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO email_queue (id, dispatch_id, recipient_id, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $5)
		`, uuid.NewString(), dispatchID, recipientID, domain.EntryPending, now)
		if err != nil {
			return fmt.Errorf("inserting queue entry for %s: %w", in.Email, err)
		}
	}
	return nil
}

// RefreshDispatchCounts recomputes sent/failed counters from recipient rows.
// Idempotent; safe to call after every single entry transition.
func (s *PostgresStore) RefreshDispatchCounts(ctx context.Context, dispatchID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE dispatches SET
			sent_count   = (SELECT COUNT(*) FROM dispatch_recipients WHERE dispatch_id = $1 AND status = 'sent'),
			failed_count = (SELECT COUNT(*) FROM dispatch_recipients WHERE dispatch_id = $1 AND status = 'failed')
		WHERE id = $1
	`, dispatchID)
	if err != nil {
		return fmt.Errorf("refreshing dispatch counts: %w", err)
	}
	return nil
}

// CompleteDrainedDispatches flips every sending dispatch with no live queue
// entries to completed. Returns how many dispatches completed.
func (s *PostgresStore) CompleteDrainedDispatches(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE dispatches
		SET status = 'completed', completed_at = NOW()
		WHERE status = 'sending'
		AND NOT EXISTS (
			SELECT 1 FROM email_queue
			WHERE dispatch_id = dispatches.id
			AND status IN ('pending', 'in_progress')
		)
	`)
	if err != nil {
		return 0, fmt.Errorf("completing drained dispatches: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
