package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dispatchlab/mail-dispatch-system/internal/domain"
)

// ErrSMTPConfigGone marks an entry whose dispatch references a missing SMTP
// config. Delivery can never succeed, so callers fail the entry permanently.
var ErrSMTPConfigGone = errors.New("smtp config for dispatch no longer exists")

const queueEntryColumns = `id, dispatch_id, recipient_id, status, attempt_count, max_attempts,
	next_attempt, claimed_at, claimed_by, error_message, created_at, updated_at`

func scanQueueEntry(row pgx.Row) (*domain.QueueEntry, error) {
	var e domain.QueueEntry
	err := row.Scan(
		&e.ID, &e.DispatchID, &e.RecipientID, &e.Status, &e.AttemptCount, &e.MaxAttempts,
		&e.NextAttempt, &e.ClaimedAt, &e.ClaimedBy, &e.ErrorMessage, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// ClaimDue atomically marks up to limit due entries as in_progress for this
// worker and returns them, oldest first. The select-and-claim is a single
// statement with FOR UPDATE SKIP LOCKED, so two concurrent workers can never
// claim the same entry. Entries stuck in_progress longer than staleAfter
// (a crashed worker's leftovers) are claimable again.
//
// Exhausted-but-pending entries are claimed too; the processor finalizes them
// to failed instead of retrying.
func (s *PostgresStore) ClaimDue(ctx context.Context, workerID string, limit int, staleAfter time.Duration) ([]domain.QueueEntry, error) {
	rows, err := s.pool.Query(ctx, `
		WITH due AS (
			SELECT id FROM email_queue
			WHERE (status = 'pending' AND (next_attempt IS NULL OR next_attempt <= NOW()))
			   OR (status = 'in_progress' AND claimed_at < NOW() - make_interval(secs => $3))
			ORDER BY created_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE email_queue q
		SET status = 'in_progress', claimed_at = NOW(), claimed_by = $1, updated_at = NOW()
		FROM due
		WHERE q.id = due.id
		RETURNING `+prefixed("q.", queueEntryColumns),
		workerID, limit, staleAfter.Seconds())
	if err != nil {
		return nil, fmt.Errorf("claiming due entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.QueueEntry
	for rows.Next() {
		e, err := scanQueueEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning claimed entry: %w", err)
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading claimed entries: %w", err)
	}
	return entries, nil
}

// LoadSendContext joins the dispatch, recipient and SMTP config for one entry.
// Returns ErrSMTPConfigGone when the config row has been deleted.
func (s *PostgresStore) LoadSendContext(ctx context.Context, entry domain.QueueEntry) (*domain.SendContext, error) {
	var (
		sc       domain.SendContext
		fname    string
		lname    string
		smtpID   *string
		smtpName *string
		host     *string
		port     *int
		username *string
		password *string
		useTLS   *bool
		smtpFrom *string
	)

	err := s.pool.QueryRow(ctx, `
		SELECT d.subject, d.body, d.from_email, d.from_name, d.reply_to,
		       r.fname, r.lname, r.email,
		       s.id, s.name, s.host, s.port, s.username, s.password, s.use_tls, s.from_name
		FROM email_queue q
		JOIN dispatches d ON q.dispatch_id = d.id
		JOIN dispatch_recipients r ON q.recipient_id = r.id
		LEFT JOIN smtp_configs s ON d.smtp_config_id = s.id
		WHERE q.id = $1
	`, entry.ID).Scan(
		&sc.Subject, &sc.Body, &sc.FromEmail, &sc.FromName, &sc.ReplyTo,
		&fname, &lname, &sc.ToEmail,
		&smtpID, &smtpName, &host, &port, &username, &password, &useTLS, &smtpFrom,
	)
	if err != nil {
		return nil, fmt.Errorf("loading send context for entry %s: %w", entry.ID, err)
	}

	sc.ToName = domain.Recipient{FirstName: fname, LastName: lname}.DisplayName()

	if smtpID == nil {
		return &sc, ErrSMTPConfigGone
	}
	sc.SMTP = &domain.SMTPConfig{
		ID:        *smtpID,
		Name:      *smtpName,
		Host:      *host,
		Port:      *port,
		Username:  *username,
		Password:  *password,
		UseTLS:    *useTLS,
		FromName:  smtpFrom,
		FromEmail: sc.FromEmail,
	}
	return &sc, nil
}

// MarkSent records a successful delivery: entry and recipient become sent in
// one transaction so the recipient can never disagree with its entry.
func (s *PostgresStore) MarkSent(ctx context.Context, entry domain.QueueEntry, attempts int) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning mark-sent tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		UPDATE email_queue
		SET status = 'sent', attempt_count = $2, error_message = NULL,
		    claimed_at = NULL, claimed_by = NULL, updated_at = NOW()
		WHERE id = $1
	`, entry.ID, attempts)
	if err != nil {
		return fmt.Errorf("marking entry sent: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE dispatch_recipients
		SET status = 'sent', error_message = NULL, updated_at = NOW()
		WHERE id = $1
	`, entry.RecipientID)
	if err != nil {
		return fmt.Errorf("marking recipient sent: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing mark-sent tx: %w", err)
	}
	return nil
}

// MarkFailed records a permanent failure on both the entry and its recipient.
func (s *PostgresStore) MarkFailed(ctx context.Context, entry domain.QueueEntry, attempts int, reason string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning mark-failed tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		UPDATE email_queue
		SET status = 'failed', attempt_count = $2, error_message = $3,
		    claimed_at = NULL, claimed_by = NULL, updated_at = NOW()
		WHERE id = $1
	`, entry.ID, attempts, reason)
	if err != nil {
		return fmt.Errorf("marking entry failed: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE dispatch_recipients
		SET status = 'failed', error_message = $2, updated_at = NOW()
		WHERE id = $1
	`, entry.RecipientID, reason)
	if err != nil {
		return fmt.Errorf("marking recipient failed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing mark-failed tx: %w", err)
	}
	return nil
}

// ScheduleRetry releases the claim and puts the entry back to pending with a
// future next_attempt. The recipient stays pending.
func (s *PostgresStore) ScheduleRetry(ctx context.Context, entry domain.QueueEntry, attempts int, nextAttempt time.Time, reason string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE email_queue
		SET status = 'pending', attempt_count = $2, next_attempt = $3, error_message = $4,
		    claimed_at = NULL, claimed_by = NULL, updated_at = NOW()
		WHERE id = $1
	`, entry.ID, attempts, nextAttempt, reason)
	if err != nil {
		return fmt.Errorf("scheduling retry: %w", err)
	}
	return nil
}

// ReleaseClaim puts a claimed entry back to pending untouched, used when a
// state transition could not be persisted. attempt_count is left as it was so
// infrastructure trouble does not consume the retry budget.
func (s *PostgresStore) ReleaseClaim(ctx context.Context, entryID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE email_queue
		SET status = 'pending', claimed_at = NULL, claimed_by = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'in_progress'
	`, entryID)
	if err != nil {
		return fmt.Errorf("releasing claim: %w", err)
	}
	return nil
}

// GetQueueEntry returns a single entry, or nil when it does not exist.
func (s *PostgresStore) GetQueueEntry(ctx context.Context, id string) (*domain.QueueEntry, error) {
	e, err := scanQueueEntry(s.pool.QueryRow(ctx,
		`SELECT `+queueEntryColumns+` FROM email_queue WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying queue entry: %w", err)
	}
	return e, nil
}

// prefixed qualifies every column in a comma-separated list with an alias.
func prefixed(alias, columns string) string {
	cols := strings.Split(columns, ",")
	for i, c := range cols {
		cols[i] = alias + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}
