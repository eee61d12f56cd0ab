package store

import (
	"context"
	"fmt"
)

// DispatchMetrics holds aggregate campaign statistics for the dashboard.
type DispatchMetrics struct {
	TotalDispatches     int `json:"total_dispatches"`
	SendingDispatches   int `json:"sending_dispatches"`
	CompletedDispatches int `json:"completed_dispatches"`
	TotalRecipients     int `json:"total_recipients"`
	SentEmails          int `json:"sent_emails"`
	FailedEmails        int `json:"failed_emails"`
	QueueDepth          int `json:"queue_depth"`
	RetryBacklog        int `json:"retry_backlog"`
}

// GetDispatchMetrics returns aggregated campaign statistics from the database.
func (s *PostgresStore) GetDispatchMetrics(ctx context.Context) (*DispatchMetrics, error) {
	var m DispatchMetrics

	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE status = 'sending') AS sending,
			COUNT(*) FILTER (WHERE status = 'completed') AS completed,
			COALESCE(SUM(total_recipients), 0) AS recipients,
			COALESCE(SUM(sent_count), 0) AS sent,
			COALESCE(SUM(failed_count), 0) AS failed
		FROM dispatches
	`).Scan(&m.TotalDispatches, &m.SendingDispatches, &m.CompletedDispatches,
		&m.TotalRecipients, &m.SentEmails, &m.FailedEmails)
	if err != nil {
		return nil, fmt.Errorf("querying dispatch metrics: %w", err)
	}

	err = s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status IN ('pending', 'in_progress')) AS depth,
			COUNT(*) FILTER (WHERE status = 'pending' AND next_attempt IS NOT NULL) AS retries
		FROM email_queue
	`).Scan(&m.QueueDepth, &m.RetryBacklog)
	if err != nil {
		return nil, fmt.Errorf("querying queue metrics: %w", err)
	}

	return &m, nil
}
