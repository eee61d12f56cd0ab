package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dispatchlab/mail-dispatch-system/internal/domain"
)

// CreateTester saves a reusable test recipient.
func (s *PostgresStore) CreateTester(ctx context.Context, req domain.UpsertTesterRequest) (*domain.Tester, error) {
	t := domain.Tester{
		ID:        uuid.NewString(),
		Title:     req.Title,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		CreatedAt: time.Now().UTC(),
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO testers (id, title, fname, lname, email, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, t.ID, t.Title, t.FirstName, t.LastName, t.Email, t.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting tester: %w", err)
	}
	return &t, nil
}

// ListTesters returns all saved test recipients.
func (s *PostgresStore) ListTesters(ctx context.Context) ([]domain.Tester, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, title, fname, lname, email, created_at FROM testers ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("querying testers: %w", err)
	}
	defer rows.Close()

	testers := []domain.Tester{}
	for rows.Next() {
		var t domain.Tester
		if err := rows.Scan(&t.ID, &t.Title, &t.FirstName, &t.LastName, &t.Email, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning tester: %w", err)
		}
		testers = append(testers, t)
	}
	return testers, rows.Err()
}

// GetTestersByIDs resolves tester rows for an enqueue request, preserving only
// ids that still exist.
func (s *PostgresStore) GetTestersByIDs(ctx context.Context, ids []string) ([]domain.Tester, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, title, fname, lname, email, created_at FROM testers WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("querying testers by ids: %w", err)
	}
	defer rows.Close()

	var testers []domain.Tester
	for rows.Next() {
		var t domain.Tester
		if err := rows.Scan(&t.ID, &t.Title, &t.FirstName, &t.LastName, &t.Email, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning tester: %w", err)
		}
		testers = append(testers, t)
	}
	return testers, rows.Err()
}

// UpdateTester overwrites a saved test recipient.
func (s *PostgresStore) UpdateTester(ctx context.Context, id string, req domain.UpsertTesterRequest) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE testers SET title = $2, fname = $3, lname = $4, email = $5 WHERE id = $1
	`, id, req.Title, req.FirstName, req.LastName, req.Email)
	if err != nil {
		return false, fmt.Errorf("updating tester: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteTester removes a saved test recipient.
func (s *PostgresStore) DeleteTester(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM testers WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("deleting tester: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
