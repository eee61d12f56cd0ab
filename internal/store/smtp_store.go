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

const smtpConfigColumns = `id, name, host, port, username, password, from_email, from_name, use_tls, created_at`

func scanSMTPConfig(row pgx.Row) (*domain.SMTPConfig, error) {
	var c domain.SMTPConfig
	err := row.Scan(
		&c.ID, &c.Name, &c.Host, &c.Port, &c.Username, &c.Password,
		&c.FromEmail, &c.FromName, &c.UseTLS, &c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateSMTPConfig inserts a new SMTP identity.
func (s *PostgresStore) CreateSMTPConfig(ctx context.Context, req domain.UpsertSMTPConfigRequest) (*domain.SMTPConfig, error) {
	cfg := domain.SMTPConfig{
		ID:        uuid.NewString(),
		Name:      req.Name,
		Host:      req.Host,
		Port:      req.Port,
		Username:  req.Username,
		Password:  req.Password,
		FromEmail: req.FromEmail,
		FromName:  req.FromName,
		UseTLS:    req.UseTLS,
		CreatedAt: time.Now().UTC(),
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO smtp_configs (id, name, host, port, username, password, from_email, from_name, use_tls, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, cfg.ID, cfg.Name, cfg.Host, cfg.Port, cfg.Username, cfg.Password, cfg.FromEmail, cfg.FromName, cfg.UseTLS, cfg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting smtp config: %w", err)
	}
	return &cfg, nil
}

// GetSMTPConfig returns a single SMTP config, or nil when it does not exist.
func (s *PostgresStore) GetSMTPConfig(ctx context.Context, id string) (*domain.SMTPConfig, error) {
	cfg, err := scanSMTPConfig(s.pool.QueryRow(ctx,
		`SELECT `+smtpConfigColumns+` FROM smtp_configs WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying smtp config: %w", err)
	}
	return cfg, nil
}

// ListSMTPConfigs returns all SMTP configs, newest first.
func (s *PostgresStore) ListSMTPConfigs(ctx context.Context) ([]domain.SMTPConfig, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+smtpConfigColumns+` FROM smtp_configs ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("querying smtp configs: %w", err)
	}
	defer rows.Close()

	configs := []domain.SMTPConfig{}
	for rows.Next() {
		cfg, err := scanSMTPConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning smtp config: %w", err)
		}
		configs = append(configs, *cfg)
	}
	return configs, rows.Err()
}

// UpdateSMTPConfig overwrites an existing config. An empty password keeps the
// stored one.
func (s *PostgresStore) UpdateSMTPConfig(ctx context.Context, id string, req domain.UpsertSMTPConfigRequest) (*domain.SMTPConfig, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE smtp_configs
		SET name = $2, host = $3, port = $4, username = $5,
		    password = CASE WHEN $6 = '' THEN password ELSE $6 END,
		    from_email = $7, from_name = $8, use_tls = $9
		WHERE id = $1
	`, id, req.Name, req.Host, req.Port, req.Username, req.Password, req.FromEmail, req.FromName, req.UseTLS)
	if err != nil {
		return nil, fmt.Errorf("updating smtp config: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, nil
	}
	return s.GetSMTPConfig(ctx, id)
}

// DeleteSMTPConfig removes a config. Dispatches referencing it keep running
// until their entries fail with a configuration error.
func (s *PostgresStore) DeleteSMTPConfig(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM smtp_configs WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("deleting smtp config: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
