package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// AdminCredential is the single persisted admin password hash.
type AdminCredential struct {
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// GetAdminCredential returns the stored admin credential, or ErrNotFound when
// no admin has been set up yet.
func (s *Store) GetAdminCredential(ctx context.Context) (*AdminCredential, error) {
	cred := &AdminCredential{}
	err := s.db.QueryRowContext(ctx, `
		SELECT password_hash, created_at, updated_at
		FROM admin_credentials
		WHERE id = 1
	`).Scan(&cred.PasswordHash, &cred.CreatedAt, &cred.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("admin credential: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get admin credential: %w", err)
	}
	return cred, nil
}

// SetAdminCredential inserts or replaces the admin password hash.
func (s *Store) SetAdminCredential(ctx context.Context, passwordHash string) error {
	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO admin_credentials (id, password_hash, created_at, updated_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET password_hash = excluded.password_hash, updated_at = excluded.updated_at
	`, passwordHash, now, now)
	if err != nil {
		return fmt.Errorf("failed to set admin credential: %w", err)
	}
	return nil
}

// CreateAdminCredential inserts the admin password hash only when none
// exists. Returns ErrDuplicate when an admin is already registered.
func (s *Store) CreateAdminCredential(ctx context.Context, passwordHash string) error {
	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO admin_credentials (id, password_hash, created_at, updated_at)
		VALUES (1, ?, ?, ?)
	`, passwordHash, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("admin credential: %w", ErrDuplicate)
		}
		return fmt.Errorf("failed to create admin credential: %w", err)
	}
	return nil
}

// GetSigningSecret returns the stored token signing secret, or ErrNotFound
// when none has been generated yet.
func (s *Store) GetSigningSecret(ctx context.Context) (string, error) {
	var secret string
	err := s.db.QueryRowContext(ctx,
		"SELECT secret FROM signing_secrets WHERE id = 1",
	).Scan(&secret)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("signing secret: %w", ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get signing secret: %w", err)
	}
	return secret, nil
}

// SetSigningSecret stores the token signing secret. It is written once at
// first start and never rotated automatically.
func (s *Store) SetSigningSecret(ctx context.Context, secret string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO signing_secrets (id, secret, created_at)
		VALUES (1, ?, ?)
	`, secret, time.Now())
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("signing secret: %w", ErrDuplicate)
		}
		return fmt.Errorf("failed to set signing secret: %w", err)
	}
	return nil
}
