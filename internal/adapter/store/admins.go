package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/quayside/keygate/internal/core/domain"
)

func (s *Store) GetAdminByUsername(ctx context.Context, username string) (*domain.AdminUser, error) {
	var a domain.AdminUser
	query := s.rebind(`SELECT id, username, hashed_password, is_active, created_at
		FROM admin_users WHERE username = ?`)
	if err := s.db.GetContext(ctx, &a, query, username); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

func (s *Store) CreateAdmin(ctx context.Context, a *domain.AdminUser) error {
	a.CreatedAt = time.Now().UTC()
	id, err := s.insertRow(ctx, `INSERT INTO admin_users (username, hashed_password, is_active, created_at)
		VALUES (?, ?, ?, ?)`,
		a.Username, a.HashedPassword, a.Active, a.CreatedAt)
	if err != nil {
		return err
	}
	a.ID = id
	return nil
}
