// Package credentials resolves, for each user, the coordinates of their
// durable document container and the access credential, provisioning the
// container lazily on first use.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lewisedginton/memory_vault/internal/engine"
)

// Store is the user registry persistence contract.
type Store interface {
	// GetUser returns the user record, or engine.ErrNotFound.
	GetUser(ctx context.Context, id string) (engine.User, error)

	// SaveUser upserts the user record.
	SaveUser(ctx context.Context, user engine.User) error
}

// PostgresStore persists user records in the users table.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a postgres-backed user registry.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// GetUser returns a user record.
func (s *PostgresStore) GetUser(ctx context.Context, id string) (engine.User, error) {
	const q = `
		SELECT id, credential, store_owner, store_repo, created_at, updated_at
		FROM users WHERE id = $1`

	var user engine.User
	err := s.db.QueryRow(ctx, q, id).Scan(
		&user.ID, &user.Credential, &user.StoreLocation.Owner, &user.StoreLocation.Repo,
		&user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return engine.User{}, fmt.Errorf("user %s: %w", id, engine.ErrNotFound)
		}
		return engine.User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

// SaveUser upserts a user record.
func (s *PostgresStore) SaveUser(ctx context.Context, user engine.User) error {
	const q = `
		INSERT INTO users (id, credential, store_owner, store_repo, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			credential = EXCLUDED.credential,
			store_owner = EXCLUDED.store_owner,
			store_repo = EXCLUDED.store_repo,
			updated_at = EXCLUDED.updated_at`

	now := time.Now().UTC()
	createdAt := user.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	_, err := s.db.Exec(ctx, q, user.ID, user.Credential, user.StoreLocation.Owner, user.StoreLocation.Repo, createdAt, now)
	if err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	return nil
}

// MemoryStore is an in-memory user registry for development mode and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string]engine.User
}

// NewMemoryStore creates an empty in-memory registry.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[string]engine.User)}
}

// GetUser returns a user record.
func (s *MemoryStore) GetUser(ctx context.Context, id string) (engine.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[id]
	if !ok {
		return engine.User{}, fmt.Errorf("user %s: %w", id, engine.ErrNotFound)
	}
	return user, nil
}

// SaveUser upserts a user record.
func (s *MemoryStore) SaveUser(ctx context.Context, user engine.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.UpdatedAt = time.Now().UTC()
	s.users[user.ID] = user
	return nil
}
