package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ChatStore persists deduplicated chat messages.
type ChatStore struct {
	pool *pgxpool.Pool
}

// NewChatStore creates a ChatStore backed by the given pool.
func NewChatStore(pool *pgxpool.Pool) *ChatStore {
	return &ChatStore{pool: pool}
}

// Insert records one chat message.
func (s *ChatStore) Insert(ctx context.Context, riderID int64, msg string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO chat (riderid, msg) VALUES ($1, $2)`, riderID, msg)
	if err != nil {
		return fmt.Errorf("insert chat: %w", err)
	}
	return nil
}
