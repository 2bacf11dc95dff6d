package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/wiedmann/zlogger/internal/domain"
)

// ErrAmbiguousLine is returned by FindLine when a prefix matches more than
// one chalkline.
var ErrAmbiguousLine = errors.New("more than one line matches")

// ChalklineStore persists the shared chalkline registry.
type ChalklineStore struct {
	pool *pgxpool.Pool
}

// NewChalklineStore creates a ChalklineStore backed by the given pool.
func NewChalklineStore(pool *pgxpool.Pool) *ChalklineStore {
	return &ChalklineStore{pool: pool}
}

// List returns all registered chalklines.
func (s *ChalklineStore) List(ctx context.Context) ([]domain.Chalkline, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT line, name, data, active, lastmonitored FROM chalkline ORDER BY line`)
	if err != nil {
		return nil, fmt.Errorf("list chalklines: %w", err)
	}
	defer rows.Close()

	var lines []domain.Chalkline
	for rows.Next() {
		var cl domain.Chalkline
		if err := rows.Scan(&cl.ID, &cl.Name, &cl.Data, &cl.Active, &cl.LastMonitored); err != nil {
			return nil, fmt.Errorf("scan chalkline: %w", err)
		}
		lines = append(lines, cl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chalklines: %w", err)
	}
	return lines, nil
}

// Insert registers a new chalkline and returns its assigned canonical id.
// A concurrent insert of the same name resolves to the existing row.
func (s *ChalklineStore) Insert(ctx context.Context, name, data string) (int32, error) {
	var id int32
	err := s.pool.QueryRow(ctx,
		`INSERT INTO chalkline (name, data) VALUES ($1, $2)
		 ON CONFLICT (name) DO UPDATE SET data = EXCLUDED.data
		 RETURNING line`,
		name, data,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert chalkline %q: %w", name, err)
	}
	return id, nil
}

// MarkActive flips a chalkline active and stamps lastmonitored.
func (s *ChalklineStore) MarkActive(ctx context.Context, id int32) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE chalkline SET active = TRUE, lastmonitored = now() WHERE line = $1`, id)
	if err != nil {
		return fmt.Errorf("mark chalkline %d active: %w", id, err)
	}
	return nil
}

// MarkInactive flips the given chalklines inactive. Used on observer
// shutdown for the session's active set.
func (s *ChalklineStore) MarkInactive(ctx context.Context, ids []int32) error {
	for _, id := range ids {
		if _, err := s.pool.Exec(ctx,
			`UPDATE chalkline SET active = FALSE WHERE line = $1`, id); err != nil {
			return fmt.Errorf("mark chalkline %d inactive: %w", id, err)
		}
	}
	return nil
}

// Active returns the chalklines currently flagged active.
func (s *ChalklineStore) Active(ctx context.Context) ([]domain.Chalkline, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT line, name, data, active, lastmonitored FROM chalkline WHERE active ORDER BY line`)
	if err != nil {
		return nil, fmt.Errorf("list active chalklines: %w", err)
	}
	defer rows.Close()

	var lines []domain.Chalkline
	for rows.Next() {
		var cl domain.Chalkline
		if err := rows.Scan(&cl.ID, &cl.Name, &cl.Data, &cl.Active, &cl.LastMonitored); err != nil {
			return nil, fmt.Errorf("scan chalkline: %w", err)
		}
		lines = append(lines, cl)
	}
	return lines, rows.Err()
}

// FindLine maps a chalkline name to its canonical id: exact match first,
// then a single prefix match. Multiple prefix matches are an error rather
// than a guess.
func (s *ChalklineStore) FindLine(ctx context.Context, name string) (int32, error) {
	var id int32
	err := s.pool.QueryRow(ctx,
		`SELECT line FROM chalkline WHERE name = $1`, name).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("find line %q: %w", name, err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT line FROM chalkline WHERE name LIKE $1 || '%'`, name)
	if err != nil {
		return 0, fmt.Errorf("find line %q: %w", name, err)
	}
	defer rows.Close()

	var ids []int32
	for rows.Next() {
		var i int32
		if err := rows.Scan(&i); err != nil {
			return 0, fmt.Errorf("scan line id: %w", err)
		}
		ids = append(ids, i)
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("find line %q: %w", name, err)
	}
	switch len(ids) {
	case 0:
		return 0, fmt.Errorf("could not find line { %s }: %w", name, domain.ErrNotFound)
	case 1:
		return ids[0], nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrAmbiguousLine, name)
	}
}
