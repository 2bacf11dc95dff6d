package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/wiedmann/zlogger/internal/domain"
)

// RiderStore persists rider profiles fetched from the upstream platform.
type RiderStore struct {
	pool *pgxpool.Pool
}

// NewRiderStore creates a RiderStore backed by the given pool.
func NewRiderStore(pool *pgxpool.Pool) *RiderStore {
	return &RiderStore{pool: pool}
}

// Get returns a rider profile, or nil when the rider is unknown.
func (s *RiderStore) Get(ctx context.Context, riderID int64) (*domain.RiderProfile, error) {
	var (
		p   domain.RiderProfile
		cat *string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT rider_id, fname, lname, cat, weight, height, male, zpower
		   FROM rider WHERE rider_id = $1`, riderID,
	).Scan(&p.ID, &p.FirstName, &p.LastName, &cat, &p.WeightG, &p.HeightMM, &p.Male, &p.PowerType)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get rider %d: %w", riderID, err)
	}
	if cat != nil {
		p.Cat = *cat
	}
	return &p, nil
}

// Upsert inserts or replaces a rider profile.
func (s *RiderStore) Upsert(ctx context.Context, p domain.RiderProfile) error {
	var cat *string
	if p.Cat != "" {
		cat = &p.Cat
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO rider (rider_id, fname, lname, cat, weight, height, male, zpower)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		 ON CONFLICT (rider_id) DO UPDATE SET
		   fname = EXCLUDED.fname, lname = EXCLUDED.lname, cat = EXCLUDED.cat,
		   weight = EXCLUDED.weight, height = EXCLUDED.height,
		   male = EXCLUDED.male, zpower = EXCLUDED.zpower`,
		p.ID, p.FirstName, p.LastName, cat, p.WeightG, p.HeightMM, p.Male, p.PowerType,
	)
	if err != nil {
		return fmt.Errorf("upsert rider %d: %w", p.ID, err)
	}
	return nil
}

// UpdateCat stores an estimated category for a rider whose category was
// unknown.
func (s *RiderStore) UpdateCat(ctx context.Context, riderID int64, cat string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE rider SET cat = $1 WHERE rider_id = $2`, cat, riderID)
	if err != nil {
		return fmt.Errorf("update rider %d cat: %w", riderID, err)
	}
	return nil
}
