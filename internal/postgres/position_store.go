package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/wiedmann/zlogger/internal/domain"
)

// PositionStore persists POS observations to live_results and serves the
// range queries the results engine runs over them.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a PositionStore backed by the given pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

// Upsert inserts or refreshes one live_results row. The unique key is
// (msec, riderid, monitorid), so re-ingesting a log leaves the row count
// unchanged.
func (s *PositionStore) Upsert(ctx context.Context, p domain.Position) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO live_results
		   (msec, riderid, lineid, fwd, meters, mwh, duration, elevation,
		    speed, hr, monitorid, lpup, pup, cad, grp, timestamp)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15, now())
		 ON CONFLICT (msec, riderid, monitorid) DO UPDATE SET
		   lineid = EXCLUDED.lineid, fwd = EXCLUDED.fwd,
		   meters = EXCLUDED.meters, mwh = EXCLUDED.mwh,
		   duration = EXCLUDED.duration, elevation = EXCLUDED.elevation,
		   speed = EXCLUDED.speed, hr = EXCLUDED.hr,
		   lpup = EXCLUDED.lpup, pup = EXCLUDED.pup,
		   cad = EXCLUDED.cad, grp = EXCLUDED.grp,
		   timestamp = now()`,
		p.TimeMS, p.RiderID, p.LineID, p.Forward, p.Meters, p.MWH, p.DurationMS,
		p.Elevation, p.Speed, p.HR, p.MonitorID, p.LPUP, p.PUP, p.Cadence, p.GroupID,
	)
	if err != nil {
		return fmt.Errorf("upsert position: %w", err)
	}
	return nil
}

// RidersInRange returns every rider's positions with msec in
// [beginMS, endMS], ordered by time ascending within each rider.
func (s *PositionStore) RidersInRange(ctx context.Context, beginMS, endMS int64) (map[int64][]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT msec, riderid, lineid, fwd, meters, mwh, duration, elevation,
		        speed, hr, monitorid, lpup, pup, cad, grp
		   FROM live_results
		  WHERE msec BETWEEN $1 AND $2
		  ORDER BY msec ASC`,
		beginMS, endMS,
	)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	riders := make(map[int64][]domain.Position)
	for rows.Next() {
		var p domain.Position
		if err := rows.Scan(&p.TimeMS, &p.RiderID, &p.LineID, &p.Forward, &p.Meters,
			&p.MWH, &p.DurationMS, &p.Elevation, &p.Speed, &p.HR, &p.MonitorID,
			&p.LPUP, &p.PUP, &p.Cadence, &p.GroupID); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		riders[p.RiderID] = append(riders[p.RiderID], p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate positions: %w", err)
	}
	return riders, nil
}

// RidersNearLine lists the distinct riders who crossed lineID within the
// window, in first-seen order. Feeds the profile retrieval tooling.
func (s *PositionStore) RidersNearLine(ctx context.Context, lineID int32, beginMS, endMS int64) ([]int64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT riderid FROM live_results
		  WHERE msec BETWEEN $1 AND $2 AND lineid = $3
		  ORDER BY msec ASC`,
		beginMS, endMS, lineID,
	)
	if err != nil {
		return nil, fmt.Errorf("query riders near line %d: %w", lineID, err)
	}
	defer rows.Close()

	seen := make(map[int64]bool)
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan rider id: %w", err)
		}
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids, rows.Err()
}

// Latest returns the most recent positions, newest first. Serves the
// zloggerd status API.
func (s *PositionStore) Latest(ctx context.Context, limit int) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT msec, riderid, lineid, fwd, meters, mwh, duration, elevation,
		        speed, hr, monitorid, lpup, pup, cad, grp
		   FROM live_results ORDER BY msec DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query latest positions: %w", err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		var p domain.Position
		if err := rows.Scan(&p.TimeMS, &p.RiderID, &p.LineID, &p.Forward, &p.Meters,
			&p.MWH, &p.DurationMS, &p.Elevation, &p.Speed, &p.HR, &p.MonitorID,
			&p.LPUP, &p.PUP, &p.Cadence, &p.GroupID); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
