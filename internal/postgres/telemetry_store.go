package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/wiedmann/zlogger/internal/domain"
)

// TelemetryStore persists TELE observations. Telemetry rows never
// participate in chalkline mapping.
type TelemetryStore struct {
	pool *pgxpool.Pool
}

// NewTelemetryStore creates a TelemetryStore backed by the given pool.
func NewTelemetryStore(pool *pgxpool.Pool) *TelemetryStore {
	return &TelemetryStore{pool: pool}
}

// Upsert inserts or refreshes one telemetry row, keyed like live_results
// by (msec, riderid, monitorid).
func (s *TelemetryStore) Upsert(ctx context.Context, t domain.Telemetry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO telemetry
		   (msec, riderid, rad, fwd, meters, mwh, duration, elevation,
		    speed, hr, monitorid, lpup, pup, cad, grp, timestamp)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15, now())
		 ON CONFLICT (msec, riderid, monitorid) DO UPDATE SET
		   rad = EXCLUDED.rad, fwd = EXCLUDED.fwd,
		   meters = EXCLUDED.meters, mwh = EXCLUDED.mwh,
		   duration = EXCLUDED.duration, elevation = EXCLUDED.elevation,
		   speed = EXCLUDED.speed, hr = EXCLUDED.hr,
		   lpup = EXCLUDED.lpup, pup = EXCLUDED.pup,
		   cad = EXCLUDED.cad, grp = EXCLUDED.grp,
		   timestamp = now()`,
		t.TimeMS, t.RiderID, t.Rad, t.Forward, t.Meters, t.MWH, t.DurationMS,
		t.Elevation, t.Speed, t.HR, t.MonitorID, t.LPUP, t.PUP, t.Cadence, t.GroupID,
	)
	if err != nil {
		return fmt.Errorf("upsert telemetry: %w", err)
	}
	return nil
}
