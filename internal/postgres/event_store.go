package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/wiedmann/zlogger/internal/domain"
)

// EventStore persists the upstream event catalogue consumed by the
// subgroup retrieval scheduler.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates an EventStore backed by the given pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

// UpsertEvent inserts or replaces one upstream event.
func (s *EventStore) UpsertEvent(ctx context.Context, e domain.Event) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO zwift_events
		   (id, name, short_name, route_id, laps, distance_m, event_start,
		    sport, total_entrants, retrieval_time)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		 ON CONFLICT (id) DO UPDATE SET
		   name = EXCLUDED.name, short_name = EXCLUDED.short_name,
		   route_id = EXCLUDED.route_id, laps = EXCLUDED.laps,
		   distance_m = EXCLUDED.distance_m, event_start = EXCLUDED.event_start,
		   sport = EXCLUDED.sport, total_entrants = EXCLUDED.total_entrants,
		   retrieval_time = EXCLUDED.retrieval_time`,
		e.ID, e.Name, e.ShortName, e.RouteID, e.Laps, e.DistanceM, e.EventStart,
		e.Sport, e.TotalEntrants, e.RetrievedAtMS,
	)
	if err != nil {
		return fmt.Errorf("upsert event %d: %w", e.ID, err)
	}
	return nil
}

// UpsertSubgroup inserts or replaces one event subgroup.
func (s *EventStore) UpsertSubgroup(ctx context.Context, sg domain.Subgroup) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO zwift_event_subgroups
		   (id, zwift_event_id, name, label, subgroup_start, total_entrants, retrieval_time)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)
		 ON CONFLICT (id) DO UPDATE SET
		   zwift_event_id = EXCLUDED.zwift_event_id, name = EXCLUDED.name,
		   label = EXCLUDED.label, subgroup_start = EXCLUDED.subgroup_start,
		   total_entrants = EXCLUDED.total_entrants,
		   retrieval_time = EXCLUDED.retrieval_time`,
		sg.ID, sg.EventID, sg.Name, sg.Label, sg.Start, sg.TotalEntrants, sg.RetrievedAtMS,
	)
	if err != nil {
		return fmt.Errorf("upsert subgroup %d: %w", sg.ID, err)
	}
	return nil
}

// PruneStale deletes future events (and their subgroups, via cascade) that
// were not refreshed in the latest sync — they were cancelled upstream.
func (s *EventStore) PruneStale(ctx context.Context, retrievalMS int64) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM zwift_events
		  WHERE retrieval_time < $1 AND event_start > to_timestamp($2)`,
		retrievalMS, retrievalMS/1000)
	if err != nil {
		return fmt.Errorf("prune stale events: %w", err)
	}
	return nil
}

// SubgroupsStartingBetween returns subgroups whose start falls in
// [from, to), joined with their event name, ordered by start.
func (s *EventStore) SubgroupsStartingBetween(ctx context.Context, from, to time.Time) ([]domain.Subgroup, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT sg.id, sg.zwift_event_id, ev.name, sg.name, sg.label,
		        sg.subgroup_start, sg.total_entrants, sg.retrieval_time
		   FROM zwift_event_subgroups sg
		   JOIN zwift_events ev ON ev.id = sg.zwift_event_id
		  WHERE sg.subgroup_start >= $1 AND sg.subgroup_start < $2
		  ORDER BY sg.subgroup_start ASC`,
		from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("query subgroups: %w", err)
	}
	defer rows.Close()

	var out []domain.Subgroup
	for rows.Next() {
		var sg domain.Subgroup
		if err := rows.Scan(&sg.ID, &sg.EventID, &sg.EventName, &sg.Name, &sg.Label,
			&sg.Start, &sg.TotalEntrants, &sg.RetrievedAtMS); err != nil {
			return nil, fmt.Errorf("scan subgroup: %w", err)
		}
		out = append(out, sg)
	}
	return out, rows.Err()
}
