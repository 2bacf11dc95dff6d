// Package scheduler drives upstream event syncing and subgroup roster
// retrieval. A cron job refreshes the event catalogue; a min-heap of
// retrieval jobs fetches each subgroup's rider roster at fixed offsets
// past its start.
package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/wiedmann/zlogger/internal/domain"
)

const (
	// Horizon bounds how far ahead subgroups are queued for retrieval.
	Horizon = 2 * time.Hour
	// retrievalDelay is added to every retrieval offset so the upstream
	// roster has settled.
	retrievalDelay = 60 * time.Second
	// maxSleep caps the loop's idle wait.
	maxSleep = 60 * time.Second
)

// raceOffsets are the retrieval offsets past start for race events; other
// events get a single retrieval at start.
var raceOffsets = []time.Duration{
	0, 900 * time.Second, 1800 * time.Second, 2700 * time.Second,
	3600 * time.Second, 4500 * time.Second, 5400 * time.Second,
}

// Sentinel errors a RosterFetcher reports for the two recoverable
// upstream failure modes.
var (
	ErrAuthExpired = errors.New("upstream auth expired")
	ErrRateLimited = errors.New("upstream rate limited")
)

// EventSource fetches the upcoming event catalogue from the upstream
// platform.
type EventSource interface {
	FetchEvents(ctx context.Context) ([]domain.Event, []domain.Subgroup, error)
}

// EventStore is the persistence the scheduler needs, implemented by
// postgres.EventStore.
type EventStore interface {
	UpsertEvent(ctx context.Context, e domain.Event) error
	UpsertSubgroup(ctx context.Context, sg domain.Subgroup) error
	PruneStale(ctx context.Context, retrievalMS int64) error
	SubgroupsStartingBetween(ctx context.Context, from, to time.Time) ([]domain.Subgroup, error)
}

// RosterFetcher retrieves a subgroup's rider roster. Roster returns
// ErrAuthExpired when the session must be re-established and
// ErrRateLimited when the upstream is throttling.
type RosterFetcher interface {
	Login(ctx context.Context) error
	Roster(ctx context.Context, subgroupID int64) ([]domain.RiderProfile, error)
}

// RiderSink persists fetched rider profiles.
type RiderSink interface {
	Upsert(ctx context.Context, p domain.RiderProfile) error
}

// job is one pending roster retrieval.
type job struct {
	due time.Time
	sg  domain.Subgroup
}

type jobHeap []job

func (h jobHeap) Len() int            { return len(h) }
func (h jobHeap) Less(i, j int) bool  { return h[i].due.Before(h[j].due) }
func (h jobHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *jobHeap) Push(x any) { *h = append(*h, x.(job)) }
func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// Scheduler owns the retrieval heap and the event-sync cron. Single
// goroutine; the heap is never accessed concurrently.
type Scheduler struct {
	store   EventStore
	source  EventSource
	fetcher RosterFetcher
	riders  RiderSink

	syncSpec string
	cron     *cron.Cron

	jobs   jobHeap
	queued map[string]bool

	now   func() time.Time
	sleep func(context.Context, time.Duration)

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Scheduler. syncSpec is the cron expression for the event
// catalogue refresh (standard five-field syntax).
func New(store EventStore, source EventSource, fetcher RosterFetcher, riders RiderSink, syncSpec string) *Scheduler {
	return &Scheduler{
		store:    store,
		source:   source,
		fetcher:  fetcher,
		riders:   riders,
		syncSpec: syncSpec,
		queued:   make(map[string]bool),
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// Start launches the sync cron and the retrieval loop.
func (s *Scheduler) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	s.cron = cron.New()
	if _, err := s.cron.AddFunc(s.syncSpec, func() {
		if err := s.Sync(ctx); err != nil {
			slog.Error("event sync failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("bad sync schedule %q: %w", s.syncSpec, err)
	}
	s.cron.Start()

	go func() {
		defer close(s.done)
		s.run(ctx)
	}()
	return nil
}

// Stop cancels the loops and waits for the retrieval goroutine.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	if s.done != nil {
		<-s.done
	}
}

// Sync refreshes the event catalogue: every upstream event and subgroup is
// upserted with this sync's retrieval stamp, then future events missing
// from the batch are pruned as cancelled.
func (s *Scheduler) Sync(ctx context.Context) error {
	events, subgroups, err := s.source.FetchEvents(ctx)
	if err != nil {
		return fmt.Errorf("fetch events: %w", err)
	}
	retrievalMS := s.now().UnixMilli()

	for _, e := range events {
		e.RetrievedAtMS = retrievalMS
		if err := s.store.UpsertEvent(ctx, e); err != nil {
			return err
		}
	}
	for _, sg := range subgroups {
		sg.RetrievedAtMS = retrievalMS
		if err := s.store.UpsertSubgroup(ctx, sg); err != nil {
			return err
		}
	}
	if err := s.store.PruneStale(ctx, retrievalMS); err != nil {
		return err
	}
	slog.Info("event catalogue synced", "events", len(events), "subgroups", len(subgroups))
	return nil
}

// run is the retrieval loop: refill the heap from the stored subgroups,
// process everything due, sleep until the next due time (capped).
func (s *Scheduler) run(ctx context.Context) {
	for ctx.Err() == nil {
		now := s.now()
		if err := s.refill(ctx, now); err != nil {
			slog.Warn("refill retrieval heap", "error", err)
		}
		s.processDue(ctx, now)

		d := maxSleep
		if len(s.jobs) > 0 {
			if until := s.jobs[0].due.Sub(s.now()); until < d {
				d = until
			}
		}
		if d > 0 {
			s.sleep(ctx, d)
		}
	}
}

// refill queues retrieval jobs for subgroups starting inside the horizon.
// Jobs already queued or already due in the past are skipped.
func (s *Scheduler) refill(ctx context.Context, now time.Time) error {
	subgroups, err := s.store.SubgroupsStartingBetween(ctx, now.Add(-Horizon), now.Add(Horizon))
	if err != nil {
		return err
	}
	for _, sg := range subgroups {
		for _, due := range RetrievalTimes(sg) {
			if !due.After(now) {
				continue
			}
			key := fmt.Sprintf("%d@%d", sg.ID, due.Unix())
			if s.queued[key] {
				continue
			}
			s.queued[key] = true
			heap.Push(&s.jobs, job{due: due, sg: sg})
		}
	}
	return nil
}

// RetrievalTimes returns the roster retrieval times for one subgroup:
// start plus each race offset plus the settling delay for race events, a
// single retrieval at start plus the delay otherwise.
func RetrievalTimes(sg domain.Subgroup) []time.Time {
	name := sg.EventName
	if name == "" {
		name = sg.Name
	}
	if !strings.Contains(strings.ToLower(name), "race") {
		return []time.Time{sg.Start.Add(retrievalDelay)}
	}
	times := make([]time.Time, len(raceOffsets))
	for i, off := range raceOffsets {
		times[i] = sg.Start.Add(off + retrievalDelay)
	}
	return times
}

// processDue pops and executes every job whose due time has passed.
func (s *Scheduler) processDue(ctx context.Context, now time.Time) {
	for len(s.jobs) > 0 && !s.jobs[0].due.After(now) {
		j := heap.Pop(&s.jobs).(job)
		delete(s.queued, fmt.Sprintf("%d@%d", j.sg.ID, j.due.Unix()))
		if err := s.retrieve(ctx, j.sg); err != nil {
			slog.Error("roster retrieval failed", "subgroup", j.sg.ID, "event", j.sg.EventName, "error", err)
		}
	}
}

// retrieve fetches one subgroup's roster and persists the profiles. An
// expired session is re-established and the fetch retried once; a rate
// limit sleeps to the next quarter-hour boundary before the retry.
func (s *Scheduler) retrieve(ctx context.Context, sg domain.Subgroup) error {
	profiles, err := s.fetcher.Roster(ctx, sg.ID)
	switch {
	case errors.Is(err, ErrAuthExpired):
		slog.Warn("session expired, logging in again", "subgroup", sg.ID)
		if err := s.fetcher.Login(ctx); err != nil {
			return fmt.Errorf("re-login: %w", err)
		}
		profiles, err = s.fetcher.Roster(ctx, sg.ID)
	case errors.Is(err, ErrRateLimited):
		wait := untilQuarterHour(s.now())
		slog.Warn("rate limited, backing off", "subgroup", sg.ID, "wait", wait)
		s.sleep(ctx, wait)
		profiles, err = s.fetcher.Roster(ctx, sg.ID)
	}
	if err != nil {
		return err
	}

	for _, p := range profiles {
		if err := s.riders.Upsert(ctx, p); err != nil {
			return fmt.Errorf("store rider %d: %w", p.ID, err)
		}
	}
	slog.Info("roster retrieved", "subgroup", sg.ID, "event", sg.EventName, "riders", len(profiles))
	return nil
}

// untilQuarterHour is the wait to the next :00/:15/:30/:45 boundary.
func untilQuarterHour(now time.Time) time.Duration {
	next := now.Truncate(15 * time.Minute).Add(15 * time.Minute)
	return next.Sub(now)
}
