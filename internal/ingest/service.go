// Package ingest implements the live ingestion loop: it consumes decoded
// zlogger records one at a time, resolves observer-local line ids through
// the registry, maintains chalkline liveness, persists position and
// telemetry rows, and re-publishes rider events on the bus.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/wiedmann/zlogger/internal/bus"
	"github.com/wiedmann/zlogger/internal/chat"
	"github.com/wiedmann/zlogger/internal/domain"
	"github.com/wiedmann/zlogger/internal/linereg"
)

// Behavioral constants; exposed as Config fields for fault-injection tests.
const (
	// DefaultUpdateInterval is how often a POS event refreshes a
	// chalkline's active flag.
	DefaultUpdateInterval = 30 * time.Second
	// DefaultStorageBackoff is the sleep before retrying a record after a
	// storage error.
	DefaultStorageBackoff = 3 * time.Second
)

// ErrShutdown is returned by Run when a SHUTDOWN record terminates the
// loop.
var ErrShutdown = errors.New("observer shutdown")

// LineSource yields complete log lines; implemented by *tailer.Tailer.
type LineSource interface {
	Next(ctx context.Context) (string, error)
}

// ChalklineStore is the registry-side persistence the loop needs.
type ChalklineStore interface {
	List(ctx context.Context) ([]domain.Chalkline, error)
	Insert(ctx context.Context, name, data string) (int32, error)
	MarkActive(ctx context.Context, id int32) error
	MarkInactive(ctx context.Context, ids []int32) error
}

// PositionStore persists POS rows.
type PositionStore interface {
	Upsert(ctx context.Context, p domain.Position) error
}

// TelemetryStore persists TELE rows.
type TelemetryStore interface {
	Upsert(ctx context.Context, t domain.Telemetry) error
}

// ChatStore persists deduplicated chat messages.
type ChatStore interface {
	Insert(ctx context.Context, riderID int64, msg string) error
}

// Config wires a Service.
type Config struct {
	Chalklines ChalklineStore
	Positions  PositionStore
	Telemetry  TelemetryStore
	Chat       ChatStore
	Publisher  bus.Publisher // nil = no bus

	UpdateInterval time.Duration
	StorageBackoff time.Duration
	// StayRunning keeps the loop alive after a SHUTDOWN record.
	StayRunning bool

	Now func() time.Time // test hook
}

// Service is the ingestion loop state. It is single-owner: one loop per
// process, no concurrent access.
type Service struct {
	cfg Config

	reg            *linereg.Registry
	deduper        *chat.Deduper
	active         map[int32]bool
	lastLineUpdate map[int32]time.Time
	now            func() time.Time
}

// New creates a Service. Call Run to start consuming.
func New(cfg Config) *Service {
	if cfg.UpdateInterval == 0 {
		cfg.UpdateInterval = DefaultUpdateInterval
	}
	if cfg.StorageBackoff == 0 {
		cfg.StorageBackoff = DefaultStorageBackoff
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{
		cfg:            cfg,
		reg:            linereg.New(),
		deduper:        chat.NewDeduper(),
		active:         make(map[int32]bool),
		lastLineUpdate: make(map[int32]time.Time),
		now:            cfg.Now,
	}
}

// ActiveLines returns the chalklines currently marked active this session.
func (s *Service) ActiveLines() []int32 {
	ids := make([]int32, 0, len(s.active))
	for id := range s.active {
		ids = append(ids, id)
	}
	return ids
}

// Run seeds the line registry from the persisted chalkline rows and then
// consumes records from src until ctx is cancelled or a SHUTDOWN record
// arrives (unless StayRunning). Storage errors retry the offending record
// after a backoff; malformed records are logged and skipped.
func (s *Service) Run(ctx context.Context, src LineSource) error {
	if err := s.seedRegistry(ctx); err != nil {
		return err
	}

	for {
		line, err := src.Next(ctx)
		if err != nil {
			return err
		}
		if err := s.handleLine(ctx, line); err != nil {
			return err
		}
	}
}

// seedRegistry loads the canonical side of the line registry.
func (s *Service) seedRegistry(ctx context.Context) error {
	lines, err := s.cfg.Chalklines.List(ctx)
	if err != nil {
		return fmt.Errorf("seed line registry: %w", err)
	}
	for _, cl := range lines {
		s.reg.AddDest(cl.ID, cl.Name)
	}
	slog.Info("line registry seeded", "lines", len(lines))
	return nil
}

// handleLine decodes and dispatches one log line, retrying on storage
// errors until the record sticks or ctx ends.
func (s *Service) handleLine(ctx context.Context, line string) error {
	if line == "" {
		return nil
	}
	var rec record
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		slog.Warn("bad log file line", "line", line, "error", err)
		return nil
	}

	for {
		err := s.dispatch(ctx, rec)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ErrShutdown):
			return err
		case isRecordError(err):
			slog.Warn("skipping record", "line", line, "error", err)
			return nil
		default:
			// Transient storage failure: back off and retry this record.
			slog.Warn("storage error, retrying record", "backoff", s.cfg.StorageBackoff, "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.cfg.StorageBackoff):
			}
		}
	}
}

// isRecordError reports whether err is a defect of the record itself
// (missing field, unmapped line) rather than of the infrastructure.
func isRecordError(err error) bool {
	var missingField *errMissingField
	var missingLine *linereg.MissingLineError
	return errors.As(err, &missingField) || errors.As(err, &missingLine) ||
		errors.Is(err, errUndecodable)
}

func (s *Service) dispatch(ctx context.Context, rec record) error {
	switch rec.E {
	case KindLine:
		return s.handleLineEvent(ctx, rec)
	case KindNearby:
		return s.handleNearby(ctx, rec)
	case KindPos:
		return s.handlePos(ctx, rec)
	case KindTele:
		return s.handleTele(ctx, rec)
	case KindShutdown:
		return s.handleShutdown(ctx)
	case KindChat:
		return s.handleChat(ctx, rec)
	default:
		slog.Warn("unrecognized event kind", "kind", rec.E)
		return nil
	}
}

// handleLineEvent registers a source line; an unknown name is inserted
// into the shared registry and the assigned canonical id read back.
func (s *Service) handleLineEvent(ctx context.Context, rec record) error {
	localID, name, data, err := rec.lineEvent()
	if err != nil {
		return err
	}
	if s.reg.AddSource(localID, name) {
		return nil
	}
	slog.Info("adding new chalkline", "local_id", localID, "name", name)
	canonicalID, err := s.cfg.Chalklines.Insert(ctx, name, data)
	if err != nil {
		return err
	}
	s.reg.AddDest(canonicalID, name)
	return nil
}

func (s *Service) handleNearby(ctx context.Context, rec record) error {
	localID, err := rec.nearbyEvent()
	if err != nil {
		return err
	}
	lineID, err := s.reg.Resolve(localID)
	if err != nil {
		return err
	}
	return s.markActive(ctx, lineID)
}

func (s *Service) markActive(ctx context.Context, lineID int32) error {
	if err := s.cfg.Chalklines.MarkActive(ctx, lineID); err != nil {
		return err
	}
	s.active[lineID] = true
	s.lastLineUpdate[lineID] = s.now()
	return nil
}

func (s *Service) handlePos(ctx context.Context, rec record) error {
	v, err := rec.posEvent()
	if err != nil {
		return err
	}
	lineID, err := s.reg.Resolve(*v.Line)
	if err != nil {
		return err
	}

	// Refresh liveness at most once per update interval per line.
	if last, ok := s.lastLineUpdate[lineID]; !ok || s.now().Sub(last) > s.cfg.UpdateInterval {
		if err := s.markActive(ctx, lineID); err != nil {
			return err
		}
	}

	pos := v.position(rec.MSec, lineID)
	s.publish(ctx, fmt.Sprintf("POS.%d.%d", lineID, pos.RiderID), pos)
	return s.cfg.Positions.Upsert(ctx, pos)
}

func (s *Service) handleTele(ctx context.Context, rec record) error {
	v, err := rec.posEvent()
	if err != nil {
		return err
	}
	tele := v.telemetry(rec.MSec)
	s.publish(ctx, fmt.Sprintf("TELE.%d", tele.RiderID), tele)
	return s.cfg.Telemetry.Upsert(ctx, tele)
}

// handleShutdown flips all session-active chalklines inactive, then
// terminates the loop unless configured to stay running.
func (s *Service) handleShutdown(ctx context.Context) error {
	if err := s.cfg.Chalklines.MarkInactive(ctx, s.ActiveLines()); err != nil {
		return err
	}
	s.active = make(map[int32]bool)
	if s.cfg.StayRunning {
		return nil
	}
	slog.Info("got shutdown event - shutting down")
	return ErrShutdown
}

// handleChat dedupes in the sliding window; unique messages are
// re-published and persisted.
func (s *Service) handleChat(ctx context.Context, rec record) error {
	msg, err := rec.chatEvent()
	if err != nil {
		return err
	}
	at, err := chat.ParseClock(msg.Time)
	if err != nil {
		slog.Warn("bad chat time, skipping", "time", msg.Time, "error", err)
		return nil
	}
	if !s.deduper.Observe(at, msg.RiderID, msg.Msg) {
		return nil
	}
	s.publish(ctx, fmt.Sprintf("CHAT.%d", msg.RiderID), msg)
	return s.cfg.Chat.Insert(ctx, msg.RiderID, msg.Msg)
}

// publish sends payload on the zlogger exchange. Publish failures are
// already retried inside the bus; a dropped message never interrupts
// persistence.
func (s *Service) publish(ctx context.Context, routingKey string, payload any) {
	if s.cfg.Publisher == nil {
		return
	}
	body, err := json.Marshal(payload)
	if err != nil {
		slog.Warn("marshal bus payload", "routing_key", routingKey, "error", err)
		return
	}
	if err := s.cfg.Publisher.Publish(ctx, bus.Exchange, routingKey, body); err != nil {
		slog.Warn("publish failed", "routing_key", routingKey, "error", err)
	}
}
