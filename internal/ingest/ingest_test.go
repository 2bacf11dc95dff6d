package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wiedmann/zlogger/internal/domain"
)

type sliceSource struct {
	lines []string
}

func (s *sliceSource) Next(ctx context.Context) (string, error) {
	if len(s.lines) == 0 {
		return "", context.Canceled
	}
	l := s.lines[0]
	s.lines = s.lines[1:]
	return l, nil
}

type fakeStores struct {
	chalklines []domain.Chalkline
	nextLineID int32

	inserted     []string
	active       []int32
	inactive     [][]int32
	positions    []domain.Position
	telemetry    []domain.Telemetry
	chats        []string
	upsertErrors int // fail the first N position upserts
}

func (f *fakeStores) List(ctx context.Context) ([]domain.Chalkline, error) {
	return f.chalklines, nil
}

func (f *fakeStores) Insert(ctx context.Context, name, data string) (int32, error) {
	f.inserted = append(f.inserted, name)
	f.nextLineID++
	return f.nextLineID, nil
}

func (f *fakeStores) MarkActive(ctx context.Context, id int32) error {
	f.active = append(f.active, id)
	return nil
}

func (f *fakeStores) MarkInactive(ctx context.Context, ids []int32) error {
	f.inactive = append(f.inactive, ids)
	return nil
}

func (f *fakeStores) Upsert(ctx context.Context, p domain.Position) error {
	if f.upsertErrors > 0 {
		f.upsertErrors--
		return fmt.Errorf("db is down")
	}
	f.positions = append(f.positions, p)
	return nil
}

type teleStore struct {
	rows []domain.Telemetry
}

func (t *teleStore) Upsert(ctx context.Context, row domain.Telemetry) error {
	t.rows = append(t.rows, row)
	return nil
}

type chatStore struct {
	msgs []string
}

func (c *chatStore) Insert(ctx context.Context, riderID int64, msg string) error {
	c.msgs = append(c.msgs, fmt.Sprintf("%d:%s", riderID, msg))
	return nil
}

type fakePublisher struct {
	keys []string
}

func (p *fakePublisher) Publish(ctx context.Context, exchange, routingKey string, body []byte) error {
	p.keys = append(p.keys, exchange+"/"+routingKey)
	return nil
}

func newTestService(stores *fakeStores, tele *teleStore, chat *chatStore, pub *fakePublisher) *Service {
	cfg := Config{
		Chalklines:     stores,
		Positions:      stores,
		Telemetry:      tele,
		Chat:           chat,
		StorageBackoff: time.Millisecond,
	}
	if pub != nil {
		cfg.Publisher = pub
	}
	return New(cfg)
}

func TestRunMapsLinesAndPersistsPositions(t *testing.T) {
	stores := &fakeStores{
		chalklines: []domain.Chalkline{{ID: 10, Name: "FINISH"}},
		nextLineID: 10,
	}
	tele := &teleStore{}
	chat := &chatStore{}
	pub := &fakePublisher{}
	svc := newTestService(stores, tele, chat, pub)

	src := &sliceSource{lines: []string{
		`{"e":"LINE","msec":100,"v":{"line":1,"name":"FINISH","data":"course"}}`,
		`{"e":"POS","msec":200,"v":{"id":5,"line":1,"fwd":true,"m":1000,"mwh":10,"dur":2000,"obs":7,"spd":30000}}`,
		`{"e":"SHUTDOWN","msec":300,"v":{}}`,
	}}

	err := svc.Run(context.Background(), src)
	require.ErrorIs(t, err, ErrShutdown)

	// Known line name maps without a registry insert.
	assert.Empty(t, stores.inserted)

	require.Len(t, stores.positions, 1)
	pos := stores.positions[0]
	assert.Equal(t, int64(200), pos.TimeMS)
	assert.Equal(t, int64(5), pos.RiderID)
	require.NotNil(t, pos.LineID)
	assert.Equal(t, int32(10), *pos.LineID)
	assert.True(t, pos.Forward)
	assert.Equal(t, int32(7), pos.MonitorID)

	assert.Contains(t, pub.keys, "zlogger/POS.10.5")

	// Shutdown flips the session-active lines back off.
	require.Len(t, stores.inactive, 1)
	assert.Equal(t, []int32{10}, stores.inactive[0])
}

func TestRunInsertsUnknownChalkline(t *testing.T) {
	stores := &fakeStores{nextLineID: 41}
	svc := newTestService(stores, &teleStore{}, &chatStore{}, nil)

	src := &sliceSource{lines: []string{
		`{"e":"LINE","msec":100,"v":{"line":3,"name":"SPRINT","data":"x"}}`,
		`{"e":"POS","msec":200,"v":{"id":9,"line":3,"fwd":false,"m":1,"mwh":1,"dur":1,"obs":1}}`,
		`{"e":"SHUTDOWN","msec":300,"v":{}}`,
	}}

	err := svc.Run(context.Background(), src)
	require.ErrorIs(t, err, ErrShutdown)

	assert.Equal(t, []string{"SPRINT"}, stores.inserted)
	require.Len(t, stores.positions, 1)
	assert.Equal(t, int32(42), *stores.positions[0].LineID)
}

func TestRunSkipsUnmappedAndMalformed(t *testing.T) {
	stores := &fakeStores{}
	svc := newTestService(stores, &teleStore{}, &chatStore{}, nil)

	src := &sliceSource{lines: []string{
		`not json at all`,
		`{"e":"POS","msec":200,"v":{"id":9,"line":99,"fwd":true,"m":1,"mwh":1,"dur":1,"obs":1}}`,
		`{"e":"POS","msec":201,"v":{"id":9,"fwd":true,"m":1,"mwh":1,"dur":1,"obs":1}}`,
		`{"e":"SHUTDOWN","msec":300,"v":{}}`,
	}}

	err := svc.Run(context.Background(), src)
	require.ErrorIs(t, err, ErrShutdown)
	assert.Empty(t, stores.positions)
}

func TestRunRetriesStorageErrors(t *testing.T) {
	stores := &fakeStores{
		chalklines:   []domain.Chalkline{{ID: 10, Name: "FINISH"}},
		upsertErrors: 2,
	}
	svc := newTestService(stores, &teleStore{}, &chatStore{}, nil)

	src := &sliceSource{lines: []string{
		`{"e":"LINE","msec":100,"v":{"line":1,"name":"FINISH","data":""}}`,
		`{"e":"POS","msec":200,"v":{"id":5,"line":1,"fwd":true,"m":1,"mwh":1,"dur":1,"obs":1}}`,
		`{"e":"SHUTDOWN","msec":300,"v":{}}`,
	}}

	err := svc.Run(context.Background(), src)
	require.ErrorIs(t, err, ErrShutdown)

	// The record survived two failed upserts.
	assert.Equal(t, 0, stores.upsertErrors)
	require.Len(t, stores.positions, 1)
}

func TestRunStayRunningSurvivesShutdown(t *testing.T) {
	stores := &fakeStores{chalklines: []domain.Chalkline{{ID: 10, Name: "FINISH"}}}
	svc := New(Config{
		Chalklines:  stores,
		Positions:   stores,
		Telemetry:   &teleStore{},
		Chat:        &chatStore{},
		StayRunning: true,
	})

	src := &sliceSource{lines: []string{
		`{"e":"LINE","msec":100,"v":{"line":1,"name":"FINISH","data":""}}`,
		`{"e":"SHUTDOWN","msec":300,"v":{}}`,
		`{"e":"POS","msec":400,"v":{"id":5,"line":1,"fwd":true,"m":1,"mwh":1,"dur":1,"obs":1}}`,
	}}

	err := svc.Run(context.Background(), src)
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, stores.positions, 1)
}

func TestRunTelemetryBypassesLineMapping(t *testing.T) {
	stores := &fakeStores{}
	tele := &teleStore{}
	pub := &fakePublisher{}
	svc := newTestService(stores, tele, &chatStore{}, pub)

	src := &sliceSource{lines: []string{
		`{"e":"TELE","msec":500,"v":{"id":5,"rad":120,"fwd":true,"m":1,"mwh":1,"dur":1,"obs":1}}`,
		`{"e":"SHUTDOWN","msec":600,"v":{}}`,
	}}

	err := svc.Run(context.Background(), src)
	require.ErrorIs(t, err, ErrShutdown)

	require.Len(t, tele.rows, 1)
	assert.Equal(t, int32(120), tele.rows[0].Rad)
	assert.Contains(t, pub.keys, "zlogger/TELE.5")
}

func TestRunDedupesChat(t *testing.T) {
	stores := &fakeStores{}
	chat := &chatStore{}
	pub := &fakePublisher{}
	svc := newTestService(stores, &teleStore{}, chat, pub)

	src := &sliceSource{lines: []string{
		`{"e":"CHAT","msec":1,"v":{"riderid":5,"msg":"hi","time":"10:00:01"}}`,
		`{"e":"CHAT","msec":2,"v":{"riderid":5,"msg":"hi","time":"10:00:02"}}`,
		`{"e":"CHAT","msec":3,"v":{"riderid":5,"msg":"hi","time":"10:00:06"}}`,
		`{"e":"SHUTDOWN","msec":4,"v":{}}`,
	}}

	err := svc.Run(context.Background(), src)
	require.ErrorIs(t, err, ErrShutdown)

	// First copy and the repeat outside the window survive.
	assert.Equal(t, []string{"5:hi", "5:hi"}, chat.msgs)
	assert.Equal(t, []string{"zlogger/CHAT.5", "zlogger/CHAT.5"}, pub.keys)
}

func TestBoolishAcceptsNumericForms(t *testing.T) {
	tests := []struct {
		in   string
		want bool
		ok   bool
	}{
		{`true`, true, true},
		{`false`, false, true},
		{`1`, true, true},
		{`0`, false, true},
		{`null`, false, true},
		{`"yes"`, false, false},
	}
	for _, tc := range tests {
		var b boolish
		err := b.UnmarshalJSON([]byte(tc.in))
		if !tc.ok {
			assert.Error(t, err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, bool(b), tc.in)
	}
}

func TestRotate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "zlogger.log")
	now := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)

	require.NoError(t, os.WriteFile(path, []byte("a"), 0o644))
	got, err := Rotate(path, now)
	require.NoError(t, err)
	assert.Equal(t, path+".2024-03-15", got)

	// A second rotation the same day picks a numeric suffix.
	require.NoError(t, os.WriteFile(path, []byte("b"), 0o644))
	got, err = Rotate(path, now)
	require.NoError(t, err)
	assert.Equal(t, path+".2024-03-15.1", got)

	require.NoError(t, os.WriteFile(path, []byte("c"), 0o644))
	got, err = Rotate(path, now)
	require.NoError(t, err)
	assert.Equal(t, path+".2024-03-15.2", got)
}
