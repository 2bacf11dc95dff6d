package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wiedmann/zlogger/internal/domain"
)

type fakeChalklines struct {
	lines []domain.Chalkline
	err   error
}

func (f *fakeChalklines) List(context.Context) ([]domain.Chalkline, error) {
	return f.lines, f.err
}

type fakePositions struct {
	positions []domain.Position
	gotLimit  int
}

func (f *fakePositions) Latest(_ context.Context, limit int) ([]domain.Position, error) {
	f.gotLimit = limit
	return f.positions, nil
}

type fakePinger struct{ err error }

func (f *fakePinger) Ping(context.Context) error { return f.err }

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthLive(t *testing.T) {
	s := NewServer(&fakeChalklines{}, &fakePositions{}, nil)
	rec := get(t, s.Router(), "/health/live")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestHealthReady(t *testing.T) {
	tests := []struct {
		name string
		db   Pinger
		want int
	}{
		{"no database", nil, http.StatusOK},
		{"database up", &fakePinger{}, http.StatusOK},
		{"database down", &fakePinger{err: errors.New("refused")}, http.StatusServiceUnavailable},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := NewServer(&fakeChalklines{}, &fakePositions{}, tc.db)
			rec := get(t, s.Router(), "/health/ready")
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestChalklines(t *testing.T) {
	lines := []domain.Chalkline{
		{ID: 10, Name: "watopia.start", Active: true},
		{ID: 11, Name: "watopia.finish"},
	}
	s := NewServer(&fakeChalklines{lines: lines}, &fakePositions{}, nil)
	rec := get(t, s.Router(), "/chalklines")
	require.Equal(t, http.StatusOK, rec.Code)

	var got []domain.Chalkline
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, int32(10), got[0].ID)
	assert.True(t, got[0].Active)
}

func TestChalklinesEmptyIsArray(t *testing.T) {
	s := NewServer(&fakeChalklines{}, &fakePositions{}, nil)
	rec := get(t, s.Router(), "/chalklines")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestChalklinesStoreError(t *testing.T) {
	s := NewServer(&fakeChalklines{err: errors.New("boom")}, &fakePositions{}, nil)
	rec := get(t, s.Router(), "/chalklines")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "boom")
}

func TestLiveLimits(t *testing.T) {
	line := int32(10)
	positions := &fakePositions{positions: []domain.Position{
		{TimeMS: 1000, RiderID: 5, LineID: &line, Forward: true},
	}}
	s := NewServer(&fakeChalklines{}, positions, nil)
	router := s.Router()

	rec := get(t, router, "/live")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, defaultLiveLimit, positions.gotLimit)

	var got []domain.Position
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, int64(5), got[0].RiderID)

	get(t, router, "/live?limit=7")
	assert.Equal(t, 7, positions.gotLimit)

	get(t, router, "/live?limit=9999")
	assert.Equal(t, maxLiveLimit, positions.gotLimit)

	rec = get(t, router, "/live?limit=nope")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
