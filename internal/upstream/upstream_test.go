package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wiedmann/zlogger/internal/scheduler"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient("rider@example.com", "secret")
	c.AuthURL = srv.URL + "/auth"
	c.APIURL = srv.URL + "/api"
	return c
}

func TestLoginStoresToken(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/auth", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "password", r.Form.Get("grant_type"))
		assert.Equal(t, "rider@example.com", r.Form.Get("username"))
		w.Write([]byte(`{"access_token":"tok123","refresh_token":"r","expires_in":600}`))
	})

	require.NoError(t, c.Login(context.Background()))
	assert.Equal(t, "tok123", c.accessToken)
}

func TestFetchEventsFlattensSubgroups(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Write([]byte(`[
		  {"id":11,"name":"Crit Race","shortName":"crit","routeId":3,"laps":4,
		   "distanceInMeters":40000,"eventStart":"2026-03-01T10:00:00Z","sport":"CYCLING",
		   "totalEntrantCount":120,
		   "eventSubgroups":[
		     {"id":101,"name":"A","label":1,"eventSubgroupStart":"2026-03-01T10:00:00Z","totalEntrantCount":40},
		     {"id":102,"name":"B","label":2,"eventSubgroupStart":"2026-03-01T10:05:00Z","totalEntrantCount":80}
		   ]}
		]`))
	})
	c.accessToken = "tok"

	events, subgroups, err := c.FetchEvents(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, int64(11), events[0].ID)
	assert.Equal(t, "Crit Race", events[0].Name)

	require.Len(t, subgroups, 2)
	assert.Equal(t, int64(11), subgroups[0].EventID)
	assert.Equal(t, "Crit Race", subgroups[0].EventName)
	assert.Equal(t, int32(2), subgroups[1].Label)
}

func TestRosterMapsProfiles(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/api/events/subgroups/entrants/101")
		w.Write([]byte(`[
		  {"id":5,"firstName":"Ann","lastName":"Alpha","male":false,
		   "weightInGrams":61000,"heightInMillimeters":1690,"powerSourceModel":"Power Meter"},
		  {"id":6,"firstName":"Bob","lastName":"Beta","male":true,
		   "weightInGrams":80000,"heightInMillimeters":1820,"powerSourceModel":"zPower"}
		]`))
	})
	c.accessToken = "tok"

	profiles, err := c.Roster(context.Background(), 101)
	require.NoError(t, err)
	require.Len(t, profiles, 2)
	assert.Equal(t, int64(5), profiles[0].ID)
	assert.False(t, profiles[0].Male)
	assert.Equal(t, int16(3), profiles[0].PowerType)
	assert.Equal(t, int16(1), profiles[1].PowerType)
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, scheduler.ErrAuthExpired},
		{http.StatusTooManyRequests, scheduler.ErrRateLimited},
	}
	for _, tc := range tests {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		})
		_, err := c.Roster(context.Background(), 101)
		assert.ErrorIs(t, err, tc.want, "status %d", tc.status)
	}
}
