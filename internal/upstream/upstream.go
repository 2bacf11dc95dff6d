// Package upstream is the HTTP client for the platform API: session
// login, event catalogue search, and per-subgroup entrant rosters. It
// implements scheduler.EventSource and scheduler.RosterFetcher.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/wiedmann/zlogger/internal/domain"
	"github.com/wiedmann/zlogger/internal/scheduler"
)

// Default endpoints. Overridable for tests.
const (
	DefaultAuthURL = "https://secure.zwift.com/auth/realms/zwift/tokens/access/codes"
	DefaultAPIURL  = "https://us-or-rly101.zwift.com/api"

	clientID = "Zwift_Mobile_Link"
)

// Client is a logged-in API session. Not safe for concurrent use; the
// scheduler drives it from a single goroutine.
type Client struct {
	HTTP    *http.Client
	AuthURL string
	APIURL  string

	user     string
	password string

	accessToken string
}

// NewClient returns a client that will log in with the given credentials
// on the first Login call.
func NewClient(user, password string) *Client {
	return &Client{
		HTTP:     &http.Client{Timeout: 30 * time.Second},
		AuthURL:  DefaultAuthURL,
		APIURL:   DefaultAPIURL,
		user:     user,
		password: password,
	}
}

// Login posts the password grant and stores the access token.
func (c *Client) Login(ctx context.Context) error {
	form := url.Values{
		"username":   {c.user},
		"password":   {c.password},
		"grant_type": {"password"},
		"client_id":  {clientID},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.AuthURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("login: unexpected status %d", resp.StatusCode)
	}

	var tok struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return fmt.Errorf("login: decode token: %w", err)
	}
	if tok.AccessToken == "" {
		return fmt.Errorf("login: empty access token")
	}
	c.accessToken = tok.AccessToken
	return nil
}

// get performs an authenticated GET, mapping 401 and 429 to the
// scheduler's sentinel errors.
func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.APIURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", path, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return fmt.Errorf("get %s: %w", path, scheduler.ErrAuthExpired)
	case http.StatusTooManyRequests:
		return fmt.Errorf("get %s: %w", path, scheduler.ErrRateLimited)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("get %s: status %d: %s", path, resp.StatusCode, body)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("get %s: decode: %w", path, err)
	}
	return nil
}

// eventJSON is the search response shape; subgroups come nested.
type eventJSON struct {
	domain.Event
	EventSubgroups []domain.Subgroup `json:"eventSubgroups"`
}

// FetchEvents searches the upcoming event catalogue and flattens the
// nested subgroups, tagging each with its parent event.
func (c *Client) FetchEvents(ctx context.Context) ([]domain.Event, []domain.Subgroup, error) {
	path := fmt.Sprintf("/events/search?use_subgroup_time=true&created_before=%d&start=0&limit=0",
		time.Now().UnixMilli())
	var raw []eventJSON
	if err := c.get(ctx, path, &raw); err != nil {
		return nil, nil, err
	}

	events := make([]domain.Event, 0, len(raw))
	var subgroups []domain.Subgroup
	for _, e := range raw {
		events = append(events, e.Event)
		for _, sg := range e.EventSubgroups {
			sg.EventID = e.ID
			sg.EventName = e.Name
			subgroups = append(subgroups, sg)
		}
	}
	return events, subgroups, nil
}

// entrantJSON is one signed-up rider in a subgroup roster.
type entrantJSON struct {
	ID                  int64  `json:"id"`
	FirstName           string `json:"firstName"`
	LastName            string `json:"lastName"`
	Male                bool   `json:"male"`
	WeightInGrams       int32  `json:"weightInGrams"`
	HeightInMillimeters int32  `json:"heightInMillimeters"`
	PowerSourceModel    string `json:"powerSourceModel"`
}

// powerType maps the API's power source names to the stored 0..3 code.
func powerType(model string) int16 {
	switch strings.ToLower(model) {
	case "zpower":
		return 1
	case "smart trainer":
		return 2
	case "power meter":
		return 3
	default:
		return 0
	}
}

// Roster fetches the signed-up entrants of one subgroup.
func (c *Client) Roster(ctx context.Context, subgroupID int64) ([]domain.RiderProfile, error) {
	path := fmt.Sprintf("/events/subgroups/entrants/%d?type=all&participation=signed_up", subgroupID)
	var raw []entrantJSON
	if err := c.get(ctx, path, &raw); err != nil {
		return nil, err
	}

	profiles := make([]domain.RiderProfile, 0, len(raw))
	for _, e := range raw {
		profiles = append(profiles, domain.RiderProfile{
			ID:        e.ID,
			FirstName: e.FirstName,
			LastName:  e.LastName,
			WeightG:   e.WeightInGrams,
			HeightMM:  e.HeightInMillimeters,
			Male:      e.Male,
			PowerType: powerType(e.PowerSourceModel),
		})
	}
	return profiles, nil
}
