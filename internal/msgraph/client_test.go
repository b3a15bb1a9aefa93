package msgraph

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/christopherklint97/convene/internal/calendar"
)

type staticToken string

func (s staticToken) EnsureValidToken(context.Context) (string, error) {
	return string(s), nil
}

func testClient(srv *httptest.Server) *Client {
	c := NewClient(staticToken("tok"), nil)
	c.baseURL = srv.URL
	c.backoff = func(int) time.Duration { return 0 }
	return c
}

var monday = time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)

func TestFindAvailableSlotsPagesCalendarView(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		switch r.URL.Query().Get("page") {
		case "":
			json.NewEncoder(w).Encode(map[string]any{
				"value": []map[string]any{
					{"id": "a", "subject": "Standup", "start": map[string]string{"dateTime": "2026-10-19T09:00:00.0000000", "timeZone": "UTC"}, "end": map[string]string{"dateTime": "2026-10-19T10:00:00.0000000", "timeZone": "UTC"}},
					{"id": "b", "subject": "Cancelled", "isCancelled": true, "start": map[string]string{"dateTime": "2026-10-19T10:00:00", "timeZone": "UTC"}, "end": map[string]string{"dateTime": "2026-10-19T18:00:00", "timeZone": "UTC"}},
				},
				"@odata.nextLink": srv.URL + "/me/calendarView?page=2",
			})
		default:
			json.NewEncoder(w).Encode(map[string]any{
				"value": []map[string]any{
					{"id": "c", "subject": "Lunch", "showAs": "busy", "start": map[string]string{"dateTime": "2026-10-19T12:00:00", "timeZone": "UTC"}, "end": map[string]string{"dateTime": "2026-10-19T13:00:00", "timeZone": "UTC"}},
				},
			})
		}
	}))
	defer srv.Close()

	slots, err := testClient(srv).FindAvailableSlots(context.Background(), monday, 60, calendar.DefaultWorkingHours())
	require.NoError(t, err)
	require.NotEmpty(t, slots)
	assert.Equal(t, monday.Add(10*time.Hour), slots[0])
	assert.NotContains(t, slots, monday.Add(12*time.Hour))
	assert.NotContains(t, slots, monday.Add(11*time.Hour+30*time.Minute))
	assert.Contains(t, slots, monday.Add(13*time.Hour))
}

func TestCreateEventRetriesThrottling(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/me/events", r.URL.Path)

		var ev graphEvent
		require.NoError(t, json.NewDecoder(r.Body).Decode(&ev))
		assert.Equal(t, "Meeting with John Carter", ev.Subject)
		assert.Equal(t, "2026-10-19T10:00:00", ev.Start.DateTime)
		assert.Equal(t, "2026-10-19T10:45:00", ev.End.DateTime)
		require.Len(t, ev.Attendees, 1)
		assert.Equal(t, "john@example.com", ev.Attendees[0].EmailAddress.Address)

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"id": "AAMk1", "webLink": "https://outlook.example/AAMk1"})
	}))
	defer srv.Close()

	created, err := testClient(srv).CreateEvent(context.Background(), calendar.EventRequest{
		Title:     "Meeting with John Carter",
		Start:     monday.Add(10 * time.Hour),
		Duration:  45 * time.Minute,
		Attendees: []calendar.Attendee{{Name: "John Carter", Email: "john@example.com"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "AAMk1", created.EventID)
	assert.Equal(t, "https://outlook.example/AAMk1", created.Link)
	assert.EqualValues(t, 2, calls.Load())
}

func TestCreateEventClientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":"ErrorAccessDenied"}}`, http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := testClient(srv).CreateEvent(context.Background(), calendar.EventRequest{
		Title: "x", Start: monday, Duration: time.Hour,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 403")
}

func TestEnsureValidTokenRefreshes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "/token", r.URL.Path)
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "old-refresh", r.PostForm.Get("refresh_token"))
		json.NewEncoder(w).Encode(map[string]any{"access_token": "fresh", "expires_in": 3600})
	}))
	defer srv.Close()

	store := NewTokenStore(t.TempDir())
	require.NoError(t, store.Save(&TokenData{AccessToken: "stale", RefreshToken: "old-refresh", ExpiresAt: time.Now().Add(-time.Hour)}))

	auth := NewAuth("client", "tenant", store, nil)
	auth.loginURL = srv.URL

	tok, err := auth.EnsureValidToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh", tok)

	saved, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "fresh", saved.AccessToken)
	assert.Equal(t, "old-refresh", saved.RefreshToken, "refresh token kept when the server omits it")
}

func TestEnsureValidTokenUnauthenticated(t *testing.T) {
	auth := NewAuth("client", "tenant", NewTokenStore(filepath.Join(t.TempDir(), "none")), nil)
	_, err := auth.EnsureValidToken(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "convene calendar auth")
}
