package msgraph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"time"

	"github.com/christopherklint97/convene/internal/calendar"
)

const graphBaseURL = "https://graph.microsoft.com/v1.0"

const graphTimeLayout = "2006-01-02T15:04:05"

// TokenSource supplies a bearer token for Graph requests.
type TokenSource interface {
	EnsureValidToken(ctx context.Context) (string, error)
}

// Client books meetings in and reads busy time from an Outlook calendar.
type Client struct {
	tokens     TokenSource
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	maxRetries int
	backoff    func(attempt int) time.Duration
}

func NewClient(tokens TokenSource, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{
		tokens:     tokens,
		baseURL:    graphBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
		maxRetries: 3,
		backoff:    backoff,
	}
}

type calendarViewResponse struct {
	Value    []graphEvent `json:"value"`
	NextLink string       `json:"@odata.nextLink"`
}

type graphEvent struct {
	ID          string          `json:"id,omitempty"`
	Subject     string          `json:"subject"`
	Body        *graphBody      `json:"body,omitempty"`
	Start       graphDateTime   `json:"start"`
	End         graphDateTime   `json:"end"`
	Attendees   []graphAttendee `json:"attendees,omitempty"`
	IsCancelled bool            `json:"isCancelled,omitempty"`
	IsAllDay    bool            `json:"isAllDay,omitempty"`
	ShowAs      string          `json:"showAs,omitempty"`
	WebLink     string          `json:"webLink,omitempty"`
}

type graphBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type graphAttendee struct {
	EmailAddress graphEmail `json:"emailAddress"`
	Type         string     `json:"type"`
}

type graphEmail struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

type graphDateTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

// FetchEvents returns the busy events between start and end. Cancelled,
// all-day and free events do not block time.
func (c *Client) FetchEvents(ctx context.Context, start, end time.Time) ([]calendar.Event, error) {
	params := url.Values{
		"startDateTime": {start.UTC().Format(graphTimeLayout)},
		"endDateTime":   {end.UTC().Format(graphTimeLayout)},
		"$select":       {"id,subject,start,end,isCancelled,isAllDay,showAs"},
		"$top":          {"100"},
		"$orderby":      {"start/dateTime"},
	}

	requestURL := c.baseURL + "/me/calendarView?" + params.Encode()
	var all []calendar.Event
	for requestURL != "" {
		body, err := c.do(ctx, http.MethodGet, requestURL, nil)
		if err != nil {
			return nil, err
		}
		var page calendarViewResponse
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, fmt.Errorf("parsing graph response: %w", err)
		}
		all = append(all, c.toEvents(page.Value)...)
		requestURL = page.NextLink
	}

	c.logger.Debug("graph calendar events fetched", "count", len(all))
	return all, nil
}

func (c *Client) toEvents(value []graphEvent) []calendar.Event {
	var events []calendar.Event
	for _, ge := range value {
		if ge.IsCancelled || ge.IsAllDay || ge.ShowAs == "free" {
			continue
		}
		startTime, err := parseGraphDateTime(ge.Start)
		if err != nil {
			c.logger.Debug("skipping event with unparseable start time", "subject", ge.Subject, "error", err)
			continue
		}
		endTime, err := parseGraphDateTime(ge.End)
		if err != nil {
			c.logger.Debug("skipping event with unparseable end time", "subject", ge.Subject, "error", err)
			continue
		}
		events = append(events, calendar.Event{
			UID:       ge.ID,
			Summary:   ge.Subject,
			StartTime: startTime,
			EndTime:   endTime,
		})
	}
	return events
}

// FindAvailableSlots computes free start times on day from the calendarView.
func (c *Client) FindAvailableSlots(ctx context.Context, day time.Time, durationMinutes int, hours calendar.WorkingHours) ([]time.Time, error) {
	start, end := hours.Window(day)
	busy, err := c.FetchEvents(ctx, start, end)
	if err != nil {
		return nil, err
	}
	return calendar.FreeSlots(day, time.Duration(durationMinutes)*time.Minute, busy, hours), nil
}

// CreateEvent posts a new event with required attendees; Outlook sends the invitations.
func (c *Client) CreateEvent(ctx context.Context, req calendar.EventRequest) (calendar.Created, error) {
	ge := graphEvent{
		Subject: req.Title,
		Start:   graphDateTime{DateTime: req.Start.UTC().Format(graphTimeLayout), TimeZone: "UTC"},
		End:     graphDateTime{DateTime: req.End().UTC().Format(graphTimeLayout), TimeZone: "UTC"},
	}
	if req.Description != "" {
		ge.Body = &graphBody{ContentType: "text", Content: req.Description}
	}
	for _, a := range req.Attendees {
		ge.Attendees = append(ge.Attendees, graphAttendee{
			EmailAddress: graphEmail{Address: a.Email, Name: a.Name},
			Type:         "required",
		})
	}

	payload, err := json.Marshal(ge)
	if err != nil {
		return calendar.Created{}, fmt.Errorf("encoding event: %w", err)
	}
	body, err := c.do(ctx, http.MethodPost, c.baseURL+"/me/events", payload)
	if err != nil {
		return calendar.Created{}, err
	}

	var created graphEvent
	if err := json.Unmarshal(body, &created); err != nil {
		return calendar.Created{}, fmt.Errorf("parsing created event: %w", err)
	}
	if created.ID == "" {
		return calendar.Created{}, fmt.Errorf("graph API returned an event without an id")
	}
	c.logger.Info("graph event created", "id", created.ID, "attendees", len(ge.Attendees))
	return calendar.Created{EventID: created.ID, Link: created.WebLink}, nil
}

// do sends a request, retrying throttled and server errors with exponential backoff.
func (c *Client) do(ctx context.Context, method, requestURL string, payload []byte) ([]byte, error) {
	token, err := c.tokens.EnsureValidToken(ctx)
	if err != nil {
		return nil, err
	}

	var resp *http.Response
	for attempt := 0; ; attempt++ {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, requestURL, body)
		if err != nil {
			return nil, fmt.Errorf("creating graph request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Prefer", `outlook.timezone="UTC"`)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err = c.httpClient.Do(req)
		retry := false
		switch {
		case err != nil:
			if attempt == c.maxRetries || ctx.Err() != nil {
				return nil, fmt.Errorf("graph API request failed: %w", err)
			}
			retry = true
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			resp.Body.Close()
			if attempt == c.maxRetries {
				return nil, fmt.Errorf("graph API returned status %d after %d retries", resp.StatusCode, c.maxRetries)
			}
			c.logger.Debug("graph API retrying", "status", resp.StatusCode, "attempt", attempt+1)
			retry = true
		}
		if !retry {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.backoff(attempt)):
		}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading graph response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("graph API error (status %d): %s", resp.StatusCode, truncateStr(string(respBody), 200))
	}
	return respBody, nil
}

func parseGraphDateTime(gdt graphDateTime) (time.Time, error) {
	loc := time.UTC
	if gdt.TimeZone != "" && gdt.TimeZone != "UTC" {
		if l, err := time.LoadLocation(gdt.TimeZone); err == nil {
			loc = l
		}
	}

	// Graph returns seven fractional digits on reads and none on writes.
	for _, layout := range []string{graphTimeLayout + ".0000000", graphTimeLayout} {
		if t, err := time.ParseInLocation(layout, gdt.DateTime, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse datetime %q", gdt.DateTime)
}

func backoff(attempt int) time.Duration {
	return time.Duration(math.Pow(2, float64(attempt))) * time.Second
}

func truncateStr(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
