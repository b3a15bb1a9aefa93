package msgraph

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Booking meetings needs write access to the signed-in user's calendar.
const defaultScope = "Calendars.ReadWrite offline_access"

// Auth runs the OAuth2 device code flow against Azure AD and keeps the
// resulting tokens fresh in a TokenStore.
type Auth struct {
	clientID   string
	loginURL   string
	store      *TokenStore
	httpClient *http.Client
	logger     *slog.Logger
}

func NewAuth(clientID, tenantID string, store *TokenStore, logger *slog.Logger) *Auth {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Auth{
		clientID:   clientID,
		loginURL:   fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0", tenantID),
		store:      store,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

// DeviceCodeResponse holds the response from the device code endpoint.
type DeviceCodeResponse struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURI string `json:"verification_uri"`
	ExpiresIn       int    `json:"expires_in"`
	Interval        int    `json:"interval"`
	Message         string `json:"message"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope"`
	Error        string `json:"error"`
	ErrorDesc    string `json:"error_description"`
}

func (r tokenResponse) tokens() *TokenData {
	return &TokenData{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(r.ExpiresIn) * time.Second),
		Scope:        r.Scope,
	}
}

func (a *Auth) postForm(ctx context.Context, endpoint string, form url.Values) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.loginURL+endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return 0, nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("reading response: %w", err)
	}
	return resp.StatusCode, body, nil
}

// StartDeviceCodeFlow returns the user code and verification URI to show the user.
func (a *Auth) StartDeviceCodeFlow(ctx context.Context) (*DeviceCodeResponse, error) {
	status, body, err := a.postForm(ctx, "/devicecode", url.Values{
		"client_id": {a.clientID},
		"scope":     {defaultScope},
	})
	if err != nil {
		return nil, fmt.Errorf("requesting device code: %w", err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("device code request failed (status %d): %s", status, truncateStr(string(body), 200))
	}

	var dc DeviceCodeResponse
	if err := json.Unmarshal(body, &dc); err != nil {
		return nil, fmt.Errorf("parsing device code response: %w", err)
	}
	return &dc, nil
}

// PollForToken polls until the user completes authorization, then saves the tokens.
func (a *Auth) PollForToken(ctx context.Context, deviceCode string, interval int) (*TokenData, error) {
	if interval < 1 {
		interval = 5
	}
	form := url.Values{
		"client_id":   {a.clientID},
		"grant_type":  {"urn:ietf:params:oauth:grant-type:device_code"},
		"device_code": {deviceCode},
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(interval) * time.Second):
		}

		_, body, err := a.postForm(ctx, "/token", form)
		if err != nil {
			return nil, fmt.Errorf("polling for token: %w", err)
		}
		var tr tokenResponse
		if err := json.Unmarshal(body, &tr); err != nil {
			return nil, fmt.Errorf("parsing token response: %w", err)
		}

		switch tr.Error {
		case "":
			tokens := tr.tokens()
			if err := a.store.Save(tokens); err != nil {
				return nil, fmt.Errorf("saving tokens: %w", err)
			}
			return tokens, nil
		case "authorization_pending":
			a.logger.Debug("waiting for user authorization")
		case "slow_down":
			interval += 5
			a.logger.Debug("slowing down polling", "interval", interval)
		case "expired_token":
			return nil, fmt.Errorf("device code expired, please try again")
		default:
			return nil, fmt.Errorf("token error: %s: %s", tr.Error, tr.ErrorDesc)
		}
	}
}

// RefreshAccessToken exchanges a refresh token for a new access token.
func (a *Auth) RefreshAccessToken(ctx context.Context, refreshToken string) (*TokenData, error) {
	_, body, err := a.postForm(ctx, "/token", url.Values{
		"client_id":     {a.clientID},
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"scope":         {defaultScope},
	})
	if err != nil {
		return nil, fmt.Errorf("refreshing token: %w", err)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("parsing refresh response: %w", err)
	}
	if tr.Error != "" {
		return nil, fmt.Errorf("refresh failed: %s: %s", tr.Error, tr.ErrorDesc)
	}
	return tr.tokens(), nil
}

// EnsureValidToken returns a usable access token, refreshing it when expired.
func (a *Auth) EnsureValidToken(ctx context.Context) (string, error) {
	tokens, err := a.store.Load()
	if err != nil {
		return "", fmt.Errorf("loading cached tokens: %w", err)
	}
	if tokens == nil {
		return "", fmt.Errorf("not authenticated with Microsoft Graph, run 'convene calendar auth' first")
	}
	if !tokens.IsExpired() {
		return tokens.AccessToken, nil
	}

	a.logger.Debug("access token expired, refreshing")
	fresh, err := a.RefreshAccessToken(ctx, tokens.RefreshToken)
	if err != nil {
		return "", fmt.Errorf("token refresh failed (run 'convene calendar auth' to re-authenticate): %w", err)
	}
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = tokens.RefreshToken
	}
	if err := a.store.Save(fresh); err != nil {
		a.logger.Warn("failed to cache refreshed tokens", "error", err)
	}
	return fresh.AccessToken, nil
}
