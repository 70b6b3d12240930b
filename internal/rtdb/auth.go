package rtdb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultSignInEndpoint  = "https://identitytoolkit.googleapis.com/v1/accounts:signInWithPassword"
	defaultRefreshEndpoint = "https://securetoken.googleapis.com/v1/token"
)

type session struct {
	uid          string
	idToken      string
	refreshToken string
	expiresAt    time.Time
}

type signInResponse struct {
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	LocalID      string `json:"localId"`
	ExpiresIn    string `json:"expiresIn"`
}

type refreshResponse struct {
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token"`
	UserID       string `json:"user_id"`
	ExpiresIn    string `json:"expires_in"`
}

// signIn exchanges the user's email/password for an ID token via the
// identity provider's password endpoint.
func (c *Client) signIn(ctx context.Context) (session, error) {
	payload, err := json.Marshal(map[string]any{
		"email":             c.cfg.UserEmail,
		"password":          c.cfg.UserPassword,
		"returnSecureToken": true,
	})
	if err != nil {
		return session{}, fmt.Errorf("marshal sign-in payload: %w", err)
	}

	endpoint := c.signInEndpoint + "?key=" + url.QueryEscape(c.cfg.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return session{}, fmt.Errorf("build sign-in request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return session{}, fmt.Errorf("sign-in: %w", err)
	}
	defer closeBody(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return session{}, fmt.Errorf("sign-in: %w", apiError(resp))
	}

	var body signInResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return session{}, fmt.Errorf("decode sign-in response: %w", err)
	}
	if body.IDToken == "" || body.LocalID == "" {
		return session{}, fmt.Errorf("sign-in response missing token or uid")
	}

	return session{
		uid:          body.LocalID,
		idToken:      body.IDToken,
		refreshToken: body.RefreshToken,
		expiresAt:    time.Now().Add(expiresIn(body.ExpiresIn)),
	}, nil
}

// refresh trades the refresh token for a fresh ID token.
func (c *Client) refresh(ctx context.Context, refreshToken string) (session, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}

	endpoint := c.refreshEndpoint + "?key=" + url.QueryEscape(c.cfg.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return session{}, fmt.Errorf("build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return session{}, fmt.Errorf("token refresh: %w", err)
	}
	defer closeBody(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return session{}, fmt.Errorf("token refresh: %w", apiError(resp))
	}

	var body refreshResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return session{}, fmt.Errorf("decode refresh response: %w", err)
	}
	if body.IDToken == "" || body.UserID == "" {
		return session{}, fmt.Errorf("refresh response missing token or uid")
	}

	return session{
		uid:          body.UserID,
		idToken:      body.IDToken,
		refreshToken: body.RefreshToken,
		expiresAt:    time.Now().Add(expiresIn(body.ExpiresIn)),
	}, nil
}

// expiresIn parses the provider's expiry (seconds as a string), falling
// back to one hour, the provider's documented token lifetime.
func expiresIn(s string) time.Duration {
	secs, err := strconv.Atoi(s)
	if err != nil || secs <= 0 {
		return time.Hour
	}
	return time.Duration(secs) * time.Second
}

// APIError is a non-2xx response from the provider, carrying the status
// so callers can tell rejected credentials from transient failures.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("status %d", e.Status)
	}
	return fmt.Sprintf("status %d: %s", e.Status, e.Message)
}

// apiError extracts the provider's error message from an error response.
func apiError(resp *http.Response) error {
	data, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil || len(data) == 0 {
		return &APIError{Status: resp.StatusCode}
	}

	var body struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err == nil && body.Error.Message != "" {
		return &APIError{Status: resp.StatusCode, Message: body.Error.Message}
	}
	return &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(data))}
}
