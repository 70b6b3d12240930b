// Package rtdb is a client for a cloud realtime database: email/password
// authentication against the identity provider, token refresh, and
// path-addressed key-value reads and writes over HTTPS.
package rtdb

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/Mikhaerys/Weather-Drone/internal/config"
)

const (
	connectMaxRetries = 8
	writeTimeout      = 10 * time.Second

	// refreshMargin renews the ID token well before the provider's
	// expiry, mirroring how long-lived pollers cache it.
	refreshMargin = 5 * time.Minute
)

type Client struct {
	cfg        config.RTDB
	httpClient *http.Client
	logger     *slog.Logger

	signInEndpoint  string
	refreshEndpoint string

	mu   sync.RWMutex
	sess session

	ops     chan *Op
	results chan *Op

	stopCh   chan struct{}
	stopOnce sync.Once
}

// Option tweaks client construction; used by tests to point the client at
// fake endpoints.
type Option func(*Client)

func WithEndpoints(signIn, refresh string) Option {
	return func(c *Client) {
		c.signInEndpoint = signIn
		c.refreshEndpoint = refresh
	}
}

func NewClient(cfg config.RTDB, logger *slog.Logger, opts ...Option) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	c := &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   writeTimeout,
		},
		logger:          logger,
		signInEndpoint:  defaultSignInEndpoint,
		refreshEndpoint: defaultRefreshEndpoint,
		ops:             make(chan *Op, 32),
		results:         make(chan *Op, 64),
		stopCh:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect establishes the authenticated session, retrying transient
// failures with exponential backoff. Rejected credentials fail
// immediately; exhausted retries return the last error.
func (c *Client) Connect(ctx context.Context) error {
	select {
	case <-c.stopCh:
		return fmt.Errorf("client stopped")
	default:
	}

	operation := func() error {
		sess, err := c.signIn(ctx)
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.Status == http.StatusBadRequest {
				// Bad credentials will not heal with retries.
				return backoff.Permanent(err)
			}
			c.logger.Warn("sign-in attempt failed", "error", err)
			return err
		}
		c.setSession(sess)
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), connectMaxRetries), ctx)
	if err := backoff.Retry(operation, b); err != nil {
		return fmt.Errorf("rtdb connect: %w", err)
	}

	c.logger.Info("rtdb session established", "uid", c.UID())
	return nil
}

// Run services queued writes and keeps the session token fresh until ctx
// is cancelled or Close is called. Write outcomes are only reported on
// the op handle and the results channel, never retried.
func (c *Client) Run(ctx context.Context) error {
	defer c.failQueued()

	for {
		refreshIn := c.untilRefresh()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stopCh:
			return nil
		case op := <-c.ops:
			c.execute(ctx, op)
		case <-time.After(refreshIn):
			c.refreshSession(ctx)
		}
	}
}

// Ready reports whether an unexpired session is held.
func (c *Client) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sess.idToken != "" && time.Now().Before(c.sess.expiresAt)
}

// UID returns the authenticated user identifier, empty before Connect.
func (c *Client) UID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sess.uid
}

// Set queues an asynchronous write of a scalar value at path and returns
// its handle. The op fails without blocking if the queue is full.
func (c *Client) Set(path string, value any) *Op {
	op := newOp(path, value)

	select {
	case <-c.stopCh:
		op.finish(fmt.Errorf("client stopped"))
		c.report(op)
		return op
	default:
	}

	select {
	case c.ops <- op:
	default:
		op.finish(fmt.Errorf("write queue full"))
		c.report(op)
	}
	return op
}

// Results delivers completed ops for log-only draining.
func (c *Client) Results() <-chan *Op {
	return c.results
}

// Get reads the JSON value at path into out. Synchronous; used by the
// mirror poller.
func (c *Client) Get(ctx context.Context, path string, out any) error {
	endpoint, err := c.valueURL(path)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build get request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", path, err)
	}
	defer closeBody(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("get %s: %w", path, apiError(resp))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// Close stops the client. Idempotent; pending queued ops are failed by
// Run returning.
func (c *Client) Close() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

func (c *Client) execute(ctx context.Context, op *Op) {
	reqCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	op.finish(c.put(reqCtx, op.Path, op.Value))
	c.report(op)
}

func (c *Client) put(ctx context.Context, path string, value any) error {
	endpoint, err := c.valueURL(path)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal value for %s: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build put request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("put %s: %w", path, err)
	}
	defer closeBody(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("put %s: %w", path, apiError(resp))
	}
	return nil
}

func (c *Client) valueURL(path string) (string, error) {
	c.mu.RLock()
	token := c.sess.idToken
	c.mu.RUnlock()

	if token == "" {
		return "", fmt.Errorf("no session, connect first")
	}
	return c.cfg.DatabaseURL + "/" + path + ".json?auth=" + url.QueryEscape(token), nil
}

// failQueued fails any writes still queued when Run stops so callers
// waiting on a handle's Done channel unblock.
func (c *Client) failQueued() {
	for {
		select {
		case op := <-c.ops:
			op.finish(fmt.Errorf("client stopped"))
			c.report(op)
		default:
			return
		}
	}
}

func (c *Client) report(op *Op) {
	select {
	case c.results <- op:
	default:
		// Nobody is draining; keep the newest outcome visible in logs.
		c.logger.Debug("dropping op result", "op", op.ID, "path", op.Path, "error", op.Err)
	}
}

func (c *Client) setSession(sess session) {
	c.mu.Lock()
	c.sess = sess
	c.mu.Unlock()
}

func (c *Client) untilRefresh() time.Duration {
	c.mu.RLock()
	expiresAt := c.sess.expiresAt
	c.mu.RUnlock()

	if expiresAt.IsZero() {
		return time.Hour
	}
	d := time.Until(expiresAt.Add(-refreshMargin))
	if d < time.Second {
		return time.Second
	}
	return d
}

func (c *Client) refreshSession(ctx context.Context) {
	c.mu.RLock()
	refreshToken := c.sess.refreshToken
	c.mu.RUnlock()

	if refreshToken == "" {
		return
	}

	sess, err := c.refresh(ctx, refreshToken)
	if err != nil {
		// Log and carry on; the next tick retries and writes keep
		// using the old token until it actually expires.
		c.logger.Error("token refresh failed", "error", err)
		return
	}
	c.setSession(sess)
	c.logger.Debug("session token refreshed", "uid", sess.uid)
}

func closeBody(body io.ReadCloser) {
	if _, err := io.Copy(io.Discard, io.LimitReader(body, 4096)); err != nil {
		slog.Debug("drain response body", "error", err)
	}
	if err := body.Close(); err != nil {
		slog.Debug("close response body", "error", err)
	}
}
