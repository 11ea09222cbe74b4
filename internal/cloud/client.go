package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"poolbridge"
)

// WriteKind selects where in the shadow's desired document a command lands.
type WriteKind string

const (
	KindPool     WriteKind = "pool"     // equipment.swc_0 settings
	KindHeating  WriteKind = "heating"  // top-level heating block
	KindSchedule WriteKind = "schedule" // timer slots
)

// API is the remote contract the coordination core consumes.
type API interface {
	FetchSnapshot(ctx context.Context) (poolbridge.DeviceSnapshot, error)
	SendCommand(ctx context.Context, kind WriteKind, target string, payload any) error
}

// Ensure Client implements API at compile time.
var _ API = (*Client)(nil)

// Config holds endpoint and pacing settings for the vendor cloud.
type Config struct {
	BaseURL       string
	APIKey        string
	UserAgent     string
	Timeout       time.Duration
	MinRequestGap time.Duration
}

const (
	defaultBaseURL    = "https://prod.zodiac-io.com"
	defaultAPIKey     = "EOOEMOW4YR6QNB11"
	defaultUserAgent  = "okhttp/3.14.7"
	defaultTimeout    = 15 * time.Second
	defaultRequestGap = 5 * time.Second

	// Tokens are refreshed this long before their reported expiry.
	expirySlack = time.Minute
)

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURL
	}
	if c.APIKey == "" {
		c.APIKey = defaultAPIKey
	}
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.MinRequestGap <= 0 {
		c.MinRequestGap = defaultRequestGap
	}
	return c
}

// Credentials identify one account and device.
type Credentials struct {
	Email        string
	Password     string
	SerialNumber string
}

type session struct {
	idToken      string
	refreshToken string
	expiresAt    time.Time
}

func (s session) valid(now time.Time) bool {
	return s.idToken != "" && now.Before(s.expiresAt)
}

// Client talks to the vendor cloud for exactly one device. It owns the
// login/refresh session lifecycle and paces all outbound requests with a
// minimum gap, since the service throttles aggressive clients.
type Client struct {
	cfg   Config
	creds Credentials
	http  *http.Client

	mu          sync.Mutex
	sess        session
	lastRequest time.Time
}

// NewClient builds a client for the given account and device serial.
func NewClient(cfg Config, creds Credentials) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		cfg:   cfg,
		creds: creds,
		http:  &http.Client{Timeout: cfg.Timeout},
	}
}

// FetchSnapshot retrieves the device shadow and parses the reported state.
func (c *Client) FetchSnapshot(ctx context.Context) (poolbridge.DeviceSnapshot, error) {
	token, err := c.ensureSession(ctx)
	if err != nil {
		return poolbridge.DeviceSnapshot{}, err
	}

	url := fmt.Sprintf("%s/devices/v1/%s/shadow", c.cfg.BaseURL, c.creds.SerialNumber)
	body, err := c.do(ctx, http.MethodGet, url, nil, token, "fetch shadow")
	if err != nil {
		return poolbridge.DeviceSnapshot{}, err
	}

	var doc shadowDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return poolbridge.DeviceSnapshot{}, fmt.Errorf("decode shadow: %w", err)
	}
	return parseReported(doc.State.Reported), nil
}

// SendCommand posts a desired-state change. The ack carries no guarantee that
// the change is visible to a subsequent fetch.
func (c *Client) SendCommand(ctx context.Context, kind WriteKind, target string, payload any) error {
	token, err := c.ensureSession(ctx)
	if err != nil {
		return err
	}

	var desired map[string]any
	switch kind {
	case KindPool:
		desired = map[string]any{"equipment": map[string]any{"swc_0": nestDotted(target, payload)}}
	case KindHeating:
		desired = map[string]any{"heating": map[string]any{target: payload}}
	case KindSchedule:
		desired = map[string]any{"schedules": map[string]any{target: payload}}
	default:
		return fmt.Errorf("unknown write kind %q", kind)
	}
	envelope := map[string]any{"state": map[string]any{"desired": desired}}

	url := fmt.Sprintf("%s/devices/v1/%s/shadow", c.cfg.BaseURL, c.creds.SerialNumber)
	_, err = c.do(ctx, http.MethodPost, url, envelope, token, "send command")
	return err
}

// ensureSession returns a usable id token, logging in or refreshing first if
// needed.
func (c *Client) ensureSession(ctx context.Context) (string, error) {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()

	if sess.valid(time.Now()) {
		return sess.idToken, nil
	}
	if sess.refreshToken != "" {
		if token, err := c.refreshSession(ctx, sess.refreshToken); err == nil {
			return token, nil
		}
		// Refresh failures fall back to a full login.
	}
	return c.login(ctx)
}

type oauthResponse struct {
	UserPoolOAuth struct {
		IDToken      string `json:"IdToken"`
		RefreshToken string `json:"RefreshToken"`
		ExpiresIn    int    `json:"ExpiresIn"`
	} `json:"userPoolOAuth"`
}

func (c *Client) login(ctx context.Context) (string, error) {
	payload := map[string]any{
		"api_key":  c.cfg.APIKey,
		"email":    c.creds.Email,
		"password": c.creds.Password,
	}
	body, err := c.do(ctx, http.MethodPost, c.cfg.BaseURL+"/users/v1/login", payload, "", "login")
	if err != nil {
		if _, transient := err.(*APIError); transient {
			// A rejected login is an auth problem, not a flaky network.
			return "", fmt.Errorf("%w: login rejected: %v", ErrUnauthorized, err)
		}
		return "", err
	}
	return c.storeSession(body, "login")
}

func (c *Client) refreshSession(ctx context.Context, refreshToken string) (string, error) {
	payload := map[string]any{
		"email":         c.creds.Email,
		"refresh_token": refreshToken,
	}
	body, err := c.do(ctx, http.MethodPost, c.cfg.BaseURL+"/users/v1/refresh", payload, "", "refresh session")
	if err != nil {
		return "", err
	}
	return c.storeSession(body, "refresh")
}

func (c *Client) storeSession(body []byte, op string) (string, error) {
	var resp oauthResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode %s response: %w", op, err)
	}
	oauth := resp.UserPoolOAuth
	if oauth.IDToken == "" {
		return "", fmt.Errorf("%w: %s response carried no id token", ErrUnauthorized, op)
	}
	expiresIn := oauth.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 3600
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.sess.idToken = oauth.IDToken
	if oauth.RefreshToken != "" {
		c.sess.refreshToken = oauth.RefreshToken
	}
	c.sess.expiresAt = time.Now().Add(time.Duration(expiresIn)*time.Second - expirySlack)
	return c.sess.idToken, nil
}

// do performs one request, enforcing the minimum request gap first.
func (c *Client) do(ctx context.Context, method, url string, payload any, token, op string) ([]byte, error) {
	if err := c.waitTurn(ctx); err != nil {
		return nil, err
	}

	var reqBody io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", op, err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", op, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classify(op, resp.StatusCode, string(body))
	}
	return body, nil
}

// waitTurn sleeps until the minimum request gap since the previous call has
// elapsed.
func (c *Client) waitTurn(ctx context.Context) error {
	c.mu.Lock()
	now := time.Now()
	wait := c.cfg.MinRequestGap - now.Sub(c.lastRequest)
	if wait < 0 {
		wait = 0
	}
	c.lastRequest = now.Add(wait)
	c.mu.Unlock()

	if wait == 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// nestDotted expands "aux_2.state" into {"aux_2": {"state": value}}.
func nestDotted(target string, value any) map[string]any {
	keys := strings.Split(target, ".")
	nested := value
	for i := len(keys) - 1; i >= 0; i-- {
		nested = map[string]any{keys[i]: nested}
	}
	return nested.(map[string]any)
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
