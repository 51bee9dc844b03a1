// Package slack delivers notifications and looks up users through the
// Slack Web API.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fyrsmithlabs/taskrelay/internal/identity"
	"github.com/fyrsmithlabs/taskrelay/internal/messaging"
	"github.com/fyrsmithlabs/taskrelay/internal/task"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the Slack Web API root.
	DefaultBaseURL = "https://slack.com/api"

	defaultTimeout   = 10 * time.Second
	defaultRateLimit = 1.0
	defaultBurst     = 3

	maxResponseSize = 1 << 20
)

// ErrRateLimited is returned when Slack answers 429.
var ErrRateLimited = errors.New("slack rate limited")

// APIError is a Slack response with ok=false.
type APIError struct {
	Method string
	Code   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("slack %s: %s", e.Method, e.Code)
}

// Config configures a Client.
type Config struct {
	Token   string
	BaseURL string
	// Timeout bounds each HTTP call.
	Timeout time.Duration
	// RateLimit is the sustained requests per second.
	RateLimit float64
}

// Client is a minimal Slack Web API client. It implements task.Notifier
// and identity.ProfileLookup.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// New creates a Client authenticating with a bot token.
func New(cfg Config) (*Client, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("slack token required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = defaultRateLimit
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token, TokenType: "Bearer"})
	hc := oauth2.NewClient(context.Background(), ts)
	hc.Timeout = cfg.Timeout

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: hc,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RateLimit), defaultBurst),
	}, nil
}

type response struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

type postMessageRequest struct {
	Channel string `json:"channel"`
	Text    string `json:"text"`
}

// SendNotification posts the rendered notification as a direct message to
// the user handle.
func (c *Client) SendNotification(ctx context.Context, handle string, kind task.NotificationKind, p task.Payload) error {
	body, err := json.Marshal(postMessageRequest{Channel: handle, Text: messaging.Render(kind, p)})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	var resp response
	return c.call(ctx, http.MethodPost, "chat.postMessage", nil, body, &resp)
}

type lookupResponse struct {
	response
	User struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		RealName string `json:"real_name"`
		Profile  struct {
			Email    string `json:"email"`
			RealName string `json:"real_name"`
		} `json:"profile"`
	} `json:"user"`
}

// LookupByEmail finds a workspace user. An unknown email is (nil, nil).
func (c *Client) LookupByEmail(ctx context.Context, email string) (*identity.Profile, error) {
	var resp lookupResponse
	err := c.call(ctx, http.MethodGet, "users.lookupByEmail", url.Values{"email": {email}}, nil, &resp)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Code == "users_not_found" {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	name := resp.User.Profile.RealName
	if name == "" {
		name = resp.User.RealName
	}
	if name == "" {
		name = resp.User.Name
	}
	found := resp.User.Profile.Email
	if found == "" {
		found = email
	}
	return &identity.Profile{Handle: resp.User.ID, Email: identity.NormalizeEmail(found), Name: name}, nil
}

// call performs one rate-limited API call and decodes into out, whose
// embedded response reports ok/error.
func (c *Client) call(ctx context.Context, method, apiMethod string, query url.Values, body []byte, out interface{ apiResult() response }) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("slack %s: rate limiter: %w", apiMethod, err)
	}

	u := c.baseURL + "/" + apiMethod
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("slack %s: create request: %w", apiMethod, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("slack %s: %w", apiMethod, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("slack %s: read response: %w", apiMethod, err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("slack %s: %w (retry after %q)", apiMethod, ErrRateLimited, resp.Header.Get("Retry-After"))
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack %s: unexpected status %d", apiMethod, resp.StatusCode)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("slack %s: decode response: %w", apiMethod, err)
	}
	if r := out.apiResult(); !r.OK {
		return &APIError{Method: apiMethod, Code: r.Error}
	}
	return nil
}

func (r *response) apiResult() response { return *r }
