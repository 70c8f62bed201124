package osu

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"

	logx "trackbot/pkg/logx"
)

// ErrNotFound is returned when the API answers 404 (unknown or restricted user).
var ErrNotFound = errors.New("osu: not found")

const (
	DefaultBaseURL = "https://osu.ppy.sh"
	// apiVersion makes score payloads carry ended_at.
	apiVersion = "20220705"
)

type Config struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
	// RequestsPerMinute bounds total API throughput (0 means 60).
	RequestsPerMinute int
	Timeout           time.Duration
}

// Client is an osu! API v2 client authenticated with client credentials.
type Client struct {
	log     logx.Logger
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

func NewClient(cfg Config, log logx.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.ClientID) == "" || strings.TrimSpace(cfg.ClientSecret) == "" {
		return nil, errors.New("osu client id and secret are required")
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 60
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     base + "/oauth/token",
		Scopes:       []string{"public"},
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	// The token source caches the token until shortly before expiry.
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, &http.Client{Timeout: timeout})
	hc := oauth2.NewClient(tokenCtx, cc.TokenSource(tokenCtx))
	hc.Timeout = timeout

	return &Client{
		log:     log,
		baseURL: base + "/api/v2",
		http:    hc,
		limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60), max(1, rpm/60)),
	}, nil
}

// APIError is a non-2xx response other than 404.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("osu: http %d: %s", e.Status, e.Body)
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-api-version", apiVersion)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("osu: get %s: %w", path, err)
	}
	defer resp.Body.Close()
	c.log.Trace("osu request", logx.String("path", path), logx.Int("status", resp.StatusCode), logx.Duration("took", time.Since(start)))

	switch {
	case resp.StatusCode == http.StatusNotFound:
		_, _ = io.Copy(io.Discard, resp.Body)
		return ErrNotFound
	case resp.StatusCode/100 != 2:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("osu: decode %s: %w", path, err)
	}
	return nil
}

// User looks a player up by name (or numeric id) in mode.
func (c *Client) User(ctx context.Context, name string, mode Mode) (User, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return User{}, errors.New("osu: empty user name")
	}
	var u User
	err := c.get(ctx, "/users/"+url.PathEscape(name)+"/"+mode.String(), url.Values{"key": {"username"}}, &u)
	return u, err
}

// UserByID looks a player up by id in mode.
func (c *Client) UserByID(ctx context.Context, userID uint32, mode Mode) (User, error) {
	var u User
	err := c.get(ctx, "/users/"+strconv.FormatUint(uint64(userID), 10)+"/"+mode.String(), url.Values{"key": {"id"}}, &u)
	return u, err
}

// BestScores returns the player's top plays in mode, best first.
func (c *Client) BestScores(ctx context.Context, userID uint32, mode Mode, limit int) ([]Score, error) {
	if limit <= 0 {
		return nil, nil
	}
	if limit > 100 {
		limit = 100
	}
	q := url.Values{
		"mode":  {mode.String()},
		"limit": {strconv.Itoa(limit)},
	}
	var scores []Score
	err := c.get(ctx, "/users/"+strconv.FormatUint(uint64(userID), 10)+"/scores/best", q, &scores)
	return scores, err
}

// SetRate changes the request budget at runtime.
func (c *Client) SetRate(requestsPerMinute int) {
	if requestsPerMinute <= 0 {
		return
	}
	c.limiter.SetLimit(rate.Limit(float64(requestsPerMinute) / 60))
	c.limiter.SetBurst(max(1, requestsPerMinute/60))
}
