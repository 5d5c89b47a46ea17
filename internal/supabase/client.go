// Package supabase is a thin REST client for the hosted backend: GoTrue for
// authentication and PostgREST for table access.
package supabase

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	apperrors "github.com/betterme/betterme/internal/errors"
	"github.com/betterme/betterme/internal/logger"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const userAgent = "betterme-cli/0.1.0"

// Config configures a Client.
type Config struct {
	URL        string
	AnonKey    string
	Timeout    time.Duration
	RetryCount int
	RetryWait  time.Duration
	// Transport replaces the HTTP transport, e.g. with a traced one.
	Transport http.RoundTripper
}

// Client talks to one project. It is safe for concurrent use.
type Client struct {
	http    *resty.Client
	anonKey string

	mu          sync.RWMutex
	accessToken string
}

func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryWait == 0 {
		cfg.RetryWait = time.Second
	}

	c := &Client{anonKey: cfg.AnonKey}

	h := resty.New().
		SetBaseURL(strings.TrimRight(cfg.URL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("User-Agent", userAgent).
		SetHeader("apikey", cfg.AnonKey).
		SetJSONMarshaler(json.Marshal).
		SetJSONUnmarshaler(json.Unmarshal).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(cfg.RetryWait).
		SetRetryMaxWaitTime(8 * cfg.RetryWait).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			return err != nil || resp.StatusCode() >= http.StatusInternalServerError
		})

	if cfg.Transport != nil {
		h.SetTransport(cfg.Transport)
	}

	h.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		req.SetAuthToken(c.bearer())
		logger.Log.Debug("HTTP Request", zap.String("method", req.Method), zap.String("url", req.URL))
		return nil
	})
	h.OnAfterResponse(func(_ *resty.Client, resp *resty.Response) error {
		logger.Log.Debug("HTTP Response",
			zap.Int("status", resp.StatusCode()),
			zap.String("url", resp.Request.URL),
			zap.Duration("elapsed", resp.Time()),
		)
		return nil
	})

	c.http = h
	return c
}

// SetAccessToken switches requests to a user session. An empty token
// reverts to the anonymous key.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
}

func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

func (c *Client) bearer() string {
	if t := c.AccessToken(); t != "" {
		return t
	}
	return c.anonKey
}

func (c *Client) request(ctx context.Context) *resty.Request {
	return c.http.R().SetContext(ctx)
}

// check turns a transport error or non-2xx response into a typed error.
func check(op string, resp *resty.Response, err error) error {
	if err != nil {
		return apperrors.NewNetwork(op+" failed", err)
	}
	if !resp.IsSuccess() {
		apiErr := ParseError(resp)
		return apperrors.New(errorTypeFor(apiErr.StatusCode), op+" failed", apiErr)
	}
	return nil
}
