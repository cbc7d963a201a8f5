package protect

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/davidcastilloc/unify-protect-events-extension-sub000/pkg/clients"
	"github.com/davidcastilloc/unify-protect-events-extension-sub000/pkg/logging"
	"github.com/davidcastilloc/unify-protect-events-extension-sub000/pkg/version"
)

var (
	// ErrUnauthorized is returned when the console rejects the credentials or session
	ErrUnauthorized = errors.New("protect: unauthorized")
	// ErrUnexpectedStatus is returned for any other non-2xx response
	ErrUnexpectedStatus = errors.New("protect: unexpected status")
)

const (
	loginPath     = "/api/auth/login"
	bootstrapPath = "/proxy/protect/api/bootstrap"
	updatesPath   = "/proxy/protect/ws/updates"

	csrfHeader        = "X-CSRF-Token"
	updatedCSRFHeader = "X-Updated-CSRF-Token"

	maxBodySize = 8 << 20
)

// Config represents the configuration for the console client
type Config struct {
	BaseURL  string
	Username string
	Password string
	TLS      *tls.Config
	Logger   logging.Logger

	// Executor overrides retry and breaker settings for HTTP calls
	Executor *clients.HTTPExecutorConfig
}

// Client talks to a camera console: cookie session login, bootstrap and the
// binary updates websocket.
type Client struct {
	baseURL    *url.URL
	username   string
	password   string
	httpClient *http.Client
	executor   *clients.HTTPExecutor
	dialer     *websocket.Dialer
	logger     logging.Logger

	mu   sync.RWMutex
	csrf string
}

// NewClient creates a new console client
func NewClient(cfg Config) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse console url: %w", err)
	}
	if base.Scheme != "https" && base.Scheme != "http" {
		return nil, fmt.Errorf("console url must be http(s), got %q", cfg.BaseURL)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}

	execCfg := clients.DefaultHTTPExecutorConfig("protect")
	if cfg.Executor != nil {
		execCfg = *cfg.Executor
	}
	execCfg.Logger = logger

	return &Client{
		baseURL:  base,
		username: cfg.Username,
		password: cfg.Password,
		httpClient: &http.Client{
			Transport: clients.DefaultTransport(cfg.TLS),
			Jar:       jar,
		},
		executor: clients.NewHTTPExecutor(execCfg),
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			TLSClientConfig:  cfg.TLS,
			HandshakeTimeout: 15 * time.Second,
			Jar:              jar,
		},
		logger: logger,
	}, nil
}

type loginRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	RememberMe bool   `json:"rememberMe"`
}

// Login opens a session. The session cookie lands in the client's jar and
// the CSRF token is kept for subsequent requests.
func (c *Client) Login(ctx context.Context) error {
	body, err := json.Marshal(loginRequest{Username: c.username, Password: c.password, RememberMe: true})
	if err != nil {
		return err
	}
	resp, err := c.executor.Do(ctx, func(ctx context.Context) (*http.Response, error) {
		req, err := c.newRequest(ctx, http.MethodPost, loginPath, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return c.httpClient.Do(req)
	})
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))

	if err := statusError(resp); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	c.captureCSRF(resp)

	c.logger.WithField("console", c.baseURL.Host).Info("Console session established")
	return nil
}

// Bootstrap fetches the console state. An expired session is renewed once.
func (c *Client) Bootstrap(ctx context.Context) (*Bootstrap, error) {
	b, err := c.bootstrap(ctx)
	if errors.Is(err, ErrUnauthorized) {
		if err := c.Login(ctx); err != nil {
			return nil, err
		}
		b, err = c.bootstrap(ctx)
	}
	return b, err
}

func (c *Client) bootstrap(ctx context.Context) (*Bootstrap, error) {
	resp, err := c.executor.Do(ctx, func(ctx context.Context) (*http.Response, error) {
		req, err := c.newRequest(ctx, http.MethodGet, bootstrapPath, nil)
		if err != nil {
			return nil, err
		}
		return c.httpClient.Do(req)
	})
	if err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	defer resp.Body.Close()

	if err := statusError(resp); err != nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	c.captureCSRF(resp)

	var b Bootstrap
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodySize)).Decode(&b); err != nil {
		return nil, fmt.Errorf("bootstrap: decode: %w", err)
	}
	return &b, nil
}

// Updates opens the updates websocket, resuming after lastUpdateID when set
func (c *Client) Updates(ctx context.Context, lastUpdateID string) (Stream, error) {
	u := *c.baseURL
	u.Scheme = "wss"
	if c.baseURL.Scheme == "http" {
		u.Scheme = "ws"
	}
	u.Path = updatesPath
	if lastUpdateID != "" {
		u.RawQuery = url.Values{"lastUpdateId": {lastUpdateID}}.Encode()
	}

	header := http.Header{}
	header.Set("User-Agent", version.UserAgent())
	if csrf := c.csrfToken(); csrf != "" {
		header.Set(csrfHeader, csrf)
	}

	conn, resp, err := c.dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			if serr := statusError(resp); serr != nil {
				return nil, fmt.Errorf("updates: %w", serr)
			}
		}
		return nil, fmt.Errorf("updates: %w", err)
	}
	return newUpdateStream(conn), nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	u := c.baseURL.ResolveReference(&url.URL{Path: path})
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	if csrf := c.csrfToken(); csrf != "" {
		req.Header.Set(csrfHeader, csrf)
	}
	return req, nil
}

func (c *Client) captureCSRF(resp *http.Response) {
	token := resp.Header.Get(updatedCSRFHeader)
	if token == "" {
		token = resp.Header.Get(csrfHeader)
	}
	if token == "" {
		return
	}
	c.mu.Lock()
	c.csrf = token
	c.mu.Unlock()
}

func (c *Client) csrfToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.csrf
}

func statusError(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w (%d)", ErrUnauthorized, resp.StatusCode)
	default:
		return fmt.Errorf("%w %d", ErrUnexpectedStatus, resp.StatusCode)
	}
}
