package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Client talks to the manifest timer API.
type Client struct {
	baseURL string
	client  *http.Client
	dialer  *websocket.Dialer
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL  string
	Timeout  time.Duration
	Logger   *slog.Logger // Optional logger for client operations
	TLS      *TLSClientConfig
	Insecure bool // Skip TLS verification
}

// TLSClientConfig holds TLS configuration for client
type TLSClientConfig struct {
	Enabled    bool   // Enable TLS
	CACert     string // CA certificate file path
	ClientCert string // Client certificate file
	ClientKey  string // Client private key file
	ServerName string // Server name for verification
	SkipVerify bool   // Skip certificate verification
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:8080/api",
		Timeout: 10 * time.Second,
	}
}

// New creates a new API client. A TLS setup failure is logged and the
// client falls back to the default transport settings.
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultConfig().BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	transport := &http.Transport{}
	dialer := &websocket.Dialer{HandshakeTimeout: config.Timeout}

	if config.TLS != nil && config.TLS.Enabled || config.Insecure {
		tlsConfig, err := setupClientTLS(config)
		if err != nil {
			config.Logger.Error("TLS setup failed", "error", err)
		} else {
			transport.TLSClientConfig = tlsConfig
			dialer.TLSClientConfig = tlsConfig
		}
	}

	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		logger:  config.Logger,
		dialer:  dialer,
		client: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
		},
	}
}

// IsReachable checks that the API answers at the base URL.
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/timers", nil)
	if err != nil {
		c.logger.Debug("Failed to create request for reachability check", "error", err)
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("API unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// Create registers a timer and returns its initial status.
func (c *Client) Create(ctx context.Context, spec Spec) (Status, error) {
	data, err := json.Marshal(spec)
	if err != nil {
		return Status{}, fmt.Errorf("marshal request: %w", err)
	}
	var st Status
	err = c.do(ctx, http.MethodPost, c.baseURL+"/timers", data, &st)
	return st, err
}

// List returns every timer whose id matches the '*' wildcard pattern. An
// empty pattern lists all timers.
func (c *Client) List(ctx context.Context, match string) ([]Status, error) {
	u := c.baseURL + "/timers"
	if match != "" {
		u += "?match=" + url.QueryEscape(match)
	}
	var out []Status
	err := c.do(ctx, http.MethodGet, u, nil, &out)
	return out, err
}

func (c *Client) Get(ctx context.Context, id string) (Status, error) {
	var st Status
	err := c.do(ctx, http.MethodGet, c.timerURL(id), nil, &st)
	return st, err
}

func (c *Client) Start(ctx context.Context, id string) (Status, error) {
	return c.action(ctx, id, "start")
}

func (c *Client) Pause(ctx context.Context, id string) (Status, error) {
	return c.action(ctx, id, "pause")
}

func (c *Client) Resume(ctx context.Context, id string) (Status, error) {
	return c.action(ctx, id, "resume")
}

func (c *Client) Reset(ctx context.Context, id string) (Status, error) {
	return c.action(ctx, id, "reset")
}

// Sync asks the server to re-base the timer now.
func (c *Client) Sync(ctx context.Context, id string) (Status, error) {
	return c.action(ctx, id, "sync")
}

// Remove discards the timer and its persisted record.
func (c *Client) Remove(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, c.timerURL(id), nil, nil)
}

// VisibilityRestored re-bases every timer on the server.
func (c *Client) VisibilityRestored(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, c.baseURL+"/visibility", nil, nil)
}

// Watch streams messages for id to fn until fn returns false, the server
// closes the stream, or ctx is done. interval <= 0 uses the server default.
func (c *Client) Watch(ctx context.Context, id string, interval time.Duration, fn func(WatchMessage) bool) error {
	u, err := url.Parse(c.timerURL(id) + "/watch")
	if err != nil {
		return fmt.Errorf("watch url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	if interval > 0 {
		q := u.Query()
		q.Set("interval_ms", fmt.Sprint(interval.Milliseconds()))
		u.RawQuery = q.Encode()
	}

	conn, resp, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			defer func() { _ = resp.Body.Close() }()
			return c.errorFrom(resp)
		}
		return fmt.Errorf("dial %s: %w", u.Redacted(), err)
	}
	defer func() { _ = conn.Close() }()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		var msg WatchMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read watch message: %w", err)
		}
		if !fn(msg) || msg.Type == "closed" {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return nil
		}
	}
}

func (c *Client) timerURL(id string) string {
	return c.baseURL + "/timers/" + url.PathEscape(id)
}

func (c *Client) action(ctx context.Context, id, name string) (Status, error) {
	var st Status
	err := c.do(ctx, http.MethodPost, c.timerURL(id)+"/"+name, nil, &st)
	return st, err
}

// setupClientTLS configures TLS settings for HTTP client
func setupClientTLS(config Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	if config.Insecure {
		tlsConfig.InsecureSkipVerify = true // #nosec G402 explicit opt-in
		return tlsConfig, nil
	}

	if config.TLS != nil {
		if config.TLS.SkipVerify {
			tlsConfig.InsecureSkipVerify = true // #nosec G402 explicit opt-in
		}
		if config.TLS.ServerName != "" {
			tlsConfig.ServerName = config.TLS.ServerName
		}
		if config.TLS.CACert != "" {
			if err := loadCACert(tlsConfig, config.TLS.CACert); err != nil {
				return nil, fmt.Errorf("failed to load CA certificate: %w", err)
			}
		}
		if config.TLS.ClientCert != "" && config.TLS.ClientKey != "" {
			cert, err := tls.LoadX509KeyPair(config.TLS.ClientCert, config.TLS.ClientKey)
			if err != nil {
				return nil, fmt.Errorf("failed to load client certificate: %w", err)
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}
	}

	return tlsConfig, nil
}

// loadCACert loads CA certificate from file and adds it to TLS config
func loadCACert(tlsConfig *tls.Config, caCertPath string) error {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return fmt.Errorf("failed to read CA certificate file: %w", err)
	}

	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return errors.New("failed to parse CA certificate")
	}

	tlsConfig.RootCAs = caCertPool
	return nil
}

// do performs a request and decodes a 2xx JSON body into out when non-nil.
func (c *Client) do(ctx context.Context, method, u string, body []byte, out any) error {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("HTTP request failed", "error", err, "url", u)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.errorFrom(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// errorFrom builds an APIError from a non-2xx response.
func (c *Client) errorFrom(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var er ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err == nil {
		apiErr.Message = er.Error
	}
	c.logger.Debug("API request failed", "error", apiErr.Message, "status", resp.StatusCode)
	return apiErr
}
