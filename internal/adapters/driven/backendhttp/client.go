// Package backendhttp implements the BackendClient port over a JSON/HTTP
// API. Each request carries a short-lived HS256 token so a leaked request
// cannot be replayed later.
package backendhttp

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

	"github.com/golang-jwt/jwt/v5"

	"github.com/carebridge-labs/carebridge-core/internal/core/domain"
	"github.com/carebridge-labs/carebridge-core/internal/core/ports/driven"
)

const tokenLifetime = 60 * time.Second

// Verify interface compliance
var _ driven.BackendClient = (*Client)(nil)

// Config holds the connection settings for one backend instance.
type Config struct {
	// BaseURL is the backend's API root, e.g. "https://pharmos.example.com".
	BaseURL string

	// ClientID identifies this integration to the backend.
	ClientID string

	// Secret is the shared HS256 signing key.
	Secret string

	// Timeout bounds each HTTP request. Zero means 30 seconds.
	Timeout time.Duration
}

// Client talks to an external backend over JSON/HTTP.
type Client struct {
	httpClient *http.Client
	baseURL    string
	clientID   string
	secret     []byte
	now        func() time.Time
}

// NewClient creates a backend client from config.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("base URL is required")
	}
	if cfg.Secret == "" {
		return nil, errors.New("signing secret is required")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		clientID:   cfg.ClientID,
		secret:     []byte(cfg.Secret),
		now:        time.Now,
	}, nil
}

// Search returns the external ids matching filters.
func (c *Client) Search(ctx context.Context, entity string, filters map[string]any) ([]string, error) {
	body := map[string]any{"filters": filters}

	var result struct {
		IDs []string `json:"ids"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/"+url.PathEscape(entity)+"/search", body, &result); err != nil {
		return nil, err
	}

	return result.IDs, nil
}

// Read returns the raw external record.
func (c *Client) Read(ctx context.Context, entity, id string) (map[string]any, error) {
	var record map[string]any
	path := "/api/" + url.PathEscape(entity) + "/" + url.PathEscape(id)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &record); err != nil {
		return nil, err
	}
	return record, nil
}

// ReadFields reads only the named attributes of one record.
func (c *Client) ReadFields(ctx context.Context, entity, id string, fields []string) (map[string]any, error) {
	path := "/api/" + url.PathEscape(entity) + "/" + url.PathEscape(id) +
		"?fields=" + url.QueryEscape(strings.Join(fields, ","))

	var record map[string]any
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &record); err != nil {
		return nil, err
	}
	return record, nil
}

// Create creates an external record and returns its new id.
func (c *Client) Create(ctx context.Context, entity string, data map[string]any) (string, error) {
	var result struct {
		ID string `json:"id"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/"+url.PathEscape(entity), data, &result); err != nil {
		return "", err
	}
	if result.ID == "" {
		return "", fmt.Errorf("backend returned no id for created %s", entity)
	}
	return result.ID, nil
}

// Update writes field values onto an existing external record.
func (c *Client) Update(ctx context.Context, entity, id string, data map[string]any) error {
	path := "/api/" + url.PathEscape(entity) + "/" + url.PathEscape(id)
	return c.doJSON(ctx, http.MethodPatch, path, data, nil)
}

// Delete removes an external record.
func (c *Client) Delete(ctx context.Context, entity, id string) error {
	path := "/api/" + url.PathEscape(entity) + "/" + url.PathEscape(id)
	return c.doJSON(ctx, http.MethodDelete, path, nil, nil)
}

// Ping checks if the backend is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodGet, "/api/ping", nil, nil)
}

// doJSON performs one signed request and decodes the JSON response into
// out when out is non-nil.
func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	token, err := c.signToken()
	if err != nil {
		return fmt.Errorf("failed to sign token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Network failures are transient from the caller's view
		return domain.Retryablef("backend request failed: %v", err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp); err != nil {
		return err
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

// signToken issues a short-lived HS256 bearer token for one request.
func (c *Client) signToken() (string, error) {
	now := c.now()
	claims := jwt.MapClaims{
		"iss": c.clientID,
		"iat": now.Unix(),
		"exp": now.Add(tokenLifetime).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
}

// classifyStatus maps HTTP status codes onto the domain error taxonomy.
func classifyStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode < 400:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return domain.ErrNotFound
	case resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusNotImplemented:
		return domain.ErrUnsupported
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return domain.Retryablef("backend returned status %d: %s", resp.StatusCode, readErrorBody(resp))
	default:
		return fmt.Errorf("backend returned status %d: %s", resp.StatusCode, readErrorBody(resp))
	}
}

func readErrorBody(resp *http.Response) string {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return strings.TrimSpace(string(data))
}
