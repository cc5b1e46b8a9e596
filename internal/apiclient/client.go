// Package apiclient is the Go client of the catalogd HTTP API.
package apiclient

import (
	"bytes"
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

	"github.com/pingsantohq/smokestack/internal/catalog"
	"github.com/pingsantohq/smokestack/internal/resolver"
	"github.com/pingsantohq/smokestack/internal/server"
	"github.com/pingsantohq/smokestack/internal/service"
)

const userAgent = "smokestack-catalogctl/1"

// Config holds the static configuration for a Client.
type Config struct {
	BaseURL string
	Token   string
}

// Dependencies allow test overrides for the HTTP client.
type Dependencies struct {
	HTTPClient *http.Client
}

type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

func NewClient(cfg Config, deps Dependencies) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("base URL is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	httpClient := deps.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{httpClient: httpClient, baseURL: base, token: cfg.Token}, nil
}

// Error is a failed API call. It matches the catalog sentinels through Is so
// callers can use errors.Is(err, catalog.ErrNotFound).
type Error struct {
	Status    int
	Kind      string
	Message   string
	RequestID string
}

func (e *Error) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("catalogd responded with %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("catalogd: %s (%s, request %s)", e.Message, e.Kind, e.RequestID)
}

func (e *Error) Is(target error) bool {
	switch e.Kind {
	case "validation":
		return target == catalog.ErrValidation
	case "not_found":
		return target == catalog.ErrNotFound
	case "backend_unavailable":
		return target == catalog.ErrBackendUnavailable
	case "migration":
		return target == catalog.ErrMigration
	case "throttled":
		return target == service.ErrRestartThrottled
	}
	return false
}

type envelope struct {
	Success   bool             `json:"success"`
	Data      json.RawMessage  `json:"data"`
	Error     *server.APIError `json:"error"`
	RequestID string           `json:"request_id"`
}

func call[T any](ctx context.Context, c *Client, method, path string, body any) (T, error) {
	var zero T
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return zero, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return zero, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return zero, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return zero, fmt.Errorf("read response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return zero, &Error{Status: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}
	if !env.Success || resp.StatusCode >= 300 {
		apiErr := &Error{Status: resp.StatusCode, RequestID: env.RequestID, Message: resp.Status}
		if env.Error != nil {
			apiErr.Kind, apiErr.Message = env.Error.Kind, env.Error.Message
		}
		return zero, apiErr
	}
	var out T
	if len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, &out); err != nil {
			return zero, fmt.Errorf("decode %s response: %w", path, err)
		}
	}
	return out, nil
}

func targetPath(id int64) string {
	return "/api/v1/targets/" + strconv.FormatInt(id, 10)
}

func (c *Client) Status(ctx context.Context) (server.StatusResponse, error) {
	return call[server.StatusResponse](ctx, c, http.MethodGet, "/api/v1/status", nil)
}

func (c *Client) ListTargets(ctx context.Context, filter catalog.Filter) ([]catalog.Target, error) {
	q := url.Values{}
	if filter.ActiveOnly {
		q.Set("active", "true")
	}
	if filter.Category != "" {
		q.Set("category", filter.Category)
	}
	path := "/api/v1/targets"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	return call[[]catalog.Target](ctx, c, http.MethodGet, path, nil)
}

func (c *Client) GetTarget(ctx context.Context, id int64) (catalog.Target, error) {
	return call[catalog.Target](ctx, c, http.MethodGet, targetPath(id), nil)
}

func (c *Client) CreateTarget(ctx context.Context, spec catalog.TargetSpec) (catalog.Target, error) {
	return call[catalog.Target](ctx, c, http.MethodPost, "/api/v1/targets", spec)
}

func (c *Client) UpdateTarget(ctx context.Context, id int64, patch catalog.TargetPatch) (catalog.Target, error) {
	return call[catalog.Target](ctx, c, http.MethodPatch, targetPath(id), patch)
}

func (c *Client) ToggleActive(ctx context.Context, id int64) (catalog.Target, error) {
	return call[catalog.Target](ctx, c, http.MethodPost, targetPath(id)+"/toggle", nil)
}

func (c *Client) DeleteTarget(ctx context.Context, id int64) error {
	_, err := call[map[string]int64](ctx, c, http.MethodDelete, targetPath(id), nil)
	return err
}

func (c *Client) Import(ctx context.Context, specs []catalog.TargetSpec, skipExisting bool) (resolver.ImportReport, error) {
	return call[resolver.ImportReport](ctx, c, http.MethodPost, "/api/v1/targets/import",
		server.ImportRequest{Targets: specs, SkipExisting: skipExisting})
}

func (c *Client) ListCategories(ctx context.Context) ([]catalog.Category, error) {
	return call[[]catalog.Category](ctx, c, http.MethodGet, "/api/v1/categories", nil)
}

func (c *Client) ListProbes(ctx context.Context) ([]catalog.ProbeKind, error) {
	return call[[]catalog.ProbeKind](ctx, c, http.MethodGet, "/api/v1/probes", nil)
}

func (c *Client) ListSources(ctx context.Context) ([]catalog.Source, error) {
	return call[[]catalog.Source](ctx, c, http.MethodGet, "/api/v1/sources", nil)
}

func (c *Client) Migrate(ctx context.Context, dir resolver.Direction) (resolver.MigrationReport, error) {
	return call[resolver.MigrationReport](ctx, c, http.MethodPost, "/api/v1/migrate",
		server.MigrateRequest{Direction: string(dir)})
}

func (c *Client) Render(ctx context.Context) (resolver.RenderResult, error) {
	return call[resolver.RenderResult](ctx, c, http.MethodPost, "/api/v1/render", nil)
}

func (c *Client) Restart(ctx context.Context) error {
	_, err := call[map[string]bool](ctx, c, http.MethodPost, "/api/v1/restart", nil)
	return err
}

func (c *Client) Apply(ctx context.Context) (server.ApplyResponse, error) {
	return call[server.ApplyResponse](ctx, c, http.MethodPost, "/api/v1/apply", nil)
}
