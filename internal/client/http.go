package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alfredjeanlab/coedit/internal/activity"
	"github.com/alfredjeanlab/coedit/internal/model"
)

// HTTPClient implements SessionClient using the coedit HTTP/JSON API.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPClient creates a new HTTP client targeting the given base URL
// (e.g. "http://localhost:4000").
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
}

// Close is a no-op for the HTTP client.
func (c *HTTPClient) Close() error { return nil }

func sessionPath(id string, rest ...string) string {
	p := "/api/sessions/" + url.PathEscape(id)
	for _, r := range rest {
		p += "/" + r
	}
	return p
}

// --- Sessions ---

func (c *HTTPClient) CreateSession(ctx context.Context, creatorID, code string) (*model.Session, error) {
	body := map[string]string{"creatorId": creatorID, "code": code}
	var sess model.Session
	if err := c.doJSON(ctx, http.MethodPost, "/api/sessions", body, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (c *HTTPClient) GetSession(ctx context.Context, id string) (*model.Session, error) {
	var sess model.Session
	if err := c.doJSON(ctx, http.MethodGet, sessionPath(id), nil, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (c *HTTPClient) ListSessions(ctx context.Context) ([]*model.Session, error) {
	var resp struct {
		Sessions []*model.Session `json:"sessions"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/sessions", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Sessions, nil
}

func (c *HTTPClient) UpdateCode(ctx context.Context, id, code string) error {
	return c.doJSON(ctx, http.MethodPut, sessionPath(id), map[string]string{"code": code}, nil)
}

func (c *HTTPClient) SetLocked(ctx context.Context, id string, locked bool) error {
	action := "unlock"
	if locked {
		action = "lock"
	}
	return c.doJSON(ctx, http.MethodPost, sessionPath(id, action), nil, nil)
}

// --- Roster ---

func (c *HTTPClient) ListParticipants(ctx context.Context, id string) ([]string, error) {
	var resp struct {
		Participants []string `json:"participants"`
	}
	if err := c.doJSON(ctx, http.MethodGet, sessionPath(id, "participants"), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Participants, nil
}

func (c *HTTPClient) RemoveParticipant(ctx context.Context, id, name string) error {
	return c.doJSON(ctx, http.MethodDelete, sessionPath(id, "participants", url.PathEscape(name)), nil, nil)
}

// --- Health ---

func (c *HTTPClient) Health(ctx context.Context) (string, error) {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/health", nil, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

// Activity returns the server's per-session activity snapshot. A positive
// stale hides sessions quiet for longer. It is only served over HTTP.
func (c *HTTPClient) Activity(ctx context.Context, stale time.Duration) ([]activity.Entry, error) {
	path := "/api/activity"
	if stale > 0 {
		path += "?stale=" + url.QueryEscape(stale.String())
	}
	var resp struct {
		Sessions []activity.Entry `json:"sessions"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Sessions, nil
}

// APIError represents an error response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// doJSON performs an HTTP request with an optional JSON body and decodes the
// JSON response into result (if non-nil).
func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body any, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}

	return nil
}
