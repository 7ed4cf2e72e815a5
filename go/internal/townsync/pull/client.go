// Package pull fetches server-authoritative state from the pull endpoints.
package pull

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/agenttown/townsync/go/internal/models"
	"github.com/agenttown/townsync/go/internal/townsync/normalize"
)

const (
	GameStatePath = "/api/game-state"
	TasksPath     = "/api/tasks"
	ReportsPath   = "/api/reports"
)

// ErrMalformed is returned when a 2xx response body cannot be normalized.
var ErrMalformed = errors.New("malformed response body")

// HTTPError is returned for non-2xx responses.
type HTTPError struct {
	StatusCode int
	Path       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("GET %s: http %d: %s", e.Path, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("GET %s: http %d", e.Path, e.StatusCode)
}

// HTTPClient reads canonical state over HTTP.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewHTTPClient creates a pull client. A nil httpClient gets a 15s timeout.
func NewHTTPClient(baseURL, token string, httpClient *http.Client) *HTTPClient {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPClient{
		baseURL:    baseURL,
		token:      strings.TrimSpace(token),
		httpClient: httpClient,
	}
}

// FetchGameState returns the canonical game state as a patch. Wrapped, bare
// and legacy-nested bodies are all accepted.
func (c *HTTPClient) FetchGameState(ctx context.Context) (models.Patch, error) {
	body, err := c.get(ctx, GameStatePath)
	if err != nil {
		return models.Patch{}, err
	}
	patch, ok := normalize.GameState(body)
	if !ok {
		return models.Patch{}, fmt.Errorf("GET %s: %w", GameStatePath, ErrMalformed)
	}
	return patch, nil
}

// FetchTasks returns the active task list.
func (c *HTTPClient) FetchTasks(ctx context.Context) ([]models.Task, error) {
	body, err := c.get(ctx, TasksPath)
	if err != nil {
		return nil, err
	}
	tasks, ok := normalize.Tasks(unwrapData(body))
	if !ok {
		return nil, fmt.Errorf("GET %s: %w", TasksPath, ErrMalformed)
	}
	return tasks, nil
}

// FetchReports returns the known worker reports.
func (c *HTTPClient) FetchReports(ctx context.Context) ([]models.Report, error) {
	body, err := c.get(ctx, ReportsPath)
	if err != nil {
		return nil, err
	}
	reports, ok := normalize.Reports(unwrapData(body))
	if !ok {
		return nil, fmt.Errorf("GET %s: %w", ReportsPath, ErrMalformed)
	}
	return reports, nil
}

func (c *HTTPClient) get(ctx context.Context, path string) (any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errPayload struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(payload, &errPayload)
		msg := errPayload.Message
		if msg == "" {
			msg = errPayload.Error
		}
		return nil, &HTTPError{StatusCode: resp.StatusCode, Path: path, Message: msg}
	}

	var body any
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("GET %s: %w: %v", path, ErrMalformed, err)
	}
	return body, nil
}

// unwrapData strips an API envelope of shape {success, data}. A body with
// success=false yields nil so the caller reports it as malformed.
func unwrapData(body any) any {
	o, ok := body.(map[string]any)
	if !ok {
		return body
	}
	if success, ok := o["success"].(bool); ok && !success {
		return nil
	}
	if data, ok := o["data"]; ok {
		return data
	}
	return body
}
