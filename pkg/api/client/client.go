package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client provides typed access to the vigil API for the agent and
// interactive tools.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// New constructs a Client pointing at the provided API base URL.
func New(base string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = "http://localhost:4000"
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	cli := &Client{
		baseURL:    strings.TrimRight(trimmed, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli, nil
}

// APIError represents an error response from the API.
type APIError struct {
	Status  int
	Message string
}

func (e APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api request failed with status %d", e.Status)
	}
	return fmt.Sprintf("api request failed (%d): %s", e.Status, e.Message)
}

// Retryable reports whether the request may succeed on a later attempt.
// Server-side failures and throttling are worth retrying; client errors
// are not.
func (e APIError) Retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= http.StatusInternalServerError
}

func (c *Client) do(ctx context.Context, method, path string, body any, token string, v any) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	endpoint := c.baseURL + path
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(token) != "" {
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(token))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		msg := extractError(resp.Body)
		return APIError{Status: resp.StatusCode, Message: msg}
	}

	if v == nil {
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func extractError(body io.Reader) string {
	if body == nil {
		return ""
	}
	var payload struct {
		Error string `json:"error"`
	}
	data, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil || len(data) == 0 {
		return ""
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return strings.TrimSpace(string(data))
	}
	return strings.TrimSpace(payload.Error)
}

// LoginResponse captures the token payload emitted by the API.
type LoginResponse struct {
	Proctor     Proctor `json:"proctor"`
	AccessToken string  `json:"access_token"`
	ExpiresIn   int64   `json:"expires_in"`
}

// Proctor reflects API proctor payloads.
type Proctor struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Login exchanges credentials for an access token.
func (c *Client) Login(ctx context.Context, email, password string) (LoginResponse, error) {
	body := map[string]string{
		"email":    email,
		"password": password,
	}
	var resp LoginResponse
	if err := c.do(ctx, http.MethodPost, "/auth/login", body, "", &resp); err != nil {
		return LoginResponse{}, err
	}
	return resp, nil
}

// Signup registers a proctor account and returns its first token.
func (c *Client) Signup(ctx context.Context, email, password string) (LoginResponse, error) {
	body := map[string]string{
		"email":    email,
		"password": password,
	}
	var resp LoginResponse
	if err := c.do(ctx, http.MethodPost, "/auth/signup", body, "", &resp); err != nil {
		return LoginResponse{}, err
	}
	return resp, nil
}

// Session mirrors the API session payload.
type Session struct {
	ID             string     `json:"id"`
	ProctorID      string     `json:"proctor_id"`
	CandidateName  string     `json:"candidate_name"`
	StartedAt      time.Time  `json:"started_at"`
	EndedAt        *time.Time `json:"ended_at"`
	RecordingRef   string     `json:"recording_ref"`
	IntegrityScore *int       `json:"integrity_score"`
}

// CreateSession starts a proctored session for the candidate.
func (c *Client) CreateSession(ctx context.Context, token, candidateName string) (Session, error) {
	body := map[string]string{"candidate_name": candidateName}
	var session Session
	if err := c.do(ctx, http.MethodPost, "/sessions", body, token, &session); err != nil {
		return Session{}, err
	}
	return session, nil
}

// StopSession ends the session, optionally attaching a recording reference.
func (c *Client) StopSession(ctx context.Context, token, sessionID, recordingRef string) (Session, error) {
	body := map[string]string{}
	if strings.TrimSpace(recordingRef) != "" {
		body["recording_ref"] = recordingRef
	}
	path := fmt.Sprintf("/sessions/%s/stop", url.PathEscape(sessionID))
	var session Session
	if err := c.do(ctx, http.MethodPost, path, body, token, &session); err != nil {
		return Session{}, err
	}
	return session, nil
}

// ListSessions returns the proctor's sessions, newest first.
func (c *Client) ListSessions(ctx context.Context, token string, limit int) ([]Session, error) {
	query := ""
	if limit > 0 {
		query = fmt.Sprintf("?limit=%d", limit)
	}
	var sessions []Session
	if err := c.do(ctx, http.MethodGet, "/sessions"+query, nil, token, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// Event is the wire form of one integrity event.
type Event struct {
	ID         string          `json:"id,omitempty"`
	Type       string          `json:"type"`
	OffsetMS   int64           `json:"offset_ms"`
	Confidence *float64        `json:"confidence,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	CreatedAt  string          `json:"created_at,omitempty"`
}

// AppendEvents posts a batch of events to the session's log.
func (c *Client) AppendEvents(ctx context.Context, token, sessionID string, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	path := fmt.Sprintf("/sessions/%s/events", url.PathEscape(sessionID))
	body := map[string]any{"events": events}
	return c.do(ctx, http.MethodPost, path, body, token, nil)
}

// BreakdownRow is one scored event type in a report.
type BreakdownRow struct {
	Type      string `json:"type"`
	Count     int    `json:"count"`
	Deduction int    `json:"deduction"`
}

// Report mirrors the API report payload.
type Report struct {
	Session           Session        `json:"session"`
	IntegrityScore    int            `json:"integrity_score"`
	Breakdown         []BreakdownRow `json:"breakdown"`
	Counts            map[string]int `json:"counts"`
	TotalEvents       int            `json:"total_events"`
	DurationMS        int64          `json:"duration_ms"`
	DurationEstimated bool           `json:"duration_estimated"`
	TimelineLimit     int            `json:"timeline_limit"`
}

// GetReport fetches the integrity report for a session.
func (c *Client) GetReport(ctx context.Context, token, sessionID string) (Report, error) {
	path := fmt.Sprintf("/sessions/%s/report", url.PathEscape(sessionID))
	var report Report
	if err := c.do(ctx, http.MethodGet, path, nil, token, &report); err != nil {
		return Report{}, err
	}
	return report, nil
}

// ExportCSV downloads the CSV report export.
func (c *Client) ExportCSV(ctx context.Context, token, sessionID string) ([]byte, error) {
	path := fmt.Sprintf("/sessions/%s/report.csv", url.PathEscape(sessionID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(token))
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, APIError{Status: resp.StatusCode, Message: extractError(resp.Body)}
	}
	return io.ReadAll(resp.Body)
}

// UploadRecording streams a recording blob to the session. The filename's
// extension decides the stored format.
func (c *Client) UploadRecording(ctx context.Context, token, sessionID, filename string, recording io.Reader) (string, error) {
	var form bytes.Buffer
	writer := multipart.NewWriter(&form)
	part, err := writer.CreateFormFile("recording", filename)
	if err != nil {
		return "", fmt.Errorf("build multipart form: %w", err)
	}
	if _, err := io.Copy(part, recording); err != nil {
		return "", fmt.Errorf("buffer recording: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("finalize multipart form: %w", err)
	}

	path := fmt.Sprintf("/sessions/%s/recording", url.PathEscape(sessionID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &form)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(token))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return "", APIError{Status: resp.StatusCode, Message: extractError(resp.Body)}
	}
	var payload struct {
		RecordingRef string `json:"recording_ref"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return payload.RecordingRef, nil
}
