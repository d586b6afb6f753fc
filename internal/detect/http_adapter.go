package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPAdapter runs inference through a local model server. The server
// receives the raw frame and answers with detections; face-derived signals
// come back as synthetic labels through the same response.
type HTTPAdapter struct {
	endpoint   string
	httpClient *http.Client
}

// NewHTTPAdapter points an adapter at a model server endpoint.
func NewHTTPAdapter(endpoint string) (*HTTPAdapter, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, errors.New("detect: inference endpoint required")
	}
	return &HTTPAdapter{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}, nil
}

type wireDetection struct {
	Label  string  `json:"label"`
	Score  float64 `json:"score"`
	BBox   *BBox   `json:"bbox"`
	Source string  `json:"source"`
}

// Detect posts the frame to the model server and parses its detections.
func (a *HTTPAdapter) Detect(ctx context.Context, frame Frame) ([]Detection, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(frame.Bytes()))
	if err != nil {
		return nil, fmt.Errorf("build inference request: %w", err)
	}
	req.Header.Set("Content-Type", "image/jpeg")
	req.Header.Set("X-Frame-Width", fmt.Sprintf("%d", frame.Width()))
	req.Header.Set("X-Frame-Height", fmt.Sprintf("%d", frame.Height()))

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("inference request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("inference server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var payload struct {
		Detections []wireDetection `json:"detections"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode inference response: %w", err)
	}
	detections := make([]Detection, 0, len(payload.Detections))
	for _, d := range payload.Detections {
		detections = append(detections, Detection{
			Label:  d.Label,
			Score:  d.Score,
			BBox:   d.BBox,
			Source: d.Source,
		})
	}
	return detections, nil
}

// Close is a no-op; the model lives in its own process.
func (a *HTTPAdapter) Close() error {
	return nil
}

// MultiAdapter fans one frame out to several adapters and merges their
// detections, letting an object model and a face model run side by side.
type MultiAdapter struct {
	adapters []Adapter
}

// NewMultiAdapter combines adapters. Order is preserved in the merged
// output, which keeps tie-breaking deterministic downstream.
func NewMultiAdapter(adapters ...Adapter) *MultiAdapter {
	return &MultiAdapter{adapters: adapters}
}

// Detect returns the concatenated detections of all adapters. One failing
// adapter fails the whole tick; a silent partial result would look like the
// missing model saw nothing.
func (m *MultiAdapter) Detect(ctx context.Context, frame Frame) ([]Detection, error) {
	var merged []Detection
	for _, adapter := range m.adapters {
		detections, err := adapter.Detect(ctx, frame)
		if err != nil {
			return nil, err
		}
		merged = append(merged, detections...)
	}
	return merged, nil
}

// Close closes every adapter, returning the first error.
func (m *MultiAdapter) Close() error {
	var firstErr error
	for _, adapter := range m.adapters {
		if err := adapter.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
