package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"log/slog"
)

// ErrNoSupportedFormat indicates none of the configured recording formats
// is supported by the media encoder. This is fatal for the session: a run
// configured to record must not silently proceed without a recording.
var ErrNoSupportedFormat = errors.New("agent: no supported recording format")

// MediaStream is the encoded side of the capture device. Record returns a
// stream of encoded media that ends when ctx is cancelled.
type MediaStream interface {
	Supports(format string) bool
	Record(ctx context.Context, format string) (io.ReadCloser, error)
}

// Recorder writes one session recording to disk. The format is chosen once,
// at construction: the first entry of the candidate list the encoder
// supports.
type Recorder struct {
	dir    string
	format string
	stream MediaStream
	logger *slog.Logger
}

// NewRecorder selects the recording format and prepares the output
// directory. Candidates are tried in order; the first supported one wins.
func NewRecorder(dir string, candidates []string, stream MediaStream, logger *slog.Logger) (*Recorder, error) {
	if stream == nil {
		return nil, errors.New("agent: media stream required")
	}
	if dir == "" {
		return nil, errors.New("agent: recording directory required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create recording directory: %w", err)
	}
	format := ""
	for _, candidate := range candidates {
		candidate = strings.TrimPrefix(strings.TrimSpace(candidate), ".")
		if candidate == "" {
			continue
		}
		if stream.Supports(candidate) {
			format = candidate
			break
		}
	}
	if format == "" {
		return nil, ErrNoSupportedFormat
	}
	if logger != nil {
		logger = logger.With("component", "recorder")
	}
	return &Recorder{dir: dir, format: format, stream: stream, logger: logger}, nil
}

// Format returns the selected recording format.
func (r *Recorder) Format() string {
	return r.format
}

// Capture records until ctx is cancelled and returns the finished file
// path. The file is written through a partial name and renamed on
// completion, so a crash never leaves a truncated file looking finished.
func (r *Recorder) Capture(ctx context.Context, sessionID string) (string, error) {
	if sessionID == "" {
		return "", errors.New("agent: session identifier required")
	}
	stream, err := r.stream.Record(ctx, r.format)
	if err != nil {
		return "", fmt.Errorf("start media stream: %w", err)
	}
	defer stream.Close()

	path := filepath.Join(r.dir, sessionID+"."+r.format)
	tmp := path + ".partial"
	f, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("create recording file: %w", err)
	}
	written, err := io.Copy(f, stream)
	if err != nil && !errors.Is(err, context.Canceled) {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("write recording: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("close recording: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("finalize recording: %w", err)
	}
	if r.logger != nil {
		r.logger.Info("recording finished", "session_id", sessionID, "path", path, "bytes", written)
	}
	return path, nil
}
