// Package agent runs the on-device side of a proctored session: webcam
// frames through the inference adapters, debounced events through the
// uplink, and the recording to local disk with an upload after stop.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/skaldera/vigil/internal/config"
	"github.com/skaldera/vigil/internal/detect"
	"github.com/skaldera/vigil/internal/domain"
	"github.com/skaldera/vigil/internal/uplink"
	"github.com/skaldera/vigil/pkg/api/client"
)

const stopTimeout = 30 * time.Second

// FrameSource yields frames from the capture device. Frame blocks until the
// next frame is available or ctx is cancelled.
type FrameSource interface {
	Frame(ctx context.Context) (detect.Frame, error)
	Close() error
}

// UploadError reports a recording that finished on disk but was not
// attached to its session. The local file is kept; Upload retries it.
type UploadError struct {
	SessionID string
	Path      string
	Err       error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("recording for session %s saved at %s but not uploaded: %v", e.SessionID, e.Path, e.Err)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// Agent drives one proctored session end to end.
type Agent struct {
	cfg      config.Agent
	api      *client.Client
	token    string
	source   FrameSource
	adapter  detect.Adapter
	engine   *detect.Engine
	buffer   *uplink.Buffer
	recorder *Recorder
	logger   *slog.Logger
	now      func() time.Time
}

// New assembles an Agent. The recorder may be nil when the run is
// detection-only.
func New(cfg config.Agent, api *client.Client, token string, source FrameSource, adapter detect.Adapter, recorder *Recorder, logger *slog.Logger) (*Agent, error) {
	if api == nil {
		return nil, errors.New("agent: api client required")
	}
	if source == nil {
		return nil, errors.New("agent: frame source required")
	}
	if adapter == nil {
		return nil, errors.New("agent: inference adapter required")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger = logger.With("component", "agent")
	return &Agent{
		cfg:      cfg,
		api:      api,
		token:    token,
		source:   source,
		adapter:  adapter,
		engine:   detect.NewEngine(cfg.ClassRules()),
		buffer:   uplink.NewBuffer(),
		recorder: recorder,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Run executes one session until ctx is cancelled, then stops the session
// cleanly: final event flush, recording upload, session stop on the server.
// A failed upload keeps the local file and returns an UploadError alongside
// the stopped session so the operator can retry.
func (a *Agent) Run(ctx context.Context, candidateName string) (*client.Session, error) {
	session, err := a.api.CreateSession(ctx, a.token, candidateName)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	startedAt := a.now()
	a.engine.Reset()
	a.logger.Info("session started", "session_id", session.ID, "candidate", candidateName)

	flusher, err := uplink.NewFlusher(a.buffer, uplink.SenderFunc(a.send), session.ID, a.cfg.FlushInterval(), a.logger)
	if err != nil {
		return nil, err
	}

	var recordingPath string
	g, runCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.frameLoop(runCtx, startedAt)
	})
	g.Go(func() error {
		flusher.Run(runCtx)
		return nil
	})
	if a.recorder != nil {
		g.Go(func() error {
			path, err := a.recorder.Capture(runCtx, session.ID)
			if err != nil {
				return fmt.Errorf("recording: %w", err)
			}
			recordingPath = path
			return nil
		})
	}
	runErr := g.Wait()
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		a.logger.Error("session loop failed", "session_id", session.ID, "error", runErr)
	} else {
		runErr = nil
	}
	if err := a.source.Close(); err != nil {
		a.logger.Warn("frame source close failed", "error", err)
	}
	if err := a.adapter.Close(); err != nil {
		a.logger.Warn("inference adapter close failed", "error", err)
	}
	if remaining := a.buffer.Len(); remaining > 0 {
		a.logger.Warn("events still undelivered after final flush", "session_id", session.ID, "count", remaining)
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	stopped, err := a.api.StopSession(stopCtx, a.token, session.ID, "")
	if err != nil {
		return nil, fmt.Errorf("stop session: %w", err)
	}
	a.logger.Info("session stopped", "session_id", session.ID)

	if recordingPath != "" {
		ref, err := a.Upload(stopCtx, session.ID, recordingPath)
		if err != nil {
			return &stopped, &UploadError{SessionID: session.ID, Path: recordingPath, Err: err}
		}
		stopped.RecordingRef = ref
	}
	return &stopped, runErr
}

// Upload sends a finished recording file to the API and attaches it to the
// session. It is the manual retry path after a failed upload-after-stop.
func (a *Agent) Upload(ctx context.Context, sessionID, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open recording: %w", err)
	}
	defer f.Close()
	ref, err := a.api.UploadRecording(ctx, a.token, sessionID, f.Name(), f)
	if err != nil {
		return "", err
	}
	a.logger.Info("recording uploaded", "session_id", sessionID, "recording_ref", ref)
	return ref, nil
}

// frameLoop samples frames on the configured interval, runs inference, and
// appends debounced emissions to the uplink buffer. Each tick is stamped
// before the model call so inference latency never skews debounce windows
// or event offsets.
func (a *Agent) frameLoop(ctx context.Context, startedAt time.Time) error {
	ticker := time.NewTicker(a.cfg.FrameInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			at := a.now()
			frame, err := a.source.Frame(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				a.logger.Warn("frame capture failed", "error", err)
				continue
			}
			detections, err := a.adapter.Detect(ctx, frame)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				a.logger.Warn("inference failed", "error", err)
				continue
			}
			for _, emission := range a.engine.Tick(at, detections) {
				a.buffer.Append(a.toEvent(emission, startedAt))
			}
		}
	}
}

func (a *Agent) toEvent(emission detect.Emission, startedAt time.Time) domain.Event {
	score := emission.Score
	metadata, err := json.Marshal(map[string]any{
		"label":        emission.Label,
		"bbox":         emission.BBox,
		"source":       emission.Source,
		"persisted_ms": emission.PersistedFor.Milliseconds(),
	})
	if err != nil {
		metadata = nil
	}
	offset := emission.At.Sub(startedAt).Milliseconds()
	if offset < 0 {
		offset = 0
	}
	// The ID is assigned here, once, so a batch redelivered after a failed
	// flush carries the same identifiers and stays recognizable as a
	// duplicate server-side.
	return domain.Event{
		ID:         uuid.NewString(),
		Type:       emission.Class,
		OffsetMS:   offset,
		Confidence: &score,
		Metadata:   metadata,
		CreatedAt:  emission.At.UTC(),
	}
}

func (a *Agent) send(ctx context.Context, sessionID string, events []domain.Event) error {
	wire := make([]client.Event, 0, len(events))
	for _, event := range events {
		wire = append(wire, client.Event{
			ID:         event.ID,
			Type:       string(event.Type),
			OffsetMS:   event.OffsetMS,
			Confidence: event.Confidence,
			Metadata:   event.Metadata,
			CreatedAt:  event.CreatedAt.Format(time.RFC3339Nano),
		})
	}
	return a.api.AppendEvents(ctx, a.token, sessionID, wire)
}
