// Package capture reads webcam frames and encoded media through an ffmpeg
// subprocess. The capture pipeline stays outside the process on purpose:
// the agent only ever sees opaque frames and an encoded byte stream.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"io"
	"os/exec"
	"strings"

	"log/slog"

	"github.com/skaldera/vigil/internal/detect"
)

// containerArgs maps a recording container to its ffmpeg muxer arguments.
var containerArgs = map[string][]string{
	"webm": {"-c:v", "libvpx-vp9", "-f", "webm"},
	"mp4":  {"-c:v", "libx264", "-f", "mp4", "-movflags", "frag_keyframe+empty_moov"},
	"mkv":  {"-c:v", "libx264", "-f", "matroska"},
}

// Device captures from one video device. It serves both the frame sampling
// side and the encoded recording side of a session.
type Device struct {
	path   string
	ffmpeg string
	logger *slog.Logger
}

// Open verifies ffmpeg is available and returns a Device for the given
// video device path.
func Open(devicePath string, logger *slog.Logger) (*Device, error) {
	if strings.TrimSpace(devicePath) == "" {
		return nil, errors.New("capture: device path required")
	}
	ffmpeg, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("capture: ffmpeg not found: %w", err)
	}
	if logger != nil {
		logger = logger.With("component", "capture", "device", devicePath)
	}
	return &Device{path: devicePath, ffmpeg: ffmpeg, logger: logger}, nil
}

// jpegFrame is one still grabbed from the device.
type jpegFrame struct {
	data   []byte
	width  int
	height int
}

func (f jpegFrame) Bytes() []byte { return f.data }
func (f jpegFrame) Width() int    { return f.width }
func (f jpegFrame) Height() int   { return f.height }

// Frame grabs a single still from the device as JPEG.
func (d *Device) Frame(ctx context.Context) (detect.Frame, error) {
	cmd := exec.CommandContext(ctx, d.ffmpeg,
		"-loglevel", "error",
		"-f", "v4l2",
		"-i", d.path,
		"-frames:v", "1",
		"-f", "image2",
		"-c:v", "mjpeg",
		"pipe:1",
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("capture frame: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	data := stdout.Bytes()
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode frame header: %w", err)
	}
	return jpegFrame{data: data, width: cfg.Width, height: cfg.Height}, nil
}

// Supports reports whether the container has a configured ffmpeg pipeline.
func (d *Device) Supports(format string) bool {
	_, ok := containerArgs[strings.ToLower(strings.TrimSpace(format))]
	return ok
}

// Record starts an encoding subprocess and returns its output stream. The
// stream ends when ctx is cancelled; Close reaps the subprocess.
func (d *Device) Record(ctx context.Context, format string) (io.ReadCloser, error) {
	args, ok := containerArgs[strings.ToLower(strings.TrimSpace(format))]
	if !ok {
		return nil, fmt.Errorf("capture: unsupported container %q", format)
	}
	cmdArgs := []string{"-loglevel", "error", "-f", "v4l2", "-i", d.path}
	cmdArgs = append(cmdArgs, args...)
	cmdArgs = append(cmdArgs, "pipe:1")
	cmd := exec.CommandContext(ctx, d.ffmpeg, cmdArgs...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("capture: open encoder pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("capture: start encoder: %w", err)
	}
	if d.logger != nil {
		d.logger.Info("recording stream started", "format", format)
	}
	return &processStream{reader: stdout, cmd: cmd}, nil
}

// Close releases the device. The subprocesses are per-call, so there is
// nothing persistent to tear down.
func (d *Device) Close() error {
	return nil
}

type processStream struct {
	reader io.ReadCloser
	cmd    *exec.Cmd
}

func (s *processStream) Read(p []byte) (int, error) {
	return s.reader.Read(p)
}

func (s *processStream) Close() error {
	s.reader.Close()
	err := s.cmd.Wait()
	// Cancellation kills the subprocess; that exit is the normal end of a
	// recording, not a failure.
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}
