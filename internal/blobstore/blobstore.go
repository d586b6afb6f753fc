package blobstore

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Store keeps session recordings as files under a common root. The returned
// references are root-relative paths, which is what gets attached to the
// session as its recording reference.
type Store struct {
	root string
}

// New ensures the blob root exists and is accessible.
func New(root string) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("blob root cannot be empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return &Store{root: root}, nil
}

// SaveRecording streams a recording blob to disk and returns its reference.
// An existing recording for the session is replaced, which is what a manual
// re-upload after a failed attach wants.
func (s *Store) SaveRecording(sessionID, ext string, r io.Reader) (string, error) {
	if sessionID == "" {
		return "", fmt.Errorf("session identifier cannot be empty")
	}
	ext = strings.TrimPrefix(strings.TrimSpace(ext), ".")
	if ext == "" {
		ext = "webm"
	}
	ref := sessionID + "." + ext
	path, err := s.resolve(ref)
	if err != nil {
		return "", err
	}
	tmp := path + ".partial"
	f, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("create recording file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
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
	return ref, nil
}

// Open returns a reader over the referenced recording.
func (s *Store) Open(ref string) (io.ReadCloser, error) {
	path, err := s.resolve(ref)
	if err != nil {
		return nil, err
	}
	return os.Open(path)
}

// Remove deletes the referenced recording.
func (s *Store) Remove(ref string) error {
	path, err := s.resolve(ref)
	if err != nil {
		return err
	}
	return os.Remove(path)
}

// resolve maps a reference to an absolute path, refusing anything outside
// the root.
func (s *Store) resolve(ref string) (string, error) {
	path := filepath.Join(s.root, filepath.Clean("/"+ref))
	rel, err := filepath.Rel(s.root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("refusing reference outside blob root")
	}
	return path, nil
}
