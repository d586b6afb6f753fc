package blobstore

import (
	"io"
	"strings"
	"testing"
)

func TestSaveAndOpenRecording(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ref, err := store.SaveRecording("sess-1", "webm", strings.NewReader("fake-webm-bytes"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if ref != "sess-1.webm" {
		t.Fatalf("unexpected ref %q", ref)
	}
	r, err := store.Open(ref)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "fake-webm-bytes" {
		t.Fatalf("unexpected blob contents %q", data)
	}
}

func TestSaveRecordingReplacesExisting(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if _, err := store.SaveRecording("sess-1", "webm", strings.NewReader("first")); err != nil {
		t.Fatalf("first save: %v", err)
	}
	ref, err := store.SaveRecording("sess-1", "webm", strings.NewReader("second"))
	if err != nil {
		t.Fatalf("second save: %v", err)
	}
	r, err := store.Open(ref)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer r.Close()
	data, _ := io.ReadAll(r)
	if string(data) != "second" {
		t.Fatalf("expected replacement, got %q", data)
	}
}

func TestOpenRefusesTraversal(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if _, err := store.Open("../../etc/passwd"); err == nil {
		t.Fatal("expected traversal reference rejected")
	}
}
