package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"log/slog"

	"github.com/skaldera/vigil/internal/blobstore"
	"github.com/skaldera/vigil/internal/config"
	"github.com/skaldera/vigil/internal/domain"
	"github.com/skaldera/vigil/internal/report"
	"github.com/skaldera/vigil/internal/repository"
	"github.com/skaldera/vigil/internal/service/auth"
	"github.com/skaldera/vigil/internal/service/ingest"
	"github.com/skaldera/vigil/internal/service/session"
)

type memStore struct {
	mu       sync.Mutex
	proctors map[string]*domain.Proctor
	sessions map[string]*domain.Session
	events   map[string][]domain.Event
}

func newMemStore() *memStore {
	return &memStore{
		proctors: make(map[string]*domain.Proctor),
		sessions: make(map[string]*domain.Session),
		events:   make(map[string][]domain.Event),
	}
}

func (m *memStore) CreateProctor(_ context.Context, proctor *domain.Proctor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.proctors {
		if existing.Email == proctor.Email {
			return errors.New("email already registered")
		}
	}
	clone := *proctor
	m.proctors[proctor.ID] = &clone
	return nil
}

func (m *memStore) GetProctorByEmail(_ context.Context, email string) (*domain.Proctor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, proctor := range m.proctors {
		if proctor.Email == email {
			clone := *proctor
			return &clone, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memStore) GetProctorByID(_ context.Context, id string) (*domain.Proctor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	proctor, ok := m.proctors[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	clone := *proctor
	return &clone, nil
}

func (m *memStore) CreateSession(_ context.Context, session *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *session
	m.sessions[session.ID] = &clone
	return nil
}

func (m *memStore) GetSessionByID(_ context.Context, id string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	clone := *session
	return &clone, nil
}

func (m *memStore) PatchSession(_ context.Context, id string, patch domain.SessionPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[id]
	if !ok {
		return repository.ErrNotFound
	}
	if patch.Empty() {
		return repository.ErrEmptyPatch
	}
	if patch.CandidateName != nil {
		session.CandidateName = *patch.CandidateName
	}
	if patch.EndedAt != nil {
		ended := *patch.EndedAt
		session.EndedAt = &ended
	}
	if patch.RecordingRef != nil {
		session.RecordingRef = *patch.RecordingRef
	}
	if patch.IntegrityScore != nil {
		score := *patch.IntegrityScore
		session.IntegrityScore = &score
	}
	return nil
}

func (m *memStore) ListSessionsByProctor(_ context.Context, proctorID string, limit, offset int) ([]domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Session
	for _, session := range m.sessions {
		if session.ProctorID == proctorID {
			out = append(out, *session)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) AppendEvents(_ context.Context, sessionID string, events []domain.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[sessionID] = append(m.events[sessionID], events...)
	return nil
}

func (m *memStore) ListEventsBySession(_ context.Context, sessionID string, limit int) ([]domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	events := append([]domain.Event(nil), m.events[sessionID]...)
	sort.Slice(events, func(i, j int) bool { return events[i].OffsetMS < events[j].OffsetMS })
	if limit > 0 && limit < len(events) {
		events = events[:limit]
	}
	return events, nil
}

func (m *memStore) CountEventsByType(_ context.Context, sessionID string) (map[domain.EventType]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[domain.EventType]int)
	for _, event := range m.events[sessionID] {
		counts[event.Type]++
	}
	return counts, nil
}

func (m *memStore) MaxEventOffset(_ context.Context, sessionID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var max int64
	for _, event := range m.events[sessionID] {
		if event.OffsetMS > max {
			max = event.OffsetMS
		}
	}
	return max, nil
}

type rateLimiterStub struct {
	mu      sync.Mutex
	calls   []string
	allowFn func(key string, limit int, window time.Duration) rateDecision
}

func newRateLimiterStub() *rateLimiterStub {
	return &rateLimiterStub{}
}

func (rl *rateLimiterStub) Allow(key string, limit int, window time.Duration) rateDecision {
	rl.mu.Lock()
	rl.calls = append(rl.calls, key)
	rl.mu.Unlock()
	if rl.allowFn != nil {
		return rl.allowFn(key, limit, window)
	}
	return rateDecision{allowed: true, count: 1}
}

func (rl *rateLimiterStub) Close() {}

func setupRouter(t *testing.T, store *memStore, limiter RateLimiter) (*Router, string) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(bytes.NewBuffer(nil), nil))
	cfg := config.API{JWTSecret: "test-secret", AccessTokenTTLMin: 60}
	authSvc := auth.New(store, logger, cfg)
	sessionSvc := session.New(store, logger)
	ingestSvc := ingest.New(store, store, nil, logger)
	assembler := report.NewAssembler(store, store, nil, 50, 200, logger)
	router := NewRouter(logger, authSvc, sessionSvc, ingestSvc, assembler, nil, limiter, nil)
	t.Cleanup(router.Close)

	_, token, err := authSvc.Signup(context.Background(), "proctor@example.com", "hunter2hunter2")
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	return router, token.AccessToken
}

func doJSON(t *testing.T, router *Router, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func decodeMap(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return payload
}

func TestSignupAndLogin(t *testing.T) {
	router, _ := setupRouter(t, newMemStore(), newRateLimiterStub())

	rr := doJSON(t, router, http.MethodPost, "/auth/signup", "", map[string]string{
		"email":    "second@example.com",
		"password": "longenoughpw",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	payload := decodeMap(t, rr)
	if payload["access_token"] == "" {
		t.Fatal("expected access token in signup response")
	}

	rr = doJSON(t, router, http.MethodPost, "/auth/login", "", map[string]string{
		"email":    "second@example.com",
		"password": "longenoughpw",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, router, http.MethodPost, "/auth/login", "", map[string]string{
		"email":    "second@example.com",
		"password": "wrongpassword",
	})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad password, got %d", rr.Code)
	}
}

func TestSessionsRequireAuth(t *testing.T) {
	router, _ := setupRouter(t, newMemStore(), newRateLimiterStub())

	rr := doJSON(t, router, http.MethodGet, "/sessions", "", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rr.Code)
	}

	rr = doJSON(t, router, http.MethodGet, "/sessions", "not-a-token", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bogus token, got %d", rr.Code)
	}
}

func TestSessionLifecycle(t *testing.T) {
	router, token := setupRouter(t, newMemStore(), newRateLimiterStub())

	rr := doJSON(t, router, http.MethodPost, "/sessions", token, map[string]string{
		"candidate_name": "Jordan Alvarez",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	created := decodeMap(t, rr)
	sessionID, _ := created["id"].(string)
	if sessionID == "" {
		t.Fatal("expected session id")
	}
	if created["candidate_name"] != "Jordan Alvarez" {
		t.Fatalf("unexpected candidate_name: %v", created["candidate_name"])
	}
	if _, ok := created["ended_at"]; ok {
		t.Fatal("new session must not carry ended_at")
	}

	rr = doJSON(t, router, http.MethodGet, "/sessions", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var list []map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list) != 1 || list[0]["id"] != sessionID {
		t.Fatalf("expected one listed session %s, got %v", sessionID, list)
	}

	rr = doJSON(t, router, http.MethodPost, "/sessions/"+sessionID+"/stop", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 on stop, got %d: %s", rr.Code, rr.Body.String())
	}
	stopped := decodeMap(t, rr)
	if _, ok := stopped["ended_at"].(string); !ok {
		t.Fatal("expected ended_at after stop")
	}

	rr = doJSON(t, router, http.MethodPost, "/sessions/"+sessionID+"/stop", token, nil)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 on double stop, got %d", rr.Code)
	}
}

func TestSessionPatchAllowList(t *testing.T) {
	router, token := setupRouter(t, newMemStore(), newRateLimiterStub())

	rr := doJSON(t, router, http.MethodPost, "/sessions", token, map[string]string{"candidate_name": "A"})
	sessionID := decodeMap(t, rr)["id"].(string)

	rr = doJSON(t, router, http.MethodPatch, "/sessions/"+sessionID, token, map[string]string{
		"candidate_name": "Renamed Candidate",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if decodeMap(t, rr)["candidate_name"] != "Renamed Candidate" {
		t.Fatal("patch did not apply candidate_name")
	}

	rr = doJSON(t, router, http.MethodPatch, "/sessions/"+sessionID, token, map[string]any{
		"proctor_id": "someone-else",
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for disallowed field, got %d", rr.Code)
	}

	rr = doJSON(t, router, http.MethodPatch, "/sessions/"+sessionID, token, map[string]any{
		"integrity_score": 0,
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for client-set score, got %d", rr.Code)
	}

	rr = doJSON(t, router, http.MethodPatch, "/sessions/"+sessionID, token, map[string]any{})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty patch, got %d", rr.Code)
	}
}

func TestSessionOwnership(t *testing.T) {
	store := newMemStore()
	router, token := setupRouter(t, store, newRateLimiterStub())

	rr := doJSON(t, router, http.MethodPost, "/auth/signup", "", map[string]string{
		"email":    "rival@example.com",
		"password": "anotherlongpw",
	})
	rivalToken := decodeMap(t, rr)["access_token"].(string)

	rr = doJSON(t, router, http.MethodPost, "/sessions", token, map[string]string{"candidate_name": "B"})
	sessionID := decodeMap(t, rr)["id"].(string)

	rr = doJSON(t, router, http.MethodGet, "/sessions/"+sessionID, rivalToken, nil)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for foreign session, got %d", rr.Code)
	}

	rr = doJSON(t, router, http.MethodGet, "/sessions/"+sessionID, token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for owner, got %d", rr.Code)
	}

	rr = doJSON(t, router, http.MethodGet, "/sessions/does-not-exist", token, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown session, got %d", rr.Code)
	}

	batch := map[string]any{"events": []map[string]any{
		{"type": "PHONE_DETECTED", "offset_ms": 100},
	}}
	rr = doJSON(t, router, http.MethodPost, "/sessions/"+sessionID+"/events", rivalToken, batch)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for foreign event ingest, got %d", rr.Code)
	}
	rr = doJSON(t, router, http.MethodGet, "/sessions/"+sessionID+"/report", token, nil)
	if decodeMap(t, rr)["total_events"].(float64) != 0 {
		t.Fatal("foreign events must not be stored")
	}
	rr = doJSON(t, router, http.MethodPost, "/sessions/"+sessionID+"/events", token, batch)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202 for owner ingest, got %d", rr.Code)
	}
}

func TestEventIngestAndListing(t *testing.T) {
	router, token := setupRouter(t, newMemStore(), newRateLimiterStub())

	rr := doJSON(t, router, http.MethodPost, "/sessions", token, map[string]string{"candidate_name": "C"})
	sessionID := decodeMap(t, rr)["id"].(string)

	confidence := 0.91
	batch := map[string]any{
		"events": []map[string]any{
			{"type": "PHONE_DETECTED", "offset_ms": 4000, "confidence": confidence},
			{"type": "NO_FACE", "offset_ms": 1500},
		},
	}
	rr = doJSON(t, router, http.MethodPost, "/sessions/"+sessionID+"/events", token, batch)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
	if count := decodeMap(t, rr)["count"].(float64); count != 2 {
		t.Fatalf("expected count 2, got %v", count)
	}

	rr = doJSON(t, router, http.MethodGet, "/sessions/"+sessionID+"/events", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var events []map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &events); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0]["type"] != "NO_FACE" || events[1]["type"] != "PHONE_DETECTED" {
		t.Fatalf("expected offset ordering, got %v then %v", events[0]["type"], events[1]["type"])
	}

	rr = doJSON(t, router, http.MethodPost, "/sessions/"+sessionID+"/events", token, map[string]any{
		"events": []map[string]any{{"type": "NO_FACE", "offset_ms": -5}},
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for negative offset, got %d", rr.Code)
	}

	rr = doJSON(t, router, http.MethodPost, "/sessions/"+sessionID+"/events", token, map[string]any{
		"events": []map[string]any{},
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty batch, got %d", rr.Code)
	}
}

func TestReportEndpoint(t *testing.T) {
	router, token := setupRouter(t, newMemStore(), newRateLimiterStub())

	rr := doJSON(t, router, http.MethodPost, "/sessions", token, map[string]string{"candidate_name": "D"})
	sessionID := decodeMap(t, rr)["id"].(string)

	var batch []map[string]any
	for i := 0; i < 3; i++ {
		batch = append(batch, map[string]any{"type": "NO_FACE", "offset_ms": 1000 * (i + 1)})
	}
	doJSON(t, router, http.MethodPost, "/sessions/"+sessionID+"/events", token, map[string]any{"events": batch})
	doJSON(t, router, http.MethodPost, "/sessions/"+sessionID+"/stop", token, nil)

	rr = doJSON(t, router, http.MethodGet, "/sessions/"+sessionID+"/report", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	payload := decodeMap(t, rr)
	if score := payload["integrity_score"].(float64); score != 85 {
		t.Fatalf("expected score 85 for 3x NO_FACE, got %v", score)
	}
	if total := payload["total_events"].(float64); total != 3 {
		t.Fatalf("expected 3 total events, got %v", total)
	}

	rr = doJSON(t, router, http.MethodGet, "/sessions/"+sessionID+"/report.csv", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for csv, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "text/csv" {
		t.Fatalf("expected text/csv, got %q", ct)
	}
	if !strings.Contains(rr.Body.String(), "NO_FACE,3,15") {
		t.Fatalf("csv missing breakdown row: %s", rr.Body.String())
	}
}

func TestRecordingUploadAndDownload(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(bytes.NewBuffer(nil), nil))
	store := newMemStore()
	cfg := config.API{JWTSecret: "test-secret", AccessTokenTTLMin: 60}
	authSvc := auth.New(store, logger, cfg)
	sessionSvc := session.New(store, logger)
	ingestSvc := ingest.New(store, store, nil, logger)
	assembler := report.NewAssembler(store, store, nil, 50, 200, logger)
	blobs, err := blobstore.New(t.TempDir())
	if err != nil {
		t.Fatalf("blobstore: %v", err)
	}
	router := NewRouter(logger, authSvc, sessionSvc, ingestSvc, assembler, blobs, newRateLimiterStub(), nil)
	t.Cleanup(router.Close)

	_, tok, err := authSvc.Signup(context.Background(), "uploader@example.com", "hunter2hunter2")
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	token := tok.AccessToken

	rr := doJSON(t, router, http.MethodPost, "/sessions", token, map[string]string{"candidate_name": "E"})
	sessionID := decodeMap(t, rr)["id"].(string)

	var form bytes.Buffer
	writer := multipart.NewWriter(&form)
	part, err := writer.CreateFormFile("recording", "capture.webm")
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	if _, err := part.Write([]byte("webm-bytes")); err != nil {
		t.Fatalf("write part: %v", err)
	}
	writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/sessions/"+sessionID+"/recording", &form)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	ref := decodeMap(t, rec)["recording_ref"]
	if ref != sessionID+".webm" {
		t.Fatalf("unexpected recording ref: %v", ref)
	}

	rr = doJSON(t, router, http.MethodGet, "/sessions/"+sessionID, token, nil)
	if decodeMap(t, rr)["recording_ref"] != sessionID+".webm" {
		t.Fatal("recording ref not attached to session")
	}

	rr = doJSON(t, router, http.MethodGet, "/sessions/"+sessionID+"/recording", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if rr.Body.String() != "webm-bytes" {
		t.Fatalf("unexpected recording body: %q", rr.Body.String())
	}
}

func TestRateLimitExceeded(t *testing.T) {
	limiter := newRateLimiterStub()
	reset := time.Unix(1_950_000_000, 0)
	limiter.allowFn = func(key string, limit int, window time.Duration) rateDecision {
		return rateDecision{allowed: false, count: limit, windowEnd: reset}
	}
	router, token := setupRouter(t, newMemStore(), limiter)

	rr := doJSON(t, router, http.MethodGet, "/sessions", token, nil)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if got := rr.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Fatalf("unexpected remaining header: %q", got)
	}
	if got := rr.Header().Get("X-RateLimit-Reset"); got != "1950000000" {
		t.Fatalf("unexpected reset header: %q", got)
	}
	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	if len(limiter.calls) == 0 || !strings.HasPrefix(limiter.calls[len(limiter.calls)-1], "proctor:") {
		t.Fatalf("expected proctor-scoped key, calls: %v", limiter.calls)
	}
}

func TestMemoryRateLimiterWindow(t *testing.T) {
	rl := NewMemoryRateLimiter()
	t.Cleanup(rl.Close)

	for i := 0; i < 3; i++ {
		decision := rl.Allow("proctor:abc", 3, time.Minute)
		if !decision.allowed {
			t.Fatalf("request %d should be allowed", i)
		}
	}
	if decision := rl.Allow("proctor:abc", 3, time.Minute); decision.allowed {
		t.Fatal("fourth request should be rejected")
	}
	if decision := rl.Allow("proctor:other", 3, time.Minute); !decision.allowed {
		t.Fatal("different key must not share the window")
	}
}

func TestHealthz(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(bytes.NewBuffer(nil), nil))
	store := newMemStore()
	cfg := config.API{JWTSecret: "test-secret", AccessTokenTTLMin: 60}
	authSvc := auth.New(store, logger, cfg)
	sessionSvc := session.New(store, logger)
	ingestSvc := ingest.New(store, store, nil, logger)
	assembler := report.NewAssembler(store, store, nil, 50, 200, logger)

	healthy := func(context.Context) error { return nil }
	router := NewRouter(logger, authSvc, sessionSvc, ingestSvc, assembler, nil, newRateLimiterStub(), healthy)
	t.Cleanup(router.Close)

	rr := doJSON(t, router, http.MethodGet, "/healthz", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if decodeMap(t, rr)["status"] != "ok" {
		t.Fatalf("expected ok status: %s", rr.Body.String())
	}

	down := func(context.Context) error { return fmt.Errorf("connection refused") }
	router2 := NewRouter(logger, authSvc, sessionSvc, ingestSvc, assembler, nil, newRateLimiterStub(), down)
	t.Cleanup(router2.Close)

	rr = doJSON(t, router2, http.MethodGet, "/healthz", "", nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when db down, got %d", rr.Code)
	}
	if decodeMap(t, rr)["status"] != "degraded" {
		t.Fatalf("expected degraded status: %s", rr.Body.String())
	}
}
