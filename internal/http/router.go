package httpx

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skaldera/vigil/internal/blobstore"
	"github.com/skaldera/vigil/internal/domain"
	"github.com/skaldera/vigil/internal/report"
	"github.com/skaldera/vigil/internal/repository"
	"github.com/skaldera/vigil/internal/service/auth"
	"github.com/skaldera/vigil/internal/service/ingest"
	"github.com/skaldera/vigil/internal/service/session"
	"github.com/skaldera/vigil/internal/ws"
)

// Router wires HTTP endpoints to services.
type Router struct {
	mux      *http.ServeMux
	logger   *slog.Logger
	auth     auth.Service
	sessions session.Service
	ingest   *ingest.Service
	reports  *report.Assembler
	blobs    *blobstore.Store
	upgrader websocket.Upgrader
	limiter  RateLimiter
	dbHealth func(context.Context) error

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
	eventsIngested     *prometheus.CounterVec
}

const (
	rateWindowDefault  = time.Minute
	rateWindowRealtime = 30 * time.Second
	rateLimitSignup    = 5
	rateLimitLogin     = 12
	rateLimitWrite     = 60
	rateLimitRead      = 120
	rateLimitIngest    = 600
	rateLimitStream    = 30
	rateLimitUpload    = 10
	healthCheckTimeout = 2 * time.Second
	maxRecordingBytes  = 512 << 20
)

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, authSvc auth.Service, sessionSvc session.Service, ingestSvc *ingest.Service, reports *report.Assembler, blobs *blobstore.Store, limiter RateLimiter, dbHealth func(context.Context) error) *Router {
	r := &Router{
		mux:      http.NewServeMux(),
		logger:   logger,
		auth:     authSvc,
		sessions: sessionSvc,
		ingest:   ingestSvc,
		reports:  reports,
		blobs:    blobs,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:  limiter,
		dbHealth: dbHealth,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to the underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.audit(r.handleHealthz))
	r.mux.Handle("/metrics", promhttp.Handler())
	r.mux.HandleFunc("/auth/signup", r.audit(r.withRateLimit("auth_signup", rateLimitSignup, rateWindowDefault, rateLimitKeyIP, r.handleSignup)))
	r.mux.HandleFunc("/auth/login", r.audit(r.withRateLimit("auth_login", rateLimitLogin, rateWindowDefault, rateLimitKeyIP, r.handleLogin)))
	r.mux.HandleFunc("/sessions", r.audit(r.handlerAuthRate("sessions", rateLimitWrite, rateWindowDefault, r.handleSessions)))
	r.mux.HandleFunc("/sessions/", r.audit(r.handleSessionSubroutes))
	r.mux.HandleFunc("/ws/events", r.audit(r.handlerAuthRate("ws_events", rateLimitStream, rateWindowRealtime, r.handleEventsWS)))
	r.mux.HandleFunc("/sse/events", r.audit(r.handlerAuthRate("sse_events", rateLimitStream, rateWindowRealtime, r.handleEventsSSE)))
}

func (r *Router) handleSignup(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	proctor, token, err := r.auth.Signup(req.Context(), payload.Email, payload.Password)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"proctor": map[string]any{
			"id":    proctor.ID,
			"email": proctor.Email,
		},
		"access_token": token.AccessToken,
		"expires_in":   int64(token.ExpiresIn.Seconds()),
	})
}

func (r *Router) handleLogin(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	proctor, token, err := r.auth.Login(req.Context(), payload.Email, payload.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"proctor": map[string]any{
			"id":    proctor.ID,
			"email": proctor.Email,
		},
		"access_token": token.AccessToken,
		"expires_in":   int64(token.ExpiresIn.Seconds()),
	})
}

func (r *Router) handleSessions(w http.ResponseWriter, req *http.Request) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing for sessions route", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	switch req.Method {
	case http.MethodPost:
		var payload struct {
			CandidateName string `json:"candidate_name"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		created, err := r.sessions.Start(req.Context(), info.ProctorID, payload.CandidateName)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, sessionPayload(*created))
	case http.MethodGet:
		limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(req.URL.Query().Get("offset"))
		sessions, err := r.sessions.List(req.Context(), info.ProctorID, limit, offset)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		payload := make([]map[string]any, 0, len(sessions))
		for _, s := range sessions {
			payload = append(payload, sessionPayload(s))
		}
		writeJSON(w, http.StatusOK, payload)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleSessionSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.TrimPrefix(req.URL.Path, "/sessions/")
	parts := strings.Split(trimmed, "/")
	sessionID := parts[0]
	if sessionID == "" {
		r.notFound(w)
		return
	}
	route := func(name string, limit int, handler func(http.ResponseWriter, *http.Request, string)) {
		r.handlerAuthRate(name, limit, rateWindowDefault, func(w http.ResponseWriter, req *http.Request) {
			handler(w, req, sessionID)
		})(w, req)
	}
	if len(parts) == 1 {
		switch req.Method {
		case http.MethodGet:
			route("session_get", rateLimitRead, r.handleSessionGet)
		case http.MethodPatch:
			route("session_patch", rateLimitWrite, r.handleSessionPatch)
		default:
			r.methodNotAllowed(w)
		}
		return
	}
	if len(parts) != 2 {
		r.notFound(w)
		return
	}
	switch parts[1] {
	case "stop":
		route("session_stop", rateLimitWrite, r.handleSessionStop)
	case "events":
		switch req.Method {
		case http.MethodPost:
			route("events_ingest", rateLimitIngest, r.handleEventsPost)
		case http.MethodGet:
			route("events_list", rateLimitRead, r.handleEventsGet)
		default:
			r.methodNotAllowed(w)
		}
	case "report":
		route("report", rateLimitRead, r.handleReport)
	case "report.csv":
		route("report_csv", rateLimitRead, r.handleReportCSV)
	case "recording":
		switch req.Method {
		case http.MethodPost:
			route("recording_upload", rateLimitUpload, r.handleRecordingUpload)
		case http.MethodGet:
			route("recording_get", rateLimitRead, r.handleRecordingGet)
		default:
			r.methodNotAllowed(w)
		}
	default:
		r.notFound(w)
	}
}

func (r *Router) handleSessionGet(w http.ResponseWriter, req *http.Request, sessionID string) {
	info, _ := authInfoFromContext(req.Context())
	found, err := r.sessions.Get(req.Context(), info.ProctorID, sessionID)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sessionPayload(*found))
}

func (r *Router) handleSessionPatch(w http.ResponseWriter, req *http.Request, sessionID string) {
	info, _ := authInfoFromContext(req.Context())
	var payload struct {
		CandidateName *string `json:"candidate_name"`
		EndedAt       *string `json:"ended_at"`
		RecordingRef  *string `json:"recording_ref"`
	}
	decoder := json.NewDecoder(req.Body)
	// The patchable fields are a fixed allow-list; anything else in the
	// body is rejected outright.
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid or disallowed patch field")
		return
	}
	patch := domain.SessionPatch{
		CandidateName: payload.CandidateName,
		RecordingRef:  payload.RecordingRef,
	}
	if payload.EndedAt != nil {
		parsed, err := time.Parse(time.RFC3339Nano, *payload.EndedAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid ended_at timestamp")
			return
		}
		utc := parsed.UTC()
		patch.EndedAt = &utc
	}
	updated, err := r.sessions.Patch(req.Context(), info.ProctorID, sessionID, patch)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sessionPayload(*updated))
}

func (r *Router) handleSessionStop(w http.ResponseWriter, req *http.Request, sessionID string) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	info, _ := authInfoFromContext(req.Context())
	var payload struct {
		RecordingRef string `json:"recording_ref"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	stopped, err := r.sessions.Stop(req.Context(), info.ProctorID, sessionID, payload.RecordingRef)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sessionPayload(*stopped))
}

func (r *Router) handleEventsPost(w http.ResponseWriter, req *http.Request, sessionID string) {
	info, _ := authInfoFromContext(req.Context())
	if _, err := r.sessions.Get(req.Context(), info.ProctorID, sessionID); err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	var payload struct {
		Events []eventInput `json:"events"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	events := make([]domain.Event, 0, len(payload.Events))
	for i, input := range payload.Events {
		event, err := input.toDomain()
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("event %d: %s", i, err))
			return
		}
		events = append(events, event)
	}
	if err := r.ingest.Append(req.Context(), sessionID, events); err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	ingested := make(map[string]int, len(events))
	for _, event := range events {
		ingested[string(event.Type)]++
	}
	r.recordEventsIngested(ingested)
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "stored", "count": len(events)})
}

func (r *Router) handleEventsGet(w http.ResponseWriter, req *http.Request, sessionID string) {
	info, _ := authInfoFromContext(req.Context())
	if _, err := r.sessions.Get(req.Context(), info.ProctorID, sessionID); err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	events, err := r.ingest.List(req.Context(), sessionID, limit)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	payload := make([]map[string]any, 0, len(events))
	for _, event := range events {
		payload = append(payload, eventPayload(event))
	}
	writeJSON(w, http.StatusOK, payload)
}

func (r *Router) handleReport(w http.ResponseWriter, req *http.Request, sessionID string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	info, _ := authInfoFromContext(req.Context())
	if _, err := r.sessions.Get(req.Context(), info.ProctorID, sessionID); err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	built, err := r.reports.Build(req.Context(), sessionID)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, reportPayload(built))
}

func (r *Router) handleReportCSV(w http.ResponseWriter, req *http.Request, sessionID string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	info, _ := authInfoFromContext(req.Context())
	if _, err := r.sessions.Get(req.Context(), info.ProctorID, sessionID); err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	built, err := r.reports.BuildExport(req.Context(), sessionID)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "report-"+sessionID+".csv"))
	if err := report.WriteCSV(w, built); err != nil {
		r.logger.Error("csv export failed", "session_id", sessionID, "error", err)
	}
}

func (r *Router) handleRecordingUpload(w http.ResponseWriter, req *http.Request, sessionID string) {
	info, _ := authInfoFromContext(req.Context())
	if _, err := r.sessions.Get(req.Context(), info.ProctorID, sessionID); err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	req.Body = http.MaxBytesReader(w, req.Body, maxRecordingBytes)
	file, header, err := req.FormFile("recording")
	if err != nil {
		writeError(w, http.StatusBadRequest, "recording file required")
		return
	}
	defer file.Close()
	ext := "webm"
	if idx := strings.LastIndex(header.Filename, "."); idx >= 0 {
		ext = header.Filename[idx+1:]
	}
	ref, err := r.blobs.SaveRecording(sessionID, ext, file)
	if err != nil {
		r.logger.Error("recording upload failed", "session_id", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "recording upload failed, retry the upload")
		return
	}
	// An attach failure leaves the session valid with a missing recording
	// reference; the stored blob stays put so a retry only redoes the patch.
	if err := r.sessions.AttachRecording(req.Context(), info.ProctorID, sessionID, ref); err != nil {
		r.logger.Error("recording attach failed", "session_id", sessionID, "recording_ref", ref, "error", err)
		writeError(w, http.StatusInternalServerError, "recording stored but not attached, retry the upload")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"recording_ref": ref})
}

func (r *Router) handleRecordingGet(w http.ResponseWriter, req *http.Request, sessionID string) {
	info, _ := authInfoFromContext(req.Context())
	found, err := r.sessions.Get(req.Context(), info.ProctorID, sessionID)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	if found.RecordingRef == "" {
		writeError(w, http.StatusNotFound, "session has no recording")
		return
	}
	blob, err := r.blobs.Open(found.RecordingRef)
	if err != nil {
		writeError(w, http.StatusNotFound, "recording blob unavailable")
		return
	}
	defer blob.Close()
	w.Header().Set("Content-Type", "video/webm")
	if _, err := io.Copy(w, blob); err != nil {
		r.logger.Warn("recording stream interrupted", "session_id", sessionID, "error", err)
	}
}

func (r *Router) handleEventsWS(w http.ResponseWriter, req *http.Request) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing for events websocket", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	sessionID := req.URL.Query().Get("session_id")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id query parameter required")
		return
	}
	if _, err := r.sessions.Get(req.Context(), info.ProctorID, sessionID); err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	r.ingest.Hub().Register(sessionID, client)
	go func() {
		defer func() {
			r.ingest.Hub().Unregister(sessionID, client)
			client.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (r *Router) handleEventsSSE(w http.ResponseWriter, req *http.Request) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing for events sse", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	sessionID := req.URL.Query().Get("session_id")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id query parameter required")
		return
	}
	if _, err := r.sessions.Get(req.Context(), info.ProctorID, sessionID); err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	client := ws.NewSSEClient(w, flusher, r.logger)
	r.ingest.Hub().Register(sessionID, client)
	defer func() {
		r.ingest.Hub().Unregister(sessionID, client)
		client.Close()
	}()

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()
	for {
		select {
		case <-req.Context().Done():
			return
		case <-heartbeat.C:
			if err := client.Heartbeat(); err != nil {
				return
			}
		}
	}
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

// eventInput is the wire form of one ingested event.
type eventInput struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	OffsetMS   int64           `json:"offset_ms"`
	Confidence *float64        `json:"confidence"`
	Metadata   json.RawMessage `json:"metadata"`
	CreatedAt  string          `json:"created_at"`
}

func (in eventInput) toDomain() (domain.Event, error) {
	event := domain.Event{
		ID:         strings.TrimSpace(in.ID),
		Type:       domain.EventType(strings.TrimSpace(in.Type)),
		OffsetMS:   in.OffsetMS,
		Confidence: in.Confidence,
		Metadata:   in.Metadata,
	}
	if in.CreatedAt != "" {
		parsed, err := time.Parse(time.RFC3339Nano, in.CreatedAt)
		if err != nil {
			return domain.Event{}, errors.New("invalid created_at timestamp")
		}
		event.CreatedAt = parsed.UTC()
	}
	return event, nil
}

func sessionPayload(s domain.Session) map[string]any {
	payload := map[string]any{
		"id":             s.ID,
		"proctor_id":     s.ProctorID,
		"candidate_name": s.CandidateName,
		"started_at":     s.StartedAt.UTC().Format(time.RFC3339Nano),
		"recording_ref":  s.RecordingRef,
	}
	if s.EndedAt != nil {
		payload["ended_at"] = s.EndedAt.UTC().Format(time.RFC3339Nano)
	}
	if s.IntegrityScore != nil {
		payload["integrity_score"] = *s.IntegrityScore
	}
	return payload
}

func eventPayload(e domain.Event) map[string]any {
	var metadata any
	if len(e.Metadata) > 0 {
		metadata = json.RawMessage(e.Metadata)
	}
	return map[string]any{
		"id":         e.ID,
		"session_id": e.SessionID,
		"type":       e.Type,
		"offset_ms":  e.OffsetMS,
		"confidence": e.Confidence,
		"metadata":   metadata,
		"created_at": e.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func reportPayload(built *report.Report) map[string]any {
	breakdown := make([]map[string]any, 0, len(built.Breakdown))
	for _, row := range built.Breakdown {
		breakdown = append(breakdown, map[string]any{
			"type":      row.Type,
			"count":     row.Count,
			"deduction": row.Deduction,
		})
	}
	timeline := make([]map[string]any, 0, len(built.Timeline))
	for _, event := range built.Timeline {
		timeline = append(timeline, eventPayload(event))
	}
	counts := make(map[string]int, len(built.Counts))
	for eventType, count := range built.Counts {
		counts[string(eventType)] = count
	}
	return map[string]any{
		"session":            sessionPayload(built.Session),
		"integrity_score":    built.Score,
		"breakdown":          breakdown,
		"counts":             counts,
		"total_events":       built.TotalEvents,
		"duration_ms":        built.DurationMS,
		"duration_estimated": built.DurationEstimated,
		"timeline":           timeline,
		"timeline_limit":     built.TimelineLimit,
		"generated_at":       built.GeneratedAt.Format(time.RFC3339Nano),
	}
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, session.ErrAlreadyStopped):
		return http.StatusConflict
	case errors.Is(err, repository.ErrEmptyPatch),
		errors.Is(err, ingest.ErrEmptyBatch),
		errors.Is(err, ingest.ErrBatchTooLarge),
		errors.Is(err, ingest.ErrInvalidEvent):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (r *Router) audit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		ctx := recorder.ctx
		if ctx == nil {
			ctx = req.Context()
		}
		duration := time.Since(start)
		actor := "anonymous"
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}
		if info, ok := authInfoFromContext(ctx); ok {
			actor = "proctor"
			fields = append(fields, "proctor_id", info.ProctorID)
		}
		fields = append(fields, "actor", actor)

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
		r.recordRequestMetrics(req.Method, req.URL.Path, status, duration)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	ctx    context.Context
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) SetContext(ctx context.Context) {
	sr.ctx = ctx
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

func (r *Router) applyRateHeaders(w http.ResponseWriter, limit int, decision rateDecision) {
	if limit <= 0 {
		return
	}
	remaining := limit - decision.count
	if remaining < 0 {
		remaining = 0
	}
	headers := w.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	if !decision.windowEnd.IsZero() {
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(decision.windowEnd.Unix(), 10))
	}
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "resource not found")
}
