package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/matt-riley/surveyz/internal/core"
	"github.com/matt-riley/surveyz/internal/middleware"
	"github.com/matt-riley/surveyz/internal/repository"
	"github.com/matt-riley/surveyz/internal/service"
)

const (
	defaultStreamPollInterval       = time.Second
	defaultMaxJSONBodyBytes   int64 = 1 << 20
)

var (
	errJSONBodyTooLarge  = errors.New("json request body too large")
	errMissingProjectCtx = errors.New("project not resolved")
)

// HTTPServer serves the SDK-facing API.
type HTTPServer struct {
	service            Service
	metrics            Metrics
	streamPollInterval time.Duration
	maxJSONBodySize    int64
}

// HTTPOption configures an [HTTPServer].
type HTTPOption func(*HTTPServer)

func WithStreamPollInterval(interval time.Duration) HTTPOption {
	return func(s *HTTPServer) {
		if interval > 0 {
			s.streamPollInterval = interval
		}
	}
}

// WithMaxJSONBodySize caps request bodies; larger bodies get 413.
func WithMaxJSONBodySize(size int64) HTTPOption {
	return func(s *HTTPServer) {
		if size > 0 {
			s.maxJSONBodySize = size
		}
	}
}

// WithHTTPMetrics records request metrics and serves /metrics.
func WithHTTPMetrics(m Metrics) HTTPOption {
	return func(s *HTTPServer) { s.metrics = m }
}

type eventTriggerRequest struct {
	Event string  `json:"event"`
	Value *string `json:"value,omitempty"`
}

type pageTriggerRequest struct {
	Page string `json:"page"`
}

type triggerResponse struct {
	Matched bool              `json:"matched"`
	Result  *core.MatchResult `json:"result,omitempty"`
}

// NewHTTPHandler returns the public API handler. Routes under /v1/ expect the
// project to be resolved by the bearer auth middleware.
func NewHTTPHandler(svc Service, opts ...HTTPOption) http.Handler {
	if svc == nil {
		panic("service is nil")
	}

	s := &HTTPServer{
		service:            svc,
		streamPollInterval: defaultStreamPollInterval,
		maxJSONBodySize:    defaultMaxJSONBodyBytes,
	}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/config", s.handleGetConfig)
	mux.HandleFunc("POST /v1/triggers/event", s.handleEventTrigger)
	mux.HandleFunc("POST /v1/triggers/page", s.handlePageTrigger)
	mux.HandleFunc("GET /v1/stream", s.handleStream)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
		return s.withMetrics(mux)
	}

	return mux
}

func (s *HTTPServer) withMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		s.metrics.ObserveHTTPRequest(r.Method, route, rec.status, time.Since(start))
	})
}

func (s *HTTPServer) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	projectID, ok := middleware.ProjectIDFromContext(r.Context())
	if !ok {
		writeServiceError(w, errMissingProjectCtx)
		return
	}

	cfg, err := s.service.GetConfig(r.Context(), projectID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, cfg)
}

func (s *HTTPServer) handleEventTrigger(w http.ResponseWriter, r *http.Request) {
	projectID, ok := middleware.ProjectIDFromContext(r.Context())
	if !ok {
		writeServiceError(w, errMissingProjectCtx)
		return
	}

	var request eventTriggerRequest
	if err := decodeJSONBody(w, r, &request, s.maxJSONBodySize); err != nil {
		writeJSONDecodeError(w, err)
		return
	}
	if strings.TrimSpace(request.Event) == "" {
		writeJSONError(w, http.StatusBadRequest, "event is required")
		return
	}

	res, matched, err := s.service.OnEvent(r.Context(), projectID, request.Event, request.Value)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toTriggerResponse(res, matched))
}

func (s *HTTPServer) handlePageTrigger(w http.ResponseWriter, r *http.Request) {
	projectID, ok := middleware.ProjectIDFromContext(r.Context())
	if !ok {
		writeServiceError(w, errMissingProjectCtx)
		return
	}

	var request pageTriggerRequest
	if err := decodeJSONBody(w, r, &request, s.maxJSONBodySize); err != nil {
		writeJSONDecodeError(w, err)
		return
	}
	if strings.TrimSpace(request.Page) == "" {
		writeJSONError(w, http.StatusBadRequest, "page is required")
		return
	}

	res, matched, err := s.service.PageOpened(r.Context(), projectID, request.Page)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toTriggerResponse(res, matched))
}

func toTriggerResponse(res core.MatchResult, matched bool) triggerResponse {
	if !matched {
		return triggerResponse{}
	}
	return triggerResponse{Matched: true, Result: &res}
}

func (s *HTTPServer) handleStream(w http.ResponseWriter, r *http.Request) {
	projectID, ok := middleware.ProjectIDFromContext(r.Context())
	if !ok {
		writeServiceError(w, errMissingProjectCtx)
		return
	}

	lastEventID, err := parseLastEventID(r.Header.Get("Last-Event-ID"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid Last-Event-ID")
		return
	}

	rc := http.NewResponseController(w)
	flush := func() error { return rc.Flush() }

	currentEventID := lastEventID
	writeEvents := func(events []repository.PlanEvent) error {
		for _, event := range events {
			currentEventID = event.EventID
			eventName := toSSEEventName(event.EventType)
			if eventName == "" {
				continue
			}

			payload := event.Payload
			if len(payload) == 0 {
				payload = []byte(`{}`)
			}

			if err := writeSSEEvent(w, event.EventID, eventName, payload); err != nil {
				return err
			}
			if err := flush(); err != nil {
				return err
			}
		}

		return nil
	}

	initialEvents, err := s.service.ListEventsSince(r.Context(), projectID, currentEventID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := flush(); err != nil {
		return
	}

	if s.metrics != nil {
		s.metrics.StreamOpened("sse")
		defer s.metrics.StreamClosed("sse")
	}

	if err := writeEvents(initialEvents); err != nil {
		return
	}

	ticker := time.NewTicker(s.streamPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			events, err := s.service.ListEventsSince(r.Context(), projectID, currentEventID)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return
				}
				writeSSEError(w, flush, serviceErrorMessage(err))
				return
			}
			if err := writeEvents(events); err != nil {
				return
			}
		}
	}
}

func (s *HTTPServer) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func parseLastEventID(value string) (int64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}

	eventID, err := strconv.ParseInt(value, 10, 64)
	if err != nil || eventID < 0 {
		return 0, errors.New("invalid event id")
	}

	return eventID, nil
}

func toSSEEventName(eventType string) string {
	switch strings.ToLower(strings.TrimSpace(eventType)) {
	case "update", service.EventTypeUpdated:
		return "update"
	case "delete", service.EventTypeDeleted:
		return "delete"
	case service.EventTypeSDKConfigUpdated:
		return "sdk_config"
	default:
		return ""
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	writeJSONError(w, httpStatusForError(err), serviceErrorMessage(err))
}

func httpStatusForError(err error) int {
	switch {
	case errors.Is(err, errMissingProjectCtx):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrInvalidConditions),
		errors.Is(err, service.ErrInvalidPresentation),
		errors.Is(err, service.ErrInvalidSDKConfig),
		errors.Is(err, service.ErrProjectIDRequired),
		errors.Is(err, service.ErrPlanIDRequired):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrPlanNotFound), errors.Is(err, errProjectNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrPlanExists):
		return http.StatusConflict
	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func serviceErrorMessage(err error) string {
	switch {
	case errors.Is(err, errMissingProjectCtx):
		return "unauthorized"
	case errors.Is(err, service.ErrInvalidConditions):
		return "invalid trigger conditions"
	case errors.Is(err, service.ErrInvalidPresentation):
		return "invalid survey presentation"
	case errors.Is(err, service.ErrInvalidSDKConfig):
		return "invalid sdk config"
	case errors.Is(err, service.ErrProjectIDRequired):
		return "project id is required"
	case errors.Is(err, service.ErrPlanIDRequired):
		return "plan id is required"
	case errors.Is(err, service.ErrPlanNotFound):
		return "plan not found"
	case errors.Is(err, errProjectNotFound):
		return "not found"
	case errors.Is(err, service.ErrPlanExists):
		return "plan already exists"
	case errors.Is(err, context.Canceled):
		return "request canceled"
	default:
		return "internal server error"
	}
}

func writeSSEError(w io.Writer, flush func() error, message string) {
	payload, err := json.Marshal(map[string]string{"error": message})
	if err != nil {
		payload = []byte(`{"error":"internal server error"}`)
	}
	_, _ = fmt.Fprintf(w, "event: error\ndata: %s\n\n", payload)
	_ = flush()
}

func writeSSEEvent(w io.Writer, eventID int64, eventName string, payload []byte) error {
	dataLines := compactSSEPayload(payload)
	if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\n", eventID, eventName); err != nil {
		return err
	}

	for _, line := range dataLines {
		if _, err := fmt.Fprintf(w, "data: %s\n", line); err != nil {
			return err
		}
	}

	_, err := fmt.Fprint(w, "\n")
	return err
}

func compactSSEPayload(payload []byte) []string {
	var compact bytes.Buffer
	if err := json.Compact(&compact, payload); err == nil {
		return []string{compact.String()}
	}

	return strings.Split(string(payload), "\n")
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSONDecodeError(w http.ResponseWriter, err error) {
	if errors.Is(err, errJSONBodyTooLarge) {
		writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any, limit int64) error {
	if r.Body == nil {
		return io.EOF
	}

	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit))
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		return normalizeJSONDecodeError(err)
	}

	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("request body must contain a single JSON object")
		}
		return normalizeJSONDecodeError(err)
	}

	return nil
}

func normalizeJSONDecodeError(err error) error {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return errJSONBodyTooLarge
	}
	return err
}
