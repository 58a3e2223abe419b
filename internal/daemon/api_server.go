package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"scribe/internal/api"
	"scribe/internal/assistant"
	"scribe/internal/config"
	"scribe/internal/logging"
	"scribe/internal/progress"
	"scribe/internal/retrieval"
	"scribe/internal/services"
)

const (
	maxRequestBytes     = 1 << 20
	defaultProgressWait = 25 * time.Second
)

type apiServer struct {
	bind   string
	token  string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	if logger == nil {
		logger = logging.NewNop()
	}
	srv := &apiServer{
		bind:   strings.TrimSpace(cfg.Paths.APIBind),
		token:  strings.TrimSpace(cfg.Paths.APIToken),
		logger: logger.With(logging.String(logging.FieldComponent, "api-server")),
		daemon: d,
	}
	srv.server = &http.Server{
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/jobs", s.handleListJobs)
	mux.HandleFunc("POST /api/jobs", s.handleSubmit)
	mux.HandleFunc("GET /api/jobs/{id}", s.handleJob)
	mux.HandleFunc("POST /api/jobs/{id}/cancel", s.handleCancel)
	mux.HandleFunc("POST /api/jobs/{id}/retry", s.handleRetry)
	mux.HandleFunc("GET /api/media/{id}", s.handleMedia)
	mux.HandleFunc("POST /api/search", s.handleSearch)
	mux.HandleFunc("POST /api/ask", s.handleAsk)
	mux.HandleFunc("GET /api/progress", s.handleProgress)
	if b := s.daemon.comp.Broadcaster; b != nil {
		mux.Handle("GET /api/progress/ws", progress.WebSocketHandler(b, s.logger))
	}
	mux.Handle("GET /metrics", s.daemon.comp.Metrics.Handler())
	return authMiddleware(s.token, mux)
}

func (s *apiServer) start(ctx context.Context) error {
	if s.bind == "" {
		s.logger.Info("api server disabled", logging.Args(logging.DecisionAttrs("api_server", "skip", "api_bind empty")...)...)
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener
	s.server.BaseContext = func(net.Listener) context.Context { return ctx }

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()
	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s.listener == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
	s.listener = nil
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.daemon.Status(r.Context())
	s.writeJSON(w, http.StatusOK, api.DaemonStatus{
		Running:      status.Running,
		PID:          status.PID,
		DatabasePath: status.DatabasePath,
		LockFilePath: status.LockFilePath,
		Workflow:     api.FromStatusSummary(status.Workflow),
		Dependencies: api.FromDependencies(status.Dependencies),
	})
}

func (s *apiServer) handleListJobs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	var statuses []string
	for _, value := range query["status"] {
		for part := range strings.SplitSeq(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				statuses = append(statuses, trimmed)
			}
		}
	}
	mediaID, err := optionalInt(query.Get("media_id"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid media_id")
		return
	}
	limit, err := optionalInt(query.Get("limit"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	jobs, err := s.service().ListJobs(r.Context(), statuses, mediaID, int(limit))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.JobListResponse{Jobs: jobs})
}

func (s *apiServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req api.SubmitRequest
	if !s.decode(w, r, &req) {
		return
	}
	resp, err := s.service().Submit(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, resp)
}

func (s *apiServer) handleJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.service().DescribeJob(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.JobResponse{Job: *job})
}

func (s *apiServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	job, err := s.service().CancelJob(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, api.JobResponse{Job: *job})
}

func (s *apiServer) handleRetry(w http.ResponseWriter, r *http.Request) {
	job, err := s.service().RetryJob(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, api.JobResponse{Job: *job})
}

func (s *apiServer) handleMedia(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, http.StatusBadRequest, "invalid media id")
		return
	}
	media, err := s.service().DescribeMedia(r.Context(), id, flag(r.URL.Query().Get("transcript")))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.MediaResponse{Media: *media})
}

func (s *apiServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req retrieval.Request
	if !s.decode(w, r, &req) {
		return
	}
	resp, err := s.service().Search(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req assistant.Request
	if !s.decode(w, r, &req) {
		return
	}
	resp, err := s.service().Ask(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) handleProgress(w http.ResponseWriter, r *http.Request) {
	b := s.daemon.comp.Broadcaster
	if b == nil {
		s.writeJSON(w, http.StatusOK, api.ProgressResponse{Events: []progress.Event{}})
		return
	}
	query := r.URL.Query()
	since, err := strconv.ParseUint(defaultString(query.Get("since"), "0"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid since")
		return
	}
	mediaID, err := optionalInt(query.Get("media_id"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid media_id")
		return
	}
	limit, err := optionalInt(query.Get("limit"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}

	ctx := r.Context()
	wait := flag(query.Get("wait"))
	if wait {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultProgressWait)
		defer cancel()
	}
	events, next, err := b.History().Fetch(ctx, since, int(limit), mediaID, wait)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if events == nil {
		events = []progress.Event{}
	}
	s.writeJSON(w, http.StatusOK, api.ProgressResponse{Events: events, Next: next})
}

func (s *apiServer) service() *api.Service {
	return s.daemon.comp.Service
}

func (s *apiServer) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, api.ErrorResponse{Error: message})
}

func (s *apiServer) writeServiceError(w http.ResponseWriter, err error) {
	details := services.Details(err)
	status := httpStatus(details.Kind)
	if status >= http.StatusInternalServerError {
		s.logger.Warn("api request failed",
			logging.Error(err),
			logging.String(logging.FieldErrorKind, string(details.Kind)),
			logging.String(logging.FieldEventType, "api_request_failed"),
		)
	}
	message := details.Message
	if message == "" {
		message = err.Error()
	}
	s.writeJSON(w, status, api.ErrorResponse{Error: message, Kind: string(details.Kind), Hint: details.Hint})
}

func httpStatus(kind services.ErrorKind) int {
	switch kind {
	case services.KindValidation, services.KindPolicy:
		return http.StatusBadRequest
	case services.KindNotFound:
		return http.StatusNotFound
	case services.KindConfiguration:
		return http.StatusServiceUnavailable
	case services.KindTransient:
		return http.StatusServiceUnavailable
	case services.KindTimeout:
		return http.StatusGatewayTimeout
	case services.KindExternalTool:
		return http.StatusBadGateway
	case services.KindCancelled:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func optionalInt(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || value < 0 {
		return 0, fmt.Errorf("invalid integer %q", raw)
	}
	return value, nil
}

func flag(raw string) bool {
	return raw == "1" || strings.EqualFold(raw, "true")
}

func defaultString(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
