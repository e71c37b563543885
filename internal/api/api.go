package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sourcegraph/conc"

	"github.com/joescharf/prguard/internal/github"
	"github.com/joescharf/prguard/internal/guardrail"
	"github.com/joescharf/prguard/internal/models"
	"github.com/joescharf/prguard/internal/observability"
	"github.com/joescharf/prguard/internal/pipeline"
	"github.com/joescharf/prguard/internal/prcontext"
	"github.com/joescharf/prguard/internal/store"
)

// DefaultEventTimeout bounds the background work for one webhook delivery.
const DefaultEventTimeout = 5 * time.Minute

// Pipeline is the part of the engine the webhook drives.
type Pipeline interface {
	Guardrails(ctx context.Context, repo models.Repo, ev prcontext.Event, name string) ([]*models.Check, error)
	Ingest(ctx context.Context, repo models.Repo, ev prcontext.Event, reviewID int64) (*pipeline.IngestResult, error)
}

// RunStore is the read side of the run ledger.
type RunStore interface {
	GetRun(ctx context.Context, id string) (*models.Run, error)
	ListRuns(ctx context.Context, filter store.RunListFilter) ([]*models.Run, error)
	ListChildIssues(ctx context.Context, repo string, parent int) ([]*models.ChildIssueRecord, error)
}

// Server provides the webhook receiver and the read-only REST API.
type Server struct {
	pipeline     Pipeline
	runs         RunStore
	secret       []byte
	logger       *slog.Logger
	eventTimeout time.Duration

	// work tracks in-flight webhook processing.
	work conc.WaitGroup
}

// NewServer creates a new API server. runs may be nil, in which case the
// run endpoints answer 503. An empty secret rejects every delivery.
func NewServer(p Pipeline, runs RunStore, secret string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	observability.InitMetrics()
	return &Server{
		pipeline:     p,
		runs:         runs,
		secret:       []byte(secret),
		logger:       logger,
		eventTimeout: DefaultEventTimeout,
	}
}

// Router returns an http.Handler for all routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.healthz)
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/webhook/github", s.webhook)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Get("/runs", s.listRuns)
		r.Get("/runs/{id}", s.getRun)
		r.Get("/children", s.listChildren)
	})
	return r
}

// Wait blocks until every accepted webhook delivery has been processed.
func (s *Server) Wait() {
	s.work.Wait()
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"elapsed", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}

// --- Webhook ---

var guardrailActions = map[string]bool{
	"opened":           true,
	"synchronize":      true,
	"reopened":         true,
	"edited":           true,
	"ready_for_review": true,
}

func (s *Server) webhook(w http.ResponseWriter, r *http.Request) {
	eventType := github.WebHookType(r)

	if len(s.secret) == 0 {
		observability.WebhookEvents.WithLabelValues(eventType, "rejected").Inc()
		s.logger.Error("webhook secret not configured")
		writeError(w, http.StatusUnauthorized, "webhook secret not configured")
		return
	}
	payload, err := github.ValidatePayload(r, s.secret)
	if err != nil {
		observability.WebhookEvents.WithLabelValues(eventType, "rejected").Inc()
		s.logger.Warn("invalid webhook signature", "event", eventType, "err", err)
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	ev, err := github.ParseEvent(eventType, payload)
	if err != nil {
		observability.WebhookEvents.WithLabelValues(eventType, "bad_payload").Inc()
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job := s.route(ev)
	if job == nil {
		observability.WebhookEvents.WithLabelValues(eventType, "ignored").Inc()
		s.logger.Debug("event ignored", "event", eventType, "action", ev.Action)
		w.WriteHeader(http.StatusNoContent)
		return
	}

	observability.WebhookEvents.WithLabelValues(eventType, "accepted").Inc()
	s.logger.Info("event accepted", "event", eventType, "action", ev.Action, "repo", ev.Repo.String(), "pr", ev.PRNumber)

	// Deliveries must be answered quickly; the work outlives the request.
	ctx := context.WithoutCancel(r.Context())
	s.work.Go(func() {
		ctx, cancel := context.WithTimeout(ctx, s.eventTimeout)
		defer cancel()
		if err := job(ctx); err != nil {
			observability.WebhookEvents.WithLabelValues(eventType, "failed").Inc()
			s.logger.Error("event processing failed", "event", eventType, "repo", ev.Repo.String(), "pr", ev.PRNumber, "err", err)
			return
		}
		observability.WebhookEvents.WithLabelValues(eventType, "processed").Inc()
	})

	writeJSON(w, http.StatusAccepted, map[string]any{"event": eventType, "action": ev.Action, "pr": ev.PRNumber})
}

// route picks the work for an event, or nil when the event is not acted on.
func (s *Server) route(ev *github.Event) func(context.Context) error {
	if ev.PR == nil || ev.Repo.IsZero() {
		return nil
	}
	pr := prcontext.DirectPREvent{PR: ev.PR}

	switch ev.Type {
	case "pull_request":
		if !guardrailActions[ev.Action] {
			return nil
		}
		return func(ctx context.Context) error {
			_, err := s.pipeline.Guardrails(ctx, ev.Repo, pr, "all")
			return err
		}
	case "pull_request_review":
		if ev.Action != "submitted" || ev.Review == nil {
			return nil
		}
		return func(ctx context.Context) error {
			_, ingestErr := s.pipeline.Ingest(ctx, ev.Repo, pr, ev.Review.ID)
			// A new approval can override a failing test-ratio verdict.
			_, guardErr := s.pipeline.Guardrails(ctx, ev.Repo, pr, guardrail.CheckTestRatio)
			return errors.Join(ingestErr, guardErr)
		}
	}
	return nil
}

// --- Runs ---

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "run store not available")
		return
	}
	q := r.URL.Query()
	filter := store.RunListFilter{
		Repo: q.Get("repo"),
		Kind: models.RunKind(q.Get("kind")),
	}
	var err error
	if filter.PRNumber, err = intParam(q.Get("pr")); err != nil {
		writeError(w, http.StatusBadRequest, "invalid pr")
		return
	}
	if filter.Limit, err = intParam(q.Get("limit")); err != nil {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	if filter.Limit == 0 {
		filter.Limit = 50
	}

	runs, err := s.runs.ListRuns(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []*models.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "run store not available")
		return
	}
	run, err := s.runs.GetRun(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) listChildren(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "run store not available")
		return
	}
	q := r.URL.Query()
	parent, err := intParam(q.Get("parent"))
	if err != nil || parent <= 0 || q.Get("repo") == "" {
		writeError(w, http.StatusBadRequest, "repo and parent are required")
		return
	}
	recs, err := s.runs.ListChildIssues(r.Context(), q.Get("repo"), parent)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if recs == nil {
		recs = []*models.ChildIssueRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New("invalid integer")
	}
	return n, nil
}
