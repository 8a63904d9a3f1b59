// Package webhook accepts signed automation events: job triggers from
// external schedulers and app registrations from the onboarding process.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/reviewlake/reviewlake/internal/lease"
	"github.com/reviewlake/reviewlake/internal/scheduler"
	"github.com/reviewlake/reviewlake/pkg/review"
)

// Registrar records newly tracked apps.
type Registrar interface {
	Register(ctx context.Context, p review.Platform, apps []review.TrackedApp) (int, error)
}

// Handler processes incoming webhook events.
type Handler struct {
	secret    []byte
	runner    *scheduler.Runner
	registrar Registrar
	log       zerolog.Logger
}

// NewHandler creates a new webhook Handler. registrar may be nil, in which
// case apps events are rejected.
func NewHandler(secret []byte, runner *scheduler.Runner, registrar Registrar, log zerolog.Logger) *Handler {
	return &Handler{
		secret:    secret,
		runner:    runner,
		registrar: registrar,
		log:       log.With().Str("component", "webhook").Logger(),
	}
}

// ServeHTTP handles incoming webhook requests.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 10<<20)) // 10 MB limit
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	if len(h.secret) == 0 {
		http.Error(w, "webhook secret not configured", http.StatusServiceUnavailable)
		return
	}
	if err := VerifySignature(body, r.Header.Get("X-Reviewlake-Signature-256"), h.secret); err != nil {
		h.log.Warn().Err(err).Msg("webhook signature verification failed")
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	eventType := r.Header.Get("X-Reviewlake-Event")
	if eventType == "" {
		http.Error(w, "missing X-Reviewlake-Event header", http.StatusBadRequest)
		return
	}

	event, err := ParseEvent(eventType, body)
	if err != nil {
		h.log.Warn().Err(err).Str("event", eventType).Msg("webhook parse error")
		http.Error(w, "unsupported event", http.StatusBadRequest)
		return
	}

	status, msg := http.StatusAccepted, "accepted"
	switch e := event.(type) {
	case *PingEvent:
		status, msg = http.StatusOK, "pong"
	case *RunEvent:
		status, err = h.handleRun(e)
	case *AppsEvent:
		status, err = h.handleApps(r.Context(), e)
	}
	if err != nil {
		h.log.Error().Err(err).Str("event", eventType).Msg("handle webhook event")
		http.Error(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = fmt.Fprintf(w, "{\"status\":%q}\n", msg)
}

func (h *Handler) handleRun(e *RunEvent) (int, error) {
	if h.runner == nil {
		return http.StatusServiceUnavailable, errors.New("no jobs configured")
	}
	runID, err := h.runner.Start(e.Job)
	switch {
	case errors.Is(err, scheduler.ErrUnknownJob):
		return http.StatusNotFound, fmt.Errorf("unknown job %q", e.Job)
	case errors.Is(err, scheduler.ErrRunning):
		return http.StatusConflict, fmt.Errorf("%s is already running", e.Job)
	case err != nil:
		return http.StatusInternalServerError, err
	}
	h.log.Info().Str("job", e.Job).Str("run_id", runID).Str("requested_by", e.RequestedBy).Msg("run triggered by webhook")
	return http.StatusAccepted, nil
}

func (h *Handler) handleApps(ctx context.Context, e *AppsEvent) (int, error) {
	if h.registrar == nil {
		return http.StatusServiceUnavailable, errors.New("app registration not configured")
	}
	p, err := review.ParsePlatform(e.Platform)
	if err != nil {
		return http.StatusBadRequest, err
	}
	n, err := h.registrar.Register(ctx, p, e.Apps)
	if errors.Is(err, lease.ErrHeld) {
		return http.StatusConflict, fmt.Errorf("a %s run is in progress, retry later: %w", p, err)
	}
	if err != nil {
		return http.StatusInternalServerError, fmt.Errorf("register %s apps: %w", p, err)
	}
	h.log.Info().Str("platform", string(p)).Int("received", len(e.Apps)).Int("staged", n).Msg("apps registered by webhook")
	return http.StatusAccepted, nil
}
