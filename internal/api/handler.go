// Package api implements the daemon's HTTP surface: health, read-only views
// of the bronze zone, and manual job triggers.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/reviewlake/reviewlake/internal/blob"
	"github.com/reviewlake/reviewlake/internal/scheduler"
	"github.com/reviewlake/reviewlake/pkg/review"
)

// Zone gives read access to one platform's bronze data.
type Zone struct {
	Metadata AppReader
	Bronze   blob.Bucket
	Prefix   string
}

// Options configures a Handler.
type Options struct {
	Zones  map[review.Platform]Zone
	Runner *scheduler.Runner
	// Next reports upcoming scheduled runs; optional.
	Next      func() map[string]time.Time
	CacheSize int
	Logger    zerolog.Logger
}

// Handler is the top-level API handler for the daemon.
type Handler struct {
	zones  map[review.Platform]Zone
	runner *scheduler.Runner
	next   func() map[string]time.Time
	cache  *ArtifactCache
	log    zerolog.Logger
}

// NewHandler creates a new API handler.
func NewHandler(opts Options) *Handler {
	return &Handler{
		zones:  opts.Zones,
		runner: opts.Runner,
		next:   opts.Next,
		cache:  NewArtifactCache(opts.CacheSize),
		log:    opts.Logger.With().Str("component", "api").Logger(),
	}
}

// RegisterRoutes registers the public read routes on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.handleHealth)
	mux.HandleFunc("GET /api/apps/{platform}", h.handleListApps)
	mux.HandleFunc("GET /api/artifacts/{platform}", h.handleListArtifacts)
	mux.HandleFunc("GET /api/reviews/{platform}/{key...}", h.handleGetReviews)
}

// RegisterInternalRoutes registers the job trigger routes on mux. Callers
// wrap mux with authentication.
func (h *Handler) RegisterInternalRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /internal/jobs", h.handleListJobs)
	mux.HandleFunc("POST /internal/run/{job}", h.handleRun)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok"}
	if h.next != nil {
		resp["next_runs"] = h.next()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) zone(w http.ResponseWriter, r *http.Request) (review.Platform, Zone, bool) {
	p, err := review.ParsePlatform(r.PathValue("platform"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return "", Zone{}, false
	}
	z, ok := h.zones[p]
	if !ok {
		writeError(w, http.StatusNotFound, "platform not configured")
		return "", Zone{}, false
	}
	return p, z, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
