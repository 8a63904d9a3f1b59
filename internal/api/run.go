package api

import (
	"errors"
	"net/http"

	"github.com/reviewlake/reviewlake/internal/scheduler"
)

func (h *Handler) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if h.runner == nil {
		writeJSON(w, http.StatusOK, map[string]any{"jobs": []string{}, "running": []string{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":    h.runner.Jobs(),
		"running": h.runner.Running(),
	})
}

func (h *Handler) handleRun(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("job")
	if h.runner == nil {
		writeError(w, http.StatusServiceUnavailable, "no jobs configured")
		return
	}

	runID, err := h.runner.Start(name)
	switch {
	case errors.Is(err, scheduler.ErrUnknownJob):
		writeError(w, http.StatusNotFound, "unknown job "+name)
		return
	case errors.Is(err, scheduler.ErrRunning):
		writeError(w, http.StatusConflict, name+" is already running")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.log.Info().Str("job", name).Str("run_id", runID).Msg("manual run requested")
	writeJSON(w, http.StatusAccepted, map[string]string{"job": name, "run_id": runID, "status": "started"})
}
