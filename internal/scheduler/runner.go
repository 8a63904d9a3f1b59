package scheduler

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	// ErrUnknownJob is returned by Runner.Start for an unregistered name.
	ErrUnknownJob = errors.New("unknown job")
	// ErrRunning is returned by Runner.Start while the job is in flight.
	ErrRunning = errors.New("job already running")
)

// Runner starts named jobs on demand in the background, at most one run
// per job at a time within this process.
type Runner struct {
	ctx  context.Context
	jobs map[string]Job
	log  zerolog.Logger

	mu      sync.Mutex
	running map[string]string
	wg      sync.WaitGroup
}

// NewRunner creates a Runner. Started jobs receive ctx.
func NewRunner(ctx context.Context, jobs map[string]Job, log zerolog.Logger) *Runner {
	return &Runner{
		ctx:     ctx,
		jobs:    jobs,
		log:     log.With().Str("component", "runner").Logger(),
		running: make(map[string]string),
	}
}

// Start launches the named job and returns its run ID.
func (r *Runner) Start(name string) (string, error) {
	job, ok := r.jobs[name]
	if !ok {
		return "", ErrUnknownJob
	}

	r.mu.Lock()
	if _, busy := r.running[name]; busy {
		r.mu.Unlock()
		return "", ErrRunning
	}
	runID := uuid.NewString()
	r.running[name] = runID
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		defer func() {
			r.mu.Lock()
			delete(r.running, name)
			r.mu.Unlock()
		}()

		log := r.log.With().Str("job", name).Str("run_id", runID).Logger()
		start := time.Now()
		log.Info().Msg("manual run started")
		if err := job(r.ctx); err != nil {
			log.Error().Err(err).Dur("took", time.Since(start)).Msg("manual run failed")
			return
		}
		log.Info().Dur("took", time.Since(start)).Msg("manual run finished")
	}()
	return runID, nil
}

// Running returns the names of the jobs in flight.
func (r *Runner) Running() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.running))
	for name := range r.running {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Jobs returns every job name the runner knows.
func (r *Runner) Jobs() []string {
	names := make([]string, 0, len(r.jobs))
	for name := range r.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Wait blocks until every started run has returned.
func (r *Runner) Wait() {
	r.wg.Wait()
}
