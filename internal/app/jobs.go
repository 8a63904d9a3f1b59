package app

import (
	"context"
	"fmt"

	"github.com/reviewlake/reviewlake/internal/scheduler"
	"github.com/reviewlake/reviewlake/pkg/review"
)

// Stage names combine with a platform into job names such as
// "ingest-android".
const (
	StageIngest  = "ingest"
	StagePromote = "promote"
	StageEnrich  = "enrich"
	StageOnboard = "onboard"
)

// JobName returns the job name of a stage on a platform.
func JobName(stage string, p review.Platform) string {
	return stage + "-" + string(p)
}

// Jobs returns every runnable job keyed by name.
func (a *App) Jobs() map[string]scheduler.Job {
	jobs := make(map[string]scheduler.Job)
	for _, p := range review.Platforms() {
		jobs[JobName(StageIngest, p)] = func(ctx context.Context) error {
			_, err := a.Ingestion(p).Run(ctx)
			return err
		}
		jobs[JobName(StagePromote, p)] = func(ctx context.Context) error {
			_, err := a.Promoter(p).Run(ctx)
			return err
		}
		jobs[JobName(StageEnrich, p)] = func(ctx context.Context) error {
			job, err := a.EnrichJob(ctx, p)
			if err != nil {
				return err
			}
			_, err = job.Run(ctx)
			return err
		}
		jobs[JobName(StageOnboard, p)] = func(ctx context.Context) error {
			n, err := a.Onboard(ctx, p)
			if err != nil {
				return err
			}
			a.log.Info().Str("platform", string(p)).Msgf("Staged %d registry apps for ingestion", n)
			return nil
		}
	}
	return jobs
}

// Schedule registers every configured cron spec on s. Unknown job names
// are a configuration error.
func (a *App) Schedule(s *scheduler.Scheduler) error {
	jobs := a.Jobs()
	for name, spec := range a.cfg.Schedule.Jobs {
		job, ok := jobs[name]
		if !ok {
			return fmt.Errorf("schedule.jobs: unknown job %q", name)
		}
		if spec == "" || spec == "-" {
			continue
		}
		if err := s.Register(name, spec, job); err != nil {
			return err
		}
	}
	return nil
}
