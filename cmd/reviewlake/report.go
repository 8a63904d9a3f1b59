package main

import (
	"fmt"
	"io"

	"github.com/reviewlake/reviewlake/internal/enrich"
	"github.com/reviewlake/reviewlake/internal/ingestion"
	"github.com/reviewlake/reviewlake/internal/promotion"
	"github.com/reviewlake/reviewlake/pkg/surface"
)

func render(w io.Writer, format string, s *surface.Summary) error {
	r, ok := surface.ForFormat(format)
	if !ok {
		return fmt.Errorf("unknown output format %q (want text or json)", format)
	}
	return r.Render(w, s)
}

func status(failed int) surface.Status {
	if failed > 0 {
		return surface.StatusDegraded
	}
	return surface.StatusOK
}

func ingestionSummary(job string, r *ingestion.Report) *surface.Summary {
	return &surface.Summary{
		Job:    job,
		Status: status(r.Failed),
		Counts: []surface.Count{
			{Name: "apps", Value: r.Apps},
			{Name: "skipped", Value: r.Skipped},
			{Name: "failed", Value: r.Failed},
			{Name: "reviews", Value: r.Reviews},
			{Name: "advanced", Value: r.Advanced},
		},
		Keys:  r.Keys,
		Notes: []string{fmt.Sprintf("run %s at %s", r.RunID, r.RunAt.Format("2006-01-02T15:04:05Z07:00"))},
	}
}

func promotionSummary(job string, r *promotion.Report) *surface.Summary {
	s := &surface.Summary{
		Job:    job,
		Status: status(r.Failed),
		Counts: []surface.Count{
			{Name: "promoted", Value: r.Promoted},
			{Name: "empty", Value: r.Empty},
			{Name: "missing", Value: r.Missing},
			{Name: "failed", Value: r.Failed},
			{Name: "rows", Value: r.Rows},
		},
		Keys: r.Artifacts,
	}
	for _, k := range r.Leftover {
		s.Notes = append(s.Notes, "landing blob left after cleanup: "+k)
	}
	return s
}

func enrichmentSummary(job string, r *enrich.Report) *surface.Summary {
	return &surface.Summary{
		Job:    job,
		Status: status(r.Failed),
		Counts: []surface.Count{
			{Name: "artifacts", Value: r.Artifacts},
			{Name: "skipped", Value: r.Skipped},
			{Name: "failed", Value: r.Failed},
			{Name: "rows", Value: r.Rows},
			{Name: "inserted", Value: r.Inserted},
		},
	}
}

func onboardSummary(job string, staged int) *surface.Summary {
	return &surface.Summary{
		Job:    job,
		Status: surface.StatusOK,
		Counts: []surface.Count{{Name: "staged", Value: staged}},
	}
}
