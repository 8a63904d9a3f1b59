// Package surface renders pipeline run summaries for humans and machines.
package surface

import "io"

// Status is the overall outcome of a run.
type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded" // finished with per-app or per-artifact failures
)

// Count is one named figure of a summary.
type Count struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

// Summary describes one finished run.
type Summary struct {
	Job    string   `json:"job"`
	Status Status   `json:"status"`
	Counts []Count  `json:"counts"`
	Keys   []string `json:"keys,omitempty"`
	Notes  []string `json:"notes,omitempty"`
}

// Renderer produces formatted output from a Summary.
type Renderer interface {
	Render(w io.Writer, s *Summary) error
}

// ForFormat returns the renderer of an output format name.
func ForFormat(format string) (Renderer, bool) {
	switch format {
	case "text", "":
		return &TerminalRenderer{}, true
	case "json":
		return &JSONRenderer{}, true
	}
	return nil, false
}
