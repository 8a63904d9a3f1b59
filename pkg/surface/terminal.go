package surface

import (
	"fmt"
	"io"
	"os"
)

// TerminalRenderer renders a Summary as colored terminal output.
type TerminalRenderer struct{}

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
)

// maxKeys bounds the keys listed before eliding the rest.
const maxKeys = 10

func statusColor(s Status) string {
	if s == StatusOK {
		return colorGreen
	}
	return colorYellow
}

func noColor() bool {
	_, ok := os.LookupEnv("NO_COLOR")
	return ok
}

func bold(s string) string {
	if noColor() {
		return s
	}
	return colorBold + s + colorReset
}

func dim(s string) string {
	if noColor() {
		return s
	}
	return colorDim + s + colorReset
}

func colored(s, color string) string {
	if noColor() || color == "" {
		return s
	}
	return color + s + colorReset
}

func (r *TerminalRenderer) Render(w io.Writer, s *Summary) error {
	fmt.Fprintf(w, "%s %s\n", bold(s.Job), colored(string(s.Status), statusColor(s.Status)))

	width := 0
	for _, c := range s.Counts {
		width = max(width, len(c.Name))
	}
	for _, c := range s.Counts {
		fmt.Fprintf(w, "  %-*s %d\n", width, c.Name, c.Value)
	}

	for i, k := range s.Keys {
		if i == maxKeys {
			fmt.Fprintf(w, "  %s\n", dim(fmt.Sprintf("... and %d more", len(s.Keys)-maxKeys)))
			break
		}
		fmt.Fprintf(w, "  %s %s\n", colored("●", colorGreen), k)
	}

	for _, n := range s.Notes {
		fmt.Fprintf(w, "  %s %s\n", colored("!", colorYellow), n)
	}
	_, err := fmt.Fprintln(w)
	return err
}
