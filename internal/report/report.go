// Package report aggregates host results into a fleet summary, persists
// them as a timestamped JSON artifact, and renders the console summary.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jmorrisuk/ufdeploy/internal/install"
)

// Summary aggregates one run's results. Skips are counted separately
// from successes; a skipped host completed its workflow but had nothing
// to do.
type Summary struct {
	Total     int
	Succeeded int
	Skipped   int
	Failed    int
	Results   []install.HostResult
}

// Summarize builds a Summary over the collected results.
func Summarize(results []install.HostResult) Summary {
	s := Summary{Total: len(results), Results: results}
	for _, r := range results {
		switch r.Outcome {
		case install.OutcomeSucceeded:
			s.Succeeded++
		case install.OutcomeSkipped:
			s.Skipped++
		default:
			s.Failed++
		}
	}
	return s
}

// timestampFormat matches the result and log file naming convention.
const timestampFormat = "20060102_150405"

// ResultsFileName returns the per-run result artifact name, timestamped
// so consecutive runs never overwrite each other.
func ResultsFileName(ts time.Time) string {
	return fmt.Sprintf("install_results_%s.json", ts.Format(timestampFormat))
}

// LogFileName returns the per-run log file name.
func LogFileName(ts time.Time) string {
	return fmt.Sprintf("ufdeploy_%s.log", ts.Format(timestampFormat))
}

// WriteResults persists the full ordered result collection as
// pretty-printed JSON.
func WriteResults(path string, results []install.HostResult) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create result file: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(results); err != nil {
		return fmt.Errorf("write result file: %w", err)
	}
	return nil
}

// ANSI color codes.
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

// Renderer writes the human-readable end-of-run summary block.
type Renderer struct {
	Color bool
}

// Render writes the summary block: totals, failed hosts with reasons,
// and the result artifact path.
func (r *Renderer) Render(w io.Writer, s Summary, resultPath string) {
	line := strings.Repeat("=", 60)
	fmt.Fprintln(w, line)
	fmt.Fprintln(w, "installation summary")
	fmt.Fprintln(w, line)

	fmt.Fprintf(w, "total:     %d hosts\n", s.Total)
	fmt.Fprintf(w, "succeeded: %s\n", r.colorize(fmt.Sprintf("%d", s.Succeeded), colorGreen))
	if s.Skipped > 0 {
		fmt.Fprintf(w, "skipped:   %s\n", r.colorize(fmt.Sprintf("%d", s.Skipped), colorYellow))
	}
	fmt.Fprintf(w, "failed:    %s\n", r.colorize(fmt.Sprintf("%d", s.Failed), colorRed))

	if s.Failed > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "failed hosts:")
		for _, res := range s.Results {
			if res.Outcome != install.OutcomeFailed {
				continue
			}
			fmt.Fprintf(w, "  - %s: [%s] %s\n",
				r.colorize(res.Host, colorCyan), res.Stage, res.Message)
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "detailed results written to %s\n", resultPath)
	fmt.Fprintln(w, line)
}

func (r *Renderer) colorize(text, color string) string {
	if !r.Color {
		return text
	}
	return color + text + colorReset
}
