// Package summary renders the CLI-facing reports of spec.md §7: a
// compact hit/miss/upload count after every save or restore, plus the
// `unitcache stats` hit-rate sparkline (SPEC_FULL.md's supplemented
// features). Colored counts and column alignment are grounded on
// lazydocker's pkg/utils.ColoredString/WithPadding helpers
// (github.com/fatih/color, github.com/mattn/go-runewidth); the
// sparkline is grounded on pkg/gui/presentation/container_stats.go's
// plotGraph (github.com/jesseduffield/asciigraph).
package summary

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/jesseduffield/asciigraph"
	"github.com/mattn/go-runewidth"

	"github.com/kraklabs/unitcache/pkg/restore"
)

// coloredString mirrors lazydocker's pkg/utils.ColoredString: FgWhite
// is treated as "no color" so light-themed terminals aren't forced
// into an unreadable attribute.
func coloredString(s string, attr color.Attribute) string {
	if attr == color.FgWhite {
		return s
	}
	return color.New(attr).Sprint(s)
}

// withPadding right-pads s to width columns, measuring display width
// with go-runewidth the way lazydocker's table renderer does.
func withPadding(s string, width int) string {
	w := runewidth.StringWidth(s)
	if w >= width {
		return s
	}
	return s + strings.Repeat(" ", width-w)
}

func outcomeLabel(o restore.Outcome) (string, color.Attribute) {
	switch o {
	case restore.Restored:
		return "restored", color.FgGreen
	case restore.Skipped:
		return "skipped", color.FgCyan
	case restore.Miss:
		return "miss", color.FgYellow
	case restore.Failed:
		return "failed", color.FgRed
	default:
		return "unknown", color.FgWhite
	}
}

// RestoreReport accumulates restore.UnitResult counts. It satisfies
// restore.Sink, so a Scheduler can report straight into it.
type RestoreReport struct {
	Counts  map[restore.Outcome]int
	Failed  []restore.UnitResult
	ordered []restore.UnitResult
}

// NewRestoreReport returns an empty report.
func NewRestoreReport() *RestoreReport {
	return &RestoreReport{Counts: map[restore.Outcome]int{}}
}

// OnUnit implements restore.Sink.
func (r *RestoreReport) OnUnit(res restore.UnitResult) {
	r.Counts[res.Outcome]++
	r.ordered = append(r.ordered, res)
	if res.Outcome == restore.Failed {
		r.Failed = append(r.Failed, res)
	}
}

// WriteTo prints the compact hit/miss/failure line spec.md §7 calls
// for, followed by one line per failed unit (individual unit-level
// failures are logged but never block the build).
func (r *RestoreReport) WriteTo(w io.Writer) {
	parts := make([]string, 0, 4)
	for _, o := range []restore.Outcome{restore.Restored, restore.Skipped, restore.Miss, restore.Failed} {
		if r.Counts[o] == 0 {
			continue
		}
		label, attr := outcomeLabel(o)
		parts = append(parts, coloredString(fmt.Sprintf("%d %s", r.Counts[o], label), attr))
	}
	fmt.Fprintln(w, strings.Join(parts, "  "))

	for _, f := range r.Failed {
		label, attr := outcomeLabel(restore.Failed)
		fmt.Fprintf(w, "  %s %s: %v\n", coloredString(label, attr), withPadding(string(f.Hash), 24), f.Err)
	}
}

// SaveReport is the save-side counterpart: how many units were saved
// and how many blobs actually crossed the wire versus were already
// known to the sink.
type SaveReport struct {
	UnitsSaved    int
	BlobsUploaded int
	BlobsSkipped  int
}

// WriteTo prints the compact save summary line.
func (r SaveReport) WriteTo(w io.Writer) {
	fmt.Fprintln(w, coloredString(fmt.Sprintf("saved %d units", r.UnitsSaved), color.FgGreen)+
		fmt.Sprintf("  uploaded %d blobs, %d already cached", r.BlobsUploaded, r.BlobsSkipped))
}

// HitRateGraph renders an ASCII sparkline of recent hit-ratio samples
// (each in [0,1]), mirroring plotGraph's Height/Width/Caption shape
// over cache hit rate instead of container CPU.
func HitRateGraph(samples []float64, width, height int) string {
	if len(samples) == 0 {
		return "no restore history yet"
	}
	if height <= 0 {
		height = 10
	}
	latest := samples[len(samples)-1]
	caption := fmt.Sprintf("hit rate: %.0f%%", latest*100)
	return asciigraph.Plot(samples,
		asciigraph.Height(height),
		asciigraph.Width(width),
		asciigraph.Min(0),
		asciigraph.Max(1),
		asciigraph.Caption(caption),
	)
}
