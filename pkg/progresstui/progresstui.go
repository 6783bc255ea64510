// Package progresstui is an optional live terminal view of a restore
// in progress, implementing pkg/restore.Sink. It reuses lazydocker's
// gocui + go-throttle event-loop shape (pkg/gui/gui.go: a single view
// re-rendered through a throttled redraw function driven by
// g.Update), scaled down from a full multi-panel TUI to one
// scroll-free status view, without copying any panel/view file.
package progresstui

import (
	"fmt"
	"sync"
	"time"

	throttle "github.com/boz/go-throttle"
	"github.com/jesseduffield/gocui"

	"github.com/kraklabs/unitcache/pkg/restore"
)

const viewName = "progress"

// View renders restore progress to a gocui terminal view: a done/total
// line, one line with the count of every outcome kind, and a trailing
// line for the most recent failure.
type View struct {
	mu        sync.Mutex
	total     int
	counts    map[restore.Outcome]int
	lastFail  string
	g         *gocui.Gui
	throttled throttle.ThrottleDriver
}

// New creates a progress view for a restore run of exactly total
// units (used to render a "done so far / total" line).
func New(total int) *View {
	return &View{total: total, counts: map[restore.Outcome]int{}}
}

// OnUnit implements pkg/restore.Sink.
func (v *View) OnUnit(res restore.UnitResult) {
	v.mu.Lock()
	v.counts[res.Outcome]++
	if res.Outcome == restore.Failed && res.Err != nil {
		v.lastFail = fmt.Sprintf("%s: %v", res.Hash, res.Err)
	}
	v.mu.Unlock()

	if v.throttled != nil {
		v.throttled.Trigger()
	}
}

// Run opens the gocui view and blocks until done is closed or the
// user presses q/Ctrl-C.
func (v *View) Run(done <-chan struct{}) error {
	g, err := gocui.NewGui(gocui.OutputTrue, false, gocui.NORMAL, false, map[rune]string{})
	if err != nil {
		return err
	}
	defer g.Close()
	v.g = g

	g.SetManager(gocui.ManagerFunc(v.layout))

	if err := g.SetKeybinding("", 'q', gocui.ModNone, quit); err != nil {
		return err
	}
	if err := g.SetKeybinding("", gocui.KeyCtrlC, gocui.ModNone, quit); err != nil {
		return err
	}

	v.throttled = throttle.ThrottleFunc(50*time.Millisecond, true, v.redraw)
	defer v.throttled.Stop()

	go func() {
		<-done
		g.Update(func(g *gocui.Gui) error { return gocui.ErrQuit })
	}()

	if err := g.MainLoop(); err != nil && err != gocui.ErrQuit {
		return err
	}
	return nil
}

func quit(g *gocui.Gui, view *gocui.View) error {
	return gocui.ErrQuit
}

func (v *View) redraw() {
	if v.g == nil {
		return
	}
	v.g.Update(func(g *gocui.Gui) error { return nil })
}

func (v *View) layout(g *gocui.Gui) error {
	width, height := g.Size()
	view, err := g.SetView(viewName, 0, 0, width-1, height-1, 0)
	if err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		view.Title = "restore progress"
		view.Wrap = true
	}
	view.Clear()
	fmt.Fprint(view, v.Summary())
	return nil
}

// Summary renders the current progress text, independent of gocui so
// it can be exercised without a live terminal.
func (v *View) Summary() string {
	v.mu.Lock()
	defer v.mu.Unlock()

	done := v.counts[restore.Restored] + v.counts[restore.Skipped] + v.counts[restore.Miss] + v.counts[restore.Failed]
	s := fmt.Sprintf("%d/%d units processed\n", done, v.total)
	s += fmt.Sprintf("  restored: %d  skipped: %d  miss: %d  failed: %d\n",
		v.counts[restore.Restored], v.counts[restore.Skipped], v.counts[restore.Miss], v.counts[restore.Failed])
	if v.lastFail != "" {
		s += fmt.Sprintf("last failure: %s\n", v.lastFail)
	}
	return s
}
