// Package progress prints batch events to a terminal.
package progress

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/lehigh-university-libraries/imagebatch/internal/batch"
	"github.com/lehigh-university-libraries/imagebatch/internal/models"
)

// Theme holds the color scheme for status badges
type Theme struct {
	Pending    lipgloss.Color
	Processing lipgloss.Color
	Done       lipgloss.Color
	Error      lipgloss.Color
	Hint       lipgloss.Color
}

var defaultTheme = Theme{
	Pending:    lipgloss.Color("#6C6C6C"), // dim gray
	Processing: lipgloss.Color("#5FAFD7"), // light blue
	Done:       lipgloss.Color("#00D787"), // green
	Error:      lipgloss.Color("#FF005F"), // red
	Hint:       lipgloss.Color("#6C6C6C"),
}

func (t Theme) badge(status models.ItemStatus) string {
	color := t.Pending
	switch status {
	case models.StatusProcessing:
		color = t.Processing
	case models.StatusDone:
		color = t.Done
	case models.StatusError:
		color = t.Error
	}
	return lipgloss.NewStyle().Foreground(color).Bold(true).Render(fmt.Sprintf("[%s]", status))
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// Printer writes one line per item transition and a final summary
type Printer struct {
	mu    sync.Mutex
	out   io.Writer
	theme Theme
	total int
}

func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out, theme: defaultTheme}
}

// Observe is a batch.Observer
func (p *Printer) Observe(e batch.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch e.Kind {
	case batch.EventState:
		if e.State != nil && e.State.Total > 0 {
			p.total = e.State.Total
		}
	case batch.EventItem:
		if e.Item != nil {
			p.item(*e.Item)
		}
	case batch.EventDone:
		if e.Summary != nil {
			p.summary(*e.Summary)
		}
	}
}

func (p *Printer) item(it models.WorkItem) {
	prefix := fmt.Sprintf("%s %03d/%03d %s", p.theme.badge(it.Status), it.Ordinal(), p.total, it.Prompt)
	switch it.Status {
	case models.StatusDone:
		fmt.Fprintf(p.out, "%s -> %s\n", prefix, it.FileName)
	case models.StatusError:
		fmt.Fprintf(p.out, "%s: %s\n", prefix, it.Error)
	default:
		fmt.Fprintln(p.out, prefix)
	}
}

func (p *Printer) summary(s models.Summary) {
	fmt.Fprintln(p.out)
	fmt.Fprintf(p.out, "%s %d done, %d failed", p.theme.badge(models.StatusDone), s.Done, s.Failed)
	if s.Pending > 0 {
		fmt.Fprintf(p.out, ", %d not started", s.Pending)
	}
	fmt.Fprintf(p.out, " in %s\n", s.Duration.Round(100*time.Millisecond))
	fmt.Fprintln(p.out, p.theme.hintStyle().Render("run "+s.RunID))
}
