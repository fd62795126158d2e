package cmd

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

var (
	okColor   = lipgloss.Color("#50FA7B")
	failColor = lipgloss.Color("#FF5555")
	dimColor  = lipgloss.Color("#6272A4")

	statusStyle  = lipgloss.NewStyle()
	successStyle = lipgloss.NewStyle().Bold(true).Foreground(okColor)
	failureStyle = lipgloss.NewStyle().Bold(true).Foreground(failColor)
	percentStyle = lipgloss.NewStyle().Foreground(dimColor)
)

type statusKind int

const (
	kindProgress statusKind = iota
	kindSuccess
	kindFailure
)

// classify maps a status line to how it is rendered.
func classify(text string) statusKind {
	switch {
	case text == "Update complete.":
		return kindSuccess
	case text == "Update aborted.",
		strings.HasPrefix(text, "Update failed"),
		strings.HasPrefix(text, "CRC error"),
		text == "Could not open archive",
		text == "Archive type is unsupported":
		return kindFailure
	default:
		return kindProgress
	}
}

// terminalObserver prints status lines and redraws a single progress bar
// line while a download is running.
type terminalObserver struct {
	mu     sync.Mutex
	out    io.Writer
	bar    progress.Model
	inBar  bool
	last   int
	silent bool
}

func newTerminalObserver(out io.Writer, plain, silent bool) *terminalObserver {
	opts := []progress.Option{progress.WithDefaultGradient(), progress.WithWidth(40), progress.WithoutPercentage()}
	if plain {
		opts = append(opts, progress.WithColorProfile(termenv.Ascii), progress.WithFillCharacters('#', '-'))
	}
	return &terminalObserver{out: out, bar: progress.New(opts...), last: -1, silent: silent}
}

func (o *terminalObserver) Status(text string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	kind := classify(text)
	if o.silent && kind != kindFailure {
		return
	}
	o.endBar()
	switch kind {
	case kindSuccess:
		text = successStyle.Render(text)
	case kindFailure:
		text = failureStyle.Render(text)
	default:
		text = statusStyle.Render(text)
	}
	fmt.Fprintln(o.out, text)
}

func (o *terminalObserver) Progress(percent int) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.silent || percent == o.last {
		return
	}
	o.last = percent
	o.inBar = true
	fmt.Fprintf(o.out, "\r%s %s", o.bar.ViewAs(float64(percent)/100), percentStyle.Render(fmt.Sprintf("%3d%%", percent)))
}

// endBar terminates a progress line so the next status starts clean.
func (o *terminalObserver) endBar() {
	if o.inBar {
		fmt.Fprintln(o.out)
		o.inBar = false
	}
}
