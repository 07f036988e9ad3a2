// Package spinner provides a terminal spinner with ticker-style status display.
// It shows a spinning indicator alongside the latest captured line of a run,
// updating in place without polluting the terminal buffer.
package spinner

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// Spinner displays a spinner with ticker-style status updates.
// Lines passed to Update appear next to the spinner; only the latest one
// is shown, so Update never blocks and drops lines the display cannot keep
// up with.
type Spinner struct {
	title   string
	program *tea.Program
	lineCh  chan string
	done    chan struct{}
	started chan struct{}
	stop    sync.Once
	output  io.Writer
}

// New creates a new Spinner that writes to the given output (typically os.Stderr).
// If output is nil, os.Stderr is used. The title is shown before the status line.
func New(output io.Writer, title string) *Spinner {
	if output == nil {
		output = os.Stderr
	}

	return &Spinner{
		title:   title,
		lineCh:  make(chan string, 1),
		done:    make(chan struct{}),
		started: make(chan struct{}),
		output:  output,
	}
}

// Enabled reports whether a spinner can be drawn on f.
func Enabled(f *os.File) bool {
	return f != nil && term.IsTerminal(int(f.Fd()))
}

// Update sets the status line. It is safe to call from any goroutine and
// never blocks.
func (s *Spinner) Update(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	for {
		select {
		case <-s.done:
			return
		case s.lineCh <- line:
			return
		default:
		}
		// Replace the pending line with the newer one
		select {
		case <-s.lineCh:
		default:
		}
	}
}

// Start begins the spinner display. This blocks until Stop() is called.
// Call this in a goroutine if you need to do work while the spinner runs.
func (s *Spinner) Start() error {
	// Get terminal width for truncation
	width := 80 // default
	if f, ok := s.output.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 0 {
			width = w
		}
	}

	m := newModel(s.title, s.lineCh, s.done, width)

	s.program = tea.NewProgram(m,
		tea.WithOutput(s.output),
		tea.WithInput(nil),
		tea.WithoutSignalHandler(), // Let parent handle signals
	)
	close(s.started)

	select {
	case <-s.done:
		// Stopped before the program ran
		return nil
	default:
	}

	_, err := s.program.Run()
	return err
}

// Stop stops the spinner and cleans up resources.
// The spinner line is cleared from the terminal.
func (s *Spinner) Stop() {
	s.stop.Do(func() {
		close(s.done)

		select {
		case <-s.started:
			s.program.Quit()
		default:
		}
	})
}

// model is the bubbletea model for the spinner.
type model struct {
	spinner    spinner.Model
	title      string
	statusLine string
	width      int
	lineCh     <-chan string
	done       <-chan struct{}
	quitting   bool
}

// lineMsg is sent when a new line is received.
type lineMsg string

// newModel creates a new spinner model.
func newModel(title string, lineCh <-chan string, done <-chan struct{}, width int) model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return model{
		spinner: s,
		title:   title,
		width:   width,
		lineCh:  lineCh,
		done:    done,
	}
}

// Init implements tea.Model.
//
//nolint:gocritic // hugeParam: tea.Model interface requires value receiver
func (m model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		waitForLine(m.lineCh, m.done),
	)
}

// Update implements tea.Model.
//
//nolint:gocritic // hugeParam: tea.Model interface requires value receiver
func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width

	case lineMsg:
		m.statusLine = string(msg)
		return m, waitForLine(m.lineCh, m.done)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.QuitMsg:
		m.quitting = true
		return m, nil
	}

	return m, nil
}

var titleStyle = lipgloss.NewStyle().Bold(true)

// View implements tea.Model.
//
//nolint:gocritic // hugeParam: tea.Model interface requires value receiver
func (m model) View() string {
	if m.quitting {
		return "" // Clear the line on exit
	}

	prefix := m.spinner.View() + " "
	if m.title != "" {
		prefix += titleStyle.Render(m.title) + " "
	}

	// lipgloss.Width ignores the escape sequences added by styles
	maxLineWidth := m.width - lipgloss.Width(prefix)
	if maxLineWidth < 10 {
		maxLineWidth = 10
	}

	return prefix + truncate(m.statusLine, maxLineWidth)
}

// waitForLine returns a command that waits for the next line from the channel.
func waitForLine(lineCh <-chan string, done <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		select {
		case line := <-lineCh:
			return lineMsg(line)
		case <-done:
			return tea.Quit()
		}
	}
}

// truncate shortens a string to fit within maxWidth.
// If truncated, it adds "..." at the end.
func truncate(s string, maxWidth int) string {
	if maxWidth <= 3 {
		return ""
	}
	r := []rune(s)
	if len(r) <= maxWidth {
		return s
	}
	return string(r[:maxWidth-3]) + "..."
}
