package cli

import (
	"fmt"
	"strings"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"
	"github.com/raphaelgruber/nova-go/internal/service"
)

// Theme holds the color scheme for terminal output.
type Theme struct {
	Status     lipgloss.Color
	Success    lipgloss.Color
	Error      lipgloss.Color
	Hint       lipgloss.Color
	ProgressBg lipgloss.Color
}

var defaultTheme = Theme{
	Status:     lipgloss.Color("#5FAFD7"), // light blue
	Success:    lipgloss.Color("#00D787"), // green
	Error:      lipgloss.Color("#FF005F"), // red
	Hint:       lipgloss.Color("#6C6C6C"), // dim gray
	ProgressBg: lipgloss.Color("#3A3A3A"), // dark gray
}

func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// indexUpdateMsg carries one progress report from the indexer.
type indexUpdateMsg service.IndexProgress

// indexDoneMsg ends the display.
type indexDoneMsg struct {
	report *service.IndexReport
	err    error
}

// progressModel is the bubbletea model for an index run.
type progressModel struct {
	last      service.IndexProgress
	progress  progress.Model
	theme     Theme
	report    *service.IndexReport
	err       error
	done      bool
	cancelled bool
	cancel    func()
}

func newProgressModel(cancel func()) progressModel {
	return progressModel{
		progress: progress.New(
			progress.WithDefaultBlend(),
			progress.WithWidth(40),
		),
		theme:  defaultTheme,
		cancel: cancel,
	}
}

// Init returns the initial command.
func (m progressModel) Init() tea.Cmd {
	return m.progress.Init()
}

// Update handles messages and returns the updated model.
func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.cancelled = true
			m.cancel()
			return m, nil
		}

	case indexUpdateMsg:
		m.last = service.IndexProgress(msg)
		return m, nil

	case indexDoneMsg:
		m.report, m.err, m.done = msg.report, msg.err, true
		return m, tea.Quit

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the progress display.
func (m progressModel) View() tea.View {
	if m.done {
		return tea.NewView(renderReport(m.theme, m.report, m.err))
	}

	status := m.theme.statusStyle().Render("[indexing]")
	if m.cancelled {
		status = m.theme.errorStyle().Render("[stopping]")
	}
	bar := m.progress.ViewAs(m.last.Fraction())
	counts := fmt.Sprintf("%d/%d files", m.last.Done, m.last.Total)
	current := m.theme.hintStyle().Render(m.last.Current)
	return tea.NewView(fmt.Sprintf("%s %s %s\n%s\n", status, bar, counts, current))
}

// renderReport builds the completion summary.
func renderReport(theme Theme, r *service.IndexReport, err error) string {
	var b strings.Builder
	switch {
	case err != nil:
		b.WriteString(theme.errorStyle().Render(fmt.Sprintf("✗ Indexing stopped: %s", err)))
	default:
		b.WriteString(theme.completedStyle().Render("✓ Completed"))
	}
	b.WriteString("\n")
	if r == nil {
		return b.String()
	}

	b.WriteString("\n")
	fmt.Fprintf(&b, "  Files:    %d\n", r.Files)
	fmt.Fprintf(&b, "  Indexed:  %d\n", r.Indexed)
	fmt.Fprintf(&b, "  Skipped:  %d\n", r.Skipped)
	fmt.Fprintf(&b, "  Chunks:   %d\n", r.Chunks)
	fmt.Fprintf(&b, "  Duration: %s\n", r.Duration.Round(time.Millisecond))
	if len(r.Errors) > 0 {
		b.WriteString(theme.errorStyle().Render(fmt.Sprintf("\nWarnings (%d):", len(r.Errors))))
		b.WriteString("\n")
		for _, e := range r.Errors {
			fmt.Fprintf(&b, "  • %s\n", e)
		}
	}
	return b.String()
}

// runIndexProgress runs the index batch behind an interactive progress bar.
// Ctrl+C cancels the batch; the partial report is still shown.
func runIndexProgress(run func(onProgress func(service.IndexProgress)) (*service.IndexReport, error), cancel func()) (*service.IndexReport, error) {
	p := tea.NewProgram(newProgressModel(cancel))

	go func() {
		report, err := run(func(pr service.IndexProgress) { p.Send(indexUpdateMsg(pr)) })
		p.Send(indexDoneMsg{report: report, err: err})
	}()

	final, err := p.Run()
	if err != nil {
		return nil, fmt.Errorf("progress UI error: %w", err)
	}
	m, ok := final.(progressModel)
	if !ok {
		return nil, nil
	}
	return m.report, m.err
}
