// Package progress implements the live progress view selectable via
// config.ProgressMode (SPEC_FULL.md "live TUI progress"): a structured
// log-line reporter for CI/piped output, and a bubbletea/lipgloss TUI
// that renders one row per ThreadGroup. Both satisfy run.Reporter, so
// internal/runner depends on neither library directly. Grounded on the
// teacher's go.mod-declared bubbletea/lipgloss dependencies (present but
// unused in the teacher), given a home here.
package progress

import (
	"fmt"
	"sort"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog/log"

	"github.com/crossbench-org/crossbench-go/internal/run"
)

// LogReporter emits one structured log line per Run start/finish,
// suitable for CI or piped output (config.ProgressLog, the default).
type LogReporter struct{}

func (LogReporter) RunStarted(group, runID string) {
	log.Info().Str("group", group).Str("run", runID).Msg("run started")
}

func (LogReporter) RunFinished(group, runID string, failed bool) {
	ev := log.Info()
	if failed {
		ev = log.Warn()
	}
	ev.Str("group", group).Str("run", runID).Bool("failed", failed).Msg("run finished")
}

var _ run.Reporter = LogReporter{}

// --- TUI ---

type runStartedMsg struct{ group, runID string }
type runFinishedMsg struct {
	group, runID string
	failed       bool
}

type groupRow struct {
	key        string
	current    string
	completed  int
	failed     int
	startedAt  time.Time
}

type model struct {
	rows  map[string]*groupRow
	order []string
}

func newModel() model {
	return model{rows: map[string]*groupRow{}}
}

func (m model) Init() tea.Cmd { return nil }

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			return m, tea.Quit
		}
	case runStartedMsg:
		row, ok := m.rows[msg.group]
		if !ok {
			row = &groupRow{key: msg.group, startedAt: time.Now()}
			m.rows[msg.group] = row
			m.order = append(m.order, msg.group)
		}
		row.current = msg.runID
	case runFinishedMsg:
		if row, ok := m.rows[msg.group]; ok {
			row.completed++
			if msg.failed {
				row.failed++
			}
			row.current = ""
		}
	}
	return m, nil
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	failedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)

func (m model) View() string {
	order := append([]string(nil), m.order...)
	sort.Strings(order)

	out := headerStyle.Render("crossbench run progress") + "\n"
	for _, key := range order {
		row := m.rows[key]
		elapsed := time.Since(row.startedAt).Round(time.Second)
		status := okStyle.Render(fmt.Sprintf("%d done", row.completed))
		if row.failed > 0 {
			status += " " + failedStyle.Render(fmt.Sprintf("%d failed", row.failed))
		}
		current := row.current
		if current == "" {
			current = "-"
		}
		out += fmt.Sprintf("  %-20s %s  running=%s  elapsed=%s\n", key, status, current, elapsed)
	}
	out += "\n(press q to hide; the run continues in the background)\n"
	return out
}

// TUI is a run.Reporter backed by a bubbletea program. Start must be
// called once, from the goroutine that owns the terminal, before
// Runner.Run begins; Stop ends the program once Run returns.
type TUI struct {
	program *tea.Program
	once    sync.Once
}

// NewTUI constructs a TUI progress view.
func NewTUI() *TUI {
	return &TUI{program: tea.NewProgram(newModel())}
}

// Start runs the bubbletea event loop; blocks until Stop is called or the
// user quits. Intended to be run in its own goroutine by the caller.
func (t *TUI) Start() error {
	_, err := t.program.Run()
	return err
}

// Stop ends the TUI program; safe to call once Start has returned or not
// yet been called.
func (t *TUI) Stop() {
	t.once.Do(func() {
		t.program.Quit()
	})
}

func (t *TUI) RunStarted(group, runID string) {
	t.program.Send(runStartedMsg{group: group, runID: runID})
}

func (t *TUI) RunFinished(group, runID string, failed bool) {
	t.program.Send(runFinishedMsg{group: group, runID: runID, failed: failed})
}

var _ run.Reporter = (*TUI)(nil)
