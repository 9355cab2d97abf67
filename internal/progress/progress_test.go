package progress

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

func TestModelTracksRunStartAndFinish(t *testing.T) {
	m := newModel()

	next, _ := m.Update(runStartedMsg{group: "chrome-speedometer", runID: "run-1"})
	m = next.(model)

	row, ok := m.rows["chrome-speedometer"]
	if !ok {
		t.Fatal("expected a row for chrome-speedometer")
	}
	if row.current != "run-1" {
		t.Errorf("expected current=run-1, got %q", row.current)
	}
	if row.completed != 0 {
		t.Errorf("expected completed=0 before finish, got %d", row.completed)
	}

	next, _ = m.Update(runFinishedMsg{group: "chrome-speedometer", runID: "run-1", failed: false})
	m = next.(model)

	row = m.rows["chrome-speedometer"]
	if row.completed != 1 {
		t.Errorf("expected completed=1 after finish, got %d", row.completed)
	}
	if row.current != "" {
		t.Errorf("expected current to clear after finish, got %q", row.current)
	}
}

func TestModelTracksFailedRuns(t *testing.T) {
	m := newModel()
	next, _ := m.Update(runStartedMsg{group: "g", runID: "r1"})
	m = next.(model)
	next, _ = m.Update(runFinishedMsg{group: "g", runID: "r1", failed: true})
	m = next.(model)

	row := m.rows["g"]
	if row.failed != 1 {
		t.Errorf("expected failed=1, got %d", row.failed)
	}
	if row.completed != 1 {
		t.Errorf("expected completed=1 regardless of failure, got %d", row.completed)
	}
}

func TestViewRendersKnownGroups(t *testing.T) {
	m := newModel()
	next, _ := m.Update(runStartedMsg{group: "chrome-jetstream", runID: "run-7"})
	m = next.(model)

	view := m.View()
	if !strings.Contains(view, "chrome-jetstream") {
		t.Errorf("expected view to mention the group key, got %q", view)
	}
	if !strings.Contains(view, "run-7") {
		t.Errorf("expected view to mention the running run id, got %q", view)
	}
}

func TestUpdateQuitsOnCtrlC(t *testing.T) {
	m := newModel()
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	if cmd == nil {
		t.Fatal("expected a quit command on ctrl+c")
	}
}

func TestGroupRowElapsedIsNonNegative(t *testing.T) {
	row := &groupRow{key: "g", startedAt: time.Now()}
	if time.Since(row.startedAt) < 0 {
		t.Error("expected non-negative elapsed duration")
	}
}
