package tui

import (
	"context"
	"fmt"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"patternmem/internal/memory"
)

type refreshModel struct {
	spinner spinner.Model
	done    bool
	result  *memory.RefreshResult
	err     error
}

func newRefreshModel() refreshModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = selectedStyle
	return refreshModel{spinner: sp}
}

// refreshDoneMsg is sent when the staleness check completes.
type refreshDoneMsg struct {
	result *memory.RefreshResult
	err    error
}

func runRefresh(ctx context.Context, mem *memory.Memory) tea.Cmd {
	return func() tea.Msg {
		res, err := mem.Refresh(ctx)
		return refreshDoneMsg{result: res, err: err}
	}
}

func (m refreshModel) Update(msg tea.Msg) (refreshModel, tea.Cmd) {
	switch msg := msg.(type) {
	case refreshDoneMsg:
		m.done = true
		m.result = msg.result
		m.err = msg.err
		return m, nil

	case spinner.TickMsg:
		if !m.done {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
	}
	return m, nil
}

func (m refreshModel) View(width, height int) string {
	s := "\n"
	s += titleStyle.Render("  ◆ Refresh") + "\n\n"

	if !m.done {
		s += "  " + m.spinner.View() + " " + dimStyle.Render("Hashing tracked files...") + "\n"
		return s
	}
	if m.err != nil {
		s += errorStyle.Render("  ✗ "+m.err.Error()) + "\n\n"
	} else {
		r := m.result
		s += successStyle.Render(fmt.Sprintf("  ✓ %d files checked", r.Checked)) + "\n"
		s += listItemStyle.Render(fmt.Sprintf("    %d changed, %d missing, %d findings marked stale",
			r.Changed, r.Missing, r.Stale)) + "\n\n"
	}
	s += helpStyle.Render("  Press Enter to continue") + "\n"
	return s
}
