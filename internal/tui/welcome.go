package tui

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"patternmem/internal/memory"
	"patternmem/internal/store"
)

type welcomeModel struct {
	stats *memory.Stats
	err   error
	ready bool // true once stats have loaded
}

// statsMsg is sent after the store summary is loaded.
type statsMsg struct {
	stats *memory.Stats
	err   error
}

func loadStats(ctx context.Context, mem *memory.Memory) tea.Cmd {
	return func() tea.Msg {
		st, err := mem.Stats(ctx)
		return statsMsg{stats: st, err: err}
	}
}

func (m welcomeModel) Update(msg tea.Msg) (welcomeModel, tea.Cmd) {
	switch msg := msg.(type) {
	case statsMsg:
		m.stats = msg.stats
		m.err = msg.err
		m.ready = true
	}
	return m, nil
}

func (m welcomeModel) View(width, height int) string {
	s := "\n"
	s += titleStyle.Render("  ◆ patternmem") + "\n"
	s += subtitleStyle.Render("  Analysis memory for code-pattern findings") + "\n\n"

	if !m.ready {
		s += dimStyle.Render("  Loading...") + "\n"
		return s
	}
	if m.err != nil {
		s += errorStyle.Render("  ✗ "+m.err.Error()) + "\n"
		return s
	}

	st := m.stats
	if st.Findings == 0 {
		s += warnStyle.Render("  ✗ No findings recorded") + "\n"
		s += dimStyle.Render("    pipe detector output into 'patternmem ingest'") + "\n\n"
	} else {
		s += successStyle.Render(fmt.Sprintf("  ✓ %d active findings", st.ActiveFindings))
		if st.StaleFindings > 0 {
			s += warnStyle.Render(fmt.Sprintf("  (%d stale)", st.StaleFindings))
		}
		s += "\n\n"
		for _, sev := range []store.Severity{store.SeverityCritical, store.SeverityHigh, store.SeverityMedium, store.SeverityLow} {
			s += fmt.Sprintf("    %s %d\n", severityLabel(sev), st.BySeverity[sev])
		}
		s += "\n"
		s += listItemStyle.Render(fmt.Sprintf("    %d relations, %d files, %d snapshots, %d runs",
			st.Relations, st.Files, st.Snapshots, st.Runs)) + "\n"
		if len(st.TopPatterns) > 0 {
			s += dimStyle.Render("    top pattern: "+st.TopPatterns[0].PatternType) + "\n"
		}
		s += dimStyle.Render("    embedder "+st.Embedder) + "\n\n"
	}

	s += helpStyle.Render("  Enter browse • r refresh staleness • q quit") + "\n"
	return s
}
