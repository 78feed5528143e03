// Package tui is a terminal browser over the analysis memory.
package tui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"patternmem/internal/memory"
)

// ViewState represents which screen is active.
type ViewState int

const (
	ViewWelcome ViewState = iota
	ViewRefresh
	ViewBrowse
)

// Model is the top-level Bubble Tea model.
type Model struct {
	state  ViewState
	ctx    context.Context
	mem    *memory.Memory
	width  int
	height int

	welcome welcomeModel
	refresh refreshModel
	browse  browseModel
	err     error
}

// New creates a TUI model over an open memory store.
func New(ctx context.Context, mem *memory.Memory) Model {
	return Model{
		state: ViewWelcome,
		ctx:   ctx,
		mem:   mem,
	}
}

func (m Model) Init() tea.Cmd {
	return loadStats(m.ctx, m.mem)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if m.state == ViewBrowse {
			var c tea.Cmd
			m.browse, c = m.browse.Update(msg)
			return m, c
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit
		case "q":
			if m.state != ViewBrowse || !m.browse.input.Focused() {
				return m, tea.Quit
			}
		}
	}

	var cmd tea.Cmd

	switch m.state {
	case ViewWelcome:
		m.welcome, cmd = m.welcome.Update(msg)
		if cmd != nil {
			return m, cmd
		}
		keyMsg, ok := msg.(tea.KeyMsg)
		if !ok || !m.welcome.ready {
			break
		}
		switch {
		case keyMsg.Type == tea.KeyEnter:
			return m, m.transitionToBrowse()
		case keyMsg.String() == "r":
			m.state = ViewRefresh
			m.refresh = newRefreshModel()
			return m, tea.Batch(m.refresh.spinner.Tick, runRefresh(m.ctx, m.mem))
		}

	case ViewRefresh:
		m.refresh, cmd = m.refresh.Update(msg)
		if cmd != nil {
			return m, cmd
		}
		if keyMsg, ok := msg.(tea.KeyMsg); ok && keyMsg.Type == tea.KeyEnter && m.refresh.done {
			m.state = ViewWelcome
			m.welcome = welcomeModel{}
			return m, loadStats(m.ctx, m.mem)
		}

	case ViewBrowse:
		m.browse, cmd = m.browse.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m *Model) transitionToBrowse() tea.Cmd {
	m.browse = newBrowseModel(m.ctx, m.mem)
	m.browse.initViewport(m.width, m.height)
	m.state = ViewBrowse
	return runQuery(m.ctx, m.mem, "")
}

func (m Model) View() string {
	if m.err != nil {
		return errorStyle.Render("Error: "+m.err.Error()) + "\n"
	}

	switch m.state {
	case ViewWelcome:
		return m.welcome.View(m.width, m.height)
	case ViewRefresh:
		return m.refresh.View(m.width, m.height)
	case ViewBrowse:
		return m.browse.View(m.width, m.height)
	}
	return ""
}

// Run starts the TUI program.
func Run(ctx context.Context, mem *memory.Memory) error {
	p := tea.NewProgram(New(ctx, mem), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}
