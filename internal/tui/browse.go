package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"patternmem/internal/memory"
	"patternmem/internal/query"
	"patternmem/internal/store"
)

const browseLimit = 200

type browseModel struct {
	ctx         context.Context
	mem         *memory.Memory
	viewport    viewport.Model
	input       textinput.Model
	spinner     spinner.Model
	renderer    *glamour.TermRenderer
	findings    []store.Finding
	cursor      int
	detail      string
	showDetail  bool
	loading     bool
	err         error
	width       int
	height      int
	initialized bool
}

// queryResultMsg is sent when a findings query completes.
type queryResultMsg struct {
	findings []store.Finding
	err      error
}

// detailMsg carries the markdown for one finding.
type detailMsg struct {
	markdown string
	err      error
}

func newBrowseModel(ctx context.Context, mem *memory.Memory) browseModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = selectedStyle

	ti := textinput.New()
	ti.Placeholder = "filter: type:sql-injection sev:high file:api/ stale"
	ti.CharLimit = 500

	return browseModel{
		ctx:     ctx,
		mem:     mem,
		spinner: sp,
		input:   ti,
		loading: true,
	}
}

func (m *browseModel) initViewport(width, height int) {
	m.width = width
	m.height = height

	// Layout: viewport + status bar (1 line) + input (1 line) + gap (1 line).
	vpHeight := height - 3
	if vpHeight < 5 {
		vpHeight = 5
	}
	m.viewport = viewport.New(width, vpHeight)
	m.input.Width = width - 4

	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width-2),
	)
	if err == nil {
		m.renderer = r
	}

	m.initialized = true
	m.refreshContent()
}

// parseFilter reads "key:value" terms. Unknown words match pattern types.
func parseFilter(s string) (store.Filter, error) {
	var f store.Filter
	for _, term := range strings.Fields(s) {
		key, val, ok := strings.Cut(term, ":")
		if !ok {
			if term == "stale" {
				f.IncludeStale = true
				continue
			}
			key, val = "type", term
		}
		switch key {
		case "type", "t":
			f.PatternType = val
		case "file", "f":
			f.FilePath = val
		case "sev", "severity", "s":
			sev, err := store.ParseSeverity(val)
			if err != nil {
				return f, err
			}
			f.Severity = sev
		default:
			return f, fmt.Errorf("unknown filter %q", key)
		}
	}
	return f, nil
}

func runQuery(ctx context.Context, mem *memory.Memory, filter string) tea.Cmd {
	return func() tea.Msg {
		f, err := parseFilter(filter)
		if err != nil {
			return queryResultMsg{err: err}
		}
		fs, err := mem.Query(ctx, f, browseLimit)
		return queryResultMsg{findings: fs, err: err}
	}
}

func loadDetail(ctx context.Context, mem *memory.Memory, id int64) tea.Cmd {
	return func() tea.Msg {
		res, err := mem.Context(ctx, id, query.DefaultDepth)
		if err != nil {
			return detailMsg{err: err}
		}
		notes, err := mem.Annotations(ctx, id)
		if err != nil {
			return detailMsg{err: err}
		}
		return detailMsg{markdown: detailMarkdown(res, notes)}
	}
}

func detailMarkdown(res *query.ContextResult, notes []store.Annotation) string {
	f := res.Finding
	var sb strings.Builder
	fmt.Fprintf(&sb, "# #%d %s\n\n", f.ID, f.PatternType)
	fmt.Fprintf(&sb, "**Severity:** %s  \n**File:** `%s:%d`  \n", f.Severity, f.FilePath, f.LineNumber)
	if f.FunctionName != "" {
		fmt.Fprintf(&sb, "**Function:** `%s`  \n", f.FunctionName)
	}
	fmt.Fprintf(&sb, "**First seen:** %s  \n**Last seen:** %s (generation %d)\n\n",
		f.FirstDetectedAt.Format("2006-01-02 15:04"), f.DetectedAt.Format("2006-01-02 15:04"), f.Generation)
	if f.Stale {
		sb.WriteString("> stale: the file changed since this was detected\n\n")
	}
	fmt.Fprintf(&sb, "```\n%s\n```\n\n", f.CodeSnippet)

	hops := func(title string, hs []query.Hop) {
		if len(hs) == 0 {
			return
		}
		fmt.Fprintf(&sb, "## %s\n\n", title)
		for _, h := range hs {
			fmt.Fprintf(&sb, "- **#%d** %s `%s:%d` (%s %.2f, depth %d)\n",
				h.Finding.ID, h.Finding.PatternType, h.Finding.FilePath, h.Finding.LineNumber,
				h.Relation, h.Confidence, h.Depth)
		}
		sb.WriteString("\n")
	}
	hops("Related", res.Related)
	hops("Dependents", res.Dependents)

	if len(notes) > 0 {
		sb.WriteString("## Notes\n\n")
		for _, n := range notes {
			fmt.Fprintf(&sb, "- **%s** %s\n", n.Tag, n.Note)
		}
	}
	return sb.String()
}

func (m browseModel) Update(msg tea.Msg) (browseModel, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.initViewport(msg.Width, msg.Height)
		return m, nil

	case queryResultMsg:
		m.loading = false
		m.err = msg.err
		m.findings = msg.findings
		m.cursor = 0
		m.showDetail = false
		m.refreshContent()
		return m, nil

	case detailMsg:
		m.loading = false
		m.err = msg.err
		if msg.err == nil {
			m.detail = m.renderMarkdown(msg.markdown)
			m.showDetail = true
		}
		m.refreshContent()
		m.viewport.GotoTop()
		return m, nil

	case spinner.TickMsg:
		if m.loading {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
		return m, nil

	case tea.KeyMsg:
		if m.input.Focused() {
			switch msg.Type {
			case tea.KeyEnter:
				m.input.Blur()
				m.loading = true
				return m, tea.Batch(m.spinner.Tick, runQuery(m.ctx, m.mem, m.input.Value()))
			case tea.KeyEsc:
				m.input.Blur()
				return m, nil
			}
			var cmd tea.Cmd
			m.input, cmd = m.input.Update(msg)
			return m, cmd
		}

		if m.showDetail {
			if msg.Type == tea.KeyEsc || msg.String() == "backspace" {
				m.showDetail = false
				m.refreshContent()
				return m, nil
			}
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}

		switch msg.String() {
		case "/":
			return m, m.input.Focus()
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.cursor < len(m.findings)-1 {
				m.cursor++
			}
		case "enter":
			if len(m.findings) == 0 {
				return m, nil
			}
			m.loading = true
			return m, tea.Batch(m.spinner.Tick, loadDetail(m.ctx, m.mem, m.findings[m.cursor].ID))
		}
		m.refreshContent()
		m.keepCursorVisible()
		return m, nil
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m *browseModel) keepCursorVisible() {
	switch {
	case m.cursor < m.viewport.YOffset:
		m.viewport.SetYOffset(m.cursor)
	case m.cursor >= m.viewport.YOffset+m.viewport.Height:
		m.viewport.SetYOffset(m.cursor - m.viewport.Height + 1)
	}
}

func (m browseModel) renderMarkdown(content string) string {
	if m.renderer == nil {
		return content
	}
	rendered, err := m.renderer.Render(content)
	if err != nil {
		return content
	}
	return strings.TrimRight(rendered, "\n")
}

func (m *browseModel) refreshContent() {
	if !m.initialized {
		return
	}
	if m.showDetail {
		m.viewport.SetContent(m.detail)
		return
	}
	if len(m.findings) == 0 {
		m.viewport.SetContent(dimStyle.Render("No findings match. Press / to change the filter."))
		return
	}

	var sb strings.Builder
	for i, f := range m.findings {
		line := fmt.Sprintf("%6d %s %-24s %s:%d", f.ID, severityLabel(f.Severity), f.PatternType, f.FilePath, f.LineNumber)
		if f.Stale {
			line += warnStyle.Render(" stale")
		}
		if i == m.cursor {
			sb.WriteString(selectedStyle.Render("› ") + line + "\n")
		} else {
			sb.WriteString("  " + listItemStyle.Render(line) + "\n")
		}
	}
	m.viewport.SetContent(sb.String())
}

func (m browseModel) View(width, height int) string {
	if !m.initialized {
		return ""
	}

	status := fmt.Sprintf("%d findings", len(m.findings))
	switch {
	case m.loading:
		status = m.spinner.View() + " loading..."
	case m.err != nil:
		status = errorStyle.Render(m.err.Error())
	case m.showDetail:
		status = "esc back • ↑/↓ scroll"
	}
	statusBar := statusBarStyle.
		Width(m.width).
		Render(" patternmem • " + status + " • / filter • enter open • q quit")

	return lipgloss.JoinVertical(
		lipgloss.Left,
		m.viewport.View(),
		statusBar,
		m.input.View(),
	)
}
