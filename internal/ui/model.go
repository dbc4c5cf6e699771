package ui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-runewidth"

	"cantara/internal/domain"
	"cantara/internal/eventbus"
	"cantara/internal/manager"
	"cantara/internal/search"
)

// EventMsg wraps a domain event forwarded from the event bus
type EventMsg struct {
	Event eventbus.DomainEvent
}

// previewDoneMsg reports the outcome of a pager preview
type previewDoneMsg struct {
	err error
}

// cacheReadyMsg signals that the song-content cache has been rebuilt
type cacheReadyMsg struct{}

// Model is the song selection screen: a live search box over the source file
// index, a numbered result list, and per-repository status lines.
type Model struct {
	mgr    *manager.Manager
	engine *search.Engine

	input   textinput.Model
	results search.ResultSet
	cursor  int

	width  int
	height int

	count      int
	refreshing bool
	warnings   map[string]string // repository identity -> warning text

	program *tea.Program
	preview *PreviewOps
}

// NewModel creates the selection screen model.
func NewModel(mgr *manager.Manager, engine *search.Engine) *Model {
	input := textinput.New()
	input.Placeholder = "Search songs..."
	input.Prompt = "/ "
	input.Focus()

	return &Model{
		mgr:      mgr,
		engine:   engine,
		input:    input,
		warnings: make(map[string]string),
	}
}

// SetProgram hands the model the running program, needed to release the
// terminal while the preview pager runs.
func (m *Model) SetProgram(p *tea.Program) {
	m.program = p
	m.preview = NewPreviewOps(p)
}

func (m *Model) Init() tea.Cmd {
	return textinput.Blink
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case EventMsg:
		return m.handleEvent(msg.Event)

	case previewDoneMsg:
		if msg.err != nil {
			m.warnings[previewWarningKey] = msg.err.Error()
		} else {
			delete(m.warnings, previewWarningKey)
		}
		return m, nil

	case cacheReadyMsg:
		m.requery()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// previewWarningKey marks a warning from the preview pager rather than a
// repository; it is dropped again on the next keypress.
const previewWarningKey = "preview"

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	delete(m.warnings, previewWarningKey)

	// Ordinal shortcuts: alt+1 .. alt+9 pick a visible result directly.
	if strings.HasPrefix(key, "alt+") {
		if n, err := strconv.Atoi(strings.TrimPrefix(key, "alt+")); err == nil {
			if entry, ok := m.results.Select(n); ok {
				return m, m.openPreview(entry)
			}
			// Out-of-range ordinals are harmless.
			return m, nil
		}
	}

	switch key {
	case "ctrl+c":
		return m, tea.Quit

	case "esc":
		if m.input.Value() == "" {
			return m, tea.Quit
		}
		m.input.SetValue("")
		m.requery()
		return m, nil

	case "up", "ctrl+p":
		if m.cursor > 0 {
			m.cursor--
		}
		return m, nil

	case "down", "ctrl+n":
		if m.cursor < len(m.visible())-1 {
			m.cursor++
		}
		return m, nil

	case "enter":
		entries := m.visible()
		if m.cursor < len(entries) {
			return m, m.openPreview(entries[m.cursor])
		}
		return m, nil

	case "ctrl+r":
		m.refreshing = true
		m.mgr.PublishRefresh(false)
		return m, nil

	case "ctrl+l":
		// Hard refresh: discard remote archive caches first.
		m.refreshing = true
		m.mgr.PublishRefresh(true)
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	m.requery()
	return m, cmd
}

func (m *Model) handleEvent(e eventbus.DomainEvent) (tea.Model, tea.Cmd) {
	switch event := e.(type) {
	case eventbus.RefreshStartedEvent:
		m.refreshing = true

	case eventbus.SourceFailedEvent:
		label := event.Identity
		if event.Stale {
			label += " (serving cached copy)"
		}
		if event.Err != nil {
			m.warnings[event.Identity] = fmt.Sprintf("%s: %v", label, event.Err)
		}

	case eventbus.SourceScannedEvent:
		delete(m.warnings, event.Identity)

	case eventbus.IndexUpdatedEvent:
		m.count = event.Count
		m.requery()
		// Re-reading song contents hits the disk, so it runs off the event
		// loop; content matches appear once the cache lands.
		idx := m.mgr.Index()
		return m, func() tea.Msg {
			m.engine.RefreshCache(idx)
			return cacheReadyMsg{}
		}

	case eventbus.RefreshCompletedEvent:
		m.refreshing = false
	}
	return m, nil
}

// requery rebuilds the result set from the current query and snapshot, and
// clamps the cursor.
func (m *Model) requery() {
	m.results = m.engine.Query(m.mgr.Index(), m.input.Value())
	if max := len(m.visible()); m.cursor >= max {
		m.cursor = 0
	}
}

// visible returns the entries currently listed: search results while a query
// is active, the full title-sorted index otherwise.
func (m *Model) visible() []domain.SourceFile {
	if m.input.Value() != "" {
		out := make([]domain.SourceFile, len(m.results.Results))
		for i, r := range m.results.Results {
			out[i] = r.File
		}
		return out
	}
	return m.mgr.Index().ByTitle()
}

func (m *Model) openPreview(entry domain.SourceFile) tea.Cmd {
	if m.preview == nil {
		return nil
	}
	return func() tea.Msg {
		return previewDoneMsg{err: m.preview.ShowSourceFile(m.mgr, entry)}
	}
}

func (m *Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("cantara"))
	b.WriteString("  ")
	b.WriteString(statusStyle.Render(fmt.Sprintf("Source files: %d", m.count)))
	if m.refreshing {
		b.WriteString(dimStyle.Render("  refreshing..."))
	}
	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n\n")

	if m.input.Value() != "" {
		b.WriteString(m.renderResults())
	} else {
		b.WriteString(m.renderAll())
	}

	for _, w := range m.warningLines() {
		b.WriteString(warningStyle.Render("! " + w))
		b.WriteString("\n")
	}

	b.WriteString(dimStyle.Render("enter: open  alt+n: pick result n  ctrl+r: refresh  ctrl+l: re-download  esc: quit"))
	return b.String()
}

func (m *Model) renderResults() string {
	if len(m.results.Results) == 0 {
		return dimStyle.Render("no matches") + "\n\n"
	}

	var b strings.Builder
	for i, r := range m.results.Results {
		line := fmt.Sprintf("%s %s %s",
			ordinalStyle.Render(fmt.Sprintf("%2d", r.Ordinal)),
			m.truncate(r.File.Title),
			kindStyle.Render(string(r.File.Kind)))
		if !r.TitleMatch && r.Snippet != "" {
			line += "  " + snippetStyle.Render("“"+m.truncate(r.Snippet)+"”")
		}
		if i == m.cursor {
			line = selectedStyle.Render(">") + " " + line
		} else {
			line = "  " + line
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	if m.results.Truncated {
		b.WriteString(dimStyle.Render("  ...more matches not shown"))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	return b.String()
}

func (m *Model) renderAll() string {
	entries := m.mgr.Index().ByTitle()
	if len(entries) == 0 {
		return dimStyle.Render("no source files found") + "\n\n"
	}

	// Bound the browse list to the window height and scroll it so the cursor
	// always stays on a rendered row.
	max := m.height - 8
	if max < 5 {
		max = 5
	}
	first := 0
	if m.cursor >= max {
		first = m.cursor - max + 1
	}

	var b strings.Builder
	if first > 0 {
		b.WriteString(dimStyle.Render(fmt.Sprintf("  ...%d above", first)))
		b.WriteString("\n")
	}
	for i := first; i < len(entries) && i < first+max; i++ {
		entry := entries[i]
		line := fmt.Sprintf("%s %s", m.truncate(entry.Title), kindStyle.Render(string(entry.Kind)))
		if i == m.cursor {
			line = selectedStyle.Render(">") + " " + line
		} else {
			line = "  " + line
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	if rest := len(entries) - (first + max); rest > 0 {
		b.WriteString(dimStyle.Render(fmt.Sprintf("  ...and %d more", rest)))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	return b.String()
}

func (m *Model) warningLines() []string {
	out := make([]string, 0, len(m.warnings))
	for _, w := range m.warnings {
		out = append(out, m.truncate(w))
	}
	return out
}

// truncate keeps a string within the window width, accounting for wide runes.
func (m *Model) truncate(s string) string {
	if m.width <= 10 {
		return s
	}
	return runewidth.Truncate(s, m.width-10, "...")
}
