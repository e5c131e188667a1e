package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// DefaultWatchInterval is the default refresh period of a watch view
const DefaultWatchInterval = time.Second

// FetchFunc loads the table shown by a watch view
type FetchFunc func(ctx context.Context) (Table, error)

type watchKeyMap struct {
	Refresh key.Binding
	Quit    key.Binding
}

// ShortHelp implements help.KeyMap
func (k watchKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Refresh, k.Quit}
}

// FullHelp implements help.KeyMap
func (k watchKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

type fetchedMsg struct {
	table Table
	err   error
	at    time.Time
}

type refreshMsg struct{ seq int }

// WatchModel is a Bubble Tea model that polls a FetchFunc and shows the
// latest table until the user quits
type WatchModel struct {
	Title    string
	Interval time.Duration

	ctx   context.Context
	fetch FetchFunc

	Table     Table
	Err       error
	UpdatedAt time.Time
	Fetching  bool

	// seq invalidates scheduled refreshes after a manual one
	seq int

	Width   int
	Spinner spinner.Model
	Help    help.Model
	Keys    watchKeyMap
}

// NewWatchModel creates a watch view. Fetch is called with ctx once per
// interval; a failed fetch keeps the previous table on screen.
func NewWatchModel(ctx context.Context, title string, interval time.Duration, fetch FetchFunc) WatchModel {
	if interval <= 0 {
		interval = DefaultWatchInterval
	}

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(PrimaryColor)

	return WatchModel{
		Title:    title,
		Interval: interval,
		ctx:      ctx,
		fetch:    fetch,
		Fetching: true,
		Width:    GetTerminalWidth(),
		Spinner:  s,
		Help:     help.New(),
		Keys: watchKeyMap{
			Refresh: key.NewBinding(
				key.WithKeys("r"),
				key.WithHelp("r", "refresh"),
			),
			Quit: key.NewBinding(
				key.WithKeys("q", "esc", "ctrl+c"),
				key.WithHelp("q", "quit"),
			),
		},
	}
}

// Init implements tea.Model
func (m WatchModel) Init() tea.Cmd {
	return tea.Batch(m.Spinner.Tick, m.fetchCmd())
}

// Update implements tea.Model
func (m WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.Keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.Keys.Refresh):
			if !m.Fetching {
				m.seq++
				m.Fetching = true
				return m, m.fetchCmd()
			}
		}

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Help.Width = msg.Width

	case refreshMsg:
		if msg.seq != m.seq || m.Fetching {
			return m, nil
		}
		m.Fetching = true
		return m, m.fetchCmd()

	case fetchedMsg:
		m.Fetching = false
		m.Err = msg.err
		if msg.err == nil {
			m.Table = msg.table
			m.UpdatedAt = msg.at
		}
		if m.ctx.Err() != nil {
			return m, tea.Quit
		}
		m.seq++
		seq := m.seq
		return m, tea.Tick(m.Interval, func(time.Time) tea.Msg { return refreshMsg{seq: seq} })

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.Spinner, cmd = m.Spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View implements tea.Model
func (m WatchModel) View() string {
	var b strings.Builder

	title := HeaderTitleStyle.Render(strings.ToUpper(m.Title))
	if m.Fetching || m.UpdatedAt.IsZero() {
		title += " " + m.Spinner.View()
	}
	b.WriteString(title)
	b.WriteString("\n")

	if !m.UpdatedAt.IsZero() {
		b.WriteString(HeaderCommandStyle.Render("updated " + m.UpdatedAt.Format(time.TimeOnly)))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	if !m.UpdatedAt.IsZero() {
		b.WriteString(m.Table.Render(m.Width))
		b.WriteString("\n")
	}

	if m.Err != nil {
		b.WriteString("\n")
		b.WriteString(ErrorMessageStyle.PaddingLeft(2).Render(fmt.Sprintf("%s %v", FailureMarker, m.Err)))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(FooterStyle.Render(m.Help.View(m.Keys)))
	return b.String()
}

func (m WatchModel) fetchCmd() tea.Cmd {
	ctx, fetch := m.ctx, m.fetch
	return func() tea.Msg {
		table, err := fetch(ctx)
		return fetchedMsg{table: table, err: err, at: time.Now()}
	}
}

// RunWatch runs a watch view until the user quits or ctx ends. Without a
// terminal it renders a single snapshot instead.
func RunWatch(ctx context.Context, title string, interval time.Duration, fetch FetchFunc) error {
	if !IsTerminal() {
		table, err := fetch(ctx)
		if err != nil {
			return err
		}
		NewPrinter(nil).PrintTable(table)
		return nil
	}

	p := tea.NewProgram(NewWatchModel(ctx, title, interval, fetch), tea.WithContext(ctx))
	_, err := p.Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
