package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Iron-Ham/roundtable/internal/conversation"
)

// MessageMsg delivers one log message to the watch viewer.
type MessageMsg struct {
	Message conversation.Message
}

// FollowErrorMsg reports that following the log stopped.
type FollowErrorMsg struct {
	Err error
}

// Header and footer take one line each.
const chromeHeight = 2

// WatchModel is a read-only, scrollable view of a conversation log. New
// messages keep the view pinned to the bottom unless the user scrolled up.
type WatchModel struct {
	title    string
	styles   Styles
	viewport viewport.Model
	lines    []string
	ready    bool
	pinned   bool
	err      error
}

// NewWatchModel creates the viewer.
func NewWatchModel(title string, styles Styles) WatchModel {
	return WatchModel{title: title, styles: styles, pinned: true}
}

// Init implements tea.Model.
func (m WatchModel) Init() tea.Cmd { return nil }

// Update implements tea.Model.
func (m WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "G", "end":
			m.pinned = true
			m.viewport.GotoBottom()
			return m, nil
		}

	case tea.WindowSizeMsg:
		height := max(msg.Height-chromeHeight, 1)
		if !m.ready {
			m.viewport = viewport.New(msg.Width, height)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = height
		}
		m.refresh()
		return m, nil

	case MessageMsg:
		m.lines = append(m.lines, FormatMessage(m.styles, msg.Message))
		m.refresh()
		return m, nil

	case FollowErrorMsg:
		m.err = msg.Err
		return m, nil
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	m.pinned = m.viewport.AtBottom()
	return m, cmd
}

func (m *WatchModel) refresh() {
	if !m.ready {
		return
	}
	content := strings.Join(m.lines, "\n")
	if m.viewport.Width > 0 {
		content = lipgloss.NewStyle().Width(m.viewport.Width).Render(content)
	}
	m.viewport.SetContent(content)
	if m.pinned {
		m.viewport.GotoBottom()
	}
}

// View implements tea.Model.
func (m WatchModel) View() string {
	if !m.ready {
		return "loading..."
	}
	header := m.styles.Title.Render(Truncate(m.title, max(m.viewport.Width, 4)))
	footer := m.styles.Help.Render(fmt.Sprintf("%d messages  q quit  G follow", len(m.lines)))
	if m.err != nil {
		footer = m.styles.Error.Render("follow stopped: " + m.err.Error())
	}
	return header + "\n" + m.viewport.View() + "\n" + footer
}

// Watch shows the log at logPath until the user quits or ctx is done.
func Watch(ctx context.Context, logPath, title string, styles Styles) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(NewWatchModel(title, styles), tea.WithAltScreen(), tea.WithContext(ctx))
	go func() {
		err := conversation.Follow(ctx, logPath, func(msg conversation.Message) {
			p.Send(MessageMsg{Message: msg})
		})
		if err != nil {
			p.Send(FollowErrorMsg{Err: err})
		}
	}()

	_, err := p.Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
