package tui

import (
	"hash/fnv"

	"github.com/charmbracelet/lipgloss"
)

var (
	// Colors meet WCAG AA contrast on dark terminals.
	PrimaryColor   = lipgloss.Color("#A78BFA") // Purple
	SecondaryColor = lipgloss.Color("#10B981") // Green
	WarningColor   = lipgloss.Color("#F59E0B") // Amber
	ErrorColor     = lipgloss.Color("#F87171") // Red
	MutedColor     = lipgloss.Color("#9CA3AF") // Gray
	BorderColor    = lipgloss.Color("#6B7280") // Gray

	// Participant colors, picked by name so a sender keeps its color
	// across sessions.
	participantColors = []lipgloss.Color{
		"#60A5FA", // Blue
		"#34D399", // Emerald
		"#FBBF24", // Yellow
		"#F472B6", // Pink
		"#FB923C", // Orange
		"#2DD4BF", // Teal
	}
)

// Styles holds the rendering styles of the console and the watch viewer.
type Styles struct {
	Title     lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Boundary  lipgloss.Style
	Human     lipgloss.Style
	Coach     lipgloss.Style
	Help      lipgloss.Style
	colored   bool
	coachName string
}

// NewStyles returns colored styles, or plain ones when color is false.
// coach is rendered with the coach style instead of a participant color.
func NewStyles(color bool, coach string) Styles {
	if !color {
		plain := lipgloss.NewStyle()
		return Styles{
			Title: plain, Muted: plain, Success: plain, Warning: plain, Error: plain,
			Boundary: plain, Human: plain, Coach: plain, Help: plain,
			coachName: coach,
		}
	}
	return Styles{
		Title:     lipgloss.NewStyle().Bold(true).Foreground(PrimaryColor),
		Muted:     lipgloss.NewStyle().Foreground(MutedColor).Italic(true),
		Success:   lipgloss.NewStyle().Foreground(SecondaryColor),
		Warning:   lipgloss.NewStyle().Foreground(WarningColor),
		Error:     lipgloss.NewStyle().Foreground(ErrorColor).Bold(true),
		Boundary:  lipgloss.NewStyle().Bold(true).Foreground(PrimaryColor).BorderStyle(lipgloss.NormalBorder()).BorderTop(true).BorderForeground(BorderColor),
		Human:     lipgloss.NewStyle().Bold(true).Foreground(WarningColor),
		Coach:     lipgloss.NewStyle().Bold(true).Foreground(PrimaryColor),
		Help:      lipgloss.NewStyle().Foreground(MutedColor),
		colored:   true,
		coachName: coach,
	}
}

// Sender returns the style of a message sender.
func (s Styles) Sender(name string) lipgloss.Style {
	switch {
	case !s.colored:
		return lipgloss.NewStyle()
	case name == "human":
		return s.Human
	case name == s.coachName:
		return s.Coach
	case name == "system":
		return s.Muted
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	return lipgloss.NewStyle().Bold(true).Foreground(participantColors[h.Sum32()%uint32(len(participantColors))])
}
