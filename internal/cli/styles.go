package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/wilsonzlin/aero/proxy/webrtc-roulette/internal/protocol"
)

var (
	Primary = lipgloss.Color("#22d3ee")
	Partner = lipgloss.Color("#7C3AED")
	Success = lipgloss.Color("#10B981")
	Warning = lipgloss.Color("#F59E0B")
	Error   = lipgloss.Color("#EF4444")
	Muted   = lipgloss.Color("#6B7280")
)

var (
	TitleStyle   = lipgloss.NewStyle().Bold(true).Foreground(Primary)
	SuccessStyle = lipgloss.NewStyle().Foreground(Success).Bold(true)
	WarningStyle = lipgloss.NewStyle().Foreground(Warning)
	ErrorStyle   = lipgloss.NewStyle().Foreground(Error).Bold(true)
	MutedStyle   = lipgloss.NewStyle().Foreground(Muted)

	SelfStyle    = lipgloss.NewStyle().Foreground(Primary).Bold(true)
	PartnerStyle = lipgloss.NewStyle().Foreground(Partner).Bold(true)
	SystemStyle  = lipgloss.NewStyle().Foreground(Warning).Italic(true)
)

func printError(w io.Writer, msg string) {
	fmt.Fprintf(w, "%s %s\n", ErrorStyle.Render("✗"), ErrorStyle.Render(msg))
}

func printWarning(w io.Writer, msg string) {
	fmt.Fprintf(w, "%s %s\n", WarningStyle.Render("!"), WarningStyle.Render(msg))
}

func printSuccess(w io.Writer, msg string) {
	fmt.Fprintf(w, "%s %s\n", SuccessStyle.Render("✓"), msg)
}

func printMuted(w io.Writer, msg string) {
	fmt.Fprintln(w, MutedStyle.Render(msg))
}

// formatChat renders one chat line: "[15:04:05] you: text".
func formatChat(m protocol.ChatMessage, own bool) string {
	at := m.Time()
	stamp := "--:--:--"
	if !at.IsZero() {
		stamp = at.Local().Format(time.TimeOnly)
	}

	var who string
	switch {
	case m.Type == "system":
		return fmt.Sprintf("%s %s", MutedStyle.Render("["+stamp+"]"), SystemStyle.Render(m.Text))
	case own:
		who = SelfStyle.Render("you")
	default:
		who = PartnerStyle.Render("stranger")
	}
	return fmt.Sprintf("%s %s: %s", MutedStyle.Render("["+stamp+"]"), who, m.Text)
}
