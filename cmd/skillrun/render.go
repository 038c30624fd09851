package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"github.com/skillrun/skillrun/internal/events"
)

// Component color scheme, one distinct color per concern.
var (
	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8")) // Gray - status, timestamps

	toolStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("12")) // Blue - tool activity

	subAgentStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("13")) // Magenta - sub-agents

	securityStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("14")) // Cyan - security notices

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")) // Red - failures

	answerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")) // White bold - final answer
)

const renderWidth = 100

// renderSink writes events to the terminal as they stream in. It is a
// plain events.Sink: the dispatcher's buffering keeps a slow terminal
// from stalling execution.
type renderSink struct {
	out io.Writer
}

func (r *renderSink) Emit(ev events.Event) {
	line := wordwrap.String(ev.Text, renderWidth)

	switch {
	case ev.Type == events.TypeError:
		line = errorStyle.Render(line)
	case ev.Type == events.TypeCompletion:
		line = answerStyle.Render(line)
	case strings.HasPrefix(ev.Text, "SECURITY") || strings.Contains(ev.Text, "rejected"):
		line = securityStyle.Render(line)
	case ev.Tool != "":
		line = toolStyle.Render(line)
	case ev.Depth > 0:
		line = subAgentStyle.Render(line)
	default:
		line = dimStyle.Render(line)
	}

	prefix := ""
	if ev.Depth > 0 {
		prefix = subAgentStyle.Render(strings.Repeat("> ", ev.Depth))
	}
	fmt.Fprintln(r.out, prefix+line)
}

func (r *renderSink) Close() error { return nil }
