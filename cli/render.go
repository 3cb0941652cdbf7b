package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/petal-labs/petalmcp/conversation"
	"github.com/petal-labs/petalmcp/executor"
)

const wordWrap = 80

var (
	toolStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	progressStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	successStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	headerStyle   = lipgloss.NewStyle().Bold(true)
)

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd())) // #nosec G115 -- file descriptors fit in int
}

// renderMarkdown renders text for a terminal, or returns it unchanged when
// w is not one.
func renderMarkdown(w io.Writer, text string) string {
	if !isTerminal(w) {
		return text
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(wordWrap),
	)
	if err != nil {
		return text
	}
	out, err := renderer.Render(text)
	if err != nil {
		return text
	}
	return strings.TrimRight(out, "\n")
}

// printTurn writes each tool outcome followed by the final answer.
func printTurn(w io.Writer, turn *conversation.Turn) {
	for i, inv := range turn.Invocations {
		if i >= len(turn.Results) {
			break
		}
		result := turn.Results[i]
		if result.Failed() {
			fmt.Fprintf(w, "%s\n", errorStyle.Render(fmt.Sprintf("Tool '%s' error: %s", inv.Name, result.Error)))
			continue
		}
		fmt.Fprintf(w, "%s\n%s\n", toolStyle.Render(fmt.Sprintf("Tool '%s' result:", inv.Name)), result.Text())
	}
	if turn.FinalText != "" {
		fmt.Fprintln(w, renderMarkdown(w, turn.FinalText))
	}
}

// progressPrinter writes executor and conversation progress notes.
type progressPrinter struct {
	w       io.Writer
	verbose bool
}

func (p progressPrinter) tool(ev executor.ProgressEvent) {
	switch ev.Stage {
	case executor.StageStart, executor.StageDone:
		if !p.verbose {
			return
		}
	}
	msg := ev.Message
	switch {
	case msg != "":
	case ev.Stage == executor.StageDone:
		msg = fmt.Sprintf("done in %s", ev.Duration.Round(time.Millisecond))
	case ev.Stage == executor.StageFailed && ev.Err != nil:
		msg = ev.Err.Error()
	default:
		msg = string(ev.Stage)
	}
	line := fmt.Sprintf("[%s] %s", ev.Tool, msg)
	switch ev.Stage {
	case executor.StageFailed:
		fmt.Fprintln(p.w, errorStyle.Render(line))
	case executor.StageComplete:
		fmt.Fprintln(p.w, successStyle.Render(line))
	default:
		fmt.Fprintln(p.w, progressStyle.Render(line))
	}
}

func (p progressPrinter) turn(ev conversation.Event) {
	if !p.verbose {
		return
	}
	fmt.Fprintln(p.w, progressStyle.Render(ev.Message))
}
