// Package tui is the terminal front end: a line-based chat REPL and first-run setup.
package tui

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/hattiebot/familiar/internal/agent"
	"github.com/hattiebot/familiar/internal/core"
)

// Turner runs one observed turn.
type Turner interface {
	RunTurnObserved(ctx context.Context, conversation, prompt string, obs agent.Observer) (*agent.TurnResult, error)
}

// Styles are the REPL colors. Styles from a renderer on a non-terminal writer print plain text.
type Styles struct {
	You       lipgloss.Style
	Assistant lipgloss.Style
	Tool      lipgloss.Style
	Error     lipgloss.Style
	Dim       lipgloss.Style
}

// NewStyles builds styles for out.
func NewStyles(out io.Writer) Styles {
	r := lipgloss.NewRenderer(out)
	return Styles{
		You:       r.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		Assistant: r.NewStyle().Bold(true).Foreground(lipgloss.Color("13")),
		Tool:      r.NewStyle().Foreground(lipgloss.Color("8")).Italic(true),
		Error:     r.NewStyle().Foreground(lipgloss.Color("9")),
		Dim:       r.NewStyle().Faint(true),
	}
}

// Chat is the REPL. Enter sends a line; Ctrl+C during a turn cancels it, and
// "/exit" or end of input quits.
type Chat struct {
	Agent        Turner
	Conversation string
	Name         string

	out    io.Writer
	scan   *bufio.Scanner
	styles Styles
	// interrupt returns a context canceled by Ctrl+C. Tests replace it.
	interrupt func(context.Context) (context.Context, context.CancelFunc)
	lineOpen  bool
}

// NewChat reads lines from in and writes to out.
func NewChat(in io.Reader, out io.Writer) *Chat {
	return &Chat{
		Name:   "Familiar",
		out:    out,
		scan:   bufio.NewScanner(in),
		styles: NewStyles(out),
		interrupt: func(ctx context.Context) (context.Context, context.CancelFunc) {
			return signal.NotifyContext(ctx, os.Interrupt)
		},
	}
}

// Run loops until end of input, "/exit", or ctx is done.
func (c *Chat) Run(ctx context.Context) error {
	if c.Agent == nil {
		return errors.New("chat has no agent")
	}
	fmt.Fprintln(c.out, c.styles.Dim.Render(c.Name+" (Enter to send, Ctrl+C to stop a reply, /exit to quit)"))
	fmt.Fprintln(c.out)

	for ctx.Err() == nil {
		fmt.Fprint(c.out, c.styles.You.Render("You: "))
		if !c.scan.Scan() {
			fmt.Fprintln(c.out)
			return c.scan.Err()
		}
		line := strings.TrimSpace(c.scan.Text())
		switch line {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		}
		c.turn(ctx, line)
	}
	return ctx.Err()
}

func (c *Chat) turn(ctx context.Context, line string) {
	turnCtx, stop := c.interrupt(ctx)
	defer stop()

	fmt.Fprint(c.out, c.styles.Assistant.Render(c.Name+": "))
	c.lineOpen = true
	res, err := c.Agent.RunTurnObserved(turnCtx, c.Conversation, line, agent.Observer{
		Token:      c.token,
		ToolCall:   c.toolCall,
		ToolResult: c.toolResult,
	})
	c.endLine()
	switch {
	case err != nil && turnCtx.Err() != nil && ctx.Err() == nil:
		fmt.Fprintln(c.out, c.styles.Dim.Render("(stopped)"))
	case err != nil:
		fmt.Fprintln(c.out, c.styles.Error.Render("Error: "+agent.PublicError(err).Error()))
	case res.Partial:
		fmt.Fprintln(c.out, c.styles.Dim.Render("(step limit reached)"))
	}
	fmt.Fprintln(c.out)
}

func (c *Chat) token(s string) {
	if !c.lineOpen {
		fmt.Fprint(c.out, c.styles.Assistant.Render(c.Name+": "))
		c.lineOpen = true
	}
	fmt.Fprint(c.out, s)
}

func (c *Chat) toolCall(call core.ToolCall) {
	c.endLine()
	fmt.Fprintln(c.out, c.styles.Tool.Render(fmt.Sprintf("  > %s %s", call.Function.Name, call.Function.Arguments)))
}

func (c *Chat) toolResult(call core.ToolCall, result string) {
	fmt.Fprintln(c.out, c.styles.Tool.Render("  < "+truncate(result, 200)))
}

func (c *Chat) endLine() {
	if c.lineOpen {
		fmt.Fprintln(c.out)
		c.lineOpen = false
	}
}

// Confirm asks whether a tool call may run. It reads from the REPL's input, which
// is idle while a turn is running.
func (c *Chat) Confirm(ctx context.Context, toolName, argsJSON string) (bool, error) {
	c.endLine()
	fmt.Fprint(c.out, c.styles.Tool.Render(fmt.Sprintf("  Allow %s %s? [y/N] ", toolName, argsJSON)))
	if !c.scan.Scan() {
		if err := c.scan.Err(); err != nil {
			return false, err
		}
		return false, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	answer := strings.ToLower(strings.TrimSpace(c.scan.Text()))
	return answer == "y" || answer == "yes", nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
