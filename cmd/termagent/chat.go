package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"iter"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/martinemde/termagent/agentloop"
)

type chatStyles struct {
	banner   lipgloss.Style
	prompt   lipgloss.Style
	decision lipgloss.Style
	output   lipgloss.Style
	failure  lipgloss.Style
	muted    lipgloss.Style
}

func newChatStyles() chatStyles {
	return chatStyles{
		banner:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		prompt:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10")),
		decision: lipgloss.NewStyle().Foreground(lipgloss.Color("15")),
		output: lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			BorderStyle(lipgloss.NormalBorder()).
			BorderLeft(true).
			PaddingLeft(1),
		failure: lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
		muted:   lipgloss.NewStyle().Faint(true),
	}
}

func newChatCmd(flags *rootFlags) *cobra.Command {
	var conversationID string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the agent in this terminal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := newApp(ctx, flags, false)
			if err != nil {
				return err
			}
			defer a.Close()

			if !a.client.HasProviders() {
				fmt.Fprintln(cmd.ErrOrStderr(), "Running without an API key: AI features will be unavailable.")
			}
			return runChat(ctx, a.agent, conversationID, cmd.InOrStdin(), cmd.OutOrStdout(), newChatStyles())
		},
	}
	cmd.Flags().StringVar(&conversationID, "conversation", agentloop.DefaultConversationID, "conversation to continue")
	return cmd
}

// chatAgent is the part of agentloop.Agent the chat loop uses.
type chatAgent interface {
	Stream(ctx context.Context, conversationID, text string) iter.Seq[agentloop.Event]
}

// runChat reads one request per line until EOF or "exit" and prints each
// streamed step.
func runChat(ctx context.Context, agent chatAgent, conversationID string, in io.Reader, out io.Writer, st chatStyles) error {
	fmt.Fprintln(out, st.banner.Render("Terminal Agent"))
	fmt.Fprintln(out, st.muted.Render("Type 'exit' to quit."))

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, st.prompt.Render("Command: "))
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "exit":
			return nil
		case line == "":
			continue
		}

		for ev := range agent.Stream(ctx, conversationID, line) {
			renderEvent(out, st, ev)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func renderEvent(out io.Writer, st chatStyles, ev agentloop.Event) {
	switch ev.Type {
	case agentloop.EventMessage:
		switch ev.Kind {
		case agentloop.KindActionResult:
			fmt.Fprintln(out, st.output.Render(ev.Content))
		default:
			if ev.Content != "" {
				fmt.Fprintln(out, st.decision.Render(ev.Content))
			}
		}
	case agentloop.EventError:
		fmt.Fprintln(out, st.failure.Render("Error: "+ev.Content))
	case agentloop.EventEnd:
		fmt.Fprintln(out)
	}
}
