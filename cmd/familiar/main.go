// familiar is a local assistant that lives in the terminal: it remembers the
// conversation in SQLite, calls tools, and can serve the same agent over HTTP.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/hattiebot/familiar/internal/agent"
	"github.com/hattiebot/familiar/internal/config"
	"github.com/hattiebot/familiar/internal/middleware"
	"github.com/hattiebot/familiar/internal/server"
	"github.com/hattiebot/familiar/internal/store"
	"github.com/hattiebot/familiar/internal/tui"
	"github.com/hattiebot/familiar/internal/version"
)

var (
	flagConfigDir    string
	flagConversation string

	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle   = lipgloss.NewStyle().Faint(true)
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("error: "+err.Error()))
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	chat := newChatCmd()
	root := &cobra.Command{
		Use:           "familiar",
		Short:         "A local assistant with memory and tools",
		Version:       version.Version + " (" + version.Commit + ")",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE:          chat.RunE,
	}
	root.PersistentFlags().StringVar(&flagConfigDir, "config-dir", "", "config directory (default $FAMILIAR_CONFIG_DIR or ~/.config/familiar)")
	root.PersistentFlags().StringVarP(&flagConversation, "conversation", "c", store.DefaultConversation, "conversation to use")

	root.AddCommand(chat, newAskCmd(), newServeCmd(), newHistoryCmd(), newClearCmd(), newConfigCmd(), newVersionCmd())
	return root
}

func stdinIsTerminal() bool {
	fd := os.Stdin.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func newChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Chat in the terminal (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			assistantName, err := firstBoot(cmd)
			if err != nil {
				return err
			}

			chat := tui.NewChat(cmd.InOrStdin(), cmd.OutOrStdout())
			a, err := openAgent(ctx, chat.Confirm)
			if err != nil {
				return err
			}
			defer a.Close()

			if assistantName != "" {
				if _, err := a.personality.Update(map[string]any{"name": assistantName}); err != nil {
					return err
				}
			}
			if name, ok := a.personality.Snapshot().Get("name"); ok {
				if s, ok := name.(string); ok && s != "" {
					chat.Name = s
				}
			}
			chat.Agent = a.loop
			chat.Conversation = flagConversation
			return chat.Run(ctx)
		},
	}
}

// firstBoot runs interactive setup when there is no config file and a person is at
// the terminal. It returns the assistant name that was chosen, if any.
func firstBoot(cmd *cobra.Command) (string, error) {
	dir := config.ResolveDir(flagConfigDir)
	cfg, err := config.Load(dir)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(cfg.Path()); err == nil || !stdinIsTerminal() || cfg.LLM.APIKey != "" {
		return "", nil
	}
	setup, err := tui.RunFirstBoot(cmd.InOrStdin(), cmd.OutOrStdout(), dir)
	if err != nil {
		return "", err
	}
	return setup.Name, nil
}

func newAskCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ask <prompt>",
		Short: "Ask one question and stream the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var confirm middleware.ConfirmationFunc
			if stdinIsTerminal() {
				confirm = tui.NewChat(cmd.InOrStdin(), cmd.ErrOrStderr()).Confirm
			}
			a, err := openAgent(ctx, confirm)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			res, err := a.loop.RunTurn(ctx, flagConversation, strings.Join(args, " "), func(s string) {
				fmt.Fprint(out, s)
			})
			fmt.Fprintln(out)
			if err != nil {
				a.log.Debug().Err(err).Msg("turn failed")
				return agent.PublicError(err)
			}
			if res.Partial {
				fmt.Fprintln(cmd.ErrOrStderr(), dimStyle.Render("(step limit reached)"))
			}
			return nil
		},
	}
}

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the agent over HTTP and websocket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := openAgent(ctx, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			if addr == "" {
				addr = a.cfg.Server.Addr
			}
			srv := server.New(a.loop, a.db, a.health, a.log)
			return srv.Start(ctx, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.addr)")
	return cmd
}

func newHistoryCmd() *cobra.Command {
	var limit int
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent messages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			msgs, err := a.db.RecentMessages(cmd.Context(), flagConversation, limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(msgs)
			}
			for _, m := range msgs {
				fmt.Fprintln(out, formatMessage(m))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of messages")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print messages as JSON")
	return cmd
}

func formatMessage(m store.Message) string {
	stamp := dimStyle.Render(m.CreatedAt.Local().Format("2006-01-02 15:04"))
	var body string
	switch {
	case len(m.ToolCalls) > 0:
		names := make([]string, len(m.ToolCalls))
		for i, c := range m.ToolCalls {
			names[i] = c.ToolName + " " + c.Arguments
		}
		body = "[calls " + strings.Join(names, ", ") + "]"
	case m.Content != nil:
		body = *m.Content
	}
	return fmt.Sprintf("%s %-9s %s", stamp, m.Role, body)
}

func newClearCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete the conversation's history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				fmt.Fprintf(cmd.OutOrStdout(), "Delete all messages in %q? [y/N] ", flagConversation)
				var answer string
				fmt.Fscanln(cmd.InOrStdin(), &answer)
				if a := strings.ToLower(strings.TrimSpace(answer)); a != "y" && a != "yes" {
					return errors.New("aborted")
				}
			}
			a, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.db.ClearConversation(cmd.Context(), flagConversation); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Cleared", flagConversation)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create the configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print the config file location",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cfg.Path())
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(cfg.Masked())
		},
	})

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a commented config file with the defaults",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.WriteDefault(config.ResolveDir(flagConfigDir), force)
			if errors.Is(err, config.ErrExists) {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Wrote", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cmd.AddCommand(initCmd)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "familiar %s (%s)\n", version.Version, version.Commit)
		},
	}
}
