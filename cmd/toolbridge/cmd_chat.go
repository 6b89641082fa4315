package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"toolbridge/internal/conversation"
	"toolbridge/internal/model"
	"toolbridge/internal/orchestrator"
	"toolbridge/internal/tools"
)

var (
	chatModel  string
	chatSystem string
	promptOnly bool
)

var chatCmd = &cobra.Command{
	Use:   "chat [prompt]",
	Short: "Chat with the configured model, letting it call tools",
	Long: `Sends the prompt to the model and executes the tool calls it makes until
it answers. Without a prompt an interactive session reads one message per
line from stdin; an empty line or EOF ends it.

Models without native tool calling (model.native_tools: false) are told
about the tools in the system prompt and call them by writing JSON.`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatModel, "model", "", "Model name (overrides config)")
	chatCmd.Flags().StringVar(&chatSystem, "system", "", "System prompt (overrides config)")
	chatCmd.Flags().BoolVar(&promptOnly, "print-system", false, "Print the system prompt and exit")
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mcfg := cfg.Model
	if chatModel != "" {
		mcfg.Model = chatModel
	}
	client := model.NewClient(mcfg)
	defer client.CloseIdleConnections()

	rt, err := newRuntime(cfg, client)
	if err != nil {
		return err
	}
	defer rt.Close()

	system := cfg.Orchestrator.SystemPrompt
	if chatSystem != "" {
		system = chatSystem
	}
	if !client.NativeTools() {
		system = rt.orch.EnhanceSystemPrompt(ctx, system)
	}
	if promptOnly {
		fmt.Fprintln(cmd.OutOrStdout(), system)
		return nil
	}

	var history []conversation.Message
	if system != "" {
		history = append(history, conversation.NewMessage(conversation.RoleSystem, system))
	}
	log := conversation.NewLog(history...)
	session := &chatSession{orch: rt.orch, log: log, out: cmd.OutOrStdout(), errOut: cmd.ErrOrStderr()}

	if len(args) > 0 {
		return session.send(ctx, strings.Join(args, " "))
	}
	return session.interactive(ctx, cmd.InOrStdin())
}

type chatSession struct {
	orch   *orchestrator.Orchestrator
	log    *conversation.Log
	out    io.Writer
	errOut io.Writer
}

func (s *chatSession) interactive(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Fprint(s.errOut, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(s.errOut)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			return nil
		}
		if err := s.send(ctx, line); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			// A failed turn does not end the session.
			fmt.Fprintf(s.errOut, "error: %v\n", err)
		}
	}
}

// send runs one turn for prompt, streaming text to out and tool activity
// to errOut.
func (s *chatSession) send(ctx context.Context, prompt string) error {
	s.log.Append(conversation.NewMessage(conversation.RoleUser, prompt))

	outcome, err := s.orch.Run(ctx, s.log, s.handle)
	fmt.Fprintln(s.out)
	if errors.Is(err, tools.ErrToolLoopLimit) {
		fmt.Fprintf(s.errOut, "stopped after %d tool rounds\n", outcome.Rounds)
		return nil
	}
	if err != nil {
		return err
	}
	logger.Debug("Turn finished", zap.Int("rounds", outcome.Rounds), zap.Int("messages", len(outcome.Messages)))
	return nil
}

func (s *chatSession) handle(ev orchestrator.Event) {
	switch ev.Kind {
	case orchestrator.EventText:
		fmt.Fprint(s.out, ev.Text)
	case orchestrator.EventToolCall:
		fmt.Fprintf(s.errOut, "\n[tool] %s %v\n", qualified(ev.Call.ServerID, ev.Call.Name), ev.Call.Arguments)
	case orchestrator.EventToolResult:
		status := "ok"
		if ev.Result.IsError {
			status = "error"
		}
		fmt.Fprintf(s.errOut, "[tool] %s %s in %s: %s\n", qualified(ev.Result.ServerID, ev.Result.Name), status,
			ev.Result.Duration.Round(time.Millisecond), firstLine(ev.Result.Content, 120))
	}
}

func qualified(server, name string) string {
	if server == "" {
		return name
	}
	return server + "/" + name
}

func firstLine(s string, n int) string {
	line, _, cut := strings.Cut(s, "\n")
	if len(line) > n {
		return line[:n] + "..."
	}
	if cut {
		return line + " ..."
	}
	return line
}
