package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"toolbridge/internal/conversation"
	"toolbridge/internal/extract"
	"toolbridge/internal/mcp"
)

var (
	describeTools bool
	showStats     bool
	argsFile      string
)

var toolsCmd = &cobra.Command{
	Use:   "tools [id...]",
	Short: "List the tools of configured servers",
	Long: `Starts the selected servers (all enabled servers by default) and lists
their tools. Servers that cannot be started fall back to their last
discovered tool set, then to the static set for their type.`,
	RunE: listTools,
}

var execCmd = &cobra.Command{
	Use:   "exec [server] [tool] [json-args]",
	Short: "Execute one tool",
	Long: `Executes a tool and prints its result. Pass "" as the server to route by
tool name. Arguments are a JSON object, given inline or with --args-file
("-" reads stdin).

Example:
  toolbridge exec files read_file '{"path": "/srv/docs/README.md"}'`,
	Args: cobra.RangeArgs(2, 3),
	RunE: execTool,
}

var extractCmd = &cobra.Command{
	Use:   "extract [file]",
	Short: "Print the tool calls found in model output",
	Long: `Reads model output from a file (or stdin) and prints the tool calls it
contains as JSON, one per line. With --text the remaining prose is
printed instead.`,
	Args: cobra.MaximumNArgs(1),
	RunE: extractCalls,
}

var extractText bool

func init() {
	toolsCmd.Flags().BoolVar(&describeTools, "describe", false, "Print the instructions given to the model")
	toolsCmd.Flags().BoolVar(&showStats, "stats", false, "Include usage statistics")
	execCmd.Flags().StringVar(&argsFile, "args-file", "", "Read arguments from a file")
	extractCmd.Flags().BoolVar(&extractText, "text", false, "Print the text without tool calls")
}

func listTools(cmd *cobra.Command, args []string) error {
	servers, err := selectServers(args)
	if err != nil {
		return err
	}
	rt, err := newRuntime(cfg, nil)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, cancel := commandContext(cmd)
	defer cancel()
	out := cmd.OutOrStdout()

	if describeTools {
		fmt.Fprint(out, rt.orch.EnhanceSystemPrompt(ctx, ""))
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	header := "SERVER\tTOOL\tSOURCE\tDESCRIPTION"
	if showStats {
		header += "\tCALLS\tOK\tAVG MS"
	}
	fmt.Fprintln(w, header)
	for _, s := range servers {
		var client mcp.Client
		if _, err := rt.sup.Start(ctx, s); err == nil {
			client, _ = rt.sup.Client(s.ID)
		} else {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", s.ID, err)
		}
		defs := rt.catalog.Discover(ctx, s, client)
		source := rt.catalog.Source(s.ID)

		stats := make(map[string][3]int64)
		if showStats {
			rows, err := rt.store.Stats(ctx, s.ID)
			if err != nil {
				return err
			}
			for _, st := range rows {
				stats[st.Name] = [3]int64{st.UsageCount, st.SuccessCount, st.AvgLatencyMs}
			}
		}
		for _, def := range defs {
			desc, _, _ := strings.Cut(def.Description, "\n")
			line := fmt.Sprintf("%s\t%s\t%s\t%s", s.ID, def.Name, source, desc)
			if showStats {
				st := stats[def.Name]
				line += fmt.Sprintf("\t%d\t%d\t%d", st[0], st[1], st[2])
			}
			fmt.Fprintln(w, line)
		}
	}
	return w.Flush()
}

func execTool(cmd *cobra.Command, args []string) error {
	raw := ""
	if len(args) == 3 {
		raw = args[2]
	}
	if argsFile != "" {
		data, err := readInput(cmd, argsFile)
		if err != nil {
			return err
		}
		raw = string(data)
	}
	toolArgs, err := extract.DecodeArguments(raw)
	if err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}

	rt, err := newRuntime(cfg, nil)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, cancel := commandContext(cmd)
	defer cancel()

	res := rt.orch.Execute(ctx, args[0], args[1], toolArgs)
	fmt.Fprintln(cmd.OutOrStdout(), res.Content)
	if res.IsError {
		return fmt.Errorf("tool %s failed", res.Name)
	}
	return nil
}

func extractCalls(cmd *cobra.Command, args []string) error {
	name := "-"
	if len(args) == 1 {
		name = args[0]
	}
	data, err := readInput(cmd, name)
	if err != nil {
		return err
	}

	text, calls := extract.Split(string(data))
	out := cmd.OutOrStdout()
	if extractText {
		fmt.Fprint(out, text)
		return nil
	}
	enc := json.NewEncoder(out)
	for _, call := range calls {
		if err := enc.Encode(callView(call)); err != nil {
			return err
		}
	}
	return nil
}

type extractedCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
	Error     string         `json:"error,omitempty"`
}

func callView(call conversation.ToolCall) extractedCall {
	v := extractedCall{Name: call.Name, Arguments: call.Arguments}
	if call.DecodeErr != nil {
		v.Error = call.DecodeErr.Error()
	}
	return v
}

// readInput reads name, or the command's stdin for "-".
func readInput(cmd *cobra.Command, name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(name)
}
