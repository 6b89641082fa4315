package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"toolbridge/internal/config"
	"toolbridge/internal/mcp"
	"toolbridge/internal/supervisor"
)

var (
	checkLogLines int
	watchConfig   bool
)

var serversCmd = &cobra.Command{
	Use:   "servers",
	Short: "Manage configured tool servers",
}

var serversListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured servers",
	RunE:  listServers,
}

var serversTemplatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "List server templates",
	RunE:  listTemplates,
}

var serversAddCmd = &cobra.Command{
	Use:   "add [template] [id] [KEY=value...]",
	Short: "Add a server from a template to the config file",
	Long: `Adds a server record built from a template and saves the config file.

Examples:
  toolbridge servers add filesystem docs path=/srv/docs
  toolbridge servers add github gh GITHUB_PERSONAL_ACCESS_TOKEN=ghp_...`,
	Args: cobra.MinimumNArgs(2),
	RunE: addServer,
}

var serversCheckCmd = &cobra.Command{
	Use:   "check [id...]",
	Short: "Start servers, discover their tools and stop them again",
	RunE:  checkServers,
}

var serversUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Start every enabled server and keep them running until interrupted",
	Long: `Starts every enabled server and supervises them until SIGINT or SIGTERM.
With --watch, edits to the config file are applied live: removed or
disabled servers are stopped and changed servers are restarted.`,
	RunE: serversUp,
}

func init() {
	serversCheckCmd.Flags().IntVar(&checkLogLines, "logs", 20, "Server output lines to show for failed servers")
	serversUpCmd.Flags().BoolVar(&watchConfig, "watch", false, "Apply config file changes while running")

	serversCmd.AddCommand(serversListCmd)
	serversCmd.AddCommand(serversTemplatesCmd)
	serversCmd.AddCommand(serversAddCmd)
	serversCmd.AddCommand(serversCheckCmd)
	serversCmd.AddCommand(serversUpCmd)
}

func listServers(cmd *cobra.Command, args []string) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tTRANSPORT\tENABLED\tTARGET")
	for _, s := range cfg.Servers {
		target := strings.TrimSpace(s.Command + " " + strings.Join(s.Args, " "))
		if s.TransportKind() == mcp.TransportHTTP && s.Command == "" {
			target = s.Endpoint()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%s\n", s.ID, orDash(s.Type), s.TransportKind(), !s.Disabled, target)
	}
	return w.Flush()
}

func listTemplates(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	for _, id := range config.Templates() {
		t, _ := config.LookupTemplate(id)
		fmt.Fprintf(out, "%s: %s\n", id, t.Description)
		for _, f := range t.Fields {
			kind := "argument"
			if f.Env {
				kind = "env"
			}
			req := ""
			if f.Required {
				req = ", required"
			}
			fmt.Fprintf(out, "    %s (%s%s): %s\n", f.Name, kind, req, f.Description)
		}
	}
	return nil
}

func addServer(cmd *cobra.Command, args []string) error {
	values := make(map[string]string)
	for _, kv := range args[2:] {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return fmt.Errorf("expected KEY=value, got %q", kv)
		}
		values[k] = v
	}
	server, err := config.FromTemplate(args[0], args[1], values)
	if err != nil {
		return err
	}
	if _, exists := cfg.Server(server.ID); exists {
		return fmt.Errorf("server %s already exists", server.ID)
	}

	cfg.Servers = append(cfg.Servers, server)
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.Save(cfgPath); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Added server %s to %s\n", server.ID, cfgPath)
	return nil
}

// selectServers returns the enabled servers named by ids, or all of them.
func selectServers(ids []string) ([]mcp.ServerConfig, error) {
	var out []mcp.ServerConfig
	if len(ids) == 0 {
		for _, s := range cfg.ServerConfigs() {
			if !s.Disabled {
				out = append(out, s)
			}
		}
		return out, nil
	}
	all := cfg.ServerConfigs()
	for _, id := range ids {
		found := false
		for _, s := range all {
			if s.ID == id {
				out = append(out, s)
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("unknown server: %s", id)
		}
	}
	return out, nil
}

type checkResult struct {
	server mcp.ServerConfig
	info   supervisor.Info
	tools  int
	source string
	err    error
	logs   []string
}

func checkServers(cmd *cobra.Command, args []string) error {
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

	results := make([]checkResult, len(servers))
	var g errgroup.Group
	for i, s := range servers {
		g.Go(func() error {
			results[i] = checkServer(ctx, rt, s)
			return nil
		})
	}
	_ = g.Wait()

	out := cmd.OutOrStdout()
	failed := 0
	for _, r := range results {
		if r.err != nil {
			failed++
			fmt.Fprintf(out, "✗ %s: %v\n", r.server.ID, r.err)
			for _, line := range r.logs {
				fmt.Fprintf(out, "    | %s\n", line)
			}
			continue
		}
		pid := ""
		if r.info.Pid > 0 {
			pid = fmt.Sprintf(", pid %d", r.info.Pid)
		}
		fmt.Fprintf(out, "✓ %s: %d tools (%s%s)\n", r.server.ID, r.tools, r.source, pid)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d servers failed", failed, len(results))
	}
	return nil
}

func checkServer(ctx context.Context, rt *runtime, s mcp.ServerConfig) checkResult {
	res := checkResult{server: s}
	res.info, res.err = rt.sup.Start(ctx, s)
	if res.err != nil {
		res.logs, _ = rt.sup.Logs(s.ID, checkLogLines)
		return res
	}
	client, err := rt.sup.Client(s.ID)
	if err != nil {
		res.err = err
		return res
	}
	defs := rt.catalog.Discover(ctx, s, client)
	res.tools = len(defs)
	res.source = rt.catalog.Source(s.ID)
	return res
}

func serversUp(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(cfg, nil)
	if err != nil {
		return err
	}
	defer rt.store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := rt.sup.StartAll(ctx, cfg.ServerConfigs()); err != nil {
		logger.Warn("Some servers failed to start", zap.Error(err))
	}
	for _, info := range rt.sup.List() {
		logger.Info("Server status", zap.String("id", info.ID), zap.String("status", string(info.Status)), zap.Int("pid", info.Pid))
	}

	if watchConfig {
		go func() {
			err := config.Watch(ctx, cfgPath, func(next *config.Config) {
				rctx, rcancel := context.WithTimeout(ctx, next.Supervisor.StopGrace+time.Minute)
				defer rcancel()
				servers := next.ServerConfigs()
				if err := rt.sup.Reconcile(rctx, servers); err != nil {
					logger.Warn("Reconcile failed", zap.Error(err))
				}
				if err := rt.sup.StartAll(rctx, servers); err != nil {
					logger.Warn("Some servers failed to start", zap.Error(err))
				}
			})
			if err != nil {
				logger.Error("Config watcher failed", zap.Error(err))
			}
		}()
	}

	return supervisor.HandleSignals(ctx, rt.sup, cfg.Supervisor.StopGrace+5*time.Second)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
