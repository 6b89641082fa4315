package supervisor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"testing"
	"time"

	"go.uber.org/goleak"

	"toolbridge/internal/mcp"
	"toolbridge/internal/tools"
)

// TestMain doubles as a fake tool server when the test binary is re-executed
// with GO_WANT_HELPER_PROCESS=1.
func TestMain(m *testing.M) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") == "1" {
		os.Exit(runHelper(os.Getenv("HELPER_MODE")))
	}
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("os/signal.signal_recv"))
}

func helperRegistry() *tools.Registry {
	reg := tools.NewRegistry()
	for _, tool := range []*tools.Tool{{
		Name:        "echo",
		Description: "Echo the message back",
		Schema:      tools.ObjectSchema(map[string]tools.Property{"message": {Type: "string"}}, "message"),
		Execute: func(_ context.Context, args map[string]any) (string, error) {
			return tools.StringArg(args, "message")
		},
	}, {
		Name:        "exit",
		Description: "Terminate the server",
		Execute: func(context.Context, map[string]any) (string, error) {
			os.Exit(3)
			return "", nil
		},
	}} {
		if err := reg.Register(tool); err != nil {
			panic(err)
		}
	}
	return reg
}

func runHelper(mode string) int {
	srv := mcp.NewServer("helper", helperRegistry())
	switch mode {
	case "stdio":
		fmt.Println("helper booting")
		fmt.Fprintln(os.Stderr, "helper stderr line")
		_ = srv.ServeStdio(context.Background(), os.Stdin, os.Stdout)
		return 0
	case "silent":
		_, _ = io.Copy(io.Discard, os.Stdin)
		return 0
	case "exit-now":
		fmt.Fprintln(os.Stderr, "fatal: bad config")
		return 2
	case "ignore-term":
		signal.Ignore(syscall.SIGTERM)
		_ = srv.ServeStdio(context.Background(), os.Stdin, os.Stdout)
		time.Sleep(time.Hour)
		return 0
	case "http":
		port := portArg(os.Args)
		fmt.Println("listening on", port)
		if err := http.ListenAndServe("127.0.0.1:"+strconv.Itoa(port), srv.Handler()); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		return 0
	}
	fmt.Fprintln(os.Stderr, "unknown helper mode", mode)
	return 1
}

// portArg reads --port from args.
func portArg(args []string) int {
	port, _ := mcp.ServerConfig{Args: args}.Port()
	return port
}
