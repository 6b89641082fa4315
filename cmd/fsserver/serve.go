package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"toolbridge/internal/fsservice"
	"toolbridge/internal/mcp"
	"toolbridge/internal/pathguard"
	"toolbridge/internal/tools"
)

const shutdownGrace = 5 * time.Second

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := newServer(args)
	if err != nil {
		return err
	}
	if port > 0 {
		ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
		if err != nil {
			return fmt.Errorf("failed to listen: %w", err)
		}
		return serveHTTP(ctx, srv, ln)
	}
	return serveStdio(ctx, srv, os.Stdin, os.Stdout)
}

// newServer builds the filesystem tool server for dirs.
func newServer(dirs []string) (*mcp.Server, error) {
	if len(dirs) == 0 {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		dirs = []string{wd}
	}
	allowed, err := pathguard.New(dirs...)
	if err != nil {
		return nil, err
	}
	for _, d := range allowed.Dirs() {
		if fi, err := os.Stat(d); err != nil || !fi.IsDir() {
			logger.Warn("Allowed directory is not accessible", zap.String("dir", d))
		}
	}

	registry := tools.NewRegistry()
	if err := fsservice.New(allowed).Register(registry); err != nil {
		return nil, err
	}
	logger.Info("Filesystem server ready", zap.Strings("allowed", allowed.Dirs()))
	return mcp.NewServer("filesystem", registry), nil
}

// serveStdio serves until in closes or ctx is done.
func serveStdio(ctx context.Context, srv *mcp.Server, in io.Reader, out io.Writer) error {
	logger.Debug("Serving on stdio")
	err := srv.ServeStdio(ctx, in, out)
	if errors.Is(err, context.Canceled) {
		logger.Info("Shutting down")
		return nil
	}
	return err
}

// serveHTTP serves on ln until ctx is done, then drains in-flight requests
// and closes the listener.
func serveHTTP(ctx context.Context, srv *mcp.Server, ln net.Listener) error {
	hs := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.Info("Serving HTTP", zap.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() { errCh <- hs.Serve(ln) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := hs.Shutdown(sctx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
