package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/kirillkom/proposal-rag/internal/adapters/cli"
	mcpadapter "github.com/kirillkom/proposal-rag/internal/adapters/mcp"
	"github.com/kirillkom/proposal-rag/internal/bootstrap"
	"github.com/kirillkom/proposal-rag/internal/config"
	"github.com/kirillkom/proposal-rag/internal/observability/logging"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := cli.NewRootCommand(newServices, version)
	root.SetOut(os.Stdout)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

// newServices bootstraps the application for one command. Logs go to
// stderr so stdout stays usable for command output and MCP.
func newServices(ctx context.Context) (*cli.Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logging.NewLogger(os.Stderr, "ragctl", cfg.LogLevel))

	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{Service: "ragctl"})
	if err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	mcpServer := mcpadapter.NewServer(app.Answer, version)

	return &cli.Services{
		Resolver:  app.Resolver,
		Ingestor:  app.Ingest,
		Proposals: app.Answer,
		ServeMCP: func(ctx context.Context, in io.Reader, out io.Writer) error {
			return mcpServer.ServeStdio(ctx, in, out)
		},
		DefaultRoot: cfg.Resource,
		Recursive:   cfg.ScanRecursive,
		Extensions:  cfg.ScanExtensions,
		Close:       app.Close,
	}, nil
}
