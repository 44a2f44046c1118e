// Package app provides the RAG server application.
package app

import (
	"context"
	"fmt"

	"github.com/kart-io/sentinel-rag/cmd/rag/app/options"
	ragsvc "github.com/kart-io/sentinel-rag/internal/rag"
	"github.com/kart-io/sentinel-rag/pkg/infra/app"
)

const (
	// commandDesc is the description of the command.
	commandDesc = `Sentinel RAG Service

The retrieval-augmented generation knowledge base service.

Running without a subcommand starts the HTTP server, which provides:
  - Per-store document indexing with byte quotas
  - Filtered similarity search with resolvable citations
  - Grounded question answering with confidence scores
  - Upload batches and idempotent reindexing

The subcommands run the same pipeline locally against the configured storage.`
)

// NewApp creates and returns a new App object with default parameters.
func NewApp() *app.App {
	opts := options.NewServerOptions()
	application := app.NewApp(
		app.WithName(ragsvc.Name),
		app.WithShortDescription("Retrieval-augmented generation knowledge base service"),
		app.WithDescription(commandDesc),
		app.WithOptions(opts),
		app.WithRunFunc(run(opts)),
		app.WithCommands(
			newIndexCommand(opts),
			newQueryCommand(opts),
			newQuotaCommand(opts),
			newReindexCommand(opts),
			newStoresCommand(opts),
		),
	)

	return application
}

// run contains the main logic for initializing and running the server.
func run(opts *options.ServerOptions) app.RunFunc {
	return func(ctx context.Context) error {
		cfg, err := opts.Config()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		server, err := cfg.NewServer(ctx)
		if err != nil {
			return fmt.Errorf("failed to create server: %w", err)
		}

		// ctx 在收到 SIGINT/SIGTERM 时取消，触发优雅关闭
		return server.Run(ctx)
	}
}

// withComponents 为一次性命令装配运行时依赖，结束后释放。
func withComponents(ctx context.Context, opts *options.ServerOptions, fn func(c *ragsvc.Components) error) (err error) {
	cfg, err := opts.Config()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	c, err := cfg.NewComponents(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := c.Close(context.WithoutCancel(ctx)); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(c)
}
