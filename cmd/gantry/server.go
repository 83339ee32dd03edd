package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/gantryml/gantry/internal/api"
	"github.com/gantryml/gantry/internal/catalog"
	"github.com/gantryml/gantry/internal/config"
	"github.com/gantryml/gantry/internal/ingest"
	"github.com/gantryml/gantry/internal/objstore"
	"github.com/gantryml/gantry/internal/orchestrator"
	"github.com/gantryml/gantry/internal/storage"
	"github.com/gantryml/gantry/internal/vectorstore"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "gantry version %s\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	// Initialize structured logging.
	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	if cfg.Server.Token == "" {
		return fmt.Errorf("server.token is required (set GANTRY_SERVER_TOKEN)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open storage.
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	// Load the model catalog. Provider credentials come from the
	// environment; models whose secret is absent load as disabled.
	registry, err := catalog.Load(cfg.Catalog.Path, config.EnvSecrets{})
	if err != nil {
		return fmt.Errorf("loading model catalog: %w", err)
	}
	gen := orchestrator.New(registry, logger)

	// Object storage for staged build documents and matching-backend
	// index artifacts.
	bucketRoot := cfg.Vector.BucketRoot
	if bucketRoot == "" {
		bucketRoot = filepath.Join(cfg.Storage.DataDir, "objects")
	}
	objects := objstore.NewDir(bucketRoot)

	indexSvc := vectorstore.NewHTTPIndexService(cfg.Vector.IndexServiceURL)
	stores := ingest.StoreFactory(func(eng storage.QueryEngine) vectorstore.Store {
		if eng.Backend == "matching" {
			return vectorstore.NewMatching(store, eng.ID, gen, objects, indexSvc, logger)
		}
		return vectorstore.NewSQLVec(store, eng.ID, gen, logger)
	})

	// Start the index build worker.
	builder := ingest.NewBuilder(store, stores, logger)
	worker := ingest.NewWorker(store, objects, builder, 500*time.Millisecond)
	go worker.Run(ctx)

	handler := api.NewHandler(api.Deps{
		Store:     store,
		Registry:  registry,
		Generator: gen,
		Stores:    stores,
		Objects:   objects,
		Token:     cfg.Server.Token,
	})

	// MCP server on its own port (streamable HTTP transport).
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Store:     store,
		Registry:  registry,
		Generator: gen,
		Stores:    stores,
	})
	mcpHTTP := server.NewStreamableHTTPServer(mcpSrv)
	mcpAddr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.MCPPort)
	go func() {
		if err := mcpHTTP.Start(mcpAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("MCP server error", "error", err)
		}
	}()
	slog.Info("MCP server started", "addr", mcpAddr)

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "gantry listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := mcpHTTP.Shutdown(shutdownCtx); err != nil {
		slog.Warn("MCP server shutdown", "error", err)
	}
	return srv.Shutdown(shutdownCtx)
}
