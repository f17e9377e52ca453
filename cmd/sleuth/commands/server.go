package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/moolen/sleuth/internal/apiserver"
	"github.com/moolen/sleuth/internal/app"
	"github.com/moolen/sleuth/internal/config"
	"github.com/moolen/sleuth/internal/lifecycle"
	"github.com/moolen/sleuth/internal/logging"
	"github.com/moolen/sleuth/internal/mcp"
	"github.com/moolen/sleuth/internal/tracing"
)

var (
	serverListen     string
	serverCorpusPath string
	serverNoMCP      bool
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the HTTP API and MCP server",
	Long: `Start the incident analysis HTTP API with metrics, health endpoints and a
streamable MCP endpoint. The analysis section of the config file is reloaded
when the file changes.`,
	RunE: runServer,
}

func init() {
	serverCmd.Flags().StringVar(&serverListen, "listen", "", "Listen address (overrides server.listen)")
	serverCmd.Flags().StringVar(&serverCorpusPath, "corpus", "",
		"Load this corpus file before serving unless the collection already holds incidents (overrides corpus.source)")
	serverCmd.Flags().BoolVar(&serverNoMCP, "no-mcp", false, "Do not mount the MCP endpoint")
}

func runServer(cmd *cobra.Command, args []string) error {
	logger := logging.GetLogger("server")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serverListen != "" {
		cfg.Server.Listen = serverListen
	}
	if serverCorpusPath != "" {
		cfg.Corpus.Source = serverCorpusPath
	}

	ctx, stop := signalContext()
	defer stop()

	logger.Info("Starting sleuth v%s", Version)

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("Failed to close store: %v", err)
		}
	}()

	if cfg.Corpus.Source != "" {
		rep, err := a.EnsureCorpus(ctx, cfg.Corpus.Source, nil)
		if err != nil {
			return fmt.Errorf("failed to load corpus: %w", err)
		}
		if rep.Skipped {
			logger.Info("Corpus already holds %d incidents, skipped %s", rep.Existing, rep.Source)
		} else {
			logger.Info("Loaded %d incidents from %s", rep.Inserted, rep.Source)
		}
	}

	manager := lifecycle.NewManager()
	manager.SetShutdownTimeout(cfg.Server.ShutdownTimeout + 5*time.Second)

	tracingProvider, err := tracing.NewProvider(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		TLSCAPath:   cfg.Tracing.TLSCAPath,
		TLSInsecure: cfg.Tracing.TLSInsecure,
		SampleRatio: cfg.Tracing.SampleRatio,
		Version:     Version,
	})
	if err != nil {
		logger.Warn("Failed to initialize tracing (continuing without tracing): %v", err)
		tracingProvider = nil
	}
	if tracingProvider != nil {
		if err := manager.Register(tracingProvider); err != nil {
			return fmt.Errorf("failed to register tracing provider: %w", err)
		}
	}

	opts := []apiserver.Option{
		apiserver.WithMetrics(a.Registry, a.Registry),
		apiserver.WithReadinessChecker(storeReadiness(a)),
	}
	if tracingProvider != nil {
		opts = append(opts, apiserver.WithTracingProvider(tracingProvider))
	}
	if !serverNoMCP {
		mcpServer, err := mcp.NewServer(mcpOptions(a))
		if err != nil {
			return fmt.Errorf("failed to create MCP server: %w", err)
		}
		opts = append(opts, apiserver.WithMCPHandler(mcpServer.HTTPHandler(cfg.Server.MCPPath)))
	}

	apiComponent := apiserver.New(apiserver.Config{
		Addr:            cfg.Server.Listen,
		MCPPath:         cfg.Server.MCPPath,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		MaxUploadSize:   int64(cfg.Server.MaxUploadMB) << 20,
	}, a, a.Corpus, opts...)

	var apiDeps []lifecycle.Component
	if tracingProvider != nil {
		apiDeps = append(apiDeps, tracingProvider)
	}
	if err := manager.Register(apiComponent, apiDeps...); err != nil {
		return fmt.Errorf("failed to register API server: %w", err)
	}

	if configPath != "" {
		watcher, err := config.NewPolicyWatcher(config.PolicyWatcherConfig{FilePath: configPath}, a.ApplyPolicy)
		if err != nil {
			return fmt.Errorf("failed to create policy watcher: %w", err)
		}
		if err := manager.Register(watcher); err != nil {
			return fmt.Errorf("failed to register policy watcher: %w", err)
		}
	}

	if err := manager.Start(ctx); err != nil {
		return fmt.Errorf("failed to start components: %w", err)
	}
	logger.Info("Sleuth started, serving on %s", apiComponent.Addr())

	<-ctx.Done()
	logger.Info("Shutdown signal received, gracefully shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout+10*time.Second)
	defer cancel()
	if err := manager.Stop(shutdownCtx); err != nil {
		logger.Error("Error during shutdown: %v", err)
		return err
	}
	logger.Info("Shutdown complete")
	return nil
}

// storeReadiness reports ready while the store answers a count.
func storeReadiness(a *app.App) apiserver.ReadinessChecker {
	return apiserver.ReadinessFunc(func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, err := a.Corpus.Count(ctx)
		return err == nil
	})
}

func mcpOptions(a *app.App) mcp.ServerOptions {
	return mcp.ServerOptions{
		Analyzer:   a,
		Corpus:     a.Corpus,
		Cache:      a.Index,
		Backend:    a.Config.Store.Backend,
		Collection: a.Collection.Name(),
		Version:    Version,
	}
}
