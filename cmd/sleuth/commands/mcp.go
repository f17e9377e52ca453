package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/moolen/sleuth/internal/api"
	"github.com/moolen/sleuth/internal/app"
	"github.com/moolen/sleuth/internal/logging"
	"github.com/moolen/sleuth/internal/mcp"
)

var (
	mcpTransport  string
	mcpListen     string
	mcpCorpusPath string
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the analysis tools over the Model Context Protocol",
	Long: `Expose analyze_incident, corpus_stats and the triage_incident prompt to MCP
clients, either over stdio (for local assistants) or over streamable HTTP.`,
	RunE: runMCP,
}

func init() {
	mcpCmd.Flags().StringVar(&mcpTransport, "transport", "stdio", "Transport: stdio or http")
	mcpCmd.Flags().StringVar(&mcpListen, "listen", ":8082", "Listen address for the http transport")
	mcpCmd.Flags().StringVar(&mcpCorpusPath, "corpus", "", "Load this corpus file first unless the collection already holds incidents")
}

func runMCP(cmd *cobra.Command, args []string) error {
	logger := logging.GetLogger("mcp")

	if mcpTransport != "stdio" && mcpTransport != "http" {
		return fmt.Errorf("unknown transport %q (must be stdio or http)", mcpTransport)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if mcpCorpusPath != "" {
		cfg.Corpus.Source = mcpCorpusPath
	}

	ctx, stop := signalContext()
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = a.Close()
	}()

	if cfg.Corpus.Source != "" {
		if _, err := a.EnsureCorpus(ctx, cfg.Corpus.Source, nil); err != nil {
			return fmt.Errorf("failed to load corpus: %w", err)
		}
	}

	s, err := mcp.NewServer(mcpOptions(a))
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	if mcpTransport == "stdio" {
		// logs go to stderr, stdout carries the protocol
		logger.Info("Serving MCP over stdio")
		return s.ServeStdio()
	}

	endpointPath := cfg.Server.MCPPath
	mux := http.NewServeMux()
	mux.Handle(endpointPath, s.HTTPHandler(endpointPath))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		_ = api.WriteSuccess(w, map[string]string{"status": "healthy"})
	})
	httpSrv := &http.Server{
		Addr:              mcpListen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Serving MCP over HTTP on %s%s", mcpListen, endpointPath)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("MCP HTTP server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}
