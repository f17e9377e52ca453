package commands

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/moolen/sleuth/internal/app"
	"github.com/moolen/sleuth/internal/config"
	"github.com/moolen/sleuth/internal/corpus"
	"github.com/moolen/sleuth/internal/embedding"
)

var corpusReset bool

var corpusCmd = &cobra.Command{
	Use:   "corpus",
	Short: "Manage the historical incident corpus",
}

var corpusLoadCmd = &cobra.Command{
	Use:   "load <file>",
	Short: "Load historical incidents from .xlsx, .csv, .json or .yaml",
	Long: `Load historical incidents in batches. Loading is skipped when the collection
already holds incidents; pass --reset to replace them.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCorpus(func(ctx context.Context, s *corpus.Store) error {
			if corpusReset {
				if err := s.Reset(ctx); err != nil {
					return err
				}
			}
			rep, err := s.LoadFile(ctx, args[0], progressPrinter(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			if rep.Skipped {
				fmt.Fprintf(cmd.OutOrStdout(), "Collection already holds %d incidents, nothing loaded (use --reset to reload)\n", rep.Existing)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Loaded %d incidents from %s in %d batches (%s)\n",
				rep.Inserted, rep.Source, rep.Batches, rep.Duration.Round(time.Millisecond))
			return nil
		})
	},
}

var corpusResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Remove every incident from the collection",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCorpus(func(ctx context.Context, s *corpus.Store) error {
			if err := s.Reset(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Corpus reset")
			return nil
		})
	},
}

var corpusCountCmd = &cobra.Command{
	Use:   "count",
	Short: "Print the number of incidents in the collection",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCorpus(func(ctx context.Context, s *corpus.Store) error {
			n, err := s.Count(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		})
	},
}

var corpusPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete all backend state for the collection, including files on disk",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCorpus(func(ctx context.Context, s *corpus.Store) error {
			if err := s.Purge(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "All corpus data deleted")
			return nil
		})
	},
}

func init() {
	corpusLoadCmd.Flags().BoolVar(&corpusReset, "reset", false, "Reset the collection before loading")

	corpusCmd.AddCommand(corpusLoadCmd)
	corpusCmd.AddCommand(corpusResetCmd)
	corpusCmd.AddCommand(corpusCountCmd)
	corpusCmd.AddCommand(corpusPurgeCmd)
}

// withCorpus opens the embedder and store without an LLM client, runs fn
// and closes the store.
func withCorpus(fn func(ctx context.Context, s *corpus.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	s, closeFn, err := openCorpus(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(ctx, s)
}

func openCorpus(ctx context.Context, cfg *config.Config) (*corpus.Store, func(), error) {
	embedder, err := embedding.New(ctx, app.EmbeddingConfig(cfg.Embedding))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	collection, err := app.OpenCollection(ctx, cfg.Store, embedder.Dimension())
	if err != nil {
		return nil, nil, err
	}
	s := corpus.NewStore(collection, embedder,
		corpus.WithBatchSize(cfg.Corpus.BatchSize),
		corpus.WithMetrics(corpus.NewMetrics(prometheus.NewRegistry(), collection.Name())),
	)
	return s, func() { _ = collection.Close() }, nil
}

// progressPrinter reports batch progress on w.
func progressPrinter(w io.Writer) corpus.ProgressCallback {
	return func(inserted, total int) {
		fmt.Fprintf(w, "Inserted %d/%d incidents\n", inserted, total)
	}
}
