package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fernwood/orderdesk/internal/catalog"
	"github.com/fernwood/orderdesk/internal/embedding"
	"github.com/fernwood/orderdesk/internal/retrieval"
	"github.com/fernwood/orderdesk/pkg/chroma"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Embed the catalog and sync it to the vector store",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if cfg.Embedding.Key == "" {
			return eris.New("embedding API key is required (ORDERDESK_EMBEDDING_KEY)")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		entries, err := st.ListCatalog(ctx)
		if err != nil {
			return eris.Wrap(err, "load catalog")
		}
		if len(entries) == 0 {
			return eris.New("catalog is empty, run `orderdesk import` first")
		}

		engine, err := embedding.NewGenAIEngine(ctx, cfg.Embedding.Key, cfg.Embedding.Model)
		if err != nil {
			return eris.Wrap(err, "init embedding engine")
		}

		retriever, err := retrieval.NewAdapter(ctx, chroma.NewClient(cfg.Chroma.BaseURL), engine, cfg.Chroma.Collection)
		if err != nil {
			return eris.Wrap(err, "init retrieval adapter")
		}

		index := catalog.NewIndex(entries)
		if err := retriever.SyncCatalog(ctx, index.Snapshot()); err != nil {
			return eris.Wrap(err, "sync catalog")
		}

		zap.L().Info("catalog indexed",
			zap.Int("products", index.Len()),
			zap.String("collection", cfg.Chroma.Collection))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(indexCmd)
}
