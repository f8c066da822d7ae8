package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/fernwood/orderdesk/internal/catalog"
	"github.com/fernwood/orderdesk/internal/embedding"
	"github.com/fernwood/orderdesk/internal/extract"
	"github.com/fernwood/orderdesk/internal/pipeline"
	"github.com/fernwood/orderdesk/internal/reconcile"
	"github.com/fernwood/orderdesk/internal/respond"
	"github.com/fernwood/orderdesk/internal/retrieval"
	"github.com/fernwood/orderdesk/internal/store"
	anthropicpkg "github.com/fernwood/orderdesk/pkg/anthropic"
	"github.com/fernwood/orderdesk/pkg/chroma"
)

// pipelineEnv bundles everything a pipeline-running command needs.
type pipelineEnv struct {
	Store  store.Store
	Index  *catalog.Index
	Runner *pipeline.Runner
}

func (e *pipelineEnv) Close() {
	if err := e.Store.Close(); err != nil {
		zap.L().Warn("store close failed", zap.Error(err))
	}
}

func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	if cfg.Anthropic.Key == "" {
		return nil, eris.New("anthropic API key is required (ORDERDESK_ANTHROPIC_KEY)")
	}
	if cfg.Embedding.Key == "" {
		return nil, eris.New("embedding API key is required (ORDERDESK_EMBEDDING_KEY)")
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	entries, err := st.ListCatalog(ctx)
	if err != nil {
		st.Close()
		return nil, eris.Wrap(err, "load catalog")
	}
	if len(entries) == 0 {
		st.Close()
		return nil, eris.New("catalog is empty, run `orderdesk import` first")
	}
	index := catalog.NewIndex(entries)

	engine, err := embedding.NewGenAIEngine(ctx, cfg.Embedding.Key, cfg.Embedding.Model)
	if err != nil {
		st.Close()
		return nil, eris.Wrap(err, "init embedding engine")
	}

	chromaClient := chroma.NewClient(cfg.Chroma.BaseURL)
	retriever, err := retrieval.NewAdapter(ctx, chromaClient, engine, cfg.Chroma.Collection)
	if err != nil {
		st.Close()
		return nil, eris.Wrap(err, "init retrieval adapter")
	}

	extractor := extract.NewAdapter(anthropicpkg.NewClient(cfg.Anthropic.Key), cfg.Anthropic)
	reconciler := reconcile.NewReconciler(extractor, retriever, index, cfg.Pipeline)
	composer := respond.NewComposer(extractor, index)

	runner := pipeline.NewRunner(st, extractor, reconciler, composer, retriever, index, cfg.Pipeline)

	zap.L().Info("pipeline ready",
		zap.Int("products", index.Len()),
		zap.String("store", cfg.Store.Driver),
		zap.String("collection", cfg.Chroma.Collection))

	return &pipelineEnv{Store: st, Index: index, Runner: runner}, nil
}
