// Package memory is the analysis memory of one repository: it ingests
// detector findings, links them into the relation graph and answers queries
// over findings, relations and history.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"patternmem/internal/config"
	"patternmem/internal/embedder"
	"patternmem/internal/graph"
	"patternmem/internal/history"
	"patternmem/internal/logger"
	"patternmem/internal/query"
	"patternmem/internal/repostate"
	"patternmem/internal/scope"
	"patternmem/internal/scope/languages"
	"patternmem/internal/similarity"
	"patternmem/internal/store"
)

const metaEmbeddingModel = "embedding_model"

// Memory is safe for concurrent use.
type Memory struct {
	store    *store.Store
	embedder embedder.Embedder
	index    *similarity.Index
	linker   *graph.Linker
	query    *query.Engine
	history  *history.Manager
	resolver *scope.Resolver
	cfg      *config.Config
	root     string

	// ingestMu spans a write transaction and the index update that follows
	// its commit.
	ingestMu  sync.Mutex
	repoState string
}

type options struct {
	embedder  embedder.Embedder
	storeOpts []store.Option
	repoState *string
}

type Option func(*options)

// WithEmbedder overrides the embedder selected by the configuration.
func WithEmbedder(e embedder.Embedder) Option {
	return func(o *options) { o.embedder = e }
}

// WithStoreOptions passes options through to store.Open.
func WithStoreOptions(opts ...store.Option) Option {
	return func(o *options) { o.storeOpts = append(o.storeOpts, opts...) }
}

// WithRepoState fixes the repository state hash instead of reading it from
// git.
func WithRepoState(hash string) Option {
	return func(o *options) { o.repoState = &hash }
}

// Open opens the memory store for the repository at root.
func Open(ctx context.Context, root string, cfg *config.Config, opts ...Option) (*Memory, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	s, err := store.Open(cfg.DBPath, o.storeOpts...)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	emb := o.embedder
	if emb == nil {
		emb = newEmbedder(cfg)
	}
	if emb.Dim() != store.VectorDimensions {
		s.Close()
		return nil, fmt.Errorf("%w: %s produces %d dimensions, want %d",
			store.ErrInvalidEmbeddingLength, emb.Name(), emb.Dim(), store.VectorDimensions)
	}

	var idxOpts []similarity.Option
	if !s.InMemory() {
		idxOpts = append(idxOpts, similarity.WithANN(s, cfg.Similarity.ANNThreshold))
	}

	m := &Memory{
		store:    s,
		embedder: emb,
		index:    similarity.New(idxOpts...),
		linker: graph.NewLinker(
			graph.WithRules(rules(cfg.DependsOn)),
			graph.WithSimilarity(cfg.Similarity.Threshold, cfg.Similarity.Limit),
		),
		query:    query.New(s),
		history:  history.New(s),
		resolver: scope.NewResolver(languages.Registry()),
		cfg:      cfg,
		root:     root,
	}

	if o.repoState != nil {
		m.repoState = *o.repoState
	} else if m.repoState, err = repostate.Hash(root); err != nil {
		logger.Warn("could not read repository state", "root", root, "error", err)
	}

	if err := m.loadIndex(ctx); err != nil {
		s.Close()
		return nil, err
	}
	if err := m.checkEmbeddingModel(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return m, nil
}

func newEmbedder(cfg *config.Config) embedder.Embedder {
	if cfg.Embedder.Kind == config.EmbedderOllama {
		return embedder.NewOllama(cfg.Embedder.OllamaURL, cfg.Embedder.Model)
	}
	return embedder.NewFeatures()
}

func rules(cfg []config.DependsOnRule) []graph.Rule {
	out := make([]graph.Rule, 0, len(cfg))
	for _, r := range cfg {
		sc := graph.ScopeFunction
		if r.Scope == string(graph.ScopeFile) {
			sc = graph.ScopeFile
		}
		out = append(out, graph.Rule{Source: r.Source, Target: r.Target, Scope: sc})
	}
	return out
}

func (m *Memory) loadIndex(ctx context.Context) error {
	start := time.Now()
	err := m.store.EachEmbedding(ctx, func(id int64, vec []float32) error {
		m.index.Insert(id, vec)
		return nil
	})
	if err != nil {
		return fmt.Errorf("load index: %w", err)
	}
	logger.Debug("similarity index loaded", "vectors", m.index.Len(), "elapsed", time.Since(start))
	return nil
}

// checkEmbeddingModel re-embeds every finding when the embedder changed
// since the store was last written.
func (m *Memory) checkEmbeddingModel(ctx context.Context) error {
	last, err := m.store.GetMeta(ctx, metaEmbeddingModel)
	if err != nil {
		return err
	}
	if last == m.embedder.Name() {
		return nil
	}
	if last != "" {
		logger.Info("embedding model changed, re-embedding findings", "from", last, "to", m.embedder.Name())
		_, err := m.Reembed(ctx)
		return err
	}
	return m.store.Update(ctx, func(tx *store.Tx) error {
		return tx.SetMeta(ctx, metaEmbeddingModel, m.embedder.Name())
	})
}

// Store exposes the underlying store for read access.
func (m *Memory) Store() *store.Store { return m.store }

// Config returns the configuration the memory was opened with.
func (m *Memory) Config() *config.Config { return m.cfg }

// Root is the repository root.
func (m *Memory) Root() string { return m.root }

// RepoState is the repository state hash stamped on new findings.
func (m *Memory) RepoState() string { return m.repoState }

func (m *Memory) Close() error {
	return m.store.Close()
}

// withTimeout bounds read queries by query.timeout.
func (m *Memory) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.cfg.Query.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, m.cfg.Query.Timeout)
}
