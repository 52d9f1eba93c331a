// Package extractor collects connector metadata (metric namespaces,
// dashboards, log groups) and upserts it into the cloud asset store so the
// control plane can offer typed dropdowns for task parameters.
package extractor

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"sourcebridge.dev/internal/cloud"
	"sourcebridge.dev/internal/logger"
	"sourcebridge.dev/internal/source"
)

// Store receives extracted asset batches. *cloud.Client satisfies it.
type Store interface {
	UpsertAssets(ctx context.Context, assets []cloud.AssetUpsert) error
}

// Extraction is one named asset category an extractor can collect.
type Extraction struct {
	Name      string
	ModelType string
	Run       func(ctx context.Context) (map[string]any, error)
}

// Extractor builds the extraction list for one source's connectors. Each
// source declares its categories statically so the set is inspectable
// without running anything.
type Extractor interface {
	Source() source.Source
	Extractions(conn *source.Connector) ([]Extraction, error)
}

// Facade dispatches extraction across the registered per-source extractors.
type Facade struct {
	store      Store
	extractors map[source.Source]Extractor
}

// NewFacade registers the given extractors.
func NewFacade(store Store, extractors ...Extractor) *Facade {
	m := make(map[source.Source]Extractor, len(extractors))
	for _, e := range extractors {
		m[e.Source()] = e
	}
	return &Facade{store: store, extractors: m}
}

// Sources lists the sources with a registered extractor, sorted.
func (f *Facade) Sources() []source.Source {
	out := make([]source.Source, 0, len(f.extractors))
	for s := range f.extractors {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Extract runs every extraction category for the connector concurrently,
// upserting each category as its own asset batch. A failed category is
// logged and skipped; Extract only fails when the source has no extractor
// or the extraction list cannot be built.
func (f *Facade) Extract(ctx context.Context, requestID string, conn *source.Connector) error {
	extractor, ok := f.extractors[conn.Type]
	if !ok {
		return &source.UnknownSourceError{Source: conn.Type}
	}
	extractions, err := extractor.Extractions(conn)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, ex := range extractions {
		g.Go(func() error {
			l := logger.L().With("connector", conn.Name, "extraction", ex.Name, "request_id", requestID)
			models, err := ex.Run(gctx)
			if err != nil {
				l.Warn("metadata extraction failed, skipping category", "error", err)
				return nil
			}
			if len(models) == 0 {
				l.Info("metadata extraction returned no models")
				return nil
			}
			upsert := cloud.AssetUpsert{
				RequestID:     requestID,
				ConnectorName: conn.Name,
				ConnectorType: conn.Type,
				ModelType:     ex.ModelType,
				Models:        models,
			}
			if err := f.store.UpsertAssets(gctx, []cloud.AssetUpsert{upsert}); err != nil {
				l.Warn("asset upsert failed", "error", err)
				return nil
			}
			l.Info("asset category upserted", "models", len(models))
			return nil
		})
	}
	return g.Wait()
}
