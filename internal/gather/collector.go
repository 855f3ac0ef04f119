// Package gather collects the set of artifacts attributable to a release:
// its direct artifacts, the artifacts its source code entry carries for the
// release's component, and the artifacts of every outbound deliverable of
// its variants.
package gather

import (
	"context"
	"sort"
	"sync"

	"github.com/ortelius/pdvd-rollup/internal/telemetry"
	"github.com/ortelius/pdvd-rollup/model"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Store is the read-only lookup surface the collector needs.
type Store interface {
	GetSourceCodeEntry(ctx context.Context, key string) (*model.SourceCodeEntry, error)
	ListVariantsOfRelease(ctx context.Context, releaseKey string) ([]model.Variant, error)
	GetDeliverable(ctx context.Context, key string) (*model.Deliverable, error)
}

// Collector gathers release artifacts, running the source code entry and
// per-variant lookups in parallel.
type Collector struct {
	store       Store
	logger      *zap.Logger
	concurrency int
}

// NewCollector returns a Collector running at most concurrency lookups at once.
func NewCollector(store Store, logger *zap.Logger, concurrency int) *Collector {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Collector{store: store, logger: logger, concurrency: concurrency}
}

// GatherReleaseArtifacts returns the sorted, duplicate-free artifact keys of
// rel. Lookup failures are logged and contribute nothing; only a cancelled
// context is returned as an error.
func (c *Collector) GatherReleaseArtifacts(ctx context.Context, rel *model.Release) ([]string, error) {
	var mu sync.Mutex
	set := make(map[string]struct{}, len(rel.Artifacts))
	add := func(keys []string) {
		mu.Lock()
		defer mu.Unlock()
		for _, k := range keys {
			if k != "" {
				set[k] = struct{}{}
			}
		}
	}
	add(rel.Artifacts)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	if rel.SourceCodeEntry != "" {
		g.Go(func() error {
			add(c.fromSourceCodeEntry(gctx, rel))
			return nil
		})
	}

	variants, err := c.store.ListVariantsOfRelease(ctx, rel.Key)
	if err != nil {
		c.logger.Sugar().Warnf("Failed to list variants of release %s: %v", rel.Key, err)
		telemetry.Skipped("variant")
	}
	for _, v := range variants {
		g.Go(func() error {
			add(c.fromVariant(gctx, v))
			return nil
		})
	}

	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (c *Collector) fromSourceCodeEntry(ctx context.Context, rel *model.Release) []string {
	sce, err := c.store.GetSourceCodeEntry(ctx, rel.SourceCodeEntry)
	if err != nil || sce == nil {
		c.logger.Sugar().Warnf("Source code entry %s of release %s not resolvable: %v", rel.SourceCodeEntry, rel.Key, err)
		telemetry.Skipped("source_code_entry")
		return nil
	}

	var keys []string
	for _, a := range sce.Artifacts {
		if a.Component == rel.Component {
			keys = append(keys, a.Artifact)
		}
	}
	return keys
}

func (c *Collector) fromVariant(ctx context.Context, v model.Variant) []string {
	var keys []string
	for _, dk := range v.OutboundDeliverables {
		d, err := c.store.GetDeliverable(ctx, dk)
		if err != nil || d == nil {
			c.logger.Warn("Deliverable not resolvable, skipping",
				zap.String("variant", v.Key), zap.String("deliverable", dk), zap.Error(err))
			telemetry.Skipped("deliverable")
			continue
		}
		keys = append(keys, d.Artifacts...)
	}
	return keys
}
