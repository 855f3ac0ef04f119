package rollup

import (
	"context"

	"github.com/ortelius/pdvd-rollup/internal/telemetry"
	"github.com/ortelius/pdvd-rollup/model"
	"go.uber.org/zap"
)

// RollUpProductReleaseMetrics merges the stored metrics of rel's parent
// releases into one document whose findings are tagged with rel as a source,
// then runs the analysis pass over it once. Unreadable parents are skipped.
// It returns nil when rel has no parent contribution.
func (e *Engine) RollUpProductReleaseMetrics(ctx context.Context, rel *model.Release) (*model.Metrics, error) {
	if len(rel.ParentReleases) == 0 {
		return nil, nil
	}

	acc := model.NewMetrics()
	visited := map[string]bool{rel.Key: true}
	contributed, err := e.collectParents(ctx, rel, rel.ParentKeys(), 1, visited, acc)
	if err != nil {
		return nil, err
	}
	if contributed == 0 {
		return nil, nil
	}

	acc.ComputeMetricsFromFacts()
	if err := e.analyzer.Analyze(ctx, rel.Org, rel.Key, model.ScopeRelease, acc); err != nil {
		e.logger.Warn("Analysis of parent rollup failed, using raw parent findings",
			zap.String("release", rel.Key), zap.Error(err))
	}
	return acc, nil
}

func (e *Engine) collectParents(ctx context.Context, child *model.Release, parentKeys []string, depth int, visited map[string]bool, acc *model.Metrics) (int, error) {
	contributed := 0
	for _, pk := range parentKeys {
		if err := ctx.Err(); err != nil {
			return contributed, err
		}
		if visited[pk] {
			e.logger.Debug("Skipping parent already on rollup path", zap.String("release", child.Key), zap.String("parent", pk))
			telemetry.Skipped("parent_cycle")
			continue
		}
		visited[pk] = true

		parent, err := e.releases.GetReleaseInOrg(ctx, pk, child.Org)
		if err != nil || parent == nil {
			e.logger.Warn("Skipping parent release in rollup",
				zap.String("release", child.Key), zap.String("parent", pk), zap.String("org", child.Org), zap.Error(err))
			telemetry.Skipped("parent")
			continue
		}

		if parent.Metrics != nil {
			m := parent.Metrics.Clone()
			m.EnrichSourcesWithRelease(child.Key)
			acc.MergeWithByContent(m)
			contributed++
		}

		if !e.opts.TransitiveParents {
			continue
		}
		if depth >= e.opts.MaxParentDepth {
			e.logger.Warn("Parent rollup depth limit reached",
				zap.String("release", child.Key), zap.String("parent", pk), zap.Int("depth", depth))
			continue
		}
		n, err := e.collectParents(ctx, child, parent.ParentKeys(), depth+1, visited, acc)
		contributed += n
		if err != nil {
			return contributed, err
		}
	}
	return contributed, nil
}
