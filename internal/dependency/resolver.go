// Package dependency resolves the effective child components of a branch from
// its regex dependency patterns and manual dependency overrides.
package dependency

import (
	"context"
	"fmt"
	"regexp"

	"github.com/ortelius/pdvd-rollup/internal/telemetry"
	"github.com/ortelius/pdvd-rollup/model"
	"go.uber.org/zap"
)

// Store is the lookup surface the resolver needs.
type Store interface {
	ListComponentsByOrg(ctx context.Context, org string) ([]model.Component, error)
	FindBranchByComponentAndName(ctx context.Context, component, name string) (*model.Branch, error)
	GetBaseBranchOfComponent(ctx context.Context, component string) (*model.Branch, error)
	GetBranch(ctx context.Context, key string) (*model.Branch, error)
}

// CompiledPattern is a dependency pattern with its compiled full-match
// expression, or the error that kept it from compiling.
type CompiledPattern struct {
	Pattern model.DependencyPattern
	Regexp  *regexp.Regexp
	Err     error
}

// compileFullMatch anchors expr so it must match the whole name.
func compileFullMatch(expr string) (*regexp.Regexp, error) {
	return regexp.Compile(`^(?:` + expr + `)$`)
}

// CompilePatterns compiles every pattern once, keeping order.
func CompilePatterns(patterns []model.DependencyPattern) []CompiledPattern {
	compiled := make([]CompiledPattern, 0, len(patterns))
	for _, p := range patterns {
		re, err := compileFullMatch(p.Pattern)
		compiled = append(compiled, CompiledPattern{Pattern: p, Regexp: re, Err: err})
	}
	return compiled
}

// Resolver computes effective dependencies of branches.
type Resolver struct {
	store  Store
	logger *zap.Logger
}

// NewResolver returns a Resolver over store.
func NewResolver(store Store, logger *zap.Logger) *Resolver {
	return &Resolver{store: store, logger: logger}
}

// ComponentMatchesAnyPattern reports whether name fully matches at least one
// pattern. Invalid patterns are logged and never match.
func (r *Resolver) ComponentMatchesAnyPattern(name string, patterns []model.DependencyPattern) bool {
	matched := false
	for _, cp := range CompilePatterns(patterns) {
		if cp.Err != nil {
			r.logger.Sugar().Warnf("Skipping invalid dependency pattern %q: %v", cp.Pattern.Pattern, cp.Err)
			telemetry.PatternErrorsTotal.Inc()
			continue
		}
		if !matched && cp.Regexp.MatchString(name) {
			matched = true
		}
	}
	return matched
}

// orderedDeps keeps insertion order of components; a later write replaces the
// value but keeps the original position.
type orderedDeps struct {
	order []string
	byKey map[string]model.ChildComponent
}

func (o *orderedDeps) put(c model.ChildComponent) {
	if _, ok := o.byKey[c.Component]; !ok {
		o.order = append(o.order, c.Component)
	}
	o.byKey[c.Component] = c
}

func (o *orderedDeps) list() []model.ChildComponent {
	out := make([]model.ChildComponent, 0, len(o.order))
	for _, k := range o.order {
		out = append(out, o.byKey[k])
	}
	return out
}

// ResolveBranch loads a branch and resolves its effective dependencies.
// A missing branch returns (nil, nil).
func (r *Resolver) ResolveBranch(ctx context.Context, branchKey string) ([]model.ChildComponent, error) {
	branch, err := r.store.GetBranch(ctx, branchKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load branch %s: %w", branchKey, err)
	}
	if branch == nil {
		return nil, nil
	}
	return r.ResolveEffectiveDependencies(ctx, branch)
}

// ResolveEffectiveDependencies expands the branch's dependency patterns over
// the active components of its org, then applies its manual dependencies on
// top. Patterns apply in order; a later match for the same component wins.
func (r *Resolver) ResolveEffectiveDependencies(ctx context.Context, branch *model.Branch) ([]model.ChildComponent, error) {
	deps := &orderedDeps{byKey: make(map[string]model.ChildComponent)}

	if len(branch.DependencyPatterns) > 0 {
		if branch.Org == "" {
			return nil, model.ErrMissingOrg
		}
		components, err := r.store.ListComponentsByOrg(ctx, branch.Org)
		if err != nil {
			return nil, fmt.Errorf("failed to list components of org %s: %w", branch.Org, err)
		}

		for _, cp := range CompilePatterns(branch.DependencyPatterns) {
			if cp.Err != nil {
				r.logger.Sugar().Warnf("Skipping invalid dependency pattern %q on branch %s: %v", cp.Pattern.Pattern, branch.Key, cp.Err)
				telemetry.PatternErrorsTotal.Inc()
				continue
			}
			for _, comp := range components {
				if comp.Type != model.ComponentTypeComponent || comp.Archived() || comp.Key == branch.Component {
					continue
				}
				if !cp.Regexp.MatchString(comp.Name) {
					continue
				}
				target, err := r.findTargetBranch(ctx, comp.Key, cp.Pattern)
				if err != nil {
					r.logger.Sugar().Warnf("Failed to resolve target branch for component %s: %v", comp.Key, err)
					continue
				}
				if target == nil || target.Archived() {
					continue
				}
				deps.put(model.ChildComponent{
					Component: comp.Key,
					Branch:    target.Key,
					Status:    cp.Pattern.Status(),
				})
			}
		}
	}

	for _, manual := range branch.Dependencies {
		if manual.Status == "" {
			manual.Status = model.DependencyRequired
		}
		deps.put(manual)
	}

	return deps.list(), nil
}

// findTargetBranch returns the named target branch, falling back to the
// component's base branch when allowed. A nil branch means skip.
func (r *Resolver) findTargetBranch(ctx context.Context, component string, p model.DependencyPattern) (*model.Branch, error) {
	if p.TargetBranchName != "" {
		b, err := r.store.FindBranchByComponentAndName(ctx, component, p.TargetBranchName)
		if err != nil {
			return nil, err
		}
		if b != nil {
			return b, nil
		}
		if p.FallbackToBase == model.FallbackDisabled {
			return nil, nil
		}
	}
	return r.store.GetBaseBranchOfComponent(ctx, component)
}

// FindComponentsByPattern lists the active COMPONENT-type components of org
// whose name fully matches pattern.
func (r *Resolver) FindComponentsByPattern(ctx context.Context, org, pattern string) ([]model.Component, error) {
	re, err := compileFullMatch(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	components, err := r.store.ListComponentsByOrg(ctx, org)
	if err != nil {
		return nil, fmt.Errorf("failed to list components of org %s: %w", org, err)
	}

	var matched []model.Component
	for _, c := range components {
		if c.Type == model.ComponentTypeComponent && !c.Archived() && re.MatchString(c.Name) {
			matched = append(matched, c)
		}
	}
	return matched, nil
}
