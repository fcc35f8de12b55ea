// Package registry resolves the rule set for each tenant.
package registry

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const (
	rulesetCacheKey = "ruleset"
	rulesetCacheTTL = 5 * time.Minute
)

// Loader fetches tenant-specific rule definitions, typically from the store.
type Loader func(ctx context.Context, tenantID string) ([]*domain.RuleDefinition, error)

// Registry holds the built-in rule set and lazily resolved per-tenant
// overrides. Resolution is copy-on-write: readers always observe a
// complete, sorted snapshot.
type Registry struct {
	mu       sync.RWMutex
	resolved map[string]map[domain.RuleFamily][]*domain.RuleDefinition // tenantID -> family -> sorted rules
	builtin  map[domain.RuleFamily][]*domain.RuleDefinition
	policy   domain.ExecutionPolicy
	loader   Loader
	cache    domain.Cache
	logger   *slog.Logger
}

// New creates a registry seeded with the built-in rule set.
// loader and cache are optional; without a loader every tenant
// resolves to the built-in set.
func New(policy domain.ExecutionPolicy, loader Loader, cache domain.Cache) *Registry {
	return &Registry{
		resolved: make(map[string]map[domain.RuleFamily][]*domain.RuleDefinition),
		builtin:  groupByFamily(Builtin()),
		policy:   policy,
		loader:   loader,
		cache:    cache,
		logger:   slog.Default(),
	}
}

// Policy returns the execution policy for the dispatcher.
func (r *Registry) Policy() domain.ExecutionPolicy {
	return r.policy
}

// RulesFor returns the active rules of one family for a tenant, ordered by
// priority ascending then ruleId. A failed tenant load falls back to the
// built-in set; it never blocks validation.
func (r *Registry) RulesFor(ctx context.Context, tenantID string, family domain.RuleFamily) []*domain.RuleDefinition {
	families := r.resolve(ctx, tenantID)
	return families[family]
}

// AllFor returns the active rules of all families for a tenant in
// canonical family order.
func (r *Registry) AllFor(ctx context.Context, tenantID string) []*domain.RuleDefinition {
	families := r.resolve(ctx, tenantID)

	var all []*domain.RuleDefinition
	for _, family := range domain.FamilyOrder {
		all = append(all, families[family]...)
	}
	return all
}

// Invalidate drops the resolved rule set for a tenant. The next RulesFor
// call re-resolves from the loader.
func (r *Registry) Invalidate(ctx context.Context, tenantID string) {
	r.mu.Lock()
	delete(r.resolved, tenantID)
	r.mu.Unlock()

	if r.cache != nil && tenantID != "" {
		if err := r.cache.Delete(ctx, tenantID, rulesetCacheKey); err != nil {
			r.logger.Warn("failed to invalidate ruleset cache",
				"tenant_id", tenantID,
				"error", err)
		}
	}
}

// InvalidateAll drops every resolved rule set (hot reload).
func (r *Registry) InvalidateAll() {
	r.mu.Lock()
	r.resolved = make(map[string]map[domain.RuleFamily][]*domain.RuleDefinition)
	r.mu.Unlock()
}

// BuiltinCount returns the number of built-in rules.
func (r *Registry) BuiltinCount() int {
	count := 0
	for _, defs := range r.builtin {
		count += len(defs)
	}
	return count
}

// Close cleans up the registry.
func (r *Registry) Close() error {
	r.InvalidateAll()
	return nil
}

// resolve returns the per-family rule sets for a tenant, resolving and
// memoizing on first use.
func (r *Registry) resolve(ctx context.Context, tenantID string) map[domain.RuleFamily][]*domain.RuleDefinition {
	r.mu.RLock()
	families, ok := r.resolved[tenantID]
	r.mu.RUnlock()
	if ok {
		return families
	}

	overrides := r.loadOverrides(ctx, tenantID)
	families = merge(r.builtin, overrides)

	r.mu.Lock()
	r.resolved[tenantID] = families
	r.mu.Unlock()

	return families
}

// loadOverrides fetches tenant overrides from the cache or the loader.
// Errors degrade to the built-in set.
func (r *Registry) loadOverrides(ctx context.Context, tenantID string) []*domain.RuleDefinition {
	if tenantID == "" || r.loader == nil {
		return nil
	}

	if r.policy.CacheEnabled && r.cache != nil {
		if data, err := r.cache.Get(ctx, tenantID, rulesetCacheKey); err == nil && data != nil {
			var defs []*domain.RuleDefinition
			if err := json.Unmarshal(data, &defs); err == nil {
				return defs
			}
		}
	}

	defs, err := r.loader(ctx, tenantID)
	if err != nil {
		r.logger.Warn("rule load failed, falling back to built-in set",
			"tenant_id", tenantID,
			"error", err)
		return nil
	}

	if r.policy.CacheEnabled && r.cache != nil {
		if data, err := json.Marshal(defs); err == nil {
			_ = r.cache.Set(ctx, tenantID, rulesetCacheKey, data, rulesetCacheTTL)
		}
	}

	return defs
}

// merge overlays tenant overrides on the built-in set. An override with a
// known ruleId replaces the built-in definition; unknown ruleIds are added.
// Inactive rules are excluded from the result.
func merge(builtin map[domain.RuleFamily][]*domain.RuleDefinition, overrides []*domain.RuleDefinition) map[domain.RuleFamily][]*domain.RuleDefinition {
	byID := make(map[string]*domain.RuleDefinition)
	for _, defs := range builtin {
		for _, def := range defs {
			byID[def.RuleID] = def
		}
	}
	for _, def := range overrides {
		byID[def.RuleID] = def
	}

	families := make(map[domain.RuleFamily][]*domain.RuleDefinition, len(domain.FamilyOrder))
	for _, def := range byID {
		if !def.Active {
			continue
		}
		families[def.Family] = append(families[def.Family], def)
	}

	for family := range families {
		sortRules(families[family])
	}

	return families
}

// sortRules orders by priority ascending, then ruleId for determinism.
func sortRules(defs []*domain.RuleDefinition) {
	sort.SliceStable(defs, func(i, j int) bool {
		if defs[i].Priority != defs[j].Priority {
			return defs[i].Priority < defs[j].Priority
		}
		return defs[i].RuleID < defs[j].RuleID
	})
}

func groupByFamily(defs []*domain.RuleDefinition) map[domain.RuleFamily][]*domain.RuleDefinition {
	families := make(map[domain.RuleFamily][]*domain.RuleDefinition, len(domain.FamilyOrder))
	for _, def := range defs {
		families[def.Family] = append(families[def.Family], def)
	}
	for family := range families {
		sortRules(families[family])
	}
	return families
}
