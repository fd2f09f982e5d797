package mapping

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/docflow/internal/model"
)

// defaultLoadTimeout bounds a shared rule load once no caller can cancel it.
const defaultLoadTimeout = 30 * time.Second

// RuleSource lists the active rules of one template at exactly one scope.
type RuleSource interface {
	ListActiveRules(ctx context.Context, templateID string, scope model.Scope) ([]model.MappingRule, error)
}

// RuleWriter mutates stored rules. Every mutation reports the change it made.
type RuleWriter interface {
	CreateRule(ctx context.Context, rule model.MappingRule) (model.RuleChange, error)
	UpdateRule(ctx context.Context, rule model.MappingRule) (model.RuleChange, error)
	DeactivateRule(ctx context.Context, id string) (model.RuleChange, error)
}

// ChangeFeed returns rule changes with a sequence number above seq, oldest first.
type ChangeFeed interface {
	ChangesSince(ctx context.Context, seq int64) ([]model.RuleChange, error)
}

// Stats reports cache effectiveness.
type Stats struct {
	Entries int   `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	LastSeq int64 `json:"last_seq"`
}

// Resolver resolves and caches ResolvedMappingConfigs.
//
// Rule mutations go through Mutate, which holds mu exclusively while the
// store write runs and the affected cache entries are evicted. Resolves hold
// mu shared while they read rules, so a cached config never mixes rule sets
// from before and after a mutation, and no stale entry survives Mutate.
type Resolver struct {
	src         RuleSource
	now         func() time.Time
	loadTimeout time.Duration

	mu      sync.RWMutex
	lastSeq int64 // guarded by mu (write)

	cacheMu sync.Mutex
	cache   map[Key]*model.ResolvedMappingConfig

	group  singleflight.Group
	hits   atomic.Int64
	misses atomic.Int64
}

// NewResolver creates a Resolver reading from src.
func NewResolver(src RuleSource) *Resolver {
	return &Resolver{
		src:         src,
		now:         time.Now,
		loadTimeout: defaultLoadTimeout,
		cache:       make(map[Key]*model.ResolvedMappingConfig),
	}
}

// Resolve returns the effective mapping configuration for key. The returned
// config is shared with the cache and must be treated as read-only.
func (r *Resolver) Resolve(ctx context.Context, key Key) (*model.ResolvedMappingConfig, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	if cfg, ok := r.cached(key); ok {
		r.hits.Add(1)
		return cfg, nil
	}
	r.misses.Add(1)

	// The shared load outlives any one caller; each caller waits on its own ctx.
	ch := r.group.DoChan(key.TemplateID+"\x00"+key.CompanyID+"\x00"+key.FormatID, func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.loadTimeout)
		defer cancel()

		r.mu.RLock()
		defer r.mu.RUnlock()

		// Another caller may have filled the entry while we waited.
		if cfg, ok := r.cached(key); ok {
			return cfg, nil
		}

		var rules []model.MappingRule
		for _, scope := range key.Scopes() {
			batch, err := r.src.ListActiveRules(loadCtx, key.TemplateID, scope)
			if err != nil {
				return nil, eris.Wrapf(err, "mapping: list rules %s %s", key.TemplateID, scope)
			}
			rules = append(rules, batch...)
		}

		cfg, err := ResolveRules(key, rules, r.now().UTC())
		if err != nil {
			return nil, err
		}

		r.cacheMu.Lock()
		r.cache[key] = cfg
		r.cacheMu.Unlock()
		return cfg, nil
	})

	select {
	case <-ctx.Done():
		return nil, eris.Wrap(ctx.Err(), "mapping: resolve")
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*model.ResolvedMappingConfig), nil
	}
}

func (r *Resolver) cached(key Key) (*model.ResolvedMappingConfig, bool) {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	cfg, ok := r.cache[key]
	return cfg, ok
}

// Mutate runs fn exclusively with respect to resolution and then evicts every
// cache entry the reported changes could affect. Entries are evicted even when
// fn fails part way, since a partial write may already be visible.
func (r *Resolver) Mutate(ctx context.Context, fn func(ctx context.Context) ([]model.RuleChange, error)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	changes, err := fn(ctx)
	r.evict(changes)
	return err
}

// Create stores a new rule through w and invalidates the affected entries.
func (r *Resolver) Create(ctx context.Context, w RuleWriter, rule model.MappingRule) (model.RuleChange, error) {
	return r.mutateOne(ctx, func(ctx context.Context) (model.RuleChange, error) {
		return w.CreateRule(ctx, rule)
	})
}

// Update replaces a stored rule through w. Entries under both the old and
// the new scope are invalidated.
func (r *Resolver) Update(ctx context.Context, w RuleWriter, rule model.MappingRule) (model.RuleChange, error) {
	return r.mutateOne(ctx, func(ctx context.Context) (model.RuleChange, error) {
		return w.UpdateRule(ctx, rule)
	})
}

// Deactivate retires a stored rule through w.
func (r *Resolver) Deactivate(ctx context.Context, w RuleWriter, id string) (model.RuleChange, error) {
	return r.mutateOne(ctx, func(ctx context.Context) (model.RuleChange, error) {
		return w.DeactivateRule(ctx, id)
	})
}

func (r *Resolver) mutateOne(ctx context.Context, fn func(ctx context.Context) (model.RuleChange, error)) (model.RuleChange, error) {
	var change model.RuleChange
	err := r.Mutate(ctx, func(ctx context.Context) ([]model.RuleChange, error) {
		var err error
		change, err = fn(ctx)
		if err != nil {
			return nil, err
		}
		return []model.RuleChange{change}, nil
	})
	return change, err
}

// Sync applies changes made by other processes, read from feed, to the cache.
func (r *Resolver) Sync(ctx context.Context, feed ChangeFeed) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	changes, err := feed.ChangesSince(ctx, r.lastSeq)
	if err != nil {
		return 0, eris.Wrap(err, "mapping: read rule changes")
	}
	r.evict(changes)
	for _, c := range changes {
		if c.Seq > r.lastSeq {
			r.lastSeq = c.Seq
		}
	}
	return len(changes), nil
}

// Watch calls Sync every interval until ctx is done.
func (r *Resolver) Watch(ctx context.Context, feed ChangeFeed, interval time.Duration) {
	log := zap.L().With(zap.String("component", "mapping.resolver"))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := r.Sync(ctx, feed)
			if err != nil {
				log.Warn("rule change sync failed", zap.Error(err))
				continue
			}
			if n > 0 {
				log.Debug("applied rule changes", zap.Int("changes", n))
			}
		}
	}
}

// Invalidate drops every cached entry.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cacheMu.Lock()
	clear(r.cache)
	r.cacheMu.Unlock()
}

// Stats returns a snapshot of cache counters.
func (r *Resolver) Stats() Stats {
	r.mu.RLock()
	seq := r.lastSeq
	r.mu.RUnlock()

	r.cacheMu.Lock()
	n := len(r.cache)
	r.cacheMu.Unlock()
	return Stats{Entries: n, Hits: r.hits.Load(), Misses: r.misses.Load(), LastSeq: seq}
}

// evict removes cache entries affected by changes. Caller holds mu.
func (r *Resolver) evict(changes []model.RuleChange) {
	if len(changes) == 0 {
		return
	}
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	for _, c := range changes {
		touched := []model.MappingRule{c.Rule}
		if c.Previous != nil {
			touched = append(touched, *c.Previous)
		}
		for key := range r.cache {
			for _, rule := range touched {
				if key.covers(rule.TemplateID, rule.Scope) {
					delete(r.cache, key)
					break
				}
			}
		}
	}
}
