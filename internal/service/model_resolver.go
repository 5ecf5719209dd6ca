package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	cfotel "github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/adapter/otel"
	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/domain/application"
	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/domain/model"
	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/port/modelloader"
)

// BoundModel is the result of resolving a model name: the predictor that
// serves it and the attempts made to get there.
type BoundModel struct {
	Name       string          `json:"name"`
	Version    string          `json:"version"`
	Priority   int             `json:"priority"`
	Fallback   bool            `json:"fallback"`
	ResolvedAt time.Time       `json:"resolved_at"`
	Attempts   []model.Attempt `json:"attempts"`
	Predictor  model.Predictor `json:"-"`
}

// ResolverOption configures a ModelResolver.
type ResolverOption func(*ModelResolver)

// WithLoadTimeout bounds each candidate load.
func WithLoadTimeout(d time.Duration) ResolverOption {
	return func(r *ModelResolver) { r.timeout = d }
}

// WithResolverLogger sets the logger used for load failures.
func WithResolverLogger(l *slog.Logger) ResolverOption {
	return func(r *ModelResolver) { r.log = l }
}

// WithDefaultRules configures the rule-based default.
func WithDefaultRules(rules []model.Rule) ResolverOption {
	return func(r *ModelResolver) { r.fallback = model.NewRuleBased(rules) }
}

// WithFallbackHook is called whenever a resolution skips at least one
// failed candidate.
func WithFallbackHook(fn func(ctx context.Context, name string, failed int)) ResolverOption {
	return func(r *ModelResolver) { r.onFallback = fn }
}

// ModelResolver binds model names to the highest-priority version that
// loads, falling back down the chain to the rule-based default. Results are
// cached per name until Invalidate or Reload.
type ModelResolver struct {
	loader     modelloader.Loader
	fallback   *model.RuleBased
	timeout    time.Duration
	log        *slog.Logger
	onFallback func(context.Context, string, int)
	now        func() time.Time

	mu     sync.RWMutex
	chains map[string]model.Chain
	bound  map[string]*BoundModel
	gen    uint64

	group singleflight.Group
}

// NewModelResolver creates a resolver over chains. Chains are validated and
// copied.
func NewModelResolver(loader modelloader.Loader, chains map[string]model.Chain, opts ...ResolverOption) (*ModelResolver, error) {
	r := &ModelResolver{
		loader:   loader,
		fallback: model.NewRuleBased(nil),
		timeout:  10 * time.Second,
		log:      slog.Default(),
		now:      time.Now,
		bound:    make(map[string]*BoundModel),
	}
	for _, o := range opts {
		o(r)
	}
	c, err := copyChains(chains)
	if err != nil {
		return nil, err
	}
	r.chains = c
	return r, nil
}

// Resolve returns the bound model for name. It never fails: when every
// candidate fails, or name has no chain, the rule-based default is bound.
func (r *ModelResolver) Resolve(ctx context.Context, name string) BoundModel {
	r.mu.RLock()
	b, ok := r.bound[name]
	r.mu.RUnlock()
	if ok {
		return *b
	}

	v, _, _ := r.group.Do(name, func() (any, error) {
		r.mu.RLock()
		if b, ok := r.bound[name]; ok {
			r.mu.RUnlock()
			return b, nil
		}
		chain := r.chains[name]
		gen := r.gen
		r.mu.RUnlock()

		sctx, span := cfotel.StartModelResolveSpan(context.WithoutCancel(ctx), name)
		b := r.resolve(sctx, name, chain)
		span.SetAttributes(attribute.String("model.version", b.Version), attribute.Bool("model.fallback", b.Fallback))
		span.End()

		r.mu.Lock()
		if r.gen == gen {
			r.bound[name] = b
		}
		r.mu.Unlock()
		return b, nil
	})
	return *v.(*BoundModel)
}

func (r *ModelResolver) resolve(ctx context.Context, name string, chain model.Chain) *BoundModel {
	attempts := make([]model.Attempt, 0, len(chain)+1)
	failed := 0
	for _, v := range chain.Sorted() {
		p, err := r.load(ctx, v)
		a := model.Attempt{Name: name, Version: v.Version, Priority: v.Priority, Success: err == nil, At: r.now()}
		if err != nil {
			a.Error = attemptError(err)
			attempts = append(attempts, a)
			failed++
			r.log.Warn("model candidate failed to load",
				"kind", application.KindModelLoad,
				"model", name, "version", v.Version, "priority", v.Priority, "error", err)
			continue
		}
		attempts = append(attempts, a)
		if failed > 0 && r.onFallback != nil {
			r.onFallback(ctx, name, failed)
		}
		r.log.Info("model resolved", "model", name, "version", v.Version, "skipped", failed)
		return &BoundModel{
			Name:       name,
			Version:    v.Version,
			Priority:   v.Priority,
			ResolvedAt: r.now(),
			Attempts:   attempts,
			Predictor:  p,
		}
	}

	attempts = append(attempts, model.Attempt{
		Name: name, Version: model.RuleBasedVersion, Priority: math.MaxInt, Success: true, At: r.now(),
	})
	if len(chain) > 0 {
		if r.onFallback != nil {
			r.onFallback(ctx, name, failed)
		}
		r.log.Error("model chain exhausted, using rule-based default", "model", name, "candidates", len(chain))
	} else {
		r.log.Info("model has no chain, using rule-based default", "model", name)
	}
	return &BoundModel{
		Name:       name,
		Version:    model.RuleBasedVersion,
		Priority:   math.MaxInt,
		Fallback:   true,
		ResolvedAt: r.now(),
		Attempts:   attempts,
		Predictor:  r.fallback,
	}
}

// load runs one candidate load under the per-candidate timeout. A panicking
// loader counts as a failed load.
var errLoaderPanic = errors.New("loader panic")

// attemptError is the failure recorded on an Attempt. The full cause is
// logged, never returned to callers.
func attemptError(err error) string {
	if errors.Is(err, errLoaderPanic) {
		return "loader panicked"
	}
	return model.FailureClass(err)
}

func (r *ModelResolver) load(ctx context.Context, v model.Version) (model.Predictor, error) {
	lctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type result struct {
		p   model.Predictor
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- result{err: fmt.Errorf("%w: %v", errLoaderPanic, rec)}
			}
		}()
		p, err := r.loader.Load(lctx, v)
		done <- result{p, err}
	}()

	select {
	case res := <-done:
		if res.err == nil && res.p == nil {
			return nil, errors.New("loader returned no predictor")
		}
		return res.p, res.err
	case <-lctx.Done():
		return nil, fmt.Errorf("load timed out after %s: %w", r.timeout, lctx.Err())
	}
}

// Invalidate drops the cached binding for name; the next Resolve re-walks
// the chain.
func (r *ModelResolver) Invalidate(name string) {
	r.mu.Lock()
	delete(r.bound, name)
	r.gen++
	r.mu.Unlock()
	r.group.Forget(name)
}

// InvalidateAll drops every cached binding.
func (r *ModelResolver) InvalidateAll() {
	r.mu.Lock()
	r.bound = make(map[string]*BoundModel)
	r.gen++
	r.mu.Unlock()
}

// Reload replaces the whole chain set atomically and drops every cached
// binding. An invalid set leaves the current one in place.
func (r *ModelResolver) Reload(chains map[string]model.Chain) error {
	c, err := copyChains(chains)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.chains = c
	r.bound = make(map[string]*BoundModel)
	r.gen++
	r.mu.Unlock()
	r.log.Info("model chains reloaded", "names", len(c))
	return nil
}

// Bound returns the cached binding for name without resolving.
func (r *ModelResolver) Bound(name string) (BoundModel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bound[name]
	if !ok {
		return BoundModel{}, false
	}
	return *b, true
}

// Attempts returns the load attempts behind the cached binding of name.
func (r *ModelResolver) Attempts(name string) []model.Attempt {
	b, ok := r.Bound(name)
	if !ok {
		return nil
	}
	return append([]model.Attempt(nil), b.Attempts...)
}

// Chain returns name's chain in priority order with Loadable set from the
// latest resolution.
func (r *ModelResolver) Chain(name string) model.Chain {
	r.mu.RLock()
	chain := r.chains[name].Sorted()
	b := r.bound[name]
	r.mu.RUnlock()

	if b == nil {
		return chain
	}
	ok := make(map[string]bool, len(b.Attempts))
	for _, a := range b.Attempts {
		ok[a.Version] = a.Success
	}
	for i := range chain {
		chain[i].Loadable = ok[chain[i].Version]
	}
	return chain
}

// Names returns the configured model names, sorted.
func (r *ModelResolver) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.chains))
	for n := range r.chains {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func copyChains(chains map[string]model.Chain) (map[string]model.Chain, error) {
	out := make(map[string]model.Chain, len(chains))
	for name, c := range chains {
		if err := c.Validate(name); err != nil {
			return nil, err
		}
		cp := make(model.Chain, len(c))
		for i, v := range c {
			v.Name = name
			v.Loadable = false
			cp[i] = v
		}
		out[name] = cp
	}
	return out, nil
}

// Predictor resolves name and returns its predictor and serving version.
func (r *ModelResolver) Predictor(ctx context.Context, name string) (model.Predictor, string) {
	b := r.Resolve(ctx, name)
	return b.Predictor, b.Version
}
