package resilience

import (
	"context"
	"sort"
	"sync"
)

// Group holds one breaker per endpoint, created on first use. Every breaker
// in a group shares the same config and reports to the package metrics.
type Group struct {
	mu       sync.Mutex
	prefix   string
	config   Config
	breakers map[string]*Breaker
}

// NewGroup creates an empty group. Breaker names are prefix + ":" + key.
func NewGroup(prefix string, cfg Config) *Group {
	return &Group{
		prefix:   prefix,
		config:   cfg.withDefaults(),
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for key, creating it if needed.
func (g *Group) Get(key string) *Breaker {
	g.mu.Lock()
	defer g.mu.Unlock()

	b, ok := g.breakers[key]
	if !ok {
		b = NewBreaker(g.prefix+":"+key, g.config)
		b.OnStateChange(recordTransition)
		g.breakers[key] = b
	}
	return b
}

// Execute runs fn through the breaker for key.
func (g *Group) Execute(ctx context.Context, key string, fn func(context.Context) error) error {
	err := g.Get(key).Execute(ctx, fn)
	if ctx.Err() == nil {
		recordOutcome(err)
	}
	return err
}

// Stats returns statistics for every breaker, ordered by name.
func (g *Group) Stats() []Stats {
	g.mu.Lock()
	breakers := make([]*Breaker, 0, len(g.breakers))
	for _, b := range g.breakers {
		breakers = append(breakers, b)
	}
	g.mu.Unlock()

	out := make([]Stats, 0, len(breakers))
	for _, b := range breakers {
		out = append(out, b.Stats())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Reset closes every breaker in the group.
func (g *Group) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, b := range g.breakers {
		b.Reset()
	}
}
