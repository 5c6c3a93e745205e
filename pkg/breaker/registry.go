package breaker

import (
	"sync"
)

// Registry owns one breaker per endpoint URL for the process lifetime.
// Breakers are created lazily and never destroyed; memory is bounded by the
// number of distinct endpoints.
type Registry struct {
	settings Settings
	opts     []BreakerOption

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry creates a registry that builds breakers with the given
// settings and options.
func NewRegistry(settings Settings, opts ...BreakerOption) *Registry {
	return &Registry{
		settings: settings,
		opts:     opts,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for an endpoint URL, creating and memoizing it on
// first use.
func (r *Registry) Get(url string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[url]
	if !ok {
		b = New(url, r.settings, r.opts...)
		r.breakers[url] = b
	}
	return b
}

// States reports the current state of every known breaker, keyed by URL.
func (r *Registry) States() map[string]State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]State, len(r.breakers))
	for url, b := range r.breakers {
		out[url] = b.State()
	}
	return out
}
