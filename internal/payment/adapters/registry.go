package adapters

import (
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/finbridge/payhub/internal/payment/domain"
	"golang.org/x/time/rate"
)

// Registry builds gateway adapters from stored provider configuration. It
// owns the transport settings shared by every adapter: the HTTP client, the
// call observer and one rate limiter per provider account.
type Registry struct {
	factories  map[domain.ProviderType]domain.AdapterFactory
	httpClient *http.Client
	observer   domain.CallObserver
	limit      rate.Limit
	burst      int
	limiters   sync.Map
}

type Option func(*Registry)

func WithHTTPClient(client *http.Client) Option {
	return func(r *Registry) { r.httpClient = client }
}

func WithObserver(observer domain.CallObserver) Option {
	return func(r *Registry) { r.observer = observer }
}

// WithRateLimit caps outbound calls per provider account. A non-positive
// rate disables limiting.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(r *Registry) {
		if perSecond <= 0 {
			r.limit = rate.Inf
			return
		}
		r.limit = rate.Limit(perSecond)
		r.burst = burst
	}
}

func NewRegistry(factories ...domain.AdapterFactory) *Registry {
	r := &Registry{
		factories: make(map[domain.ProviderType]domain.AdapterFactory, len(factories)),
		limit:     rate.Inf,
	}
	for _, f := range factories {
		if f == nil {
			continue
		}
		r.factories[f.Provider()] = f
	}
	return r
}

func (r *Registry) Configure(opts ...Option) *Registry {
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) ProviderExists(provider domain.ProviderType) bool {
	_, ok := r.factories[provider]
	return ok
}

func (r *Registry) Providers() []domain.ProviderType {
	out := make([]domain.ProviderType, 0, len(r.factories))
	for p := range r.factories {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// NewAdapter returns a fresh adapter for one provider account. Unknown
// provider types fail here, before any transaction row is written.
func (r *Registry) NewAdapter(providerID snowflake.ID, provider domain.ProviderType, config map[string]any) (domain.Gateway, error) {
	factory, ok := r.factories[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedProvider, provider)
	}
	return factory.NewAdapter(domain.AdapterConfig{
		ProviderID: providerID,
		Provider:   provider,
		Config:     config,
		HTTPClient: r.httpClient,
		Limiter:    r.limiterFor(providerID),
		Observer:   r.observer,
	})
}

func (r *Registry) limiterFor(providerID snowflake.ID) *rate.Limiter {
	if r.limit == rate.Inf {
		return nil
	}
	if existing, ok := r.limiters.Load(providerID); ok {
		return existing.(*rate.Limiter)
	}
	limiter, _ := r.limiters.LoadOrStore(providerID, rate.NewLimiter(r.limit, r.burst))
	return limiter.(*rate.Limiter)
}
