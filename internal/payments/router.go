package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Router picks the provider for each payment. Selection order: the
// caller's explicit choice, then the currency route, then the
// configured fallback.
type Router struct {
	providers  map[string]Provider
	fallback   string
	byCurrency map[string]string
}

// RouterOption configures optional routing behaviour.
type RouterOption func(*Router)

// WithFallbackProvider names the provider used when neither the caller
// nor the currency routes pick one.
func WithFallbackProvider(name string) RouterOption {
	return func(r *Router) {
		r.fallback = strings.ToLower(strings.TrimSpace(name))
	}
}

// WithCurrencyRoutes pins currencies to providers, e.g. NGN to the
// local processor.
func WithCurrencyRoutes(routes map[string]string) RouterOption {
	return func(r *Router) {
		for currency, provider := range routes {
			currency = strings.ToUpper(strings.TrimSpace(currency))
			provider = strings.ToLower(strings.TrimSpace(provider))
			if currency == "" || provider == "" {
				continue
			}
			if r.byCurrency == nil {
				r.byCurrency = make(map[string]string, len(routes))
			}
			r.byCurrency[currency] = provider
		}
	}
}

// NewRouter registers the providers under lowercased names. A single
// registered provider becomes the fallback automatically.
func NewRouter(providers map[string]Provider, opts ...RouterOption) (*Router, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	registered := make(map[string]Provider, len(providers))
	for name, provider := range providers {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" || provider == nil {
			return nil, fmt.Errorf("payments: invalid provider registration %q", name)
		}
		registered[key] = provider
	}

	r := &Router{providers: registered}
	if len(registered) == 1 {
		for key := range registered {
			r.fallback = key
		}
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// RouteHint carries the signals available when picking a provider.
type RouteHint struct {
	Provider string
	Currency string
}

func (r *Router) pick(hint RouteHint) (string, Provider, error) {
	if r == nil || len(r.providers) == 0 {
		return "", nil, errors.New("payments: no providers registered")
	}
	if name := strings.ToLower(strings.TrimSpace(hint.Provider)); name != "" {
		if p, ok := r.providers[name]; ok {
			return name, p, nil
		}
	}
	if currency := strings.ToUpper(strings.TrimSpace(hint.Currency)); currency != "" {
		if name, ok := r.byCurrency[currency]; ok {
			if p, ok := r.providers[name]; ok {
				return name, p, nil
			}
		}
	}
	if r.fallback != "" {
		if p, ok := r.providers[r.fallback]; ok {
			return r.fallback, p, nil
		}
	}
	return "", nil, ErrUnsupportedProvider
}

// CreateSession opens a checkout session on the routed provider and
// stamps the provider name onto the result.
func (r *Router) CreateSession(ctx context.Context, hint RouteHint, params SessionParams) (Session, error) {
	name, provider, err := r.pick(hint)
	if err != nil {
		return Session{}, err
	}
	session, err := provider.CreateSession(ctx, params)
	if err != nil {
		return Session{}, err
	}
	session.Provider = name
	return session, nil
}

// Refund routes a refund the same way sessions are routed.
func (r *Router) Refund(ctx context.Context, hint RouteHint, params RefundParams) (RefundResult, error) {
	name, provider, err := r.pick(hint)
	if err != nil {
		return RefundResult{}, err
	}
	result, err := provider.Refund(ctx, params)
	if err != nil {
		return RefundResult{}, err
	}
	result.Provider = name
	return result, nil
}
