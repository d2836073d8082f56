package processor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"eventix/internal/services/processor/stripe"
)

// Factory implements ProcessorFactory interface
type Factory struct{}

// NewFactory creates a new processor factory
func NewFactory() *Factory {
	return &Factory{}
}

// CreateProcessor creates a processor based on provider type and configuration
func (f *Factory) CreateProcessor(ctx context.Context, provider Provider, config interface{}) (Processor, error) {
	switch provider {
	case ProviderStripe:
		stripeConfig, ok := config.(*stripe.Config)
		if !ok {
			return nil, fmt.Errorf("invalid Stripe config type, expected *stripe.Config")
		}
		return NewStripeAdapter(ctx, stripeConfig)

	default:
		return nil, fmt.Errorf("unsupported payment provider: %s", provider)
	}
}

// GetSupportedProviders returns list of supported processors
func (f *Factory) GetSupportedProviders() []Provider {
	return []Provider{
		ProviderStripe,
	}
}

// Registry manages processor instances and knows which one is primary
type Registry struct {
	mu         sync.RWMutex
	processors map[Provider]Processor
	factory    ProcessorFactory
	primary    Provider
}

// NewRegistry creates a new processor registry
func NewRegistry(factory ProcessorFactory) *Registry {
	return &Registry{
		processors: make(map[Provider]Processor),
		factory:    factory,
	}
}

// Register creates and registers a processor
func (r *Registry) Register(ctx context.Context, provider Provider, config interface{}) error {
	p, err := r.factory.CreateProcessor(ctx, provider, config)
	if err != nil {
		return fmt.Errorf("failed to create %s processor: %w", provider, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.processors[provider] = p

	// First registered processor becomes primary
	if r.primary == "" {
		r.primary = provider
	}

	return nil
}

// Get returns a processor by provider
func (r *Registry) Get(provider Provider) (Processor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, exists := r.processors[provider]
	if !exists {
		return nil, fmt.Errorf("payment provider %s not registered", provider)
	}
	return p, nil
}

// Primary returns the primary processor
func (r *Registry) Primary() (Processor, error) {
	r.mu.RLock()
	primary := r.primary
	r.mu.RUnlock()

	if primary == "" {
		return nil, fmt.Errorf("no primary payment provider configured")
	}
	return r.Get(primary)
}

// SetPrimary sets the primary provider
func (r *Registry) SetPrimary(provider Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.processors[provider]; !exists {
		return fmt.Errorf("payment provider %s not registered", provider)
	}
	r.primary = provider
	return nil
}

// Close gracefully closes all processors
func (r *Registry) Close(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for provider, p := range r.processors {
		if err := p.Close(ctx); err != nil {
			// Log error but continue closing the others
			slog.Error("p.Close()", "provider", provider, "error", err)
		}
	}
	return nil
}
