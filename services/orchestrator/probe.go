package orchestrator

import (
	"context"

	"github.com/upb/tavern-oracle/services"
	"github.com/upb/tavern-oracle/services/providers"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const probeConcurrency = 4

// Prober is implemented by providers that can explain why they are unhealthy
type Prober interface {
	Probe(ctx context.Context) error
}

// ProbeResult is the outcome of one provider health probe
type ProbeResult struct {
	Provider       string             `json:"provider"`
	Healthy        bool               `json:"healthy"`
	Classification services.ErrorType `json:"classification,omitempty"`
	Error          string             `json:"error,omitempty"`
}

// ProbeProviders checks every remote provider concurrently. A healthy provider
// is made available again, a serious failure starts a cooldown, and any other
// failure leaves the provider's state alone.
func (o *Orchestrator) ProbeProviders(ctx context.Context) ([]ProbeResult, error) {
	names := make([]string, 0)
	for _, name := range o.registry.Names() {
		if name != providers.LocalFallbackName {
			names = append(names, name)
		}
	}

	results := make([]ProbeResult, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(probeConcurrency)

	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			entry, ok := o.registry.Get(name)
			if !ok {
				results[i] = ProbeResult{Provider: name, Classification: services.ErrorTypeConfiguration, Error: providers.ErrProviderNotFound.Error()}
				return nil
			}

			err := probe(gctx, entry.Provider)
			results[i] = o.applyProbe(name, err)
			return gctx.Err()
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}

	o.metrics.SetProvidersAvailable(o.availableRemote())
	return results, nil
}

func (o *Orchestrator) applyProbe(name string, err error) ProbeResult {
	if err == nil {
		if setErr := o.registry.SetAvailability(name, true, nil); setErr != nil {
			o.logger.Error("failed to mark provider available", zap.String("provider", name), zap.Error(setErr))
		}
		return ProbeResult{Provider: name, Healthy: true}
	}

	kind := Classify(err)
	if kind == services.ErrorTypeSerious {
		until := o.now().Add(o.cooldown)
		if setErr := o.registry.SetAvailability(name, false, &until); setErr != nil {
			o.logger.Error("failed to cool down provider", zap.String("provider", name), zap.Error(setErr))
		}
		o.metrics.RecordCooldown(name)
	}

	o.logger.Warn("provider probe failed",
		zap.String("provider", name),
		zap.String("classification", string(kind)),
		zap.Error(err))

	return ProbeResult{Provider: name, Classification: kind, Error: err.Error()}
}

func probe(ctx context.Context, provider providers.Provider) error {
	if p, ok := provider.(Prober); ok {
		return p.Probe(ctx)
	}
	if provider.IsAvailable(ctx) {
		return nil
	}
	return providers.NewProviderError(provider.Name(), providers.CategoryNetwork, "provider reported unavailable", 0, true, nil)
}
