// Package maritaca implements the adapter for the Maritaca API, which
// speaks the OpenAI-compatible chat protocol over its own base path.
package maritaca

import (
	"context"
	"net/http"
	"sort"

	"epitelos/internal/config"
	"epitelos/internal/provider"
	"epitelos/internal/provider/openai"
)

// Provider delegates the wire work to the shared OpenAI-compatible codec.
type Provider struct {
	compat *openai.Compat
}

// New constructs the adapter from the configured base URL and key.
func New(cfg config.ProviderConfig, client *http.Client) (provider.Provider, error) {
	compat, err := openai.NewCompat("Maritaca", cfg.BaseURL, cfg.APIKey, client)
	if err != nil {
		return nil, err
	}
	return &Provider{compat: compat}, nil
}

func (p *Provider) Kind() provider.Kind {
	return provider.KindMaritaca
}

func (p *Provider) Verify(ctx context.Context) provider.Verification {
	return p.compat.Verify(ctx)
}

// ListModels returns the catalogue sorted ascending by name.
func (p *Provider) ListModels(ctx context.Context) ([]string, error) {
	ids, err := p.compat.Models(ctx)
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

func (p *Provider) Run(ctx context.Context, req provider.Request) (string, error) {
	return p.compat.Run(ctx, req)
}

func (p *Provider) RunStream(ctx context.Context, req provider.Request, onDelta provider.DeltaFunc) error {
	return p.compat.RunStream(ctx, req, onDelta)
}
