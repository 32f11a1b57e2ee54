// Package custom implements the adapter for a user-supplied
// OpenAI-compatible endpoint (self-hosted gateways, vLLM, llama.cpp
// servers and the like).
package custom

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
	compat, err := openai.NewCompat("Custom provider", cfg.BaseURL, cfg.APIKey, client)
	if err != nil {
		return nil, err
	}
	return &Provider{compat: compat}, nil
}

func (p *Provider) Kind() provider.Kind {
	return provider.KindCustom
}

func (p *Provider) Verify(ctx context.Context) provider.Verification {
	return p.compat.Verify(ctx)
}

// ListModels returns every advertised identifier, sorted ascending; a
// custom endpoint's catalogue carries no family priority rule.
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
