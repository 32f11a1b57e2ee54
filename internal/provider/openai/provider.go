package openai

import (
	"context"
	"net/http"
	"sort"
	"strings"

	"epitelos/internal/config"
	"epitelos/internal/provider"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Provider is the hosted-OpenAI adapter.
type Provider struct {
	compat *Compat
}

// New constructs the adapter. The base URL is fixed unless overridden in
// the credential block (useful for tests and gateways).
func New(cfg config.ProviderConfig, client *http.Client) (provider.Provider, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	compat, err := NewCompat("OpenAI", baseURL, cfg.APIKey, client)
	if err != nil {
		return nil, err
	}
	return &Provider{compat: compat}, nil
}

func (p *Provider) Kind() provider.Kind {
	return provider.KindOpenAI
}

func (p *Provider) Verify(ctx context.Context) provider.Verification {
	return p.compat.Verify(ctx)
}

// ListModels returns the chat-capable catalogue. Priority rule: gpt-4
// family first, then reverse-lexicographic so newer releases lead.
func (p *Provider) ListModels(ctx context.Context) ([]string, error) {
	ids, err := p.compat.Models(ctx)
	if err != nil {
		return nil, err
	}

	chat := ids[:0]
	for _, id := range ids {
		if strings.HasPrefix(id, "gpt-") {
			chat = append(chat, id)
		}
	}

	sort.Slice(chat, func(i, j int) bool {
		gi, gj := strings.HasPrefix(chat[i], "gpt-4"), strings.HasPrefix(chat[j], "gpt-4")
		if gi != gj {
			return gi
		}
		return chat[i] > chat[j]
	})
	return chat, nil
}

func (p *Provider) Run(ctx context.Context, req provider.Request) (string, error) {
	return p.compat.Run(ctx, req)
}

func (p *Provider) RunStream(ctx context.Context, req provider.Request, onDelta provider.DeltaFunc) error {
	return p.compat.RunStream(ctx, req, onDelta)
}
