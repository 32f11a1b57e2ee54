// Package gemini implements the adapter for the Gemini generative
// language API.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"epitelos/internal/config"
	"epitelos/internal/provider"
	"epitelos/internal/stream"
	"epitelos/internal/transport"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// curatedModels is the adapter's catalogue. The API key alone does not
// distinguish chat-capable releases, so the list is maintained here;
// serving it is the adapter's normal ListModels result, not a failure
// fallback.
var curatedModels = []string{
	"gemini-2.5-flash",
	"gemini-2.5-pro",
}

// Provider is the Gemini adapter. No distinct reasoning field is
// exposed through this API surface, so no marker synthesis happens here.
type Provider struct {
	apiKey   string
	baseURL  string
	client   *http.Client
	selector *transport.Selector
}

// New constructs the adapter.
func New(cfg config.ProviderConfig, client *http.Client) (provider.Provider, error) {
	if client == nil {
		return nil, errors.New("http client must not be nil")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Provider{
		apiKey:   cfg.APIKey,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   client,
		selector: transport.NewSelector(client),
	}, nil
}

func (p *Provider) Kind() provider.Kind {
	return provider.KindGemini
}

func (p *Provider) configured() error {
	if strings.TrimSpace(p.apiKey) == "" {
		return fmt.Errorf("%w: Gemini API key is not configured", provider.ErrNotConfigured)
	}
	return nil
}

type generateContentRequest struct {
	SystemInstruction *content  `json:"system_instruction,omitempty"`
	Contents          []content `json:"contents"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generateContentResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

func (r generateContentResponse) text() string {
	if len(r.Candidates) == 0 {
		return ""
	}
	var b strings.Builder
	for _, pt := range r.Candidates[0].Content.Parts {
		b.WriteString(pt.Text)
	}
	return b.String()
}

func (p *Provider) endpoint(model, method string, sse bool) string {
	u := fmt.Sprintf("%s/models/%s:%s?key=%s", p.baseURL, url.PathEscape(model), method, url.QueryEscape(p.apiKey))
	if sse {
		u += "&alt=sse"
	}
	return u
}

func (p *Provider) payload(req provider.Request) ([]byte, error) {
	body, err := json.Marshal(generateContentRequest{
		SystemInstruction: &content{Parts: []part{{Text: req.SystemPrompt}}},
		Contents:          []content{{Parts: []part{{Text: req.UserPrompt}}}},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal generate payload: %w", err)
	}
	return body, nil
}

// Verify only checks that a key is configured; the key's validity
// surfaces on the first real call. The Gemini key is commonly injected
// through the environment, so the check is deliberately local.
func (p *Provider) Verify(ctx context.Context) provider.Verification {
	if err := p.configured(); err != nil {
		return provider.Verification{Success: false, Message: "Gemini API key is missing."}
	}
	return provider.Verification{Success: true, Message: "Gemini API key is configured."}
}

// ListModels serves the curated catalogue. See curatedModels.
func (p *Provider) ListModels(ctx context.Context) ([]string, error) {
	if err := p.configured(); err != nil {
		return nil, err
	}
	models := make([]string, len(curatedModels))
	copy(models, curatedModels)
	return models, nil
}

// Run performs one non-streaming generation.
func (p *Provider) Run(ctx context.Context, req provider.Request) (string, error) {
	if err := p.configured(); err != nil {
		return "", err
	}

	body, err := p.payload(req)
	if err != nil {
		return "", err
	}

	respBody, err := transport.Fetch(ctx, p.client, transport.Request{
		Method: http.MethodPost,
		URL:    p.endpoint(req.Model, "generateContent", false),
		Body:   body,
	})
	if err != nil {
		return "", fmt.Errorf("Gemini generate request: %w", err)
	}

	var resp generateContentResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("decode Gemini response: %w", err)
	}
	return resp.text(), nil
}

// RunStream performs one streaming generation; frames arrive as SSE data
// lines, each carrying the next text fragment.
func (p *Provider) RunStream(ctx context.Context, req provider.Request, onDelta provider.DeltaFunc) error {
	if err := p.configured(); err != nil {
		return err
	}

	body, err := p.payload(req)
	if err != nil {
		return err
	}

	return p.selector.Stream(ctx, transport.Request{
		Method: http.MethodPost,
		URL:    p.endpoint(req.Model, "streamGenerateContent", true),
		Body:   body,
	}, func(line string) error {
		payload, ok := stream.SSEPayload(line)
		if !ok {
			return nil
		}

		var frame generateContentResponse
		if err := json.Unmarshal([]byte(payload), &frame); err != nil {
			slog.Warn("skipping malformed stream frame", "provider", "gemini", "err", err)
			return nil
		}
		if text := frame.text(); text != "" {
			return onDelta(text)
		}
		return nil
	})
}
