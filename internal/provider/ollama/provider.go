// Package ollama implements the adapter for a local Ollama server.
// Ollama streams newline-delimited raw JSON objects (not SSE frames) and
// exposes model reasoning in a separate "thinking" field per record.
package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"epitelos/internal/config"
	"epitelos/internal/provider"
	"epitelos/internal/think"
	"epitelos/internal/transport"
)

// Provider is the Ollama adapter.
type Provider struct {
	baseURL  string
	client   *http.Client
	selector *transport.Selector
}

// New constructs the adapter from the configured base URL.
func New(cfg config.ProviderConfig, client *http.Client) (provider.Provider, error) {
	if client == nil {
		return nil, errors.New("http client must not be nil")
	}
	return &Provider{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		client:   client,
		selector: transport.NewSelector(client),
	}, nil
}

func (p *Provider) Kind() provider.Kind {
	return provider.KindOllama
}

func (p *Provider) configured() error {
	if p.baseURL == "" {
		return fmt.Errorf("%w: Ollama API URL is not configured", provider.ErrNotConfigured)
	}
	return nil
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	System string `json:"system"`
	Stream bool   `json:"stream"`
}

type generateRecord struct {
	Response string `json:"response"`
	Thinking string `json:"thinking"`
	Done     bool   `json:"done"`
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// Verify probes the server root, which answers with a fixed banner.
func (p *Provider) Verify(ctx context.Context) provider.Verification {
	if err := p.configured(); err != nil {
		return provider.Verification{Success: false, Message: "Ollama API URL is missing."}
	}

	body, err := transport.Fetch(ctx, p.client, transport.Request{Method: http.MethodGet, URL: p.baseURL})
	if err != nil {
		return provider.Verification{
			Success: false,
			Message: provider.ConnectHint("Ollama", p.baseURL, err),
		}
	}
	if !strings.Contains(string(body), "Ollama is running") {
		return provider.Verification{
			Success: false,
			Message: "Did not receive the expected 'Ollama is running' response.",
		}
	}
	return provider.Verification{Success: true, Message: "Ollama connection successful."}
}

// ListModels returns the locally installed model names, sorted ascending.
func (p *Provider) ListModels(ctx context.Context) ([]string, error) {
	if err := p.configured(); err != nil {
		return nil, err
	}

	body, err := transport.Fetch(ctx, p.client, transport.Request{
		Method: http.MethodGet,
		URL:    p.baseURL + "/api/tags",
	})
	if err != nil {
		return nil, fmt.Errorf("fetch Ollama model list: %w", err)
	}

	var tags tagsResponse
	if err := json.Unmarshal(body, &tags); err != nil {
		return nil, fmt.Errorf("decode Ollama model list: %w", err)
	}

	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		names = append(names, m.Name)
	}
	sort.Strings(names)
	return names, nil
}

func (p *Provider) generateRequest(req provider.Request, streaming bool) (transport.Request, error) {
	body, err := json.Marshal(generateRequest{
		Model:  req.Model,
		Prompt: req.UserPrompt,
		System: req.SystemPrompt,
		Stream: streaming,
	})
	if err != nil {
		return transport.Request{}, fmt.Errorf("marshal generate payload: %w", err)
	}
	return transport.Request{
		Method: http.MethodPost,
		URL:    p.baseURL + "/api/generate",
		Body:   body,
	}, nil
}

// Run performs one non-streaming generation.
func (p *Provider) Run(ctx context.Context, req provider.Request) (string, error) {
	if err := p.configured(); err != nil {
		return "", err
	}

	httpReq, err := p.generateRequest(req, false)
	if err != nil {
		return "", err
	}

	body, err := transport.Fetch(ctx, p.client, httpReq)
	if err != nil {
		return "", fmt.Errorf("Ollama generate request: %w", err)
	}

	var record generateRecord
	if err := json.Unmarshal(body, &record); err != nil {
		return "", fmt.Errorf("decode Ollama response: %w", err)
	}
	return record.Response, nil
}

// RunStream performs one streaming generation over newline-delimited
// JSON records.
//
// Reasoning passthrough: when records carry the native thinking field,
// the adapter synthesizes <think>…</think> markers so downstream
// aggregation sees the same shape as inline-reasoning models. The
// opening marker precedes the first reasoning token and the closing
// marker is emitted exactly once, before the first answer token, even
// when the server interleaves partial thinking and partial response
// across records.
func (p *Provider) RunStream(ctx context.Context, req provider.Request, onDelta provider.DeltaFunc) error {
	if err := p.configured(); err != nil {
		return err
	}

	httpReq, err := p.generateRequest(req, true)
	if err != nil {
		return err
	}

	opened := false
	closed := false
	emit := func(text string) error {
		if text == "" {
			return nil
		}
		return onDelta(text)
	}

	streamErr := p.selector.Stream(ctx, httpReq, func(line string) error {
		var record generateRecord
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			// Malformed records are skipped; the stream continues.
			slog.Warn("skipping malformed stream record", "provider", "ollama", "err", err)
			return nil
		}

		if record.Thinking != "" {
			if !opened {
				opened = true
				if err := emit(think.OpenTag); err != nil {
					return err
				}
			}
			if !closed {
				if err := emit(record.Thinking); err != nil {
					return err
				}
			}
		}

		if record.Response != "" {
			if opened && !closed {
				closed = true
				if err := emit(think.CloseTag); err != nil {
					return err
				}
			}
			if err := emit(record.Response); err != nil {
				return err
			}
		}

		if record.Done {
			return errStreamDone
		}
		return nil
	})
	if errors.Is(streamErr, errStreamDone) {
		return nil
	}
	return streamErr
}

var errStreamDone = errors.New("stream done")
