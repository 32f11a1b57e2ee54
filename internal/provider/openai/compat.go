// Package openai implements the OpenAI chat-completions wire format.
// The format is shared by several hosted services, so the codec is a
// reusable core (Compat) that the openai, maritaca and custom adapters
// delegate to with their own base URLs and messaging.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"epitelos/internal/provider"
	"epitelos/internal/stream"
	"epitelos/internal/transport"
)

// Compat speaks the OpenAI-compatible chat protocol against any base URL.
type Compat struct {
	label    string // human-readable service name used in messages
	apiKey   string
	baseURL  string
	client   *http.Client
	selector *transport.Selector
}

// NewCompat constructs the codec. baseURL must already point at the
// versioned API root (e.g. https://api.openai.com/v1).
func NewCompat(label, baseURL, apiKey string, client *http.Client) (*Compat, error) {
	if client == nil {
		return nil, errors.New("http client must not be nil")
	}
	return &Compat{
		label:    label,
		apiKey:   apiKey,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   client,
		selector: transport.NewSelector(client),
	}, nil
}

func (c *Compat) configured() error {
	if strings.TrimSpace(c.apiKey) == "" {
		return fmt.Errorf("%w: %s API key is not configured", provider.ErrNotConfigured, c.label)
	}
	if strings.TrimSpace(c.baseURL) == "" {
		return fmt.Errorf("%w: %s API URL is not configured", provider.ErrNotConfigured, c.label)
	}
	return nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

type modelList struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

func (c *Compat) request(method, path string, payload any) (transport.Request, error) {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return transport.Request{}, fmt.Errorf("marshal payload: %w", err)
		}
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.apiKey)

	return transport.Request{
		Method: method,
		URL:    c.baseURL + path,
		Header: header,
		Body:   body,
	}, nil
}

// Run performs one non-streaming chat completion.
func (c *Compat) Run(ctx context.Context, req provider.Request) (string, error) {
	if err := c.configured(); err != nil {
		return "", err
	}

	httpReq, err := c.request(http.MethodPost, "/chat/completions", chatRequest{
		Model: req.Model,
		Messages: []chatMessage{
			{Role: "system", Content: req.SystemPrompt},
			{Role: "user", Content: req.UserPrompt},
		},
	})
	if err != nil {
		return "", err
	}

	body, err := transport.Fetch(ctx, c.client, httpReq)
	if err != nil {
		return "", c.rewordStatus(err)
	}

	var resp chatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode %s response: %w", c.label, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%s response did not include choices", c.label)
	}
	return resp.Choices[0].Message.Content, nil
}

// RunStream performs one streaming chat completion, delivering the
// delta content of each SSE frame until the [DONE] sentinel.
func (c *Compat) RunStream(ctx context.Context, req provider.Request, onDelta provider.DeltaFunc) error {
	if err := c.configured(); err != nil {
		return err
	}

	httpReq, err := c.request(http.MethodPost, "/chat/completions", chatRequest{
		Model: req.Model,
		Messages: []chatMessage{
			{Role: "system", Content: req.SystemPrompt},
			{Role: "user", Content: req.UserPrompt},
		},
		Stream: true,
	})
	if err != nil {
		return err
	}

	err = c.selector.Stream(ctx, httpReq, func(line string) error {
		payload, ok := stream.SSEPayload(line)
		if !ok {
			return nil
		}
		if stream.IsSSEDone(payload) {
			return errStreamDone
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			// Malformed frames are logged and skipped, never fatal.
			slog.Warn("skipping malformed stream frame", "provider", c.label, "err", err)
			return nil
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			return nil
		}
		return onDelta(chunk.Choices[0].Delta.Content)
	})
	if errors.Is(err, errStreamDone) {
		return nil
	}
	if err != nil {
		return c.rewordStatus(err)
	}
	return nil
}

var errStreamDone = errors.New("stream done")

// Verify probes the model catalogue endpoint.
func (c *Compat) Verify(ctx context.Context) provider.Verification {
	if err := c.configured(); err != nil {
		return provider.Verification{Success: false, Message: missingFieldMessage(err)}
	}

	httpReq, err := c.request(http.MethodGet, "/models", nil)
	if err != nil {
		return provider.Verification{Success: false, Message: err.Error()}
	}

	if _, err := transport.Fetch(ctx, c.client, httpReq); err != nil {
		return provider.Verification{
			Success: false,
			Message: provider.ConnectHint(c.label, c.baseURL, c.rewordStatus(err)),
		}
	}
	return provider.Verification{Success: true, Message: c.label + " connection successful."}
}

// Models fetches the raw model identifier list, unsorted and unfiltered.
func (c *Compat) Models(ctx context.Context) ([]string, error) {
	if err := c.configured(); err != nil {
		return nil, err
	}

	httpReq, err := c.request(http.MethodGet, "/models", nil)
	if err != nil {
		return nil, err
	}

	body, err := transport.Fetch(ctx, c.client, httpReq)
	if err != nil {
		return nil, c.rewordStatus(err)
	}

	var list modelList
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("decode %s model list: %w", c.label, err)
	}

	ids := make([]string, 0, len(list.Data))
	for _, m := range list.Data {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

// rewordStatus extracts the provider's embedded error message from a
// non-2xx body so the surfaced text names both status and cause.
func (c *Compat) rewordStatus(err error) error {
	var statusErr *transport.StatusError
	if !errors.As(err, &statusErr) {
		return err
	}

	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if jsonErr := json.Unmarshal(statusErr.Body, &payload); jsonErr == nil && payload.Error.Message != "" {
		return fmt.Errorf("%s request failed with status %d: %s", c.label, statusErr.StatusCode, payload.Error.Message)
	}
	return fmt.Errorf("%s request failed with status %d", c.label, statusErr.StatusCode)
}

func missingFieldMessage(err error) string {
	msg := err.Error()
	if cut, ok := strings.CutPrefix(msg, provider.ErrNotConfigured.Error()+": "); ok {
		return cut
	}
	return msg
}
