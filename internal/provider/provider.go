// Package provider defines the uniform contract every model provider
// adapter satisfies and the registry that dispatches on the user's
// chosen provider kind.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"epitelos/internal/config"
)

// Kind tags one of the closed set of provider adapters.
type Kind string

const (
	KindGemini   Kind = config.KindGemini
	KindOpenAI   Kind = config.KindOpenAI
	KindOllama   Kind = config.KindOllama
	KindMaritaca Kind = config.KindMaritaca
	KindCustom   Kind = config.KindCustom
)

// ErrUnknownKind indicates the requested provider kind is not registered.
var ErrUnknownKind = errors.New("unknown provider kind")

// ErrNotConfigured indicates a required credential or URL is missing.
// It is surfaced before any network call and names the missing field.
var ErrNotConfigured = errors.New("provider not configured")

// Request carries one generation. Immutable once dispatched.
type Request struct {
	SystemPrompt string
	UserPrompt   string
	Model        string
}

// Verification is the outcome of a connection check. Verify never
// returns an error; failures are classified into Message.
type Verification struct {
	Success bool
	Message string
}

// DeltaFunc receives one normalized text delta. Deltas arrive in
// emission order; replaying them in order reconstructs the full
// response. Returning an error stops the stream.
type DeltaFunc func(delta string) error

// Provider is the uniform adapter contract.
type Provider interface {
	Kind() Kind
	// Verify probes the provider with a lightweight call and classifies
	// any failure into a human-readable message.
	Verify(ctx context.Context) Verification
	// ListModels returns model identifiers, sorted ascending unless the
	// adapter documents a priority rule. Failure to reach the catalogue
	// is an error, never a fabricated list.
	ListModels(ctx context.Context) ([]string, error)
	// Run performs one non-streaming round trip.
	Run(ctx context.Context, req Request) (string, error)
	// RunStream performs one streaming round trip, delivering deltas to
	// onDelta in arrival order. The sequence is finite and not
	// restartable; cancellation is observed between deltas.
	RunStream(ctx context.Context, req Request, onDelta DeltaFunc) error
}

// Constructor builds an adapter from its credential block.
type Constructor func(cfg config.ProviderConfig, client *http.Client) (Provider, error)

// Registry maps provider kinds to constructors. Adding a provider is a
// matter of registering one constructor.
type Registry struct {
	mu           sync.RWMutex
	constructors map[Kind]Constructor
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{constructors: make(map[Kind]Constructor)}
}

// Register adds a constructor for kind.
func (r *Registry) Register(kind Kind, c Constructor) error {
	if c == nil {
		return errors.New("constructor must not be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.constructors[kind]; exists {
		return fmt.Errorf("provider kind %q already registered", kind)
	}
	r.constructors[kind] = c
	return nil
}

// New builds the adapter for kind from its credential block.
func (r *Registry) New(kind Kind, cfg config.ProviderConfig, client *http.Client) (Provider, error) {
	r.mu.RLock()
	c, ok := r.constructors[kind]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	return c(cfg, client)
}

// Kinds returns the registered kinds in sorted order.
func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]Kind, 0, len(r.constructors))
	for k := range r.constructors {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// ConnectHint rewords low-level transport failures into the
// platform-aware message the UI surfaces: a browser runtime typically
// hits CORS-style blocks that the desktop environment does not.
func ConnectHint(label, target string, err error) string {
	msg := err.Error()
	if strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "CORS") || strings.Contains(msg, "Failed to fetch") {
		return fmt.Sprintf("Connection to %s (%s) failed. This may be a network error, an invalid URL, or a browser CORS block; the request is expected to work in the desktop environment.", label, target)
	}
	return fmt.Sprintf("An error occurred while communicating with %s: %s", label, msg)
}
