// Package factory wires the closed set of provider adapters into a
// registry.
package factory

import (
	"fmt"

	"epitelos/internal/provider"
	"epitelos/internal/provider/custom"
	"epitelos/internal/provider/gemini"
	"epitelos/internal/provider/maritaca"
	"epitelos/internal/provider/ollama"
	"epitelos/internal/provider/openai"
)

// NewRegistry returns a registry with every supported provider kind
// registered. Adding a provider means adding one entry here.
func NewRegistry() (*provider.Registry, error) {
	registry := provider.NewRegistry()

	constructors := map[provider.Kind]provider.Constructor{
		provider.KindGemini:   gemini.New,
		provider.KindOpenAI:   openai.New,
		provider.KindOllama:   ollama.New,
		provider.KindMaritaca: maritaca.New,
		provider.KindCustom:   custom.New,
	}

	for kind, constructor := range constructors {
		if err := registry.Register(kind, constructor); err != nil {
			return nil, fmt.Errorf("register %s provider: %w", kind, err)
		}
	}
	return registry, nil
}
