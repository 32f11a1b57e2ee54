// Package cmd implements the command-line dispatcher.
package cmd

import (
	"context"
	"fmt"
	"strings"

	"epitelos/internal/config"
	"epitelos/internal/notify"
	providerfactory "epitelos/internal/provider/factory"
	"epitelos/internal/runner"
	"epitelos/internal/source"
	"epitelos/internal/transport"
)

const usage = `epitelos runs user-defined functions (system prompts) against a
configured LLM provider, with optional file and folder context.

Usage:
  epitelos <command> [flags]

Commands:
  serve     Start the local UI API server
  run       Execute one function from the terminal
  verify    Check the configured provider connection and list its models
  models    List the models available from the configured provider

Flags:
  -h, --help  Show this help message`

// Execute runs the CLI dispatcher with the provided arguments.
func Execute(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return printUsage()
	}

	switch args[0] {
	case "serve":
		return serve(ctx, args[1:])
	case "run":
		return run(ctx, args[1:])
	case "verify":
		return verify(ctx, args[1:])
	case "models":
		return listModels(ctx, args[1:])
	case "help", "-h", "--help":
		return printUsage()
	default:
		return fmt.Errorf("unknown command %q\n\n%s", args[0], usage)
	}
}

func printUsage() error {
	fmt.Println(strings.TrimSpace(usage))
	return nil
}

// buildOrchestrator wires the orchestrator and its collaborators from
// loaded settings. Every command goes through here so the wiring stays
// in one place.
func buildOrchestrator(cfg config.Config) (*runner.Orchestrator, *source.Resolver, error) {
	registry, err := providerfactory.NewRegistry()
	if err != nil {
		return nil, nil, err
	}

	client := transport.NewHTTPClient()
	resolver := source.NewResolver(cfg.Contexts)
	notifier := notify.NewCommandNotifier(cfg.NotifyCommand)

	return runner.New(cfg, registry, client, resolver, notifier), resolver, nil
}
