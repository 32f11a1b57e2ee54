package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"epitelos/internal/config"
	"epitelos/internal/provider"
	"epitelos/internal/runner"
)

const verifyUsage = `Usage:
  epitelos verify --config <path> [--provider <kind>]

Flags:
  --config   string   Path to YAML configuration file (required)
  --provider string   Provider kind to check (defaults to the configured one)`

const modelsUsage = `Usage:
  epitelos models --config <path> [--provider <kind>]

Flags:
  --config   string   Path to YAML configuration file (required)
  --provider string   Provider kind to query (defaults to the configured one)`

// verify checks the provider connection and prints its model catalogue.
func verify(ctx context.Context, args []string) error {
	orch, kind, err := checkProvider(ctx, "verify", verifyUsage, args)
	if err != nil || orch == nil {
		return err
	}

	status := orch.Verification()
	if status == nil || status.Kind != "success" {
		message := "verification produced no status"
		if status != nil {
			message = status.Message
		}
		return fmt.Errorf("provider %s: %s", kind, message)
	}

	fmt.Println(status.Message)
	for _, model := range orch.Models() {
		fmt.Println("  " + model)
	}
	return nil
}

// listModels prints only the model identifiers, one per line, for
// scripting.
func listModels(ctx context.Context, args []string) error {
	orch, kind, err := checkProvider(ctx, "models", modelsUsage, args)
	if err != nil || orch == nil {
		return err
	}

	status := orch.Verification()
	if status == nil || status.Kind != "success" {
		message := "verification produced no status"
		if status != nil {
			message = status.Message
		}
		return fmt.Errorf("provider %s: %s", kind, message)
	}

	for _, model := range orch.Models() {
		fmt.Println(model)
	}
	return nil
}

func checkProvider(ctx context.Context, name, usageText string, args []string) (*runner.Orchestrator, provider.Kind, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, usageText)
	}

	var cfgPath, kindFlag string
	fs.StringVar(&cfgPath, "config", "", "path to configuration file")
	fs.StringVar(&kindFlag, "provider", "", "provider kind")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, "", nil
		}
		return nil, "", fmt.Errorf("parse %s flags: %w", name, err)
	}

	if cfgPath == "" {
		return nil, "", fmt.Errorf("%s command requires --config <path>", name)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, "", err
	}

	kind := cfg.Provider
	if kindFlag != "" {
		kind = kindFlag
	}

	orch, _, err := buildOrchestrator(cfg)
	if err != nil {
		return nil, "", err
	}

	orch.VerifyAndLoadModels(ctx, provider.Kind(kind))
	return orch, provider.Kind(kind), nil
}
