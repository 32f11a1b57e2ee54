package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"epitelos/internal/archive"
	"epitelos/internal/config"
	"epitelos/internal/runner"
)

const runUsage = `Usage:
  epitelos run --config <path> --function <id> [--input <text>] [flags]

Flags:
  --config   string   Path to YAML configuration file (required)
  --function string   ID of the configured function to run
  --prompt   string   Inline system prompt (alternative to --function)
  --input    string   User input appended to the prompt ("-" reads stdin)
  --context  string   Comma-separated context source IDs to inject
  --stream   bool     Override the configured streaming flag
  --show-reasoning bool  Override the configured show-reasoning flag
  --archive           Save the finished response to the archive`

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, runUsage)
	}

	var (
		cfgPath       string
		functionID    string
		inlinePrompt  string
		input         string
		contextIDs    string
		streamFlag    bool
		reasoningFlag bool
		saveArchive   bool
	)
	fs.StringVar(&cfgPath, "config", "", "path to configuration file")
	fs.StringVar(&functionID, "function", "", "function id to run")
	fs.StringVar(&inlinePrompt, "prompt", "", "inline system prompt")
	fs.StringVar(&input, "input", "", "user input")
	fs.StringVar(&contextIDs, "context", "", "comma-separated context source ids")
	fs.BoolVar(&streamFlag, "stream", false, "override streaming flag")
	fs.BoolVar(&reasoningFlag, "show-reasoning", false, "override show-reasoning flag")
	fs.BoolVar(&saveArchive, "archive", false, "archive the finished response")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("parse run flags: %w", err)
	}

	if cfgPath == "" {
		return errors.New("run command requires --config <path>")
	}
	if functionID == "" && inlinePrompt == "" {
		return errors.New("run command requires --function <id> or --prompt <text>")
	}

	// flag cannot express "not set" for booleans, so explicit presence
	// decides whether the configured value is overridden.
	var streamOverride, reasoningOverride *bool
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "stream":
			streamOverride = &streamFlag
		case "show-reasoning":
			reasoningOverride = &reasoningFlag
		}
	})

	if input == "-" {
		data, err := readAllStdin()
		if err != nil {
			return err
		}
		input = data
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	orch, _, err := buildOrchestrator(cfg)
	if err != nil {
		return err
	}

	// Echo each running snapshot as it grows so streamed output appears
	// incrementally on the terminal.
	var printed string
	orch.OnUpdate(func(st runner.State) {
		if st.Status != runner.StatusRunning {
			return
		}
		printed = printAdvance(printed, st.Text)
	})

	params := runner.RunParams{
		FunctionID:    functionID,
		SystemPrompt:  inlinePrompt,
		Input:         input,
		Streaming:     streamOverride,
		ShowReasoning: reasoningOverride,
	}
	if contextIDs != "" {
		params.ContextIDs = strings.Split(contextIDs, ",")
	}

	go func() {
		<-ctx.Done()
		orch.Stop()
	}()

	orch.Start(params)
	orch.Wait()

	final := orch.Snapshot()
	if final.Status == runner.StatusFailed {
		fmt.Println()
		return errors.New(final.Error)
	}

	printAdvance(printed, final.Text)
	fmt.Println()

	if saveArchive {
		store, err := archive.NewStore(cfg.ArchiveDir)
		if err != nil {
			return err
		}
		entry, err := store.Save(functionID, cfg.Model, final.Text)
		if err != nil {
			return fmt.Errorf("archive response: %w", err)
		}
		fmt.Fprintf(os.Stderr, "archived to %s\n", entry.Path)
	}
	return nil
}

// printAdvance prints whatever text adds beyond printed and returns the
// new printed value. The visible text only shrinks on the one-time
// reasoning rewrite, where the old prefix no longer applies and the text
// is reprinted whole.
func printAdvance(printed, text string) string {
	if rest, ok := strings.CutPrefix(text, printed); ok {
		fmt.Print(rest)
	} else {
		fmt.Print("\n" + text)
	}
	return text
}

func readAllStdin() (string, error) {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return string(data), nil
}
