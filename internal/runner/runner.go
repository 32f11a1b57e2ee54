// Package runner owns the single in-flight generation lifecycle: prompt
// assembly, provider dispatch, streaming aggregation, cancellation and
// terminal-state mapping.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"epitelos/internal/config"
	"epitelos/internal/notify"
	"epitelos/internal/provider"
	"epitelos/internal/think"
)

const (
	userInputSeparator = "\n\n--- USER INPUT ---\n"
	stopSuffix         = "\n\n[Generation stopped by user.]"
	stopStandalone     = "Generation stopped."
)

// Status is the orchestrator's lifecycle state.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusAborted   Status = "aborted"
	StatusFailed    Status = "failed"
)

// State is the externally observable snapshot: the full visible text at
// this point (not a delta), the live reasoning buffer, and any error.
type State struct {
	Status    Status `json:"status"`
	Text      string `json:"text"`
	Reasoning string `json:"reasoning,omitempty"`
	Error     string `json:"error,omitempty"`
}

// RunResult is produced once at run termination.
type RunResult struct {
	FinalText    string
	WasAborted   bool
	ErrorMessage string
}

// VerificationStatus is the ephemeral outcome of a provider check; each
// new check supersedes the previous one.
type VerificationStatus struct {
	Kind    string `json:"kind"` // "verifying", "success" or "error"
	Message string `json:"message"`
}

// RunParams selects what to execute. Either SystemPrompt or FunctionID
// must be set; optional overrides replace the configured flags for this
// run only.
type RunParams struct {
	FunctionID   string
	SystemPrompt string
	FunctionName string
	Input        string
	ContextIDs   []string

	Streaming     *bool
	ShowReasoning *bool
}

// ContextReader resolves selected context sources into one text blob.
type ContextReader interface {
	Read(ctx context.Context, ids []string) (string, error)
}

// Orchestrator coordinates one generation at a time. All collaborators
// are injected; it never consults ambient global state.
type Orchestrator struct {
	registry *provider.Registry
	client   *http.Client
	resolver ContextReader
	notifier notify.Notifier

	mu           sync.Mutex
	cfg          config.Config
	running      bool
	cancel       context.CancelFunc
	done         chan struct{}
	state        State
	verification *VerificationStatus
	models       []string
	onUpdate     func(State)
	subs         map[int]chan State
	nextSub      int
}

// New constructs the orchestrator.
func New(cfg config.Config, registry *provider.Registry, client *http.Client, resolver ContextReader, notifier notify.Notifier) *Orchestrator {
	if notifier == nil {
		notifier = notify.Discard{}
	}
	return &Orchestrator{
		registry: registry,
		client:   client,
		resolver: resolver,
		notifier: notifier,
		cfg:      cfg,
		state:    State{Status: StatusIdle},
	}
}

// OnUpdate registers a sink for state snapshots. The sink is called
// after every visible-text change and every status transition.
func (o *Orchestrator) OnUpdate(fn func(State)) {
	o.mu.Lock()
	o.onUpdate = fn
	o.mu.Unlock()
}

// Subscribe registers a channel that receives state snapshots. The
// channel holds only the latest snapshot: a slow consumer observes
// coalesced updates instead of backpressuring the run. The returned
// cancel func must be called to release the subscription.
func (o *Orchestrator) Subscribe() (<-chan State, func()) {
	o.mu.Lock()
	if o.subs == nil {
		o.subs = make(map[int]chan State)
	}
	id := o.nextSub
	o.nextSub++
	ch := make(chan State, 1)
	o.subs[id] = ch
	o.mu.Unlock()

	cancel := func() {
		o.mu.Lock()
		delete(o.subs, id)
		o.mu.Unlock()
	}
	return ch, cancel
}

// UpdateConfig replaces the settings used by future runs. The in-flight
// run, if any, keeps the snapshot it captured at start.
func (o *Orchestrator) UpdateConfig(cfg config.Config) {
	o.mu.Lock()
	o.cfg = cfg
	o.mu.Unlock()
}

// Config returns the current settings.
func (o *Orchestrator) Config() config.Config {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cfg
}

// Snapshot returns the current externally observable state.
func (o *Orchestrator) Snapshot() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Verification returns the latest provider-check status, if any.
func (o *Orchestrator) Verification() *VerificationStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.verification == nil {
		return nil
	}
	v := *o.verification
	return &v
}

// Models returns the most recently loaded model list.
func (o *Orchestrator) Models() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, len(o.models))
	copy(out, o.models)
	return out
}

// Start launches a run. Starting while a run is active is a silent
// no-op: the UI's run button simply does nothing until the current
// generation terminates.
func (o *Orchestrator) Start(params RunParams) {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return
	}

	// Snapshot settings so concurrent edits cannot touch this run.
	cfg := o.cfg
	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	o.running = true
	o.cancel = cancel
	o.done = done
	o.state = State{Status: StatusRunning}
	o.mu.Unlock()

	o.publish()

	go func() {
		defer close(done)
		result := o.execute(runCtx, cfg, params)
		o.finish(result)
	}()
}

// Stop cancels the in-flight run. Calling it when no run is active is a
// no-op and leaves state unchanged.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	cancel := o.cancel
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Wait blocks until the current run terminates. It returns immediately
// when nothing is running.
func (o *Orchestrator) Wait() {
	o.mu.Lock()
	done := o.done
	o.mu.Unlock()
	if done != nil {
		<-done
	}
}

// finish releases the single-run lock unconditionally and maps the
// result onto the published state.
func (o *Orchestrator) finish(result RunResult) {
	o.mu.Lock()
	o.running = false
	o.cancel = nil

	switch {
	case result.WasAborted:
		o.state = State{Status: StatusAborted, Text: result.FinalText}
	case result.ErrorMessage != "":
		o.state = State{Status: StatusFailed, Text: result.ErrorMessage, Error: result.ErrorMessage}
	default:
		o.state = State{Status: StatusCompleted, Text: result.FinalText}
	}
	o.mu.Unlock()

	o.publish()
}

func (o *Orchestrator) execute(ctx context.Context, cfg config.Config, params RunParams) RunResult {
	systemPrompt := params.SystemPrompt
	functionName := params.FunctionName
	if systemPrompt == "" {
		fn, err := cfg.FunctionByID(params.FunctionID)
		if err != nil {
			return RunResult{ErrorMessage: err.Error()}
		}
		systemPrompt, err = fn.ResolvePrompt()
		if err != nil {
			return RunResult{ErrorMessage: err.Error()}
		}
		if functionName == "" {
			functionName = fn.Name
		}
	}

	streaming := cfg.Streaming
	if params.Streaming != nil {
		streaming = *params.Streaming
	}
	showReasoning := cfg.ShowReasoning
	if params.ShowReasoning != nil {
		showReasoning = *params.ShowReasoning
	}

	contextText, err := o.resolver.Read(ctx, params.ContextIDs)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return RunResult{FinalText: stopStandalone, WasAborted: true}
		}
		return RunResult{ErrorMessage: fmt.Sprintf("failed to read context sources: %v", err)}
	}

	providerCfg, err := cfg.Providers.ByKind(cfg.Provider)
	if err != nil {
		return RunResult{ErrorMessage: err.Error()}
	}
	adapter, err := o.registry.New(provider.Kind(cfg.Provider), providerCfg, o.client)
	if err != nil {
		return RunResult{ErrorMessage: err.Error()}
	}

	req := provider.Request{
		SystemPrompt: systemPrompt,
		UserPrompt:   contextText + userInputSeparator + params.Input,
		Model:        cfg.Model,
	}

	var result RunResult
	if streaming {
		result = o.executeStream(ctx, adapter, req, showReasoning)
	} else {
		result = o.executeOnce(ctx, adapter, req, showReasoning)
	}

	if !result.WasAborted && result.ErrorMessage == "" {
		// Fire-and-forget; a failed notification never affects the run.
		o.notifier.NotifyCompletion(functionName, "Function run completed.")
	}
	return result
}

func (o *Orchestrator) executeStream(ctx context.Context, adapter provider.Provider, req provider.Request, showReasoning bool) RunResult {
	agg := think.NewAggregator(showReasoning, func(visible string) {
		o.setRunningText(visible, "")
	})

	err := adapter.RunStream(ctx, req, func(delta string) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		agg.Push(delta)
		if reasoning := agg.Reasoning(); reasoning != "" {
			o.setRunningText(agg.Visible(), reasoning)
		}
		return nil
	})

	if err != nil {
		if errors.Is(err, context.Canceled) {
			return RunResult{FinalText: stopText(agg.Visible()), WasAborted: true}
		}
		slog.Error("streaming run failed", "provider", adapter.Kind(), "err", err)
		return RunResult{ErrorMessage: err.Error()}
	}
	return RunResult{FinalText: agg.Finish()}
}

func (o *Orchestrator) executeOnce(ctx context.Context, adapter provider.Provider, req provider.Request, showReasoning bool) RunResult {
	text, err := adapter.Run(ctx, req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return RunResult{FinalText: stopStandalone, WasAborted: true}
		}
		slog.Error("run failed", "provider", adapter.Kind(), "err", err)
		return RunResult{ErrorMessage: err.Error()}
	}

	if !showReasoning {
		text = think.StripReasoning(text)
	}
	return RunResult{FinalText: text}
}

// stopText preserves partial output and appends the stop marker; with no
// output yet, a standalone message replaces the empty text.
func stopText(visible string) string {
	if visible == "" {
		return stopStandalone
	}
	return visible + stopSuffix
}

func (o *Orchestrator) setRunningText(visible, reasoning string) {
	o.mu.Lock()
	o.state.Text = visible
	o.state.Reasoning = reasoning
	o.mu.Unlock()
	o.publish()
}

func (o *Orchestrator) publish() {
	o.mu.Lock()
	fn := o.onUpdate
	state := o.state
	subs := make([]chan State, 0, len(o.subs))
	for _, ch := range o.subs {
		subs = append(subs, ch)
	}
	o.mu.Unlock()

	if fn != nil {
		fn(state)
	}
	for _, ch := range subs {
		select {
		case ch <- state:
		default:
			// Replace the stale snapshot so the subscriber always sees
			// the most recent state.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- state:
			default:
			}
		}
	}
}
