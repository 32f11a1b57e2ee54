package runner

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"epitelos/internal/config"
	"epitelos/internal/provider"
)

type fakeProvider struct {
	deltas    []string
	runText   string
	err       error
	blockOnce chan struct{} // when set, block after emitting deltas until cancelled

	mu    sync.Mutex
	calls int
}

func (f *fakeProvider) Kind() provider.Kind { return provider.KindCustom }

func (f *fakeProvider) Verify(ctx context.Context) provider.Verification {
	return provider.Verification{Success: true, Message: "ok"}
}

func (f *fakeProvider) ListModels(ctx context.Context) ([]string, error) {
	return []string{"model-a", "model-b"}, f.err
}

func (f *fakeProvider) Run(ctx context.Context, req provider.Request) (string, error) {
	f.countCall()
	return f.runText, f.err
}

func (f *fakeProvider) RunStream(ctx context.Context, req provider.Request, onDelta provider.DeltaFunc) error {
	f.countCall()
	if f.err != nil {
		return f.err
	}
	for _, d := range f.deltas {
		if err := onDelta(d); err != nil {
			return err
		}
	}
	if f.blockOnce != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.blockOnce:
		}
	}
	return nil
}

func (f *fakeProvider) countCall() {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeResolver struct{ text string }

func (f fakeResolver) Read(ctx context.Context, ids []string) (string, error) {
	return f.text, ctx.Err()
}

type recordingNotifier struct {
	mu     sync.Mutex
	titles []string
}

func (n *recordingNotifier) NotifyCompletion(title, body string) {
	n.mu.Lock()
	n.titles = append(n.titles, title)
	n.mu.Unlock()
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.titles)
}

func newOrchestrator(t *testing.T, cfg config.Config, fake *fakeProvider, notifier *recordingNotifier) *Orchestrator {
	t.Helper()

	registry := provider.NewRegistry()
	require.NoError(t, registry.Register(provider.KindCustom, func(config.ProviderConfig, *http.Client) (provider.Provider, error) {
		return fake, nil
	}))

	if cfg.Provider == "" {
		cfg.Provider = config.KindCustom
	}
	if cfg.Model == "" {
		cfg.Model = "model-a"
	}

	if notifier == nil {
		notifier = &recordingNotifier{}
	}
	return New(cfg, registry, http.DefaultClient, fakeResolver{}, notifier)
}

func runParams() RunParams {
	return RunParams{SystemPrompt: "sys", FunctionName: "Fn", Input: "hello"}
}

func TestStreamingRunHidesReasoning(t *testing.T) {
	fake := &fakeProvider{deltas: []string{"<thi", "nk>secret</th", "ink>answer"}}
	o := newOrchestrator(t, config.Config{Streaming: true}, fake, nil)

	o.Start(runParams())
	o.Wait()

	state := o.Snapshot()
	require.Equal(t, StatusCompleted, state.Status)
	require.Equal(t, "answer", state.Text)
}

func TestStreamingRunShowsReasoning(t *testing.T) {
	fake := &fakeProvider{deltas: []string{"<thi", "nk>secret</th", "ink>answer"}}
	o := newOrchestrator(t, config.Config{Streaming: true, ShowReasoning: true}, fake, nil)

	o.Start(runParams())
	o.Wait()

	require.Equal(t, "<think>secret</think>answer", o.Snapshot().Text)
}

func TestNonStreamingStripsReasoning(t *testing.T) {
	fake := &fakeProvider{runText: "<think>why</think>\n\nthe answer"}
	o := newOrchestrator(t, config.Config{}, fake, nil)

	o.Start(runParams())
	o.Wait()

	state := o.Snapshot()
	require.Equal(t, StatusCompleted, state.Status)
	require.Equal(t, "the answer", state.Text)
}

func TestCancellationPreservesPartialText(t *testing.T) {
	fake := &fakeProvider{deltas: []string{"Wor", "ki"}, blockOnce: make(chan struct{})}
	o := newOrchestrator(t, config.Config{Streaming: true}, fake, nil)

	o.Start(runParams())
	require.Eventually(t, func() bool { return o.Snapshot().Text == "Worki" }, time.Second, time.Millisecond)

	o.Stop()
	o.Wait()

	state := o.Snapshot()
	require.Equal(t, StatusAborted, state.Status)
	require.Equal(t, "Worki\n\n[Generation stopped by user.]", state.Text)
}

func TestCancellationBeforeAnyOutput(t *testing.T) {
	fake := &fakeProvider{blockOnce: make(chan struct{})}
	o := newOrchestrator(t, config.Config{Streaming: true}, fake, nil)

	o.Start(runParams())
	require.Eventually(t, func() bool { return fake.callCount() == 1 }, time.Second, time.Millisecond)

	o.Stop()
	o.Wait()

	state := o.Snapshot()
	require.Equal(t, StatusAborted, state.Status)
	require.Equal(t, "Generation stopped.", state.Text)
}

func TestStopWhenIdleIsNoOp(t *testing.T) {
	o := newOrchestrator(t, config.Config{}, &fakeProvider{}, nil)

	before := o.Snapshot()
	o.Stop()
	require.Equal(t, before, o.Snapshot())
}

func TestSecondStartIsSilentlyIgnored(t *testing.T) {
	fake := &fakeProvider{blockOnce: make(chan struct{})}
	o := newOrchestrator(t, config.Config{Streaming: true}, fake, nil)

	o.Start(runParams())
	require.Eventually(t, func() bool { return fake.callCount() == 1 }, time.Second, time.Millisecond)

	o.Start(runParams())
	require.Equal(t, 1, fake.callCount())

	close(fake.blockOnce)
	o.Wait()
}

func TestAdapterErrorBecomesVisibleMessage(t *testing.T) {
	fake := &fakeProvider{err: errors.New("upstream exploded")}
	o := newOrchestrator(t, config.Config{Streaming: true}, fake, nil)

	o.Start(runParams())
	o.Wait()

	state := o.Snapshot()
	require.Equal(t, StatusFailed, state.Status)
	require.Equal(t, "upstream exploded", state.Text)
	require.Equal(t, "upstream exploded", state.Error)
}

func TestRunLockReleasedAfterFailure(t *testing.T) {
	fake := &fakeProvider{err: errors.New("boom")}
	o := newOrchestrator(t, config.Config{Streaming: true}, fake, nil)

	o.Start(runParams())
	o.Wait()

	// A retry is immediately possible.
	fake.err = nil
	fake.deltas = []string{"ok"}
	o.Start(runParams())
	o.Wait()
	require.Equal(t, StatusCompleted, o.Snapshot().Status)
	require.Equal(t, "ok", o.Snapshot().Text)
}

func TestNotificationOnSuccessOnly(t *testing.T) {
	notifier := &recordingNotifier{}
	fake := &fakeProvider{deltas: []string{"done"}}
	o := newOrchestrator(t, config.Config{Streaming: true}, fake, notifier)

	o.Start(runParams())
	o.Wait()
	require.Equal(t, 1, notifier.count())

	// Aborted runs do not notify.
	fake.blockOnce = make(chan struct{})
	o.Start(runParams())
	require.Eventually(t, func() bool { return fake.callCount() == 2 }, time.Second, time.Millisecond)
	o.Stop()
	o.Wait()
	require.Equal(t, 1, notifier.count())
}

func TestConfigSnapshotIsolatedFromEdits(t *testing.T) {
	fake := &fakeProvider{deltas: []string{"x"}, blockOnce: make(chan struct{})}
	o := newOrchestrator(t, config.Config{Streaming: true, Model: "model-a"}, fake, nil)

	o.Start(runParams())
	require.Eventually(t, func() bool { return fake.callCount() == 1 }, time.Second, time.Millisecond)

	// Editing settings mid-run must not disturb the in-flight request.
	cfg := o.Config()
	cfg.Model = "model-b"
	o.UpdateConfig(cfg)

	close(fake.blockOnce)
	o.Wait()
	require.Equal(t, StatusCompleted, o.Snapshot().Status)
	require.Equal(t, "model-b", o.Config().Model)
}

func TestFunctionLookupFailureIsRunFailure(t *testing.T) {
	o := newOrchestrator(t, config.Config{}, &fakeProvider{}, nil)

	o.Start(RunParams{FunctionID: "missing", Input: "x"})
	o.Wait()

	state := o.Snapshot()
	require.Equal(t, StatusFailed, state.Status)
	require.Contains(t, state.Error, "unknown function")
}

func TestVerifyAndLoadModels(t *testing.T) {
	fake := &fakeProvider{}
	o := newOrchestrator(t, config.Config{}, fake, nil)

	o.VerifyAndLoadModels(context.Background(), provider.KindCustom)

	v := o.Verification()
	require.NotNil(t, v)
	require.Equal(t, "success", v.Kind)
	require.Equal(t, []string{"model-a", "model-b"}, o.Models())
}

func TestSubscribeReceivesTerminalSnapshot(t *testing.T) {
	fake := &fakeProvider{deltas: []string{"hel", "lo"}}
	o := newOrchestrator(t, config.Config{Streaming: true}, fake, nil)

	updates, unsubscribe := o.Subscribe()
	defer unsubscribe()

	o.Start(runParams())
	o.Wait()

	// Snapshots coalesce for slow consumers, but the latest one is
	// always retained and is the terminal state here.
	deadline := time.After(time.Second)
	for {
		select {
		case state := <-updates:
			if state.Status == StatusCompleted {
				require.Equal(t, "hello", state.Text)
				return
			}
		case <-deadline:
			t.Fatal("no terminal snapshot received")
		}
	}
}

func TestUnsubscribedChannelStopsReceiving(t *testing.T) {
	fake := &fakeProvider{deltas: []string{"x"}}
	o := newOrchestrator(t, config.Config{Streaming: true}, fake, nil)

	updates, unsubscribe := o.Subscribe()
	unsubscribe()

	o.Start(runParams())
	o.Wait()

	select {
	case state := <-updates:
		t.Fatalf("received %v after unsubscribe", state)
	default:
	}
}

func TestVerifyFailureKeepsPreviousModels(t *testing.T) {
	fake := &fakeProvider{}
	o := newOrchestrator(t, config.Config{}, fake, nil)

	o.VerifyAndLoadModels(context.Background(), provider.KindCustom)
	require.Equal(t, []string{"model-a", "model-b"}, o.Models())

	fake.err = errors.New("catalogue down")
	o.VerifyAndLoadModels(context.Background(), provider.KindCustom)

	v := o.Verification()
	require.Equal(t, "error", v.Kind)
	require.Equal(t, []string{"model-a", "model-b"}, o.Models())
}
