package ollama

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	"epitelos/internal/config"
	"epitelos/internal/provider"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) provider.Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	p, err := New(config.ProviderConfig{BaseURL: srv.URL}, srv.Client())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func collectStream(t *testing.T, p provider.Provider) []string {
	t.Helper()
	var deltas []string
	err := p.RunStream(context.Background(), provider.Request{Model: "llama3"}, func(d string) error {
		deltas = append(deltas, d)
		return nil
	})
	if err != nil {
		t.Fatalf("RunStream: %v", err)
	}
	return deltas
}

func TestVerifyBanner(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "Ollama is running")
	})

	v := p.Verify(context.Background())
	if !v.Success {
		t.Errorf("Verify failed: %s", v.Message)
	}
}

func TestVerifyWrongBanner(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "something else entirely")
	})

	v := p.Verify(context.Background())
	if v.Success {
		t.Error("Verify succeeded on an unexpected banner")
	}
	if !strings.Contains(v.Message, "Ollama is running") {
		t.Errorf("message = %q, want it to name the expected banner", v.Message)
	}
}

func TestListModelsSorted(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			t.Errorf("path = %q", r.URL.Path)
		}
		io.WriteString(w, `{"models":[{"name":"mistral"},{"name":"llama3"},{"name":"phi3"}]}`)
	})

	models, err := p.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	want := []string{"llama3", "mistral", "phi3"}
	if !reflect.DeepEqual(models, want) {
		t.Errorf("models = %v, want %v", models, want)
	}
}

func TestRunNonStreaming(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("path = %q", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), `"stream":false`) {
			t.Errorf("body = %s, want stream:false", body)
		}
		io.WriteString(w, `{"response":"full answer","done":true}`)
	})

	text, err := p.Run(context.Background(), provider.Request{
		SystemPrompt: "sys",
		UserPrompt:   "user",
		Model:        "llama3",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if text != "full answer" {
		t.Errorf("text = %q", text)
	}
}

func TestRunStreamEmitsRecordsInOrder(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w,
			`{"response":"Hel","done":false}`+"\n"+
				`{"response":"lo","done":false}`+"\n"+
				`{"response":"","done":true}`+"\n")
	})

	deltas := collectStream(t, p)
	if !reflect.DeepEqual(deltas, []string{"Hel", "lo"}) {
		t.Errorf("deltas = %v", deltas)
	}
}

func TestRunStreamSkipsMalformedRecord(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w,
			`{"response":"ok1","done":false}`+"\n"+
				`{broken`+"\n"+
				`{"response":"ok2","done":false}`+"\n"+
				`{"done":true}`+"\n")
	})

	deltas := collectStream(t, p)
	if !reflect.DeepEqual(deltas, []string{"ok1", "ok2"}) {
		t.Errorf("deltas = %v, want the valid records in order", deltas)
	}
}

func TestThinkingPassthroughSynthesizesMarkers(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w,
			`{"thinking":"let me ","done":false}`+"\n"+
				`{"thinking":"see","done":false}`+"\n"+
				`{"response":"the ","done":false}`+"\n"+
				`{"response":"answer","done":true}`+"\n")
	})

	deltas := collectStream(t, p)
	joined := strings.Join(deltas, "")
	want := "<think>let me see</think>the answer"
	if joined != want {
		t.Errorf("joined = %q, want %q", joined, want)
	}
}

func TestThinkingInterleavedClosesOnce(t *testing.T) {
	// Even when the server interleaves thinking and response in one
	// record, the closing marker appears exactly once, before the first
	// answer token.
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w,
			`{"thinking":"hmm","done":false}`+"\n"+
				`{"thinking":" more","response":"ans","done":false}`+"\n"+
				`{"response":"wer","done":true}`+"\n")
	})

	deltas := collectStream(t, p)
	joined := strings.Join(deltas, "")
	want := "<think>hmm more</think>answer"
	if joined != want {
		t.Errorf("joined = %q, want %q", joined, want)
	}
	if strings.Count(joined, "</think>") != 1 {
		t.Errorf("closing marker emitted %d times", strings.Count(joined, "</think>"))
	}
}

func TestMissingURLIsConfigurationError(t *testing.T) {
	p, err := New(config.ProviderConfig{}, http.DefaultClient)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := p.Run(context.Background(), provider.Request{Model: "llama3"}); !errors.Is(err, provider.ErrNotConfigured) {
		t.Errorf("Run err = %v, want ErrNotConfigured", err)
	}
	if err := p.RunStream(context.Background(), provider.Request{Model: "llama3"}, func(string) error { return nil }); !errors.Is(err, provider.ErrNotConfigured) {
		t.Errorf("RunStream err = %v, want ErrNotConfigured", err)
	}
}
