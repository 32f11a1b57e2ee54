package stream

import (
	"reflect"
	"testing"
)

func TestLineFramerSingleFeed(t *testing.T) {
	f := NewLineFramer()

	lines := f.Feed("A\nB\nC")
	want := []string{"A", "B"}
	if !reflect.DeepEqual(lines, want) {
		t.Errorf("Feed = %v, want %v", lines, want)
	}
	if got := f.Flush(); got != "C" {
		t.Errorf("Flush = %q, want %q", got, "C")
	}
}

func TestLineFramerSplitInvariance(t *testing.T) {
	// Feeding "A\nB\nC" in one call must yield the same line sequence as
	// feeding the same bytes across any split.
	input := "A\nB\nC"

	splits := [][]string{
		{"A\nB\nC"},
		{"A\n", "B\n", "C"},
		{"A", "\nB", "\nC"},
		{"A\nB", "\nC"},
	}
	// One byte at a time.
	var single []string
	for _, r := range input {
		single = append(single, string(r))
	}
	splits = append(splits, single)

	for _, chunks := range splits {
		f := NewLineFramer()
		var lines []string
		for _, c := range chunks {
			lines = append(lines, f.Feed(c)...)
		}
		if tail := f.Flush(); tail != "" {
			lines = append(lines, tail)
		}
		want := []string{"A", "B", "C"}
		if !reflect.DeepEqual(lines, want) {
			t.Errorf("split %q: lines = %v, want %v", chunks, lines, want)
		}
	}
}

func TestLineFramerEdgeCases(t *testing.T) {
	f := NewLineFramer()

	if lines := f.Feed(""); lines != nil {
		t.Errorf("empty chunk emitted %v", lines)
	}
	if lines := f.Feed("no newline yet"); len(lines) != 0 {
		t.Errorf("chunk without newline emitted %v", lines)
	}
	if !f.Pending() {
		t.Error("Pending = false with buffered partial line")
	}

	lines := f.Feed(" done\nnext")
	if len(lines) != 1 || lines[0] != "no newline yet done" {
		t.Errorf("lines = %v, want the joined record", lines)
	}
	if got := f.Flush(); got != "next" {
		t.Errorf("Flush = %q, want %q", got, "next")
	}
	if f.Pending() {
		t.Error("Pending = true after Flush")
	}
}

func TestLineFramerTrailingNewline(t *testing.T) {
	f := NewLineFramer()

	lines := f.Feed("A\n")
	if len(lines) != 1 || lines[0] != "A" {
		t.Errorf("lines = %v, want [A]", lines)
	}
	if got := f.Flush(); got != "" {
		t.Errorf("Flush = %q, want empty", got)
	}
}

func TestSSEPayload(t *testing.T) {
	tests := []struct {
		line    string
		payload string
		ok      bool
	}{
		{`data: {"x":1}`, `{"x":1}`, true},
		{"data: [DONE]", "[DONE]", true},
		{"event: ping", "", false},
		{"", "", false},
		{"data:no-space", "", false},
	}

	for _, tt := range tests {
		payload, ok := SSEPayload(tt.line)
		if payload != tt.payload || ok != tt.ok {
			t.Errorf("SSEPayload(%q) = %q, %v; want %q, %v", tt.line, payload, ok, tt.payload, tt.ok)
		}
	}

	if !IsSSEDone("[DONE]") {
		t.Error("IsSSEDone([DONE]) = false")
	}
	if IsSSEDone(`{"x":1}`) {
		t.Error("IsSSEDone on JSON payload = true")
	}
}
