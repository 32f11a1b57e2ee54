// Package think implements the reasoning-tag extraction state machine.
// Models that expose chain-of-thought wrap it in literal <think>…</think>
// markers at the start of the response; the aggregator consumes the
// normalized delta sequence from a provider and maintains the text the
// user should actually see, hiding or showing the reasoning span as
// configured.
package think

import (
	"strings"
	"unicode"
)

const (
	// OpenTag and CloseTag are matched as literal, case-sensitive
	// substrings. Only the first pair is honored; later occurrences are
	// ordinary content.
	OpenTag  = "<think>"
	CloseTag = "</think>"
)

// Phase identifies where the aggregator is in the response.
type Phase int

const (
	// PhasePre means no delta has resolved the reasoning question yet:
	// the accumulated text is still a strict prefix of the opening tag
	// (possibly empty).
	PhasePre Phase = iota
	// PhaseReasoning means the text opened with the reasoning marker and
	// the closing marker has not appeared.
	PhaseReasoning
	// PhaseAnswer means reasoning is over (or never existed); every
	// further delta is visible.
	PhaseAnswer
)

// Aggregator accumulates streamed deltas and derives the visible text.
// It is created fresh for each run and must only be used by that run;
// deltas must be pushed in arrival order.
type Aggregator struct {
	showReasoning bool
	emit          func(visible string)

	full    strings.Builder
	visible strings.Builder
	phase   Phase
}

// NewAggregator constructs an aggregator. emit receives the full visible
// text snapshot after every change; it may be nil.
func NewAggregator(showReasoning bool, emit func(visible string)) *Aggregator {
	return &Aggregator{
		showReasoning: showReasoning,
		emit:          emit,
	}
}

// Push consumes one delta and updates the visible text.
//
// While hiding reasoning the visible text only ever grows by appends,
// except for the single rewrite at the reasoning→answer transition where
// it is recomputed from the full buffer (the closing marker may have
// been split across deltas, so an incremental append cannot place it).
func (a *Aggregator) Push(delta string) {
	if delta == "" {
		return
	}
	a.full.WriteString(delta)

	if a.showReasoning {
		a.visible.WriteString(delta)
		a.publish()
		return
	}

	switch a.phase {
	case PhasePre:
		full := a.full.String()
		switch {
		case strings.HasPrefix(full, OpenTag):
			a.phase = PhaseReasoning
			a.closeIfComplete()
		case strings.HasPrefix(OpenTag, full):
			// Still a strict prefix of the opening tag; the next delta
			// decides.
		default:
			a.phase = PhaseAnswer
			a.visible.WriteString(full)
			a.publish()
		}
	case PhaseReasoning:
		a.closeIfComplete()
	case PhaseAnswer:
		a.visible.WriteString(delta)
		a.publish()
	}
}

// closeIfComplete performs the one-time reasoning→answer rewrite once the
// closing marker is present in the accumulated text.
func (a *Aggregator) closeIfComplete() {
	full := a.full.String()
	if !strings.Contains(full, CloseTag) {
		return
	}
	a.phase = PhaseAnswer
	a.visible.Reset()
	a.visible.WriteString(strings.TrimLeftFunc(removeFirstSpan(full), unicode.IsSpace))
	a.publish()
}

// Finish signals end of stream and returns the final visible text.
//
// If the stream ended before the closing marker appeared, the whole
// accumulated text is surfaced verbatim: an unterminated reasoning block
// is treated as not a reasoning block at all rather than silently
// dropped.
func (a *Aggregator) Finish() string {
	if !a.showReasoning && a.phase != PhaseAnswer && a.full.Len() > 0 {
		a.phase = PhaseAnswer
		a.visible.Reset()
		a.visible.WriteString(a.full.String())
		a.publish()
	}
	return a.visible.String()
}

// Visible returns the current visible text snapshot.
func (a *Aggregator) Visible() string {
	return a.visible.String()
}

// Full returns everything accumulated so far, markers included.
func (a *Aggregator) Full() string {
	return a.full.String()
}

// Reasoning returns the in-progress reasoning buffer while the closing
// marker is still outstanding, for UIs that surface a live "thinking"
// indicator. Empty outside the reasoning phase.
func (a *Aggregator) Reasoning() string {
	if a.phase != PhaseReasoning {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(a.full.String(), OpenTag))
}

// CurrentPhase reports the machine's phase.
func (a *Aggregator) CurrentPhase() Phase {
	return a.phase
}

func (a *Aggregator) publish() {
	if a.emit != nil {
		a.emit(a.visible.String())
	}
}

// StripReasoning removes the first <think>…</think> span from a complete
// response and trims surrounding whitespace. Used on the non-streaming
// path. Text with no marker pair — including an unmatched opening or
// closing marker on its own — passes through unchanged apart from the
// trim: ambiguity is never a hard failure.
func StripReasoning(s string) string {
	return strings.TrimSpace(removeFirstSpan(s))
}

func removeFirstSpan(s string) string {
	open := strings.Index(s, OpenTag)
	if open < 0 {
		return s
	}
	rest := strings.Index(s[open+len(OpenTag):], CloseTag)
	if rest < 0 {
		return s
	}
	end := open + len(OpenTag) + rest + len(CloseTag)
	return s[:open] + s[end:]
}
