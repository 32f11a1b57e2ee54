package stream

import "strings"

const (
	ssePrefix = "data: "

	// DoneSentinel terminates an OpenAI-style SSE stream.
	DoneSentinel = "[DONE]"
)

// SSEPayload extracts the JSON payload from a Server-Sent-Events data
// line. Lines without the data prefix (comments, event names, blanks)
// return ok=false and are skipped by callers rather than treated as
// errors.
func SSEPayload(line string) (payload string, ok bool) {
	if !strings.HasPrefix(line, ssePrefix) {
		return "", false
	}
	return line[len(ssePrefix):], true
}

// IsSSEDone reports whether the payload is the end-of-stream sentinel.
func IsSSEDone(payload string) bool {
	return payload == DoneSentinel
}
