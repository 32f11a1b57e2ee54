// Package transport issues provider HTTP calls through the most capable
// available path. Streaming-capable runtimes read response bodies
// incrementally; constrained runtimes (bridged desktop shells, proxies
// that buffer) only ever see a complete body, so a buffered streamer
// replays the body line by line to keep the downstream contract uniform.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"epitelos/internal/stream"
)

const (
	contentTypeJSON = "application/json"
	userAgent       = "epitelos/0.1"

	maxErrorBodyBytes = 64 * 1024
	readBufferSize    = 4 * 1024

	defaultHTTPTimeout     = 120 * time.Second
	defaultDialTimeout     = 10 * time.Second
	defaultKeepAlive       = 30 * time.Second
	defaultIdleConnTimeout = 90 * time.Second
)

// Request is a rebuildable description of one provider call. Both the
// streaming attempt and a fallback retry construct their own
// http.Request from it, so the body can be replayed.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// LineFunc receives one complete line record. Returning an error stops
// the stream; io.EOF stops it without surfacing a failure.
type LineFunc func(line string) error

// Streamer delivers the line records of a response body in order.
type Streamer interface {
	Stream(ctx context.Context, req Request, onLine LineFunc) error
}

// StatusError reports a non-2xx response. It is a protocol-level
// failure: the transport itself worked, so the selector never falls
// back on it.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(string(e.Body))
	if body == "" {
		return fmt.Sprintf("upstream returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("upstream returned status %d: %s", e.StatusCode, body)
}

// NewHTTPClient builds the shared http.Client the way every provider
// call uses it: sane dial/idle timeouts, environment proxy support.
func NewHTTPClient() *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: defaultDialTimeout, KeepAlive: defaultKeepAlive}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          50,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		// No overall timeout: streamed generations legitimately run for
		// minutes. Cancellation comes from the request context.
		Transport: transport,
	}
}

func buildHTTPRequest(ctx context.Context, req Request) (*http.Request, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("construct request: %w", err)
	}

	httpReq.Header.Set("Accept", contentTypeJSON)
	httpReq.Header.Set("User-Agent", userAgent)
	if len(req.Body) > 0 {
		httpReq.Header.Set("Content-Type", contentTypeJSON)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Set(k, v)
		}
	}

	return httpReq, nil
}

func statusErrorFrom(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	return &StatusError{StatusCode: resp.StatusCode, Body: body}
}

// Fetch performs a non-streaming round trip and returns the full body.
func Fetch(ctx context.Context, client *http.Client, req Request) ([]byte, error) {
	httpReq, err := buildHTTPRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request %s %s: %w", req.Method, req.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, statusErrorFrom(resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return body, nil
}

// HTTPStreamer reads the response body incrementally, restoring line
// boundaries with a LineFramer as chunks arrive.
type HTTPStreamer struct {
	client *http.Client
}

// NewHTTPStreamer wraps client for incremental delivery.
func NewHTTPStreamer(client *http.Client) *HTTPStreamer {
	return &HTTPStreamer{client: client}
}

func (s *HTTPStreamer) Stream(ctx context.Context, req Request, onLine LineFunc) error {
	httpReq, err := buildHTTPRequest(ctx, req)
	if err != nil {
		return err
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("stream request %s %s: %w", req.Method, req.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return statusErrorFrom(resp)
	}

	framer := stream.NewLineFramer()
	buf := make([]byte, readBufferSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			for _, line := range framer.Feed(string(buf[:n])) {
				if err := deliver(line, onLine); err != nil {
					if errors.Is(err, io.EOF) {
						return nil
					}
					return err
				}
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				// A trailing partial line is an incomplete record and is
				// discarded, never parsed.
				return nil
			}
			return fmt.Errorf("read stream body: %w", readErr)
		}
	}
}

// BufferedStreamer performs one blocking request, obtains the complete
// body, and replays it line by line so consumers observe the same shape
// as the incremental path. The request itself is not interruptible once
// delegated, so Stop cancels it out of band.
type BufferedStreamer struct {
	client *http.Client
	stop   chan struct{}
}

// NewBufferedStreamer wraps client for buffered delivery.
func NewBufferedStreamer(client *http.Client) *BufferedStreamer {
	return &BufferedStreamer{
		client: client,
		stop:   make(chan struct{}, 1),
	}
}

// Stop issues an explicit stop instruction for the in-flight request.
func (s *BufferedStreamer) Stop() {
	select {
	case s.stop <- struct{}{}:
	default:
	}
}

func (s *BufferedStreamer) Stream(ctx context.Context, req Request, onLine LineFunc) error {
	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-s.stop:
			cancel()
		case <-done:
		}
	}()

	body, err := Fetch(reqCtx, s.client, req)
	if err != nil {
		return err
	}

	framer := stream.NewLineFramer()
	lines := framer.Feed(string(body))
	if tail := framer.Flush(); tail != "" {
		lines = append(lines, tail)
	}

	for _, line := range lines {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := deliver(line, onLine); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
	return nil
}

func deliver(line string, onLine LineFunc) error {
	if strings.TrimSpace(line) == "" {
		return nil
	}
	return onLine(line)
}

// Selector tries true incremental streaming first and degrades to the
// buffered path when the streaming mechanism itself fails. A normal
// upstream error status is not a reason to fall back.
type Selector struct {
	primary  Streamer
	fallback Streamer
}

// NewSelector builds the default selector over one shared client.
func NewSelector(client *http.Client) *Selector {
	return &Selector{
		primary:  NewHTTPStreamer(client),
		fallback: NewBufferedStreamer(client),
	}
}

// NewSelectorWith builds a selector from explicit streamers.
func NewSelectorWith(primary, fallback Streamer) *Selector {
	return &Selector{primary: primary, fallback: fallback}
}

func (s *Selector) Stream(ctx context.Context, req Request, onLine LineFunc) error {
	delivered := false
	counting := func(line string) error {
		delivered = true
		return onLine(line)
	}

	err := s.primary.Stream(ctx, req, counting)
	if err == nil {
		return nil
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return err
	}
	if ctx.Err() != nil {
		return err
	}
	if delivered {
		// Lines already reached the consumer; replaying the body would
		// duplicate them.
		return err
	}

	// Transport-level failure: replay through the buffered path. If it
	// fails too, its error propagates verbatim.
	return s.fallback.Stream(ctx, req, onLine)
}
