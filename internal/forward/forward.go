// Package forward issues the single outbound call behind each proxy route
// and applies the route's success-detection mode to the backend reply.
package forward

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/dskow/luis-proxy/internal/metrics"
)

// Mode selects how a backend reply is judged.
type Mode int

const (
	// ModeStatus treats any non-2xx status as a failure and returns the
	// body untouched.
	ModeStatus Mode = iota
	// ModeBlindParse ignores the status and requires the body to be JSON.
	// The body is returned re-serialized.
	ModeBlindParse
)

// String returns the mode name used in logs and admin output.
func (m Mode) String() string {
	switch m {
	case ModeStatus:
		return "status"
	case ModeBlindParse:
		return "blind-parse"
	default:
		return "unknown"
	}
}

// Request describes one outbound call.
type Request struct {
	// Op names the route for logs and metrics.
	Op     string
	Method string
	URL    string
	Header http.Header
	// Body is sent as-is; nil sends no body.
	Body []byte
}

// Response is a successful backend reply.
type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// StatusError reports a non-2xx reply under ModeStatus.
type StatusError struct {
	Op         string
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: backend returned %s", e.Op, e.Status)
}

// ErrParse wraps every body decode failure under ModeBlindParse.
var ErrParse = errors.New("backend reply is not valid JSON")

// Forwarder sends outbound requests with a shared HTTP client.
type Forwarder struct {
	client *http.Client
	logger *slog.Logger
}

// New creates a Forwarder. timeout bounds each outbound call; 0 disables
// the client-side limit.
func New(timeout time.Duration, logger *slog.Logger) *Forwarder {
	return NewWithClient(&http.Client{Timeout: timeout}, logger)
}

// NewWithClient creates a Forwarder around an existing client.
func NewWithClient(client *http.Client, logger *slog.Logger) *Forwarder {
	return &Forwarder{client: client, logger: logger}
}

// Forward issues req once and applies mode to the reply. Failures are
// network errors, *StatusError, or errors wrapping ErrParse.
func (f *Forwarder) Forward(ctx context.Context, req Request, mode Mode) (*Response, error) {
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		f.record(req.Op, "network_error", 0)
		return nil, fmt.Errorf("%s: building request: %w", req.Op, err)
	}
	for k, vals := range req.Header {
		for _, v := range vals {
			httpReq.Header.Add(k, v)
		}
	}

	f.logger.Debug("calling backend", "op", req.Op, "method", req.Method, "url", req.URL)

	metrics.ActiveRequests.Inc()
	start := time.Now()
	resp, err := f.client.Do(httpReq)
	metrics.ActiveRequests.Dec()
	if err != nil {
		f.record(req.Op, "network_error", time.Since(start))
		return nil, fmt.Errorf("%s: calling backend: %w", req.Op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	latency := time.Since(start)
	if err != nil {
		f.record(req.Op, "network_error", latency)
		return nil, fmt.Errorf("%s: reading backend reply: %w", req.Op, err)
	}

	out := &Response{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
	}

	switch mode {
	case ModeBlindParse:
		reencoded, err := Reencode(raw)
		if err != nil {
			f.record(req.Op, "parse_error", latency)
			return nil, fmt.Errorf("%s: status %d: %w", req.Op, resp.StatusCode, err)
		}
		out.Body = reencoded
		out.ContentType = "application/json"
	default:
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			f.record(req.Op, "bad_status", latency)
			return nil, &StatusError{Op: req.Op, StatusCode: resp.StatusCode, Status: resp.Status}
		}
		out.Body = raw
	}

	f.record(req.Op, "ok", latency)
	return out, nil
}

func (f *Forwarder) record(op, outcome string, latency time.Duration) {
	metrics.UpstreamRequestsTotal.WithLabelValues(op, outcome).Inc()
	if latency > 0 {
		metrics.UpstreamDuration.WithLabelValues(op).Observe(latency.Seconds())
	}
}

// Reencode decodes a single JSON value and serializes it again. Numbers
// keep their exact text and HTML characters are not escaped, so the result
// is value-equal to the input. Trailing data after the value is an error.
func Reencode(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("%w: unexpected data after top-level value", ErrParse)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
