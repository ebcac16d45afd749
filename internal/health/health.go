// Package health provides the liveness and readiness probe handlers. The
// readiness probe dials the backend currently configured in the store.
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/dskow/luis-proxy/internal/store"
)

// Pre-serialized liveness response avoids json.Encoder allocation.
var livenessBody = []byte(`{"status":"ok"}` + "\n")

const (
	readinessCacheTTL = 5 * time.Second
	dialTimeout       = 2 * time.Second
)

// SettingsSource yields the active backend settings.
type SettingsSource interface {
	Snapshot() store.Settings
}

// Handler provides /health and /ready endpoints.
type Handler struct {
	settings SettingsSource
	logger   *slog.Logger
	dial     func(ctx context.Context, network, addr string) (net.Conn, error)

	// The cached result is only valid for the base URL it was taken for.
	cacheMu      sync.RWMutex
	cachedURL    string
	cachedResult []byte
	cachedStatus int
	cachedAt     time.Time
}

// New creates a health Handler.
func New(settings SettingsSource, logger *slog.Logger) *Handler {
	return &Handler{
		settings: settings,
		logger:   logger,
		dial:     (&net.Dialer{}).DialContext,
	}
}

// RegisterRoutes adds health check routes to the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.liveness)
	mux.HandleFunc("GET /ready", h.readiness)
}

func (h *Handler) liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(livenessBody) //nolint:errcheck
}

type readinessReport struct {
	Status  string `json:"status"`
	Backend string `json:"backend"`
	Detail  string `json:"detail"`
}

func (h *Handler) readiness(w http.ResponseWriter, r *http.Request) {
	baseURL := h.settings.Snapshot().BaseURL

	h.cacheMu.RLock()
	if h.cachedResult != nil && h.cachedURL == baseURL && time.Since(h.cachedAt) < readinessCacheTTL {
		body, status := h.cachedResult, h.cachedStatus
		h.cacheMu.RUnlock()
		writeReport(w, status, body)
		return
	}
	h.cacheMu.RUnlock()

	detail := h.probe(r.Context(), baseURL)
	report := readinessReport{Status: "ready", Backend: redactURL(baseURL), Detail: detail}
	status := http.StatusOK
	if detail != "ok" {
		report.Status = "not ready"
		status = http.StatusServiceUnavailable
	}

	body, _ := json.Marshal(report)
	body = append(body, '\n')

	h.cacheMu.Lock()
	h.cachedURL = baseURL
	h.cachedResult = body
	h.cachedStatus = status
	h.cachedAt = time.Now()
	h.cacheMu.Unlock()

	writeReport(w, status, body)
}

// probe opens and closes a TCP connection to the backend host.
func (h *Handler) probe(ctx context.Context, baseURL string) string {
	if baseURL == "" {
		return "not configured"
	}
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return "invalid URL"
	}

	host := u.Host
	if !hasPort(host) {
		switch u.Scheme {
		case "https":
			host += ":443"
		default:
			host += ":80"
		}
	}

	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	conn, err := h.dial(ctx, "tcp", host)
	if err != nil {
		h.logger.Warn("backend unreachable", "backend", redactURL(baseURL), "error", err)
		return "unreachable"
	}
	conn.Close()
	return "ok"
}

func writeReport(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body) //nolint:errcheck
}

// redactURL drops user info so credentials in a base URL never reach
// probe output.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	u.User = nil
	return u.String()
}

func hasPort(host string) bool {
	_, _, err := net.SplitHostPort(host)
	return err == nil
}
