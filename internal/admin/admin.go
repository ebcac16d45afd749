// Package admin provides read-only admin API endpoints for runtime inspection
// of the proxy: loaded configuration, live backend settings, the route
// catalog and rate-limit buckets. All endpoints are protected by IP allowlist.
package admin

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/dskow/luis-proxy/internal/apierror"
	"github.com/dskow/luis-proxy/internal/config"
	"github.com/dskow/luis-proxy/internal/ratelimit"
	"github.com/dskow/luis-proxy/internal/routing"
	"github.com/dskow/luis-proxy/internal/store"
)

const redacted = "***"

// ConfigProvider abstracts config access for testability.
type ConfigProvider interface {
	Current() *config.Config
}

// Handler provides admin API endpoints.
type Handler struct {
	config      ConfigProvider
	store       *store.Store
	limiter     *ratelimit.Limiter
	allowedNets []*net.IPNet
	logger      *slog.Logger
}

// New creates a new admin Handler. The allowlist CIDRs must be pre-validated
// (config validation ensures this).
func New(cfg ConfigProvider, st *store.Store, limiter *ratelimit.Limiter, allowlist []string, logger *slog.Logger) *Handler {
	nets := make([]*net.IPNet, 0, len(allowlist))
	for _, cidr := range allowlist {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			continue
		}
		nets = append(nets, ipNet)
	}
	return &Handler{
		config:      cfg,
		store:       st,
		limiter:     limiter,
		allowedNets: nets,
		logger:      logger,
	}
}

// RegisterRoutes adds admin routes to the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/admin/routes", h.guard(h.routesHandler))
	mux.HandleFunc("/admin/config", h.guard(h.configHandler))
	mux.HandleFunc("/admin/limiters", h.guard(h.limitersHandler))
}

// guard wraps a handler with method and IP allowlist checks.
func (h *Handler) guard(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			apierror.WriteJSON(w, r, http.StatusMethodNotAllowed, apierror.MethodNotAllowed, "admin endpoints are read-only")
			return
		}

		ip := extractIP(r.RemoteAddr)
		if !h.isAllowed(ip) {
			h.logger.Warn("admin access denied", "client_ip", ip, "path", r.URL.Path)
			apierror.WriteJSON(w, r, http.StatusForbidden, apierror.Forbidden, "client not in admin allowlist")
			return
		}
		next(w, r)
	}
}

func (h *Handler) isAllowed(ipStr string) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, n := range h.allowedNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func extractIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// routeStatus is the response type for /admin/routes.
type routeStatus struct {
	Name            string   `json:"name"`
	Method          string   `json:"method"`
	Paths           []string `json:"paths"`
	Target          string   `json:"target"`
	Body            string   `json:"body"`
	SubscriptionKey bool     `json:"subscription_key"`
	SuccessMode     string   `json:"success_mode"`
	Reply           string   `json:"reply"`
	ErrorMessage    string   `json:"error_message"`
	Resolved        string   `json:"resolved_target"`
}

func (h *Handler) routesHandler(w http.ResponseWriter, r *http.Request) {
	s := h.store.Snapshot()
	catalog := routing.Catalog()
	statuses := make([]routeStatus, len(catalog))
	for i, rt := range catalog {
		statuses[i] = routeStatus{
			Name:            rt.Name,
			Method:          rt.Method,
			Paths:           rt.Paths,
			Target:          rt.Target,
			Body:            rt.Body.String(),
			SubscriptionKey: rt.SubscriptionKey,
			SuccessMode:     rt.Mode.String(),
			Reply:           rt.Reply.String(),
			ErrorMessage:    rt.ErrorMessage,
			Resolved:        routing.ExpandTarget(rt.Target, s, nil),
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"routes": statuses})
}

// configView is the response type for /admin/config.
type configView struct {
	File     *config.Config `json:"file"`
	Settings struct {
		Current  store.Settings `json:"current"`
		Defaults store.Settings `json:"defaults"`
	} `json:"settings"`
}

// redactPaths are the JSON paths of configView that hold a subscription key.
var redactPaths = []string{
	"file.luis.app_key",
	"settings.current.appKey",
	"settings.defaults.appKey",
}

func (h *Handler) configHandler(w http.ResponseWriter, r *http.Request) {
	var view configView
	view.File = h.config.Current()
	view.Settings.Current = h.store.Snapshot()
	view.Settings.Defaults = h.store.Defaults()

	body, err := json.Marshal(view)
	if err == nil {
		body, err = redactKeys(body)
	}
	if err != nil {
		h.logger.Error("admin config render failed", "error", err)
		apierror.WriteJSON(w, r, http.StatusInternalServerError, apierror.InternalError, "failed to render config")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(append(body, '\n')) //nolint:errcheck
}

// redactKeys masks every non-empty key in body.
func redactKeys(body []byte) ([]byte, error) {
	var err error
	for _, path := range redactPaths {
		if gjson.GetBytes(body, path).String() == "" {
			continue
		}
		if body, err = sjson.SetBytes(body, path, redacted); err != nil {
			return nil, err
		}
	}
	return body, nil
}

func (h *Handler) limitersHandler(w http.ResponseWriter, r *http.Request) {
	entries := h.limiter.Snapshot()

	pageSize := 100
	page := 0
	if v, err := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get("page_size"))); err == nil && v > 0 && v <= 1000 {
		pageSize = v
	}
	if v, err := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get("page"))); err == nil && v >= 0 {
		page = v
	}

	total := len(entries)
	start := page * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries":   entries[start:end],
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}
