// Package luis serves the proxy's HTTP surface: one handler per catalog
// route, the /config settings update, the liveness banner and the API docs.
package luis

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"github.com/dskow/luis-proxy/internal/apidocs"
	"github.com/dskow/luis-proxy/internal/apierror"
	"github.com/dskow/luis-proxy/internal/forward"
	"github.com/dskow/luis-proxy/internal/metrics"
	"github.com/dskow/luis-proxy/internal/middleware"
	"github.com/dskow/luis-proxy/internal/routing"
	"github.com/dskow/luis-proxy/internal/store"
)

// Banner is the body of GET /.
const Banner = "LUIS Proxy Server v1.0"

// SubscriptionKeyHeader carries the active app key on key routes.
const SubscriptionKeyHeader = "Ocp-Apim-Subscription-Key"

// Handler dispatches inbound requests to their backend.
type Handler struct {
	store     *store.Store
	forwarder *forward.Forwarder
	logger    *slog.Logger
}

// New creates a Handler.
func New(st *store.Store, fw *forward.Forwarder, logger *slog.Logger) *Handler {
	return &Handler{store: st, forwarder: fw, logger: logger}
}

// Register installs every route on mux. Unmatched requests get a JSON 404,
// or a 405 when the path exists under another method.
func (h *Handler) Register(mux *http.ServeMux) {
	for _, rt := range routing.Catalog() {
		handler := h.route(rt)
		for _, p := range rt.Patterns() {
			mux.Handle(p, handler)
		}
	}
	mux.HandleFunc("POST /config", h.updateConfig)
	mux.HandleFunc("GET /{$}", h.banner)
	mux.Handle("GET /api-docs.json", apidocs.Handler())
	mux.Handle("/", fallback(mux))
}

func (h *Handler) route(rt routing.Route) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		status := http.StatusOK
		defer func() {
			metrics.RequestsTotal.WithLabelValues(rt.Name, r.Method, strconv.Itoa(status)).Inc()
			metrics.RequestDuration.WithLabelValues(rt.Name, r.Method).Observe(time.Since(start).Seconds())
		}()

		var inbound []byte
		if rt.Body == routing.BodyInbound {
			var err error
			inbound, err = readBody(r)
			if err != nil {
				status = writeBodyError(w, r, err)
				return
			}
		}

		s := h.store.Snapshot()
		req := forward.Request{
			Op:     rt.Name,
			Method: rt.Method,
			URL:    routing.ExpandTarget(rt.Target, s, r.PathValue),
			Header: outboundHeader(rt, s),
		}
		switch rt.Body {
		case routing.BodyInbound:
			req.Body = inbound
		case routing.BodyAppKey:
			req.Body, _ = json.Marshal(s.AppKey)
		}

		resp, err := h.forwarder.Forward(r.Context(), req, rt.Mode)
		if err != nil {
			h.logger.Error("route failed",
				"op", rt.Name,
				"method", r.Method,
				"path", r.URL.Path,
				"request_id", middleware.GetRequestID(r.Context()),
				"error", err,
			)
			status = http.StatusInternalServerError
			apierror.WriteFailure(w, rt.ErrorMessage)
			return
		}

		switch rt.Reply {
		case routing.ReplyEmpty:
			w.WriteHeader(http.StatusOK)
		case routing.ReplyRaw:
			ct := resp.ContentType
			if ct == "" {
				ct = "text/plain; charset=utf-8"
			}
			w.Header().Set("Content-Type", ct)
			w.WriteHeader(http.StatusOK)
			w.Write(resp.Body) //nolint:errcheck
		default:
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(http.StatusOK)
			w.Write(resp.Body) //nolint:errcheck
		}
	})
}

func outboundHeader(rt routing.Route, s store.Settings) http.Header {
	hdr := http.Header{}
	hdr.Set("Content-Type", "application/json")
	hdr.Set("Accept", "application/json")
	if rt.SubscriptionKey {
		hdr.Set(SubscriptionKeyHeader, s.AppKey)
	}
	return hdr
}

// readBody reads and normalizes the inbound body.
func readBody(r *http.Request) ([]byte, error) {
	var raw []byte
	if r.Body != nil {
		var err error
		raw, err = io.ReadAll(r.Body)
		if err != nil {
			return nil, err
		}
	}
	return normalizeBody(r.Header.Get("Content-Type"), raw)
}

// writeBodyError rejects an unreadable body and returns the status sent.
func writeBodyError(w http.ResponseWriter, r *http.Request, err error) int {
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr):
		apierror.WriteJSON(w, r, http.StatusRequestEntityTooLarge, apierror.BodyTooLarge,
			"request body exceeds maximum allowed size")
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, errInvalidJSON):
		apierror.WriteJSON(w, r, http.StatusBadRequest, apierror.InvalidBody, err.Error())
		return http.StatusBadRequest
	default:
		apierror.WriteJSON(w, r, http.StatusBadRequest, apierror.InvalidBody, "failed to read request body")
		return http.StatusBadRequest
	}
}

func (h *Handler) updateConfig(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		h.logger.Warn("rejected config body, settings unchanged",
			"request_id", middleware.GetRequestID(r.Context()), "error", err)
		writeBodyError(w, r, err)
		return
	}
	doc := gjson.ParseBytes(body)

	s := h.store.Update(store.Patch{
		URL:    configField(doc, "url"),
		AppID:  configField(doc, "appId"),
		AppKey: configField(doc, "appKey"),
	})
	metrics.ConfigUpdatesTotal.Inc()
	h.logger.Info("backend settings updated",
		"base_url", s.BaseURL,
		"app_id", s.AppID,
		"app_key_set", s.AppKey != "",
		"request_id", middleware.GetRequestID(r.Context()),
	)

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Write([]byte(`{"status":"OK"}`)) //nolint:errcheck
}

func (h *Handler) banner(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, Banner) //nolint:errcheck
}

// fallback answers requests no pattern matched.
func fallback(mux *http.ServeMux) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var allowed []string
		for _, m := range []string{http.MethodGet, http.MethodPost} {
			if m == r.Method {
				continue
			}
			probe := r.Clone(r.Context())
			probe.Method = m
			if _, pattern := mux.Handler(probe); pattern != "" && pattern != "/" {
				allowed = append(allowed, m)
			}
		}
		if len(allowed) > 0 {
			for _, m := range allowed {
				w.Header().Add("Allow", m)
			}
			apierror.WriteJSON(w, r, http.StatusMethodNotAllowed, apierror.MethodNotAllowed,
				"method not allowed on this path")
			return
		}
		apierror.WriteJSON(w, r, http.StatusNotFound, apierror.RouteNotFound, "no matching route")
	})
}
