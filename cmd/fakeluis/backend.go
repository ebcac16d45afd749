package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

const keyHeader = "Ocp-Apim-Subscription-Key"

type backend struct {
	key    string
	logger *slog.Logger

	mu      sync.Mutex
	trained map[string]time.Time
}

func newMux(key string, logger *slog.Logger) http.Handler {
	b := &backend{key: key, logger: logger, trained: make(map[string]time.Time)}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /import", b.authoring(b.importApp))
	mux.HandleFunc("POST /{appId}/versions/{versionId}/examples", b.authoring(b.examples))
	mux.HandleFunc("POST /{appId}/versions/{versionId}/train", b.authoring(b.train))
	mux.HandleFunc("GET /{appId}/versions/{versionId}/train", b.authoring(b.trainingStatus))
	mux.HandleFunc("POST /{appId}/publish", b.authoring(b.publish))
	mux.HandleFunc("POST /{appId}/versions/{versionId}/assignedkey", b.authoring(b.assignKey))
	mux.HandleFunc("POST /parse", b.parse)
	mux.HandleFunc("GET /__status/{code}", statusHandler)
	return mux
}

// authoring rejects calls whose subscription key does not match.
func (b *backend) authoring(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b.logger.Info("request", "method", r.Method, "path", r.URL.Path)
		if b.key != "" && r.Header.Get(keyHeader) != b.key {
			writeJSON(w, http.StatusUnauthorized, map[string]any{
				"error": map[string]string{"code": "401", "message": "Access denied due to invalid subscription key."},
			})
			return
		}
		next(w, r)
	}
}

func (b *backend) importApp(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("appName") == "" {
		writeJSON(w, http.StatusBadRequest, luisError("BadArgument", "appName is required"))
		return
	}
	writeJSON(w, http.StatusCreated, uuid.NewString())
}

func (b *backend) examples(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	doc := gjson.ParseBytes(body)
	if !doc.IsArray() {
		writeJSON(w, http.StatusBadRequest, luisError("BadArgument", "body must be an array of examples"))
		return
	}

	results := make([]map[string]any, 0)
	doc.ForEach(func(i, ex gjson.Result) bool {
		results = append(results, map[string]any{
			"value":    map[string]any{"ExampleId": 1000 + i.Int(), "UtteranceText": ex.Get("text").String()},
			"hasError": !ex.Get("text").Exists(),
		})
		return true
	})
	writeJSON(w, http.StatusCreated, results)
}

func (b *backend) train(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.trained[r.PathValue("appId")] = time.Now()
	b.mu.Unlock()
	writeJSON(w, http.StatusAccepted, map[string]any{"statusId": 9, "status": "Queued"})
}

func (b *backend) trainingStatus(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	_, trained := b.trained[r.PathValue("appId")]
	b.mu.Unlock()

	status, id := "UpToDate", 2
	if trained {
		status, id = "Success", 0
	}
	writeJSON(w, http.StatusOK, []map[string]any{
		{"modelId": uuid.NewString(), "details": map[string]any{"statusId": id, "status": status, "exampleCount": 0}},
	})
}

func (b *backend) publish(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	writeJSON(w, http.StatusCreated, map[string]any{
		"versionId":         gjson.GetBytes(body, "versionId").String(),
		"isStaging":         gjson.GetBytes(body, "isStaging").Bool(),
		"endpointUrl":       "http://" + r.Host + "/parse",
		"endpointRegion":    "local",
		"publishedDateTime": time.Now().UTC().Format(time.RFC3339),
	})
}

func (b *backend) assignKey(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	if gjson.ParseBytes(body).Type != gjson.String {
		writeJSON(w, http.StatusBadRequest, luisError("BadArgument", "body must be a JSON string"))
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (b *backend) parse(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	query := gjson.GetBytes(body, "q").String()
	if query == "" {
		query = gjson.GetBytes(body, "query").String()
	}

	intent := "None"
	if strings.TrimSpace(query) != "" {
		intent = "Echo"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"query":            query,
		"topScoringIntent": map[string]any{"intent": intent, "score": 0.99},
		"entities":         []any{},
	})
}

// statusHandler returns the status named in the path.
// Example: GET /__status/503 → 503 Service Unavailable
func statusHandler(w http.ResponseWriter, r *http.Request) {
	code, err := strconv.Atoi(r.PathValue("code"))
	if err != nil || code < 100 || code > 599 {
		code = http.StatusInternalServerError
	}
	writeJSON(w, code, map[string]any{
		"requested_code": code,
		"message":        http.StatusText(code),
	})
}

func luisError(code, message string) map[string]any {
	return map[string]any{"error": map[string]string{"code": code, "message": message}}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}
