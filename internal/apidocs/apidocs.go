// Package apidocs serves the OpenAPI 2.0 description of the proxy. The
// document is kept as YAML in the binary and converted to JSON once.
package apidocs

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed swagger.yaml
var source []byte

var render = sync.OnceValues(func() ([]byte, error) {
	return ToJSON(source)
})

// JSON returns the embedded document as JSON.
func JSON() ([]byte, error) {
	return render()
}

// ToJSON converts a YAML document to JSON. Mapping keys that YAML decodes
// as non-strings (response codes, booleans) are written as their text.
func ToJSON(doc []byte) ([]byte, error) {
	var v any
	if err := yaml.Unmarshal(doc, &v); err != nil {
		return nil, fmt.Errorf("parsing api docs: %w", err)
	}
	b, err := json.Marshal(normalize(v))
	if err != nil {
		return nil, fmt.Errorf("encoding api docs: %w", err)
	}
	return b, nil
}

func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			t[k] = normalize(val)
		}
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalize(val)
		}
		return out
	case []any:
		for i, val := range t {
			t[i] = normalize(val)
		}
		return t
	default:
		return v
	}
}

// Handler serves the document with Content-Type application/json.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := JSON()
		if err != nil {
			http.Error(w, "api docs unavailable", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(body) //nolint:errcheck
	})
}
