package apidocs

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/dskow/luis-proxy/internal/routing"
)

func TestJSON_Valid(t *testing.T) {
	body, err := JSON()
	require.NoError(t, err)
	require.True(t, gjson.ValidBytes(body))

	doc := gjson.ParseBytes(body)
	assert.Equal(t, "2.0", doc.Get("swagger").String())
	assert.Equal(t, "luis-proxy", doc.Get("info.title").String())
	assert.Equal(t, "Error importing workspace",
		doc.Get("paths."+gjson.Escape("/apps/{appName}")+".post.responses.500.description").String())
}

func TestJSON_DocumentsEveryRoute(t *testing.T) {
	body, err := JSON()
	require.NoError(t, err)

	for _, r := range routing.Catalog() {
		for _, p := range r.Paths {
			path := gjson.Escape(p)
			method := map[string]string{http.MethodGet: "get", http.MethodPost: "post"}[r.Method]
			assert.True(t, gjson.GetBytes(body, "paths."+path+"."+method).Exists(),
				"%s %s is not documented", r.Method, p)
		}
	}
	assert.True(t, gjson.GetBytes(body, "paths."+gjson.Escape("/config")+".post").Exists())
}

func TestToJSON_NonStringKeys(t *testing.T) {
	out, err := ToJSON([]byte("responses:\n  200:\n    ok: true\n  true: yes\n"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"responses":{"200":{"ok":true},"true":"yes"}}`, string(out))
}

func TestToJSON_Invalid(t *testing.T) {
	_, err := ToJSON([]byte("a: [unclosed"))
	assert.Error(t, err)
}

func TestHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api-docs.json", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.True(t, gjson.Valid(rec.Body.String()))
}
