package routing

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dskow/luis-proxy/internal/forward"
	"github.com/dskow/luis-proxy/internal/store"
)

var settings = store.Settings{
	BaseURL:   "https://westus.api.cognitive.microsoft.com/luis/api/v2.0/apps",
	AppID:     "store-app",
	AppKey:    "key",
	VersionID: "1.0",
}

func values(kv map[string]string) func(string) string {
	return func(name string) string { return kv[name] }
}

func TestCatalog_PatternsAreUnique(t *testing.T) {
	seen := map[string]string{}
	for _, r := range Catalog() {
		require.NotEmpty(t, r.Paths, r.Name)
		require.NotEmpty(t, r.ErrorMessage, r.Name)
		for _, p := range r.Patterns() {
			prev, dup := seen[p]
			assert.False(t, dup, "pattern %q used by %s and %s", p, prev, r.Name)
			seen[p] = r.Name
		}
	}
	assert.Len(t, seen, 9)
}

func TestCatalog_RegistersOnServeMux(t *testing.T) {
	mux := http.NewServeMux()
	assert.NotPanics(t, func() {
		for _, r := range Catalog() {
			for _, p := range r.Patterns() {
				mux.HandleFunc(p, func(http.ResponseWriter, *http.Request) {})
			}
		}
	})
}

func TestCatalog_ReturnsCopy(t *testing.T) {
	c := Catalog()
	c[0].Paths[0] = "/mutated"
	c[0].Name = "mutated"

	r, ok := Lookup("import")
	require.True(t, ok)
	assert.Equal(t, []string{"/apps/{appName}"}, r.Paths)
}

func TestLookup(t *testing.T) {
	tests := []struct {
		name    string
		method  string
		mode    forward.Mode
		reply   ReplyMode
		body    BodyMode
		key     bool
		message string
	}{
		{"import", http.MethodPost, forward.ModeStatus, ReplyRaw, BodyInbound, true, "Error importing workspace"},
		{"examples", http.MethodPost, forward.ModeBlindParse, ReplyJSON, BodyInbound, true, "Error posting training data"},
		{"train", http.MethodPost, forward.ModeBlindParse, ReplyJSON, BodyNone, true, "Error posting train command"},
		{"training-status", http.MethodGet, forward.ModeBlindParse, ReplyJSON, BodyNone, true, "Error getting training status"},
		{"publish", http.MethodPost, forward.ModeBlindParse, ReplyJSON, BodyInbound, true, "Error publishing workspace"},
		{"assign-key", http.MethodPost, forward.ModeStatus, ReplyEmpty, BodyAppKey, true, "Error assigning key"},
		{"parse", http.MethodPost, forward.ModeBlindParse, ReplyJSON, BodyInbound, false, "Error posting query"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, ok := Lookup(tt.name)
			require.True(t, ok)
			assert.Equal(t, tt.method, r.Method)
			assert.Equal(t, tt.mode, r.Mode)
			assert.Equal(t, tt.reply, r.Reply)
			assert.Equal(t, tt.body, r.Body)
			assert.Equal(t, tt.key, r.SubscriptionKey)
			assert.Equal(t, tt.message, r.ErrorMessage)
		})
	}

	_, ok := Lookup("nope")
	assert.False(t, ok)
}

func TestExpandTarget(t *testing.T) {
	base := settings.BaseURL
	tests := []struct {
		route  string
		values map[string]string
		want   string
	}{
		{"import", map[string]string{"appName": "My Bot"}, base + "/import?appName=My+Bot"},
		{"import", map[string]string{"appName": "a&b=c"}, base + "/import?appName=a%26b%3Dc"},
		{"examples", nil, base + "/store-app/versions/1.0/examples"},
		{"train", nil, base + "/store-app/versions/1.0/train"},
		{"train", map[string]string{"appId": "path-app"}, base + "/path-app/versions/1.0/train"},
		{"training-status", map[string]string{"appId": "x/y"}, base + "/x%2Fy/versions/1.0/train"},
		{"publish", map[string]string{"appId": "abc"}, base + "/abc/publish"},
		{"assign-key", map[string]string{"appId": "abc"}, base + "/abc/versions/1.0/assignedkey"},
		{"parse", nil, base + "/parse"},
	}

	for _, tt := range tests {
		t.Run(tt.route, func(t *testing.T) {
			r, ok := Lookup(tt.route)
			require.True(t, ok)
			assert.Equal(t, tt.want, ExpandTarget(r.Target, settings, values(tt.values)))
		})
	}
}

func TestExpandTarget_FollowsSettings(t *testing.T) {
	r, _ := Lookup("train")
	s := settings
	s.BaseURL = "http://localhost:5000"
	s.AppID = "other"

	assert.Equal(t, "http://localhost:5000/other/versions/1.0/train", ExpandTarget(r.Target, s, nil))
}

func TestExpandTarget_UnknownPlaceholder(t *testing.T) {
	assert.Equal(t, "http://x/{nope}/1.0", ExpandTarget("{baseURL}/{nope}/{versionId}",
		store.Settings{BaseURL: "http://x", VersionID: "1.0"}, nil))
	assert.Equal(t, "http://x/{open", ExpandTarget("{baseURL}/{open",
		store.Settings{BaseURL: "http://x"}, nil))
}

func TestModeStrings(t *testing.T) {
	assert.Equal(t, "app-key", BodyAppKey.String())
	assert.Equal(t, "raw", ReplyRaw.String())
	assert.Equal(t, "unknown", BodyMode(9).String())
	assert.Equal(t, "unknown", ReplyMode(9).String())
}
