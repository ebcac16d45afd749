package routing

import (
	"strings"
	"testing"

	"github.com/dskow/luis-proxy/internal/store"
)

func FuzzMatchesPrefix(f *testing.F) {
	f.Add("/train/abc", "/train")
	f.Add("/train.evil.com/steal", "/train")
	f.Add("/trainer", "/train")
	f.Add("", "")
	f.Add("/", "/")
	f.Add("/apps/", "/apps/")
	f.Add("/apps/x", "/apps/")

	f.Fuzz(func(t *testing.T, path, prefix string) {
		result := MatchesPrefix(path, prefix)

		if result && len(path) > len(prefix) && len(prefix) > 0 {
			if prefix[len(prefix)-1] != '/' && path[len(prefix)] != '/' {
				t.Errorf("MatchesPrefix(%q, %q) = true but boundary not enforced", path, prefix)
			}
		}
	})
}

func FuzzExpandTarget(f *testing.F) {
	f.Add("my app", "abc-123")
	f.Add("a/b?c=d#e", "../../admin")
	f.Add("", "")
	f.Add("{appId}", "%2F")

	s := store.Settings{BaseURL: "https://luis.example/apps", AppID: "default", VersionID: "1.0"}

	f.Fuzz(func(t *testing.T, appName, appID string) {
		values := func(name string) string {
			switch name {
			case "appName":
				return appName
			case "appId":
				return appID
			}
			return ""
		}

		for _, r := range Catalog() {
			got := ExpandTarget(r.Target, s, values)
			if !strings.HasPrefix(got, s.BaseURL+"/") {
				t.Fatalf("%s: %q does not start with base URL", r.Name, got)
			}
			rest := strings.TrimPrefix(got, s.BaseURL)
			path, _, _ := strings.Cut(rest, "?")
			// Path values must never introduce new segments.
			if want := strings.Count(r.Target, "/") - strings.Count("{baseURL}", "/"); strings.Count(path, "/") != want {
				t.Fatalf("%s: %q has %d separators, want %d", r.Name, got, strings.Count(path, "/"), want)
			}
			if strings.ContainsAny(rest, "# ") {
				t.Fatalf("%s: %q carries unescaped characters", r.Name, got)
			}
		}
	})
}
