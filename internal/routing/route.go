package routing

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/dskow/luis-proxy/internal/forward"
	"github.com/dskow/luis-proxy/internal/store"
)

// BodyMode selects what a route sends as the outbound body.
type BodyMode int

const (
	// BodyNone sends no body.
	BodyNone BodyMode = iota
	// BodyInbound forwards the normalized inbound JSON body.
	BodyInbound
	// BodyAppKey sends the active subscription key as a JSON string.
	BodyAppKey
)

func (b BodyMode) String() string {
	switch b {
	case BodyNone:
		return "none"
	case BodyInbound:
		return "inbound"
	case BodyAppKey:
		return "app-key"
	default:
		return "unknown"
	}
}

// ReplyMode selects how a successful backend reply is written back.
type ReplyMode int

const (
	// ReplyJSON writes the re-serialized JSON body.
	ReplyJSON ReplyMode = iota
	// ReplyRaw writes the backend body untouched with its Content-Type.
	ReplyRaw
	// ReplyEmpty writes a bare 200.
	ReplyEmpty
)

func (r ReplyMode) String() string {
	switch r {
	case ReplyJSON:
		return "json"
	case ReplyRaw:
		return "raw"
	case ReplyEmpty:
		return "empty"
	default:
		return "unknown"
	}
}

// Route describes one forwarded operation. Routes are immutable.
type Route struct {
	Name   string
	Method string
	// Paths are ServeMux path patterns; {appId} and {appName} are wildcards.
	Paths []string
	// Target is the outbound URL template. See ExpandTarget.
	Target          string
	Body            BodyMode
	SubscriptionKey bool
	Mode            forward.Mode
	Reply           ReplyMode
	// ErrorMessage is the message of the 500 reply on any failure.
	ErrorMessage string
	Description  string
}

// Patterns returns the ServeMux patterns ("METHOD /path") for r.
func (r Route) Patterns() []string {
	out := make([]string, len(r.Paths))
	for i, p := range r.Paths {
		out[i] = r.Method + " " + p
	}
	return out
}

var catalog = []Route{
	{
		Name:            "import",
		Method:          http.MethodPost,
		Paths:           []string{"/apps/{appName}"},
		Target:          "{baseURL}/import?appName={appName}",
		Body:            BodyInbound,
		SubscriptionKey: true,
		Mode:            forward.ModeStatus,
		Reply:           ReplyRaw,
		ErrorMessage:    "Error importing workspace",
		Description:     "Import a workspace as a new application",
	},
	{
		Name:            "examples",
		Method:          http.MethodPost,
		Paths:           []string{"/examples"},
		Target:          "{baseURL}/{appId}/versions/{versionId}/examples",
		Body:            BodyInbound,
		SubscriptionKey: true,
		Mode:            forward.ModeBlindParse,
		Reply:           ReplyJSON,
		ErrorMessage:    "Error posting training data",
		Description:     "Add a batch of labeled utterances",
	},
	{
		Name:            "train",
		Method:          http.MethodPost,
		Paths:           []string{"/train", "/train/{appId}"},
		Target:          "{baseURL}/{appId}/versions/{versionId}/train",
		Body:            BodyNone,
		SubscriptionKey: true,
		Mode:            forward.ModeBlindParse,
		Reply:           ReplyJSON,
		ErrorMessage:    "Error posting train command",
		Description:     "Start training the application version",
	},
	{
		Name:            "training-status",
		Method:          http.MethodGet,
		Paths:           []string{"/train", "/train/{appId}"},
		Target:          "{baseURL}/{appId}/versions/{versionId}/train",
		Body:            BodyNone,
		SubscriptionKey: true,
		Mode:            forward.ModeBlindParse,
		Reply:           ReplyJSON,
		ErrorMessage:    "Error getting training status",
		Description:     "Get the training status of the application version",
	},
	{
		Name:            "publish",
		Method:          http.MethodPost,
		Paths:           []string{"/publish/{appId}"},
		Target:          "{baseURL}/{appId}/publish",
		Body:            BodyInbound,
		SubscriptionKey: true,
		Mode:            forward.ModeBlindParse,
		Reply:           ReplyJSON,
		ErrorMessage:    "Error publishing workspace",
		Description:     "Publish the application",
	},
	{
		Name:            "assign-key",
		Method:          http.MethodPost,
		Paths:           []string{"/assignedkey/{appId}"},
		Target:          "{baseURL}/{appId}/versions/{versionId}/assignedkey",
		Body:            BodyAppKey,
		SubscriptionKey: true,
		Mode:            forward.ModeStatus,
		Reply:           ReplyEmpty,
		ErrorMessage:    "Error assigning key",
		Description:     "Assign the active subscription key to the application",
	},
	{
		Name:         "parse",
		Method:       http.MethodPost,
		Paths:        []string{"/parse"},
		Target:       "{baseURL}/parse",
		Body:         BodyInbound,
		Mode:         forward.ModeBlindParse,
		Reply:        ReplyJSON,
		ErrorMessage: "Error posting query",
		Description:  "Parse a query with the self-hosted NLU service",
	},
}

// Catalog returns a copy of the route table.
func Catalog() []Route {
	out := make([]Route, len(catalog))
	for i, r := range catalog {
		r.Paths = append([]string(nil), r.Paths...)
		out[i] = r
	}
	return out
}

// Lookup returns the route named name.
func Lookup(name string) (Route, bool) {
	for _, r := range catalog {
		if r.Name == name {
			r.Paths = append([]string(nil), r.Paths...)
			return r, true
		}
	}
	return Route{}, false
}

// ExpandTarget fills a target template. {baseURL} is inserted verbatim.
// {appId} comes from pathValue when the inbound path carries it, otherwise
// from s. Values before '?' are path-escaped and values after it are
// query-escaped. Unknown placeholders are left as they are.
func ExpandTarget(tmpl string, s store.Settings, pathValue func(string) string) string {
	if pathValue == nil {
		pathValue = func(string) string { return "" }
	}

	var b strings.Builder
	inQuery := false
	for i := 0; i < len(tmpl); {
		c := tmpl[i]
		if c == '?' {
			inQuery = true
		}
		if c != '{' {
			b.WriteByte(c)
			i++
			continue
		}
		end := strings.IndexByte(tmpl[i:], '}')
		if end < 0 {
			b.WriteString(tmpl[i:])
			break
		}
		name := tmpl[i+1 : i+end]
		i += end + 1

		var v string
		switch name {
		case "baseURL":
			b.WriteString(s.BaseURL)
			continue
		case "appId":
			v = pathValue("appId")
			if v == "" {
				v = s.AppID
			}
		case "versionId":
			v = s.VersionID
		case "appName":
			v = pathValue("appName")
		default:
			b.WriteString("{" + name + "}")
			continue
		}

		if inQuery {
			b.WriteString(url.QueryEscape(v))
		} else {
			b.WriteString(url.PathEscape(v))
		}
	}
	return b.String()
}
