package luis

import (
	"bytes"
	"encoding/json"
	"errors"
	"mime"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
)

var emptyObject = []byte("{}")

// errInvalidJSON reports a body declared as JSON that does not parse.
var errInvalidJSON = errors.New("request body is not valid JSON")

// normalizeBody turns an inbound body into the JSON document to forward.
// JSON bodies, and valid JSON sent without a Content-Type, pass through
// byte-for-byte. Form bodies become a JSON object. Empty bodies, and
// bodies of any other type, become {}.
func normalizeBody(contentType string, raw []byte) ([]byte, error) {
	media, _, _ := mime.ParseMediaType(contentType)

	switch {
	case media == "application/x-www-form-urlencoded":
		return formToJSON(raw)
	case len(bytes.TrimSpace(raw)) == 0:
		return emptyObject, nil
	case isJSONMedia(media):
		if !gjson.ValidBytes(raw) {
			return nil, errInvalidJSON
		}
		return raw, nil
	case media == "" && gjson.ValidBytes(raw):
		return raw, nil
	default:
		return emptyObject, nil
	}
}

func isJSONMedia(media string) bool {
	return media == "application/json" || strings.HasSuffix(media, "+json")
}

// formToJSON maps each key to its value, or to an array of values when the
// key repeats. Pairs with malformed escapes are dropped.
func formToJSON(raw []byte) ([]byte, error) {
	vals, _ := url.ParseQuery(string(raw))
	obj := make(map[string]any, len(vals))
	for k, v := range vals {
		if len(v) == 1 {
			obj[k] = v[0]
		} else {
			obj[k] = v
		}
	}
	return json.Marshal(obj)
}

// configField reads one /config field as a string. Strings are used as-is,
// numbers and true keep their JSON text, and null, false, 0, or an absent
// field read as empty. When the key repeats, the last occurrence wins.
func configField(doc gjson.Result, name string) string {
	var res gjson.Result
	if doc.IsObject() {
		doc.ForEach(func(key, value gjson.Result) bool {
			if key.Str == name {
				res = value
			}
			return true
		})
	}
	switch res.Type {
	case gjson.String:
		return res.Str
	case gjson.Number:
		if res.Num == 0 {
			return ""
		}
		return res.Raw
	case gjson.True:
		return "true"
	case gjson.JSON:
		return res.Raw
	default:
		return ""
	}
}
