package luis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestNormalizeBody(t *testing.T) {
	tests := []struct {
		name    string
		ctype   string
		raw     string
		want    string
		wantErr bool
	}{
		{name: "json kept exact", ctype: "application/json", raw: `{ "a" : 1 }`, want: `{ "a" : 1 }`},
		{name: "json with charset", ctype: "application/json; charset=utf-8", raw: `[1]`, want: `[1]`},
		{name: "vendor json", ctype: "application/vnd.api+json", raw: `{}`, want: `{}`},
		{name: "no content type json", raw: `{"q":"x"}`, want: `{"q":"x"}`},
		{name: "empty", ctype: "application/json", raw: ``, want: `{}`},
		{name: "whitespace", ctype: "application/json", raw: " \n", want: `{}`},
		{name: "invalid json", ctype: "application/json", raw: `{"a":`, wantErr: true},
		{name: "no content type not json", raw: `hello`, want: `{}`},
		{name: "text ignored", ctype: "text/plain", raw: `hello`, want: `{}`},
		{name: "text holding json ignored", ctype: "text/plain", raw: `{"secret":"x"}`, want: `{}`},
		{name: "octet stream holding json ignored", ctype: "application/octet-stream", raw: `[1]`, want: `{}`},
		{name: "form", ctype: "application/x-www-form-urlencoded", raw: `a=1&b=x+y`, want: `{"a":"1","b":"x y"}`},
		{name: "form repeated", ctype: "application/x-www-form-urlencoded", raw: `a=1&a=2`, want: `{"a":["1","2"]}`},
		{name: "form empty", ctype: "application/x-www-form-urlencoded", raw: ``, want: `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := normalizeBody(tt.ctype, []byte(tt.raw))
			if tt.wantErr {
				assert.ErrorIs(t, err, errInvalidJSON)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestConfigField(t *testing.T) {
	doc := gjson.Parse(`{"s":"v","n":12.5,"z":0,"t":true,"f":false,"null":null,"o":{"a":1}}`)

	assert.Equal(t, "v", configField(doc, "s"))
	assert.Equal(t, "12.5", configField(doc, "n"))
	assert.Equal(t, "", configField(doc, "z"))
	assert.Equal(t, "true", configField(doc, "t"))
	assert.Equal(t, "", configField(doc, "f"))
	assert.Equal(t, "", configField(doc, "null"))
	assert.Equal(t, `{"a":1}`, configField(doc, "o"))
	assert.Equal(t, "", configField(doc, "missing"))
	assert.Equal(t, "", configField(gjson.Result{}, "s"))
}

func TestConfigField_LastDuplicateWins(t *testing.T) {
	doc := gjson.Parse(`{"appId":"first","appKey":"k","appId":"second"}`)

	assert.Equal(t, "second", configField(doc, "appId"))
	assert.Equal(t, "k", configField(doc, "appKey"))
	assert.Equal(t, "", configField(gjson.Parse(`{"appId":"x","appId":null}`), "appId"))
}

func TestConfigField_KeysWithPathCharacters(t *testing.T) {
	doc := gjson.Parse(`{"a.b":"dotted","a":{"b":"nested"}}`)

	assert.Equal(t, "dotted", configField(doc, "a.b"))
	assert.Equal(t, "", configField(gjson.Parse(`["appId"]`), "appId"))
}
