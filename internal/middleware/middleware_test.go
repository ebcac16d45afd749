package middleware

import (
	"bytes"
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestLogging_OutputsJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	handler := Logging(logger, LoggingConfig{})(okHandler())
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/train/abc", nil))

	out := buf.String()
	assert.Contains(t, out, `"method":"GET"`)
	assert.Contains(t, out, `"path":"/train/abc"`)
	assert.Contains(t, out, `"status":200`)
	assert.Contains(t, out, `"latency_ms"`)
	assert.Contains(t, out, `"level":"INFO"`)
}

func TestLogging_ServerErrorsAtWarn(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	handler := Logging(logger, LoggingConfig{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/parse", nil))

	assert.Contains(t, buf.String(), `"status":500`)
	assert.Contains(t, buf.String(), `"level":"WARN"`)
}

func TestLogging_BodyRedaction(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	var seen []byte
	handler := Logging(logger, LoggingConfig{BodyLogging: true})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"OK"}`))
	}))

	body := `{"url":"http://luis","appKey":"super-secret"}`
	req := httptest.NewRequest(http.MethodPost, "/config", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, body, string(seen), "handler must see the full body")
	out := buf.String()
	assert.NotContains(t, out, "super-secret")
	assert.Contains(t, out, "request_body")
	assert.Contains(t, out, "response_body")
}

func TestLogging_BodyTruncated(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	handler := Logging(logger, LoggingConfig{BodyLogging: true, MaxBodyLogBytes: 8})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		assert.Len(t, b, 100)
	}))

	req := httptest.NewRequest(http.MethodPost, "/examples", strings.NewReader(strings.Repeat("a", 100)))
	req.Header.Set("Content-Type", "text/plain")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Contains(t, buf.String(), "aaaaaaaa...[truncated]")
}

func TestLogging_BodyCaptureKeepsLimitError(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	var readErr error
	inner := Logging(logger, LoggingConfig{BodyLogging: true})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, readErr = io.ReadAll(r.Body)
	}))
	handler := BodyLimit(10)(inner)

	req := httptest.NewRequest(http.MethodPost, "/examples", strings.NewReader(strings.Repeat("a", 50)))
	req.ContentLength = -1
	handler.ServeHTTP(httptest.NewRecorder(), req)

	var maxErr *http.MaxBytesError
	assert.True(t, errors.As(readErr, &maxErr))
}

func TestRedactSensitive(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`{"appKey":"k1"}`, `{"appKey":"***"}`},
		{`{"key" : "k1","url":"u"}`, `{"key" : "***","url":"u"}`},
		{`{"Authorization":"Bearer x"}`, `{"Authorization":"***"}`},
		{`{"password":"p","token":"t"}`, `{"password":"***","token":"***"}`},
		{`appId=a&appKey=secret&url=u`, `appId=a&appKey=***&url=u`},
		{`appKey=secret`, `appKey=***`},
		{`{"q":"what is the key to success"}`, `{"q":"what is the key to success"}`},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, redactSensitive(tt.in))
		})
	}
}

func TestCORS_HeadersOnEveryResponse(t *testing.T) {
	handler := CORS(DefaultCORSConfig())(okHandler())

	for _, origin := range []string{"", "https://designer.example"} {
		req := httptest.NewRequest(http.MethodGet, "/train", nil)
		if origin != "" {
			req.Header.Set("Origin", origin)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "Origin, X-Requested-With, Content-Type, Accept", rec.Header().Get("Access-Control-Allow-Headers"))
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Methods"))
	}
}

func TestCORS_OptionsRequest(t *testing.T) {
	called := false
	handler := CORS(DefaultCORSConfig())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodOptions, "/examples", nil)
	req.Header.Set("Origin", "https://designer.example")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.False(t, called)
}

func TestCORS_CustomConfig(t *testing.T) {
	handler := CORS(CORSConfig{AllowOrigin: "https://designer.example", AllowHeaders: []string{"Content-Type"}})(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "https://designer.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "Content-Type", rec.Header().Get("Access-Control-Allow-Headers"))
}

func TestRecovery_PanicRecovery(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	handler := Recovery(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	}))

	rec := httptest.NewRecorder()
	require.NotPanics(t, func() {
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/panic", nil))
	})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "PROXY_INTERNAL_ERROR")
	assert.Contains(t, buf.String(), "panic recovered")
	assert.Contains(t, buf.String(), "test panic")
}

func TestRecovery_AbortHandlerPropagates(t *testing.T) {
	handler := Recovery(slog.New(slog.NewJSONHandler(io.Discard, nil)))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}

func TestRecovery_NoPanic(t *testing.T) {
	handler := Recovery(slog.Default())(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ok", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBodyLimit_UnderLimit(t *testing.T) {
	handler := BodyLimit(1024)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/examples", strings.NewReader(strings.Repeat("a", 500)))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBodyLimit_DeclaredLengthOverLimit(t *testing.T) {
	called := false
	handler := BodyLimit(100)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodPost, "/examples", strings.NewReader(strings.Repeat("a", 200)))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Contains(t, rec.Body.String(), "PROXY_BODY_TOO_LARGE")
	assert.False(t, called)
}

func TestBodyLimit_StreamedOverLimit(t *testing.T) {
	handler := BodyLimit(100)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := io.ReadAll(r.Body); err != nil {
			WriteBodyLimitError(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/examples", strings.NewReader(strings.Repeat("a", 200)))
	req.ContentLength = -1
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestBodyLimit_GETPassesThrough(t *testing.T) {
	rec := httptest.NewRecorder()
	BodyLimit(100)(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/train", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSecurityHeaders_AllPresent(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeaders()(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-referrer", rec.Header().Get("Referrer-Policy"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Empty(t, rec.Header().Get("Strict-Transport-Security"))
}

func TestSecurityHeaders_HSTS(t *testing.T) {
	tlsReq := httptest.NewRequest(http.MethodGet, "/", nil)
	tlsReq.TLS = &tls.ConnectionState{}

	fwdReq := httptest.NewRequest(http.MethodGet, "/", nil)
	fwdReq.Header.Set("X-Forwarded-Proto", "https")

	for _, req := range []*http.Request{tlsReq, fwdReq} {
		rec := httptest.NewRecorder()
		SecurityHeaders()(okHandler()).ServeHTTP(rec, req)
		assert.Contains(t, rec.Header().Get("Strict-Transport-Security"), "max-age=")
	}
}
