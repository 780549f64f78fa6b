package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFrom(r.Context())
	}))

	rec := serve(h, httptest.NewRequest("GET", "/", nil))
	id := rec.Header().Get(requestIDHeader)
	assert.Len(t, id, 20)
	assert.Equal(t, id, seen)

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set(requestIDHeader, "client-7")
	rec = serve(h, req)
	assert.Equal(t, "client-7", rec.Header().Get(requestIDHeader))
	assert.Equal(t, "client-7", seen)
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	h := RequestID(Logger(zerolog.New(&buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})))
	req := httptest.NewRequest("GET", "/brew", nil)
	req.Header.Set(requestIDHeader, "r1")
	serve(h, req)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "r1", line["request_id"])
	assert.Equal(t, "/brew", line["path"])
	assert.EqualValues(t, http.StatusTeapot, line["status"])
}

func TestCORSWithOrigins(t *testing.T) {
	tests := []struct {
		name       string
		origins    []string
		method     string
		origin     string
		wantCode   int
		wantAllow  string
		wantVary   bool
		wantCalled bool
	}{
		{"open_get", nil, "GET", "", 200, "*", false, true},
		{"open_preflight", nil, "OPTIONS", "https://a.test", 204, "*", false, false},
		{"listed_get", []string{"https://a.test"}, "GET", "https://a.test", 200, "https://a.test", true, true},
		{"listed_preflight", []string{"https://a.test"}, "OPTIONS", "https://a.test", 204, "https://a.test", true, false},
		{"unlisted_get_served_without_headers", []string{"https://a.test"}, "GET", "https://b.test", 200, "", false, true},
		{"unlisted_preflight_refused", []string{"https://a.test"}, "OPTIONS", "https://b.test", 403, "", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })
			req := httptest.NewRequest(tt.method, "/", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			rec := serve(CORSWithOrigins(tt.origins)(inner), req)

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantAllow, rec.Header().Get("Access-Control-Allow-Origin"))
			assert.Equal(t, tt.wantVary, rec.Header().Get("Vary") == "Origin")
			assert.Equal(t, tt.wantCalled, called)
		})
	}
}

func TestBearerAuth(t *testing.T) {
	tests := []struct {
		name   string
		token  string
		header string
		query  string
		want   int
	}{
		{"disabled", "", "", "", 200},
		{"header_ok", "s3cret", "Bearer s3cret", "", 200},
		{"header_wrong", "s3cret", "Bearer nope", "", 401},
		{"missing", "s3cret", "", "", 401},
		{"query_ok", "s3cret", "", "s3cret", 200},
		{"query_wrong", "s3cret", "", "nope", 401},
		{"basic_scheme", "s3cret", "Basic czNjcmV0", "", 401},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := "/"
			if tt.query != "" {
				target += "?token=" + tt.query
			}
			req := httptest.NewRequest("GET", target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := serve(BearerAuth(tt.token)(okHandler), req)
			assert.Equal(t, tt.want, rec.Code)
			if tt.want == 401 {
				var body ErrorResponse
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
				assert.Equal(t, "unauthorized", body.Error)
			}
		})
	}
}

func TestMaxBodySize(t *testing.T) {
	drain := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := io.ReadAll(r.Body); err != nil {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
		}
	})
	for _, tc := range []struct {
		limit int64
		body  int
		want  int
	}{
		{10, 5, 200},
		{10, 20, 413},
		{0, 20, 200},
	} {
		req := httptest.NewRequest("POST", "/", strings.NewReader(strings.Repeat("x", tc.body)))
		rec := serve(MaxBodySize(tc.limit)(drain), req)
		assert.Equal(t, tc.want, rec.Code, "limit %d body %d", tc.limit, tc.body)
	}
}

func TestRecoverer(t *testing.T) {
	assert.Equal(t, 200, serve(Recoverer(okHandler), httptest.NewRequest("GET", "/", nil)).Code)

	boom := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { panic("boom") })
	rec := serve(Recoverer(boom), httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "internal server error", body.Error)
}
