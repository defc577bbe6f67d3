package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestOwnerMiddleware(t *testing.T) {
	var seen *string
	h := Owner(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = OwnerFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(OwnerHeader, "  owner-7 ")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if seen == nil || *seen != "owner-7" {
		t.Fatalf("owner not propagated: %v", seen)
	}

	seen = nil
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if seen != nil {
		t.Fatalf("anonymous request got owner %q", *seen)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(OwnerHeader, strings.Repeat("o", maxOwnerLength+1))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for oversized owner, got %d", rr.Code)
	}
}

func TestRequireDrainSecret(t *testing.T) {
	h := RequireDrainSecret("s3cret")(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/internal/drain", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("missing secret: got %d", rr.Code)
	}
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil || body.Error.Code != "unauthorized" {
		t.Fatalf("unexpected error body %q", rr.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/internal/drain", nil)
	req.Header.Set(DrainSecretHeader, "s3cret")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("valid secret: got %d", rr.Code)
	}

	open := RequireDrainSecret("")(okHandler())
	rr = httptest.NewRecorder()
	open.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/internal/drain", nil))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("empty secret should leave the endpoint open, got %d", rr.Code)
	}
}

func TestLoggerWritesAccessLine(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	h := RequestID(Logger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		zerolog.Ctx(r.Context()).Info().Msg("inside handler")
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	})))

	req := httptest.NewRequest(http.MethodGet, "/v1/healthz", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected handler line and access line, got %q", buf.String())
	}
	var access map[string]any
	if err := json.Unmarshal([]byte(lines[1]), &access); err != nil {
		t.Fatalf("decode access line: %v", err)
	}
	if access["request_id"] != "req-123" || access["status"] != float64(http.StatusTeapot) || access["bytes"] != float64(15) {
		t.Fatalf("unexpected access line %v", access)
	}
	if !strings.Contains(lines[0], `"request_id":"req-123"`) {
		t.Fatalf("handler logger missing request id: %s", lines[0])
	}
	if rr.Header().Get("X-Request-ID") != "req-123" {
		t.Fatal("request id not echoed")
	}
}

func TestRequestIDReplacesUnsafeIDs(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	cases := []struct {
		name string
		in   string
		keep bool
	}{
		{name: "plain", in: "req-123_a.b", keep: true},
		{name: "missing", in: ""},
		{name: "newline", in: "req\n{\"level\":\"error\"}"},
		{name: "space", in: "req 123"},
		{name: "too long", in: strings.Repeat("a", maxRequestIDLen+1)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.in != "" {
				req.Header.Set(RequestIDHeader, tc.in)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			if tc.keep != (seen == tc.in) {
				t.Fatalf("in %q: got %q, keep=%v", tc.in, seen, tc.keep)
			}
			if seen == "" || rr.Header().Get(RequestIDHeader) != seen {
				t.Fatalf("response header %q does not match context id %q", rr.Header().Get(RequestIDHeader), seen)
			}
		})
	}
}
