package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
	"google.golang.org/grpc/metadata"

	catalog "github.com/hanpama/executables/internal/catalog"
	container "github.com/hanpama/executables/internal/container"
	eventbus "github.com/hanpama/executables/internal/eventbus"
	events "github.com/hanpama/executables/internal/events"
	executor "github.com/hanpama/executables/internal/executor"
	reqid "github.com/hanpama/executables/internal/reqid"
)

type greet struct{}

func (greet) ExecuteAsync(_ context.Context, name string) (string, error) { return "hello " + name, nil }

type capture struct {
	md  *metadata.MD
	rid *string
}

func (c capture) ExecuteAsync(ctx context.Context) (string, error) {
	*c.md, _ = metadata.FromOutgoingContext(ctx)
	*c.rid, _ = reqid.FromContext(ctx)
	return "ok", nil
}

type explode struct{}

func (explode) ExecuteAsync(context.Context) error { panic("boom") }

type fail struct{}

func (fail) ExecuteAsync(context.Context) error { return errors.New("broken") }

type unregistered struct{}

func (unregistered) ExecuteAsync(context.Context) error { return nil }

type testEnv struct {
	md  metadata.MD
	rid string
}

func newTestHandler(t *testing.T, opts ...Option) (*Handler, *testEnv) {
	t.Helper()
	env := &testEnv{}
	c := container.New()
	t.Cleanup(func() { _ = c.Close() })
	container.RegisterInstance(c, greet{})
	container.RegisterInstance(c, capture{md: &env.md, rid: &env.rid})
	container.RegisterInstance(c, explode{})
	container.RegisterInstance(c, fail{})
	x := executor.NewExecutor(c)

	cat := catalog.New()
	cat.MustAdd("greet", catalog.Function[greet, string, string](x))
	cat.MustAdd("capture", catalog.Producer[capture, string](x))
	cat.MustAdd("explode", catalog.Action[explode](x))
	cat.MustAdd("fail", catalog.Action[fail](x))
	cat.MustAdd("unregistered", catalog.Action[unregistered](x))

	opts = append([]Option{WithLogger(log.New(io.Discard))}, opts...)
	return New(cat, opts...), env
}

func do(h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestExecute(t *testing.T) {
	h, _ := newTestHandler(t)
	w := do(h, "POST", "/greet", `"world"`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	var res struct {
		Output string `json:"output"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Output != "hello world" {
		t.Fatalf("unexpected output %q", res.Output)
	}
}

func TestStatusCodes(t *testing.T) {
	h, _ := newTestHandler(t)
	tests := []struct {
		method, path, body string
		want               int
	}{
		{"POST", "/missing", "", http.StatusNotFound},
		{"GET", "/missing", "", http.StatusNotFound},
		{"POST", "/greet", `{"x":1}`, http.StatusBadRequest},
		{"POST", "/greet", `"a" "b"`, http.StatusBadRequest},
		{"POST", "/fail", "", http.StatusInternalServerError},
		{"POST", "/explode", "", http.StatusInternalServerError},
		{"POST", "/unregistered", "", http.StatusInternalServerError},
		{"POST", "/", "", http.StatusMethodNotAllowed},
		{"DELETE", "/greet", "", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		w := do(h, tt.method, tt.path, tt.body, nil)
		if w.Code != tt.want {
			t.Fatalf("%s %s: expected %d got %d (%s)", tt.method, tt.path, tt.want, w.Code, w.Body.String())
		}
		var res errorResult
		if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil || res.Error.Message == "" {
			t.Fatalf("%s %s: missing error message: %s", tt.method, tt.path, w.Body.String())
		}
	}
}

func TestUnsupportedContentType(t *testing.T) {
	h, _ := newTestHandler(t)
	req := httptest.NewRequest("POST", "/greet", strings.NewReader("x"))
	req.Header.Set("Content-Type", "text/plain")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", w.Code)
	}
}

func TestListAndDescribe(t *testing.T) {
	h, _ := newTestHandler(t, WithPretty())
	w := do(h, "GET", "/", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	var list struct {
		Endpoints []struct {
			Name string `json:"name"`
			Kind string `json:"kind"`
		} `json:"endpoints"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	var names []string
	for _, e := range list.Endpoints {
		names = append(names, e.Name)
	}
	if strings.Join(names, ",") != "capture,explode,fail,greet,unregistered" {
		t.Fatalf("unexpected names %v", names)
	}
	if !strings.Contains(w.Body.String(), "\n  ") {
		t.Fatalf("expected indented output")
	}

	w = do(h, "GET", "/greet", "", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"function"`) {
		t.Fatalf("describe: %d %s", w.Code, w.Body.String())
	}
}

func TestForwardedHeaders(t *testing.T) {
	h, env := newTestHandler(t, WithMetadataHeaders("X-Test"))
	w := do(h, "POST", "/capture", "", map[string]string{"X-Test": "abc", "X-Other": "nope"})
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	if env.md == nil || env.md.Get("x-test")[0] != "abc" || len(env.md.Get("x-other")) > 0 {
		t.Fatalf("metadata not propagated correctly: %v", env.md)
	}
}

func TestForwardedHeadersDefaultEmpty(t *testing.T) {
	h, env := newTestHandler(t)
	w := do(h, "POST", "/capture", "", map[string]string{"X-Test": "abc"})
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	if env.md != nil && len(env.md.Get("x-test")) > 0 {
		t.Fatalf("header should not be forwarded by default: %v", env.md)
	}
}

func TestCORSAndPreflight(t *testing.T) {
	h, _ := newTestHandler(t, WithCORS("*"))

	w := do(h, "POST", "/greet", `"x"`, map[string]string{"Origin": "http://example.com"})
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("missing CORS header")
	}

	pre := httptest.NewRequest("OPTIONS", "/greet", nil)
	pre.Header.Set("Origin", "http://example.com")
	pre.Header.Set("Access-Control-Request-Headers", "X-Test")
	pw := httptest.NewRecorder()
	h.ServeHTTP(pw, pre)
	if pw.Code != http.StatusNoContent {
		t.Fatalf("preflight status %d", pw.Code)
	}
	if pw.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("preflight missing CORS header")
	}
	if pw.Header().Get("Access-Control-Allow-Headers") != "X-Test" {
		t.Fatalf("preflight missing allow headers")
	}
}

func TestCORSSpecificOrigin(t *testing.T) {
	h, _ := newTestHandler(t, WithCORS("http://a.example"))

	w := do(h, "POST", "/greet", `"x"`, map[string]string{"Origin": "http://a.example"})
	if w.Header().Get("Access-Control-Allow-Origin") != "http://a.example" || w.Header().Get("Vary") != "Origin" {
		t.Fatalf("unexpected CORS headers %v", w.Header())
	}
	w = do(h, "POST", "/greet", `"x"`, map[string]string{"Origin": "http://b.example"})
	if w.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("origin should not be allowed")
	}
}

func TestMaxBodyBytes(t *testing.T) {
	h, _ := newTestHandler(t, WithMaxBodyBytes(10))
	w := do(h, "POST", "/greet", `"1234567890"`, nil)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 got %d", w.Code)
	}
}

func TestRequestID(t *testing.T) {
	h, env := newTestHandler(t)
	w := do(h, "POST", "/capture", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	if env.rid == "" || w.Header().Get(HeaderRequestID) != env.rid {
		t.Fatalf("request id mismatch: header %q context %q", w.Header().Get(HeaderRequestID), env.rid)
	}

	do(h, "POST", "/capture", "", map[string]string{HeaderRequestID: "given"})
	if env.rid != "given" {
		t.Fatalf("expected given request id, got %q", env.rid)
	}
}

func TestEvents(t *testing.T) {
	bus := eventbus.New()
	eventbus.Use(bus)
	t.Cleanup(func() { eventbus.Use(nil) })
	var finishes []events.HTTPFinish
	var executions []events.ExecutionFinish
	eventbus.On(bus, func(_ context.Context, e events.HTTPFinish) { finishes = append(finishes, e) })
	eventbus.On(bus, func(_ context.Context, e events.ExecutionFinish) { executions = append(executions, e) })

	h, _ := newTestHandler(t)
	do(h, "POST", "/greet", `"x"`, nil)
	do(h, "POST", "/missing", "", nil)

	if len(finishes) != 2 || finishes[0].Status != 200 || finishes[1].Status != 404 || finishes[0].Endpoint != "greet" {
		t.Fatalf("unexpected http events %+v", finishes)
	}
	if len(executions) != 1 || !executions[0].Async || executions[0].Err != nil {
		t.Fatalf("unexpected execution events %+v", executions)
	}
}
