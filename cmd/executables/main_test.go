package main

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/require"

	config "github.com/hanpama/executables/internal/config"
	eventbus "github.com/hanpama/executables/internal/eventbus"
)

func captureOutput(t *testing.T) (out, errOut *bytes.Buffer) {
	t.Helper()
	out, errOut = new(bytes.Buffer), new(bytes.Buffer)
	prevOut, prevErr := stdout, stderr
	stdout, stderr = out, errOut
	t.Cleanup(func() { stdout, stderr = prevOut, prevErr })
	return out, errOut
}

func TestRun_Errors(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{nil, "missing command"},
		{[]string{"bogus"}, `unknown command "bogus"`},
		{[]string{"help", "bogus"}, `unknown help topic "bogus"`},
		{[]string{"call"}, "expected an endpoint name"},
		{[]string{"call", "a", "b", "c"}, "expected an endpoint name"},
		{[]string{"call", "-nope"}, "flag provided but not defined"},
		{[]string{"serve", "-transport.backend", "noequals"}, "invalid backend"},
		{[]string{"serve", "extra"}, "unexpected arguments"},
	}
	for _, tt := range tests {
		captureOutput(t)
		err := run(tt.args)
		require.Error(t, err, tt.args)
		require.Contains(t, err.Error(), tt.want, tt.args)
	}
}

func TestHelp(t *testing.T) {
	out, _ := captureOutput(t)
	require.NoError(t, run([]string{"help"}))
	require.Equal(t, rootUsage, out.String())

	out.Reset()
	require.NoError(t, run([]string{"help", "serve"}))
	require.Equal(t, serveUsage, out.String())

	out.Reset()
	require.NoError(t, run([]string{"help", "call"}))
	require.Equal(t, callUsage, out.String())
}

func TestParseServe_Precedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
httpAddr: ":1000"
grpcAddr: ":2000"
logLevel: warn
http:
  pretty: true
remote:
  endpoints:
    greet: ["file:1"]
`), 0o644))
	t.Setenv("EXECUTABLES_GRPC_ADDR", ":3000")

	cfg, err := parseServe([]string{
		"-config", path,
		"-http.addr", ":4000",
		"-transport.backend", "greet=flag:1",
		"-transport.backend", "*=flag:2",
		"-server.metadata-header", "X-Tenant",
	})
	require.NoError(t, err)
	require.Equal(t, ":4000", cfg.HTTPAddr)
	require.Equal(t, ":3000", cfg.GRPCAddr)
	require.Equal(t, "warn", cfg.LogLevel)
	require.True(t, cfg.HTTP.Pretty)
	require.Equal(t, []string{"X-Tenant"}, cfg.HTTP.MetadataHeaders)
	require.Equal(t, map[string][]string{"greet": {"flag:1"}, "*": {"flag:2"}}, cfg.Remote.Endpoints)
	require.Equal(t, config.Default().HTTP.Timeout, cfg.HTTP.Timeout)
}

func TestParseServe_Invalid(t *testing.T) {
	_, err := parseServe([]string{"-throttle.rps", "5"})
	require.ErrorContains(t, err, "throttle.burst")

	_, err = parseServe([]string{"-config", filepath.Join(t.TempDir(), "missing.yaml")})
	require.Error(t, err)
}

func newTestApp(t *testing.T, cfg config.Config) (*app, *eventbus.Bus) {
	t.Helper()
	bus := eventbus.New()
	eventbus.Use(bus)
	t.Cleanup(func() { eventbus.Use(nil) })
	a, err := build(cfg, log.New(io.Discard), bus)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a, bus
}

func TestBuild_HTTPAndMetrics(t *testing.T) {
	cfg := config.Default()
	cfg.Throttle.RPS, cfg.Throttle.Burst = 100, 10
	a, _ := newTestApp(t, cfg)

	req := httptest.NewRequest("POST", "/greet", strings.NewReader(`"gopher"`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	a.http.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.JSONEq(t, `{"output":"hello gopher"}`, w.Body.String())

	w = httptest.NewRecorder()
	a.http.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "executables_executions_total")
	require.Contains(t, w.Body.String(), "executables_http_requests_total")

	require.NotContains(t, a.catalog.Names(), "remote.greet")
}

func TestBuild_RemoteEndpoint(t *testing.T) {
	cfg := config.Default()
	cfg.Remote.Endpoints = map[string][]string{"*": {"127.0.0.1:1"}}
	a, _ := newTestApp(t, cfg)
	require.Contains(t, a.catalog.Names(), "remote.greet")
}

func TestCall(t *testing.T) {
	a, _ := newTestApp(t, config.Default())
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = a.grpc.Serve(lis) }()
	t.Cleanup(a.grpc.Stop)

	out, _ := captureOutput(t)
	require.NoError(t, run([]string{"call", "-addr", lis.Addr().String(), "greet", `"cli"`}))
	require.Equal(t, `"hello cli"`, strings.TrimSpace(out.String()))

	out.Reset()
	prevIn := stdin
	stdin = strings.NewReader(`{"email":"cli@example.com","name":"Cli"}`)
	t.Cleanup(func() { stdin = prevIn })
	require.NoError(t, run([]string{"call", "-addr", lis.Addr().String(), "-pretty", "users.create", "-"}))
	require.Contains(t, out.String(), "\n  \"email\": \"cli@example.com\"")

	err = run([]string{"call", "-addr", lis.Addr().String(), "-timeout", time.Second.String(), "missing"})
	require.ErrorContains(t, err, "call missing")
}

func TestCall_Unreachable(t *testing.T) {
	captureOutput(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- run([]string{"call", "-addr", "127.0.0.1:1", "-timeout", "200ms", "greet"}) }()
	select {
	case err := <-done:
		require.Error(t, err)
	case <-ctx.Done():
		t.Fatal("call did not honour its timeout")
	}
}
