package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"google.golang.org/grpc"

	catalog "github.com/hanpama/executables/internal/catalog"
	config "github.com/hanpama/executables/internal/config"
	container "github.com/hanpama/executables/internal/container"
	demo "github.com/hanpama/executables/internal/demo"
	eventbus "github.com/hanpama/executables/internal/eventbus"
	executor "github.com/hanpama/executables/internal/executor"
	grpcexec "github.com/hanpama/executables/internal/grpcexec"
	interceptors "github.com/hanpama/executables/internal/interceptors"
	metrics "github.com/hanpama/executables/internal/metrics"
	otel "github.com/hanpama/executables/internal/otel"
	reqid "github.com/hanpama/executables/internal/reqid"
	server "github.com/hanpama/executables/internal/server"
)

const rootUsage = `executables: run typed executables behind HTTP and gRPC

USAGE:
  executables <command> [flags]

COMMANDS:
  serve            Serve the demo executables over HTTP and gRPC
  call             Call an endpoint on a running server over gRPC
  help             Show help for any command
`

const serveUsage = `serve FLAGS:
  -config <file>                      YAML configuration file
  -http.addr <addr>                   HTTP listen address (default: :8080, empty disables)
  -grpc.addr <addr>                   gRPC listen address (default: :9090, empty disables)
  -metrics.path <path>                Prometheus metrics path (default: /metrics, empty disables)
  -log.level <level>                  debug, info, warn or error (default: info)
  -server.pretty                      Pretty-print JSON responses
  -server.timeout <duration>          Per-request timeout, e.g. 10s (default: 10s)
  -server.max-body-bytes N            Request body limit (default: 1048576)
  -server.cors-origin <origin>        Allowed CORS origin. Repeatable; * allows any
  -server.metadata-header <name>      Forward HTTP header to gRPC metadata. Repeatable
  -transport.backend <name=host:port> Map a remote endpoint name to an address. Repeatable.
                                      Use wildcard to set default:
                                        -transport.backend *=host:port
                                      Enables the remote.greet endpoint.
  -transport.max-conns-per-endpoint N Max TCP conns per endpoint (default: 2)
  -transport.rpc-timeout <duration>   RPC timeout, e.g. 3s (default: 3s)
  -throttle.rps <float>               Per-executable rate limit; 0 disables
  -throttle.burst N                   Burst for the rate limit
  -otel.endpoint <addr>               OTLP collector endpoint
  -otel.service <name>                OpenTelemetry service name (default: executables)

Flags override the configuration file, which is overridden by EXECUTABLES_* variables.
`

const callUsage = `call [FLAGS] <name> [json-input]
  -addr <addr>             Server gRPC address (default: localhost:9090)
  -timeout <duration>      RPC timeout (default: 10s)
  -request-id <id>         Request ID sent as metadata (default: generated)
  -pretty                  Indent the JSON output
  (json-input "-" reads the input from stdin)
`

var (
	stdin  io.Reader = os.Stdin
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}

func run(args []string) error {
	global := flag.NewFlagSet("executables", flag.ContinueOnError)
	global.SetOutput(new(bytes.Buffer)) // silence automatic output
	if err := global.Parse(args); err != nil {
		fmt.Fprint(stderr, rootUsage)
		return err
	}
	remaining := global.Args()
	if len(remaining) == 0 {
		fmt.Fprint(stderr, rootUsage)
		return fmt.Errorf("missing command")
	}

	cmd := remaining[0]
	cmdArgs := remaining[1:]
	switch cmd {
	case "serve":
		return cmdServe(cmdArgs)
	case "call":
		return cmdCall(cmdArgs)
	case "help":
		return cmdHelp(cmdArgs)
	default:
		fmt.Fprint(stderr, rootUsage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func cmdHelp(args []string) error {
	if len(args) == 0 {
		fmt.Fprint(stdout, rootUsage)
		return nil
	}
	switch args[0] {
	case "serve":
		fmt.Fprint(stdout, serveUsage)
	case "call":
		fmt.Fprint(stdout, callUsage)
	default:
		return fmt.Errorf("unknown help topic %q", args[0])
	}
	return nil
}

type backendFlag struct {
	m map[string][]string
}

func (b *backendFlag) String() string { return "" }

func (b *backendFlag) Set(v string) error {
	name, ep, ok := strings.Cut(v, "=")
	name = strings.TrimSpace(name)
	ep = strings.TrimSpace(ep)
	if !ok || name == "" || ep == "" {
		return fmt.Errorf("invalid backend %q", v)
	}
	if b.m == nil {
		b.m = map[string][]string{}
	}
	b.m[name] = append(b.m[name], ep)
	return nil
}

type stringListFlag []string

func (s *stringListFlag) String() string { return "" }

func (s *stringListFlag) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// parseServe loads the configuration and applies the flags that were set.
func parseServe(args []string) (config.Config, error) {
	configPath := ""
	fl := config.Default()
	var corsOrigins, metadataHeaders stringListFlag
	var bf backendFlag

	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.StringVar(&configPath, "config", configPath, "YAML configuration file")
	fs.StringVar(&fl.HTTPAddr, "http.addr", fl.HTTPAddr, "HTTP listen address")
	fs.StringVar(&fl.GRPCAddr, "grpc.addr", fl.GRPCAddr, "gRPC listen address")
	fs.StringVar(&fl.MetricsPath, "metrics.path", fl.MetricsPath, "Prometheus metrics path")
	fs.StringVar(&fl.LogLevel, "log.level", fl.LogLevel, "Log level")
	fs.BoolVar(&fl.HTTP.Pretty, "server.pretty", fl.HTTP.Pretty, "Pretty-print JSON responses")
	fs.DurationVar(&fl.HTTP.Timeout, "server.timeout", fl.HTTP.Timeout, "Per-request timeout")
	fs.Int64Var(&fl.HTTP.MaxBodyBytes, "server.max-body-bytes", fl.HTTP.MaxBodyBytes, "Request body limit")
	fs.Var(&corsOrigins, "server.cors-origin", "Allowed CORS origin")
	fs.Var(&metadataHeaders, "server.metadata-header", "Forward HTTP header to gRPC metadata")
	fs.Var(&bf, "transport.backend", "Map remote endpoint to address")
	fs.IntVar(&fl.Remote.MaxConns, "transport.max-conns-per-endpoint", fl.Remote.MaxConns, "Max conns per endpoint")
	fs.DurationVar(&fl.Remote.RPCTimeout, "transport.rpc-timeout", fl.Remote.RPCTimeout, "RPC timeout")
	fs.Float64Var(&fl.Throttle.RPS, "throttle.rps", fl.Throttle.RPS, "Per-executable rate limit")
	fs.IntVar(&fl.Throttle.Burst, "throttle.burst", fl.Throttle.Burst, "Rate limit burst")
	fs.StringVar(&fl.OTLPEndpoint, "otel.endpoint", fl.OTLPEndpoint, "OTLP collector endpoint")
	fs.StringVar(&fl.ServiceName, "otel.service", fl.ServiceName, "OpenTelemetry service name")
	if err := fs.Parse(args); err != nil {
		return fl, err
	}
	if fs.NArg() > 0 {
		return fl, fmt.Errorf("unexpected arguments %v", fs.Args())
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "http.addr":
			cfg.HTTPAddr = fl.HTTPAddr
		case "grpc.addr":
			cfg.GRPCAddr = fl.GRPCAddr
		case "metrics.path":
			cfg.MetricsPath = fl.MetricsPath
		case "log.level":
			cfg.LogLevel = fl.LogLevel
		case "server.pretty":
			cfg.HTTP.Pretty = fl.HTTP.Pretty
		case "server.timeout":
			cfg.HTTP.Timeout = fl.HTTP.Timeout
		case "server.max-body-bytes":
			cfg.HTTP.MaxBodyBytes = fl.HTTP.MaxBodyBytes
		case "server.cors-origin":
			cfg.HTTP.CORSOrigins = corsOrigins
		case "server.metadata-header":
			cfg.HTTP.MetadataHeaders = metadataHeaders
		case "transport.backend":
			cfg.Remote.Endpoints = bf.m
		case "transport.max-conns-per-endpoint":
			cfg.Remote.MaxConns = fl.Remote.MaxConns
		case "transport.rpc-timeout":
			cfg.Remote.RPCTimeout = fl.Remote.RPCTimeout
		case "throttle.rps":
			cfg.Throttle.RPS = fl.Throttle.RPS
		case "throttle.burst":
			cfg.Throttle.Burst = fl.Throttle.Burst
		case "otel.endpoint":
			cfg.OTLPEndpoint = fl.OTLPEndpoint
		case "otel.service":
			cfg.ServiceName = fl.ServiceName
		}
	})
	return cfg, cfg.Validate()
}

func newLogger(level string) (*log.Logger, error) {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	return log.NewWithOptions(stderr, log.Options{
		Level:           lvl,
		ReportTimestamp: true,
		Prefix:          "executables",
	}), nil
}

// app is the assembled server: container, executor, endpoints and handlers.
type app struct {
	container *container.Container
	catalog   *catalog.Catalog
	http      http.Handler
	grpc      *grpc.Server
	remote    *grpcexec.Client
	detach    func()
}

func build(cfg config.Config, logger *log.Logger, bus *eventbus.Bus) (*app, error) {
	a := &app{container: container.New(), detach: func() {}}
	c := a.container
	demo.Register(c)

	logging := interceptors.NewLogging(logger, 0)
	container.RegisterInstance[executor.Interceptor](c, logging)
	container.RegisterInstance[executor.AsyncInterceptor](c, logging)
	if cfg.Throttle.RPS > 0 {
		th, err := interceptors.NewThrottle(cfg.Throttle.RPS, cfg.Throttle.Burst, time.Minute, 1)
		if err != nil {
			_ = c.Close()
			return nil, err
		}
		container.RegisterInstance[executor.Interceptor](c, th)
		container.RegisterInstance[executor.AsyncInterceptor](c, th)
	}
	if len(cfg.Remote.Endpoints) > 0 {
		a.remote = grpcexec.NewClient(
			grpcexec.WithProvider(grpcexec.NewStaticEndpoints(cfg.Remote.Endpoints)),
			grpcexec.WithMaxConnsPerEndpoint(cfg.Remote.MaxConns),
			grpcexec.WithRPCTimeout(cfg.Remote.RPCTimeout),
		)
		demo.RegisterRemote(c, a.remote)
	}

	x := executor.NewExecutor(c, executor.WithErrorHandler(func(ctx context.Context, err error, _ container.Scope) {
		rid, _ := reqid.FromContext(ctx)
		logger.Warn("execution failed", "request", rid, "error", err)
	}))

	a.catalog = catalog.New()
	if err := demo.AddEndpoints(a.catalog, x); err != nil {
		a.Close()
		return nil, err
	}
	if a.remote != nil {
		if err := demo.AddRemoteEndpoints(a.catalog, x); err != nil {
			a.Close()
			return nil, err
		}
	}

	sopts := []server.Option{
		server.WithTimeout(cfg.HTTP.Timeout),
		server.WithMaxBodyBytes(cfg.HTTP.MaxBodyBytes),
		server.WithLogger(logger),
	}
	if cfg.HTTP.Pretty {
		sopts = append(sopts, server.WithPretty())
	}
	if len(cfg.HTTP.CORSOrigins) > 0 {
		sopts = append(sopts, server.WithCORS(cfg.HTTP.CORSOrigins...))
	}
	if len(cfg.HTTP.MetadataHeaders) > 0 {
		sopts = append(sopts, server.WithMetadataHeaders(cfg.HTTP.MetadataHeaders...))
	}

	mux := http.NewServeMux()
	if cfg.MetricsPath != "" {
		m := metrics.New()
		if bus != nil {
			a.detach = m.Attach(bus)
		}
		mux.Handle(cfg.MetricsPath, m.Handler())
	}
	mux.Handle("/", server.New(a.catalog, sopts...))
	a.http = mux

	a.grpc = grpc.NewServer()
	grpcexec.RegisterExecutorServer(a.grpc, grpcexec.NewServer(a.catalog))
	return a, nil
}

func (a *app) Close() {
	a.detach()
	if a.remote != nil {
		_ = a.remote.Close()
	}
	_ = a.container.Close()
}

func cmdServe(args []string) error {
	cfg, err := parseServe(args)
	if err != nil {
		fmt.Fprint(stderr, serveUsage)
		return err
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}

	bus := eventbus.New()
	eventbus.Use(bus)
	shutdown, err := otel.Setup(cfg.OTLPEndpoint, cfg.ServiceName)
	if err != nil {
		return fmt.Errorf("otel setup: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	a, err := build(cfg, logger, bus)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	errc := make(chan error, 2)

	var httpSrv *http.Server
	if cfg.HTTPAddr != "" {
		httpSrv = &http.Server{Addr: cfg.HTTPAddr, Handler: a.http, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- fmt.Errorf("http: %w", err)
			}
		}()
	}
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		go func() {
			logger.Info("gRPC server listening", "addr", lis.Addr().String())
			if err := a.grpc.Serve(lis); err != nil {
				errc <- fmt.Errorf("grpc: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err = <-errc:
	}

	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if httpSrv != nil {
		_ = httpSrv.Shutdown(sctx)
	}
	a.grpc.GracefulStop()
	return err
}

func cmdCall(args []string) error {
	addr := "localhost:9090"
	timeout := 10 * time.Second
	requestID := ""
	pretty := false

	fs := flag.NewFlagSet("call", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.StringVar(&addr, "addr", addr, "Server gRPC address")
	fs.DurationVar(&timeout, "timeout", timeout, "RPC timeout")
	fs.StringVar(&requestID, "request-id", requestID, "Request ID")
	fs.BoolVar(&pretty, "pretty", pretty, "Indent the JSON output")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(stderr, callUsage)
		return err
	}
	if fs.NArg() == 0 || fs.NArg() > 2 {
		fmt.Fprint(stderr, callUsage)
		return fmt.Errorf("expected an endpoint name and optional input")
	}
	name := fs.Arg(0)
	var input []byte
	switch in := fs.Arg(1); in {
	case "":
	case "-":
		b, err := io.ReadAll(stdin)
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}
		input = b
	default:
		input = []byte(in)
	}

	client := grpcexec.NewClient(
		grpcexec.WithProvider(grpcexec.NewStaticEndpoints(map[string][]string{grpcexec.Wildcard: {addr}})),
		grpcexec.WithMaxConnsPerEndpoint(1),
		grpcexec.WithRPCTimeout(timeout),
	)
	defer client.Close()

	ctx, _ := reqid.WithID(context.Background(), requestID)
	out, err := client.Call(ctx, name, input)
	if err != nil {
		return fmt.Errorf("call %s: %w", name, err)
	}
	if pretty {
		var buf bytes.Buffer
		if err := json.Indent(&buf, out, "", "  "); err == nil {
			out = buf.Bytes()
		}
	}
	fmt.Fprintln(stdout, string(out))
	return nil
}
