package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	catalog "github.com/hanpama/executables/internal/catalog"
	container "github.com/hanpama/executables/internal/container"
	eventbus "github.com/hanpama/executables/internal/eventbus"
	events "github.com/hanpama/executables/internal/events"
	reqid "github.com/hanpama/executables/internal/reqid"
)

// Handler is an http.Handler that serves catalog endpoints.
//
//	GET  /        lists endpoints
//	GET  /{name}  describes one endpoint
//	POST /{name}  executes it with the JSON request body as input
type Handler struct {
	cat *catalog.Catalog
	opt Options
}

type Options struct {
	// Timeout sets a default timeout if the incoming request context has none.
	// 0 means no default timeout.
	Timeout time.Duration

	// Pretty enables indented JSON responses (useful for dev).
	Pretty bool

	// MaxBodyBytes limits the size of the request body. 0 means unlimited.
	MaxBodyBytes int64

	// CORS configuration. If AllowedOrigins is empty, CORS is disabled.
	CORS CORSOptions

	// MetadataHeaders lists HTTP headers to forward into gRPC metadata, so
	// that remote executables receive them. Header names are case-insensitive.
	MetadataHeaders []string

	// Logger receives failures and recovered panics. Defaults to log.Default().
	Logger *log.Logger
}

type Option func(*Options)

func WithTimeout(d time.Duration) Option { return func(o *Options) { o.Timeout = d } }
func WithPretty() Option                 { return func(o *Options) { o.Pretty = true } }
func WithMaxBodyBytes(n int64) Option    { return func(o *Options) { o.MaxBodyBytes = n } }
func WithCORS(origins ...string) Option {
	return func(o *Options) { o.CORS.AllowedOrigins = origins }
}
func WithMetadataHeaders(headers ...string) Option {
	return func(o *Options) { o.MetadataHeaders = headers }
}
func WithLogger(l *log.Logger) Option { return func(o *Options) { o.Logger = l } }

// CORSOptions holds simple CORS settings.
type CORSOptions struct {
	AllowedOrigins []string
}

// HeaderRequestID carries the request ID in both directions.
const HeaderRequestID = "X-Request-ID"

// New creates a handler serving cat.
func New(cat *catalog.Catalog, opts ...Option) *Handler {
	op := Options{Timeout: 10 * time.Second}
	for _, f := range opts {
		f(&op)
	}
	if op.Logger == nil {
		op.Logger = log.Default()
	}
	return &Handler{cat: cat, opt: op}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := ctx.Deadline(); !ok && h.opt.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opt.Timeout)
		defer cancel()
	}

	ctx, rid := reqid.WithID(ctx, r.Header.Get(HeaderRequestID))
	w.Header().Set(HeaderRequestID, rid)
	name := strings.Trim(r.URL.Path, "/")
	status := http.StatusOK
	start := time.Now()
	eventbus.Publish(ctx, events.HTTPStart{Request: r, Endpoint: name})
	defer func() {
		eventbus.Publish(ctx, events.HTTPFinish{Request: r, Endpoint: name, Status: status, Duration: time.Since(start)})
	}()

	if r.Method == http.MethodOptions {
		if len(h.opt.CORS.AllowedOrigins) > 0 {
			setCORSHeaders(w, r, h.opt.CORS)
		}
		status = http.StatusNoContent
		w.WriteHeader(status)
		return
	}
	if len(h.opt.CORS.AllowedOrigins) > 0 {
		setCORSHeaders(w, r, h.opt.CORS)
	}

	switch {
	case r.Method == http.MethodGet && name == "":
		writeJSON(w, status, listResponse{Endpoints: h.cat.Endpoints()}, h.opt.Pretty)
	case r.Method == http.MethodGet:
		e, ok := h.cat.Lookup(name)
		if !ok {
			status = http.StatusNotFound
			writeJSON(w, status, errorResponse(fmt.Errorf("%w: %q", catalog.ErrNotFound, name)), h.opt.Pretty)
			return
		}
		writeJSON(w, status, e, h.opt.Pretty)
	case r.Method == http.MethodPost && name != "":
		status = h.execute(ctx, w, r, name)
	default:
		status = http.StatusMethodNotAllowed
		w.Header().Set("Allow", "GET, POST, OPTIONS")
		writeJSON(w, status, errorResponse(errors.New("method not allowed")), h.opt.Pretty)
	}
}

func (h *Handler) execute(ctx context.Context, w http.ResponseWriter, r *http.Request, name string) (status int) {
	body, err := readBody(r, h.opt.MaxBodyBytes)
	if err != nil {
		status = http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		writeJSON(w, status, errorResponse(err), h.opt.Pretty)
		return status
	}

	// Map configured headers into metadata
	md := metadata.MD{}
	if len(h.opt.MetadataHeaders) > 0 {
		for k, v := range r.Header {
			if slices.ContainsFunc(h.opt.MetadataHeaders, func(hdr string) bool { return strings.EqualFold(hdr, k) }) {
				md[strings.ToLower(k)] = v
			}
		}
	}
	if len(md) > 0 {
		ctx = metadata.NewOutgoingContext(ctx, md)
	}

	out, err := h.call(ctx, name, body)
	if err != nil {
		status = statusOf(err)
		if status >= http.StatusInternalServerError {
			rid, _ := reqid.FromContext(ctx)
			h.opt.Logger.Error("execution failed", "endpoint", name, "request", rid, "error", err)
		}
		writeJSON(w, status, errorResponse(err), h.opt.Pretty)
		return status
	}
	status = http.StatusOK
	writeJSON(w, status, result{Output: out}, h.opt.Pretty)
	return status
}

// call runs the endpoint and turns a panic into an error so one bad
// executable cannot take the connection down.
func (h *Handler) call(ctx context.Context, name string, body []byte) (out any, err error) {
	defer func() {
		if p := recover(); p != nil {
			h.opt.Logger.Error("panic", "endpoint", name, "value", p, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return h.cat.Call(ctx, name, body)
}

func statusOf(err error) int {
	var rerr *container.ResolutionError
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, catalog.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.As(err, &rerr):
		return http.StatusInternalServerError
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	if _, ok := status.FromError(err); ok {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// ------------------ Request parsing ------------------

var errBodyTooLarge = errors.New("body too large")

func readBody(r *http.Request, maxBody int64) ([]byte, error) {
	ct := r.Header.Get("Content-Type")
	if ct != "" && ct != "application/json" && !strings.HasPrefix(ct, "application/json;") {
		return nil, errors.New("unsupported Content-Type")
	}
	defer r.Body.Close()
	reader := io.Reader(r.Body)
	if maxBody > 0 {
		reader = io.LimitReader(r.Body, maxBody+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, errors.New("failed to read body")
	}
	if maxBody > 0 && int64(len(body)) > maxBody {
		return nil, errBodyTooLarge
	}
	return body, nil
}

// ------------------ Response formatting ------------------

type listResponse struct {
	Endpoints []catalog.Endpoint `json:"endpoints"`
}

type result struct {
	Output any `json:"output"`
}

type errorBody struct {
	Message string `json:"message"`
}

type errorResult struct {
	Error errorBody `json:"error"`
}

func errorResponse(err error) errorResult {
	if s, ok := status.FromError(err); ok {
		return errorResult{Error: errorBody{Message: s.Message()}}
	}
	return errorResult{Error: errorBody{Message: err.Error()}}
}

func writeJSON(w http.ResponseWriter, status int, v any, pretty bool) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	_ = enc.Encode(v)
}

func setCORSHeaders(w http.ResponseWriter, r *http.Request, opts CORSOptions) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}
	if !slices.Contains(opts.AllowedOrigins, "*") && !slices.Contains(opts.AllowedOrigins, origin) {
		return
	}
	if slices.Contains(opts.AllowedOrigins, "*") {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	} else {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Add("Vary", "Origin")
	}
	if r.Method == http.MethodOptions {
		if hdr := r.Header.Get("Access-Control-Request-Headers"); hdr != "" {
			w.Header().Set("Access-Control-Allow-Headers", hdr)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	}
}
