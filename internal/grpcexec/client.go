package grpcexec

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	eventbus "github.com/hanpama/executables/internal/eventbus"
	events "github.com/hanpama/executables/internal/events"
	reqid "github.com/hanpama/executables/internal/reqid"
)

// Client calls endpoints served by remote Executor services, with connection
// pooling per address and a default deadline.
type Client struct {
	opts *Options

	mu     sync.RWMutex
	pools  map[string]*connPool // key: address
	closed atomic.Bool
}

func NewClient(opts ...Option) *Client {
	o := defaultOptions()
	for _, f := range opts {
		f(o)
	}
	if len(o.DialOptions) == 0 {
		o.DialOptions = []grpc.DialOption{
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithConnectParams(grpc.ConnectParams{Backoff: backoff.DefaultConfig}),
		}
	}
	return &Client{
		opts:  o,
		pools: make(map[string]*connPool),
	}
}

// Call runs the remote endpoint name with JSON input and returns its JSON
// output. Empty input is sent as null.
func (c *Client) Call(ctx context.Context, name string, input []byte) (output []byte, err error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if c.opts.Provider == nil {
		return nil, fmt.Errorf("grpcexec: provider not configured")
	}
	if _, ok := ctx.Deadline(); !ok && c.opts.RPCTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.RPCTimeout)
		defer cancel()
	}
	if rid, ok := reqid.FromContext(ctx); ok {
		ctx = metadata.AppendToOutgoingContext(ctx, MetadataRequestID, rid)
	}

	req, err := newRequest(name, input)
	if err != nil {
		return nil, err
	}

	addrs, err := c.opts.Provider.Endpoints(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrNoEndpoints, name)
	}
	target := addrs[rand.IntN(len(addrs))]

	cc, err := c.getConn(target)
	if err != nil {
		return nil, err
	}
	defer c.returnConn(target, cc)

	id := uuid.NewString()
	start := time.Now()
	eventbus.Publish(ctx, events.GRPCClientStart{ID: id, Endpoint: name, Target: target})
	resp := new(structpb.Struct)
	err = cc.Invoke(ctx, FullMethod, req, resp)
	eventbus.Publish(ctx, events.GRPCClientFinish{
		ID:       id,
		Endpoint: name,
		Target:   target,
		Code:     status.Code(err),
		Err:      err,
		Duration: time.Since(start),
	})
	if err != nil {
		return nil, err
	}
	return outputJSON(resp)
}

func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.pools {
		p.close()
	}
	c.pools = map[string]*connPool{}
	return nil
}

func newRequest(name string, input []byte) (*structpb.Struct, error) {
	if name == "" {
		return nil, fmt.Errorf("grpcexec: empty endpoint name")
	}
	in := structpb.NewNullValue()
	if len(input) > 0 {
		in = new(structpb.Value)
		if err := protojson.Unmarshal(input, in); err != nil {
			return nil, fmt.Errorf("grpcexec: encode input: %w", err)
		}
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldName:  structpb.NewStringValue(name),
		fieldInput: in,
	}}, nil
}

func outputJSON(resp *structpb.Struct) ([]byte, error) {
	out, ok := resp.GetFields()[fieldOutput]
	if !ok {
		return []byte("null"), nil
	}
	b, err := protojson.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("grpcexec: decode output: %w", err)
	}
	return b, nil
}

// ---------------- internals ----------------

type connPool struct {
	target string
	opts   *Options
	conns  chan *grpc.ClientConn
	closed atomic.Bool
}

func newConnPool(target string, opts *Options) *connPool {
	n := opts.MaxConnsPerEndpoint
	if n <= 0 {
		n = 2
	}
	return &connPool{
		target: target,
		opts:   opts,
		conns:  make(chan *grpc.ClientConn, n),
	}
}

func (p *connPool) get() (*grpc.ClientConn, error) {
	if p.closed.Load() {
		return nil, ErrClosed
	}
	select {
	case cc := <-p.conns:
		return cc, nil
	default:
		return grpc.NewClient(p.target, p.opts.DialOptions...)
	}
}

func (p *connPool) put(cc *grpc.ClientConn) {
	if cc == nil || p.closed.Load() {
		if cc != nil {
			_ = cc.Close()
		}
		return
	}
	select {
	case p.conns <- cc:
	default:
		_ = cc.Close()
	}
}

func (p *connPool) close() {
	if p.closed.Swap(true) {
		return
	}
	for {
		select {
		case cc := <-p.conns:
			_ = cc.Close()
		default:
			return
		}
	}
}

func (c *Client) getConn(target string) (*grpc.ClientConn, error) {
	c.mu.RLock()
	pool := c.pools[target]
	c.mu.RUnlock()
	if pool == nil {
		c.mu.Lock()
		pool = c.pools[target]
		if pool == nil {
			pool = newConnPool(target, c.opts)
			c.pools[target] = pool
		}
		c.mu.Unlock()
	}
	return pool.get()
}

func (c *Client) returnConn(target string, cc *grpc.ClientConn) {
	c.mu.RLock()
	pool := c.pools[target]
	c.mu.RUnlock()
	if pool != nil {
		pool.put(cc)
		return
	}
	_ = cc.Close()
}
