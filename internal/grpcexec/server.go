package grpcexec

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	catalog "github.com/hanpama/executables/internal/catalog"
	container "github.com/hanpama/executables/internal/container"
	eventbus "github.com/hanpama/executables/internal/eventbus"
	events "github.com/hanpama/executables/internal/events"
	reqid "github.com/hanpama/executables/internal/reqid"
)

// Server serves catalog endpoints over the Executor service.
type Server struct {
	cat *catalog.Catalog
}

var _ ExecutorServer = (*Server)(nil)

func NewServer(cat *catalog.Catalog) *Server { return &Server{cat: cat} }

func (s *Server) Execute(ctx context.Context, req *structpb.Struct) (resp *structpb.Struct, err error) {
	name := req.GetFields()[fieldName].GetStringValue()
	start := time.Now()
	defer func() {
		eventbus.Publish(ctx, events.GRPCServerFinish{Endpoint: name, Code: status.Code(err), Duration: time.Since(start)})
	}()

	if name == "" {
		return nil, status.Error(codes.InvalidArgument, "missing endpoint name")
	}
	var rid string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get(MetadataRequestID); len(v) > 0 {
			rid = v[0]
		}
	}
	ctx, _ = reqid.WithID(ctx, rid)

	var input []byte
	if v, ok := req.GetFields()[fieldInput]; ok {
		if _, isNull := v.GetKind().(*structpb.Value_NullValue); !isNull {
			if input, err = protojson.Marshal(v); err != nil {
				return nil, status.Errorf(codes.InvalidArgument, "input: %v", err)
			}
		}
	}

	out, err := s.cat.Call(ctx, name, input)
	if err != nil {
		return nil, toStatus(err)
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "output: %v", err)
	}
	ov := new(structpb.Value)
	if err := protojson.Unmarshal(raw, ov); err != nil {
		return nil, status.Errorf(codes.Internal, "output: %v", err)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{fieldOutput: ov}}, nil
}

// toStatus maps execution errors onto gRPC codes. Errors that already carry
// a status, such as those of nested remote calls, keep it.
func toStatus(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	var rerr *container.ResolutionError
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, catalog.ErrInvalidInput):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.As(err, &rerr):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	}
	return status.Error(codes.Unknown, err.Error())
}
