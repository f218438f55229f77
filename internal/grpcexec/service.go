package grpcexec

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// The service is described by hand so that no generated code is needed:
//
//	service Executor {
//	  rpc Execute(google.protobuf.Struct) returns (google.protobuf.Struct);
//	}
//
// The request carries "name" (string) and "input" (any JSON value); the
// response carries "output".
const (
	ServiceName = "executables.v1.Executor"
	FullMethod  = "/" + ServiceName + "/Execute"

	fieldName   = "name"
	fieldInput  = "input"
	fieldOutput = "output"

	// MetadataRequestID carries the caller's request ID.
	MetadataRequestID = "x-request-id"
)

// ExecutorServer is the server API for the Executor service.
type ExecutorServer interface {
	Execute(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// RegisterExecutorServer registers srv on r.
func RegisterExecutorServer(r grpc.ServiceRegistrar, srv ExecutorServer) {
	r.RegisterService(&ServiceDesc, srv)
}

// ServiceDesc is the grpc.ServiceDesc for the Executor service.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ExecutorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Execute", Handler: executeHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "executables/v1/executor.proto",
}

func executeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ExecutorServer).Execute(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ExecutorServer).Execute(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}
