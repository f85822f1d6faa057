package grpcapi

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "echo.v1.EchoAPI"

const (
	trainMethod   = "/" + ServiceName + "/Train"
	predictMethod = "/" + ServiceName + "/Predict"
	loadMethod    = "/" + ServiceName + "/Load"
	statusMethod  = "/" + ServiceName + "/Status"
)

// EchoAPIServer is the server side of echo.v1.EchoAPI. Every message is a
// google.protobuf.Struct.
type EchoAPIServer interface {
	Train(req *structpb.Struct, stream grpc.ServerStream) error
	Predict(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Load(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Status(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// ServiceDesc describes echo.v1.EchoAPI for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*EchoAPIServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Predict", Handler: unaryHandler(predictMethod, EchoAPIServer.Predict)},
		{MethodName: "Load", Handler: unaryHandler(loadMethod, EchoAPIServer.Load)},
		{MethodName: "Status", Handler: unaryHandler(statusMethod, EchoAPIServer.Status)},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Train", Handler: trainHandler, ServerStreams: true},
	},
	Metadata: "echo/v1/echo.proto",
}

type unaryMethod func(EchoAPIServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call unaryMethod) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(EchoAPIServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(EchoAPIServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func trainHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(EchoAPIServer).Train(in, stream)
}

// toStruct converts any JSON-encodable value into a Struct.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

// fromStruct decodes s into v through its JSON form.
func fromStruct(s *structpb.Struct, v any) error {
	data, err := json.Marshal(s.AsMap())
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
