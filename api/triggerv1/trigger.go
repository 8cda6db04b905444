// Package triggerv1 describes the surveyz.v1.TriggerService gRPC service.
//
// Requests and responses are google.protobuf.Struct values carrying the same
// JSON shapes as the HTTP API:
//
//	GetConfig   {}                                  -> {"surveyPlans": [...], "sdkConfig": {...}}
//	OnEvent     {"event": "signup", "value": "3"}   -> {"matched": true, "result": {...}}
//	PageOpened  {"page": "checkout"}                -> {"matched": false}
//	WatchPlans  {"lastEventId": 42}                 -> stream of {"eventId", "type", "planId", "payload"}
package triggerv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "surveyz.v1.TriggerService"

const (
	GetConfigFullMethodName  = "/" + ServiceName + "/GetConfig"
	OnEventFullMethodName    = "/" + ServiceName + "/OnEvent"
	PageOpenedFullMethodName = "/" + ServiceName + "/PageOpened"
	WatchPlansFullMethodName = "/" + ServiceName + "/WatchPlans"
)

// TriggerServiceServer is implemented by the surveyz gRPC server.
type TriggerServiceServer interface {
	GetConfig(context.Context, *structpb.Struct) (*structpb.Struct, error)
	OnEvent(context.Context, *structpb.Struct) (*structpb.Struct, error)
	PageOpened(context.Context, *structpb.Struct) (*structpb.Struct, error)
	WatchPlans(*structpb.Struct, grpc.ServerStreamingServer[structpb.Struct]) error
}

// RegisterTriggerServiceServer registers srv on s.
func RegisterTriggerServiceServer(s grpc.ServiceRegistrar, srv TriggerServiceServer) {
	s.RegisterService(&TriggerService_ServiceDesc, srv)
}

type unaryCall func(TriggerServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call unaryCall) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(TriggerServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(TriggerServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func watchPlansHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(TriggerServiceServer).WatchPlans(in, &grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
}

// TriggerService_ServiceDesc is the grpc.ServiceDesc for TriggerService.
var TriggerService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TriggerServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetConfig",
			Handler:    unaryHandler(GetConfigFullMethodName, TriggerServiceServer.GetConfig),
		},
		{
			MethodName: "OnEvent",
			Handler:    unaryHandler(OnEventFullMethodName, TriggerServiceServer.OnEvent),
		},
		{
			MethodName: "PageOpened",
			Handler:    unaryHandler(PageOpenedFullMethodName, TriggerServiceServer.PageOpened),
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "WatchPlans",
			Handler:       watchPlansHandler,
			ServerStreams: true,
		},
	},
	Metadata: "surveyz/v1/trigger.proto",
}

// TriggerServiceClient calls a remote TriggerService.
type TriggerServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewTriggerServiceClient(cc grpc.ClientConnInterface) *TriggerServiceClient {
	return &TriggerServiceClient{cc: cc}
}

func (c *TriggerServiceClient) GetConfig(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, GetConfigFullMethodName, in, opts)
}

func (c *TriggerServiceClient) OnEvent(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, OnEventFullMethodName, in, opts)
}

func (c *TriggerServiceClient) PageOpened(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, PageOpenedFullMethodName, in, opts)
}

func (c *TriggerServiceClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts []grpc.CallOption) (*structpb.Struct, error) {
	if in == nil {
		in = &structpb.Struct{}
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// WatchPlans opens a server stream of plan change events.
func (c *TriggerServiceClient) WatchPlans(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (grpc.ServerStreamingClient[structpb.Struct], error) {
	if in == nil {
		in = &structpb.Struct{}
	}
	stream, err := c.cc.NewStream(ctx, &TriggerService_ServiceDesc.Streams[0], WatchPlansFullMethodName, opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[structpb.Struct, structpb.Struct]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
