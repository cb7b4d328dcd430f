// Package relay carries storage calls and sync broadcasts between processes
// over gRPC. The background process runs a Hub that owns the real storage;
// every other process connects with a Client.
package relay

import (
	"context"

	"google.golang.org/grpc"

	"github.com/goliatone/go-stash/pkg/syncer"
)

const (
	serviceName = "stash.relay.v1.Relay"

	methodGetItem    = "/" + serviceName + "/GetItem"
	methodSetItem    = "/" + serviceName + "/SetItem"
	methodRemoveItem = "/" + serviceName + "/RemoveItem"
	methodPublish    = "/" + serviceName + "/Publish"
	methodSubscribe  = "/" + serviceName + "/Subscribe"
)

// ItemRequest addresses one key in an area. Value is only set for SetItem.
type ItemRequest struct {
	Area  string `json:"area"`
	Key   string `json:"key"`
	Value any    `json:"value,omitempty"`
}

type ItemResponse struct {
	Value any `json:"value"`
}

type PublishRequest struct {
	Message syncer.Message `json:"message"`
}

// SubscribeRequest opens a broadcast stream. Name only labels the subscriber
// in logs.
type SubscribeRequest struct {
	Name string `json:"name,omitempty"`
}

type Empty struct{}

// RelayServer is the server side of the relay service.
type RelayServer interface {
	GetItem(context.Context, *ItemRequest) (*ItemResponse, error)
	SetItem(context.Context, *ItemRequest) (*Empty, error)
	RemoveItem(context.Context, *ItemRequest) (*Empty, error)
	Publish(context.Context, *PublishRequest) (*Empty, error)
	Subscribe(*SubscribeRequest, grpc.ServerStream) error
}

// ServiceDesc describes the relay service for grpc.ServiceRegistrar.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*RelayServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetItem", Handler: unaryHandler(methodGetItem, RelayServer.GetItem)},
		{MethodName: "SetItem", Handler: unaryHandler(methodSetItem, RelayServer.SetItem)},
		{MethodName: "RemoveItem", Handler: unaryHandler(methodRemoveItem, RelayServer.RemoveItem)},
		{MethodName: "Publish", Handler: unaryHandler(methodPublish, RelayServer.Publish)},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Subscribe", Handler: subscribeHandler, ServerStreams: true},
	},
	Metadata: "stash/relay/v1/relay.proto",
}

func unaryHandler[Req, Resp any](method string, call func(RelayServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(RelayServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(RelayServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func subscribeHandler(srv any, stream grpc.ServerStream) error {
	in := new(SubscribeRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(RelayServer).Subscribe(in, stream)
}
