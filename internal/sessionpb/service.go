// Package sessionpb defines the coedit.v1.SessionService gRPC contract.
//
// Messages are google.protobuf.Struct values so the service needs no
// generated code; the helpers in this package convert between them and the
// model types.
package sessionpb

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "coedit.v1.SessionService"

// Full method names.
const (
	MethodCreateSession     = "/" + ServiceName + "/CreateSession"
	MethodGetSession        = "/" + ServiceName + "/GetSession"
	MethodListSessions      = "/" + ServiceName + "/ListSessions"
	MethodUpdateCode        = "/" + ServiceName + "/UpdateCode"
	MethodSetLocked         = "/" + ServiceName + "/SetLocked"
	MethodListParticipants  = "/" + ServiceName + "/ListParticipants"
	MethodRemoveParticipant = "/" + ServiceName + "/RemoveParticipant"
	MethodHealth            = "/" + ServiceName + "/Health"
)

// SessionServiceServer is the server API for SessionService.
type SessionServiceServer interface {
	CreateSession(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetSession(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListSessions(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UpdateCode(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetLocked(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListParticipants(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RemoveParticipant(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Health(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryMethod func(SessionServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

// handler adapts a unary method to grpc.MethodHandler, running it through
// the server's interceptor chain.
func handler(fullMethod string, call unaryMethod) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(SessionServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(srv.(SessionServiceServer), ctx, req.(*structpb.Struct))
		})
	}
}

// ServiceDesc is the grpc.ServiceDesc for SessionService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SessionServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateSession", Handler: handler(MethodCreateSession, SessionServiceServer.CreateSession)},
		{MethodName: "GetSession", Handler: handler(MethodGetSession, SessionServiceServer.GetSession)},
		{MethodName: "ListSessions", Handler: handler(MethodListSessions, SessionServiceServer.ListSessions)},
		{MethodName: "UpdateCode", Handler: handler(MethodUpdateCode, SessionServiceServer.UpdateCode)},
		{MethodName: "SetLocked", Handler: handler(MethodSetLocked, SessionServiceServer.SetLocked)},
		{MethodName: "ListParticipants", Handler: handler(MethodListParticipants, SessionServiceServer.ListParticipants)},
		{MethodName: "RemoveParticipant", Handler: handler(MethodRemoveParticipant, SessionServiceServer.RemoveParticipant)},
		{MethodName: "Health", Handler: handler(MethodHealth, SessionServiceServer.Health)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "coedit/v1/session.proto",
}

// RegisterSessionServiceServer registers srv with s.
func RegisterSessionServiceServer(s grpc.ServiceRegistrar, srv SessionServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// SessionServiceClient is the client API for SessionService.
type SessionServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewSessionServiceClient returns a client bound to cc.
func NewSessionServiceClient(cc grpc.ClientConnInterface) *SessionServiceClient {
	return &SessionServiceClient{cc: cc}
}

func (c *SessionServiceClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	if in == nil {
		in = &structpb.Struct{}
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *SessionServiceClient) CreateSession(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodCreateSession, in, opts...)
}

func (c *SessionServiceClient) GetSession(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodGetSession, in, opts...)
}

func (c *SessionServiceClient) ListSessions(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodListSessions, in, opts...)
}

func (c *SessionServiceClient) UpdateCode(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodUpdateCode, in, opts...)
}

func (c *SessionServiceClient) SetLocked(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodSetLocked, in, opts...)
}

func (c *SessionServiceClient) ListParticipants(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodListParticipants, in, opts...)
}

func (c *SessionServiceClient) RemoveParticipant(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodRemoveParticipant, in, opts...)
}

func (c *SessionServiceClient) Health(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodHealth, in, opts...)
}
