package api

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "relay.v1.Relay"

// RelayServer is the daemon's local control surface.
type RelayServer interface {
	Status(context.Context, *StatusRequest) (*StatusResponse, error)
	Login(context.Context, *LoginRequest) (*SelfResponse, error)
	Restore(context.Context, *RestoreRequest) (*SelfResponse, error)
	Logout(context.Context, *LogoutRequest) (*LogoutResponse, error)
	UpdateProfile(context.Context, *UpdateProfileRequest) (*SelfResponse, error)
	Reconnect(context.Context, *ReconnectRequest) (*ReconnectResponse, error)
	RefreshContacts(context.Context, *ContactsRequest) (*ContactsResponse, error)
	ListContacts(context.Context, *ContactsRequest) (*ContactsResponse, error)
	OpenConversation(context.Context, *OpenConversationRequest) (*MessagesResponse, error)
	ListMessages(context.Context, *ListMessagesRequest) (*MessagesResponse, error)
	SendMessage(context.Context, *SendMessageRequest) (*SendMessageResponse, error)
	WatchEvents(*WatchRequest, EventStream) error
}

// EventStream is the server side of WatchEvents.
type EventStream interface {
	Send(*Event) error
	Context() context.Context
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RelayServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Status", RelayServer.Status),
		unary("Login", RelayServer.Login),
		unary("Restore", RelayServer.Restore),
		unary("Logout", RelayServer.Logout),
		unary("UpdateProfile", RelayServer.UpdateProfile),
		unary("Reconnect", RelayServer.Reconnect),
		unary("RefreshContacts", RelayServer.RefreshContacts),
		unary("ListContacts", RelayServer.ListContacts),
		unary("OpenConversation", RelayServer.OpenConversation),
		unary("ListMessages", RelayServer.ListMessages),
		unary("SendMessage", RelayServer.SendMessage),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "WatchEvents",
			Handler:       watchEventsHandler,
			ServerStreams: true,
		},
	},
	Metadata: "relay/v1/relay",
}

// RegisterRelayServer registers srv on s.
func RegisterRelayServer(s grpc.ServiceRegistrar, srv RelayServer) {
	s.RegisterService(&serviceDesc, srv)
}

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

func unary[Req, Resp any](name string, call func(RelayServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(RelayServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(RelayServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func watchEventsHandler(srv any, stream grpc.ServerStream) error {
	in := new(WatchRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(RelayServer).WatchEvents(in, &eventStream{stream})
}

type eventStream struct {
	grpc.ServerStream
}

func (s *eventStream) Send(evt *Event) error {
	return s.ServerStream.SendMsg(evt)
}
