package api

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client is the typed client for a daemon's Unix domain socket.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to the daemon listening on socketPath.
func Dial(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func invoke[Resp any](ctx context.Context, c *Client, method string, in any) (*Resp, error) {
	out := new(Resp)
	if err := c.conn.Invoke(ctx, fullMethod(method), in, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	return invoke[StatusResponse](ctx, c, "Status", &StatusRequest{})
}

func (c *Client) Login(ctx context.Context, req *LoginRequest) (*SelfResponse, error) {
	return invoke[SelfResponse](ctx, c, "Login", req)
}

func (c *Client) Restore(ctx context.Context, token string) (*SelfResponse, error) {
	return invoke[SelfResponse](ctx, c, "Restore", &RestoreRequest{Token: token})
}

func (c *Client) Logout(ctx context.Context) error {
	_, err := invoke[LogoutResponse](ctx, c, "Logout", &LogoutRequest{})
	return err
}

func (c *Client) UpdateProfile(ctx context.Context, req *UpdateProfileRequest) (*SelfResponse, error) {
	return invoke[SelfResponse](ctx, c, "UpdateProfile", req)
}

func (c *Client) Reconnect(ctx context.Context) (*ReconnectResponse, error) {
	return invoke[ReconnectResponse](ctx, c, "Reconnect", &ReconnectRequest{})
}

func (c *Client) RefreshContacts(ctx context.Context) (*ContactsResponse, error) {
	return invoke[ContactsResponse](ctx, c, "RefreshContacts", &ContactsRequest{})
}

func (c *Client) ListContacts(ctx context.Context) (*ContactsResponse, error) {
	return invoke[ContactsResponse](ctx, c, "ListContacts", &ContactsRequest{})
}

func (c *Client) OpenConversation(ctx context.Context, contactID string) (*MessagesResponse, error) {
	return invoke[MessagesResponse](ctx, c, "OpenConversation", &OpenConversationRequest{ContactID: contactID})
}

func (c *Client) ListMessages(ctx context.Context) (*MessagesResponse, error) {
	return invoke[MessagesResponse](ctx, c, "ListMessages", &ListMessagesRequest{})
}

func (c *Client) SendMessage(ctx context.Context, req *SendMessageRequest) (*SendMessageResponse, error) {
	return invoke[SendMessageResponse](ctx, c, "SendMessage", req)
}

// EventReceiver reads a WatchEvents stream.
type EventReceiver struct {
	stream grpc.ClientStream
}

// Recv blocks for the next event. It returns io.EOF when the daemon ends the stream.
func (r *EventReceiver) Recv() (*Event, error) {
	evt := new(Event)
	if err := r.stream.RecvMsg(evt); err != nil {
		return nil, err
	}
	return evt, nil
}

// WatchEvents streams bus events whose kind starts with one of namespaces
// (all events when empty) until ctx is cancelled.
func (c *Client) WatchEvents(ctx context.Context, namespaces ...string) (*EventReceiver, error) {
	stream, err := c.conn.NewStream(ctx, &serviceDesc.Streams[0], fullMethod("WatchEvents"))
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(&WatchRequest{Namespaces: namespaces}); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &EventReceiver{stream: stream}, nil
}
