package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/neat-no/goat-go/rpc"
	"github.com/neat-no/goat-go/wire"
)

// WebsocketChannel is a ChannelIO that frames envelopes as JSON messages on
// a websocket connection.
type WebsocketChannel struct {
	conn *websocket.Conn
}

// WebsocketOptions contains options for the websocket channel.
type WebsocketOptions struct {
	// Context used for the dial.
	Context context.Context

	// URL of the websocket endpoint.
	URL string

	// HTTPClient is used for the connection.
	HTTPClient *http.Client

	// HTTPHeader specifies the HTTP headers included in the handshake
	// request.
	HTTPHeader http.Header
}

// DialWebsocket dials a websocket endpoint and wraps the connection as a
// channel.
func DialWebsocket(opts WebsocketOptions) (*WebsocketChannel, error) {
	if opts.URL == "" {
		return nil, errors.New("URL cannot be empty")
	}
	if opts.Context == nil {
		opts.Context = context.Background()
	}
	conn, _, err := websocket.Dial(opts.Context, opts.URL, &websocket.DialOptions{
		HTTPClient: opts.HTTPClient,
		HTTPHeader: opts.HTTPHeader,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to dial websocket: %w", err)
	}
	return NewWebsocketChannel(conn), nil
}

// NewWebsocketChannel wraps an established websocket connection, dialed or
// accepted, as a channel.
func NewWebsocketChannel(conn *websocket.Conn) *WebsocketChannel {
	// The default read limit is far below the message cap; a JSON envelope
	// additionally base64-expands the body.
	conn.SetReadLimit(2 * rpc.MaxMessageSize)
	return &WebsocketChannel{conn: conn}
}

// Read implements the ChannelIO interface.
func (c *WebsocketChannel) Read(ctx context.Context) (*wire.Rpc, error) {
	res := &wire.Rpc{}
	if err := wsjson.Read(ctx, c.conn, res); err != nil {
		return nil, fmt.Errorf("websocket read error: %w", err)
	}
	return res, nil
}

// Write implements the ChannelIO interface. The websocket's message
// boundaries keep concurrent envelope writes whole.
func (c *WebsocketChannel) Write(ctx context.Context, res *wire.Rpc) error {
	if err := wsjson.Write(ctx, c.conn, res); err != nil {
		return fmt.Errorf("websocket write error: %w", err)
	}
	return nil
}

// Done implements the ChannelIO interface.
func (c *WebsocketChannel) Done() {
	_ = c.conn.Close(websocket.StatusNormalClosure, "")
}
