package transport

import (
	"context"
	"fmt"
	"net"
	"sync"

	msgpack "github.com/hashicorp/go-msgpack/codec"

	"github.com/neat-no/goat-go/wire"
)

// msgpackHandle configures envelope framing on stream connections. The
// flags match the msgpack handle used by the message codec.
var msgpackHandle = &msgpack.MsgpackHandle{RawToString: true, WriteExt: true}

// ConnChannel is a ChannelIO that frames envelopes as a msgpack stream on
// a net.Conn, e.g. a unix socket or a TCP connection.
type ConnChannel struct {
	conn net.Conn

	rmu sync.Mutex
	dec *msgpack.Decoder

	wmu sync.Mutex
	enc *msgpack.Encoder
}

// NewConnChannel wraps an established stream connection as a channel.
func NewConnChannel(conn net.Conn) *ConnChannel {
	return &ConnChannel{
		conn: conn,
		dec:  msgpack.NewDecoder(conn, msgpackHandle),
		enc:  msgpack.NewEncoder(conn, msgpackHandle),
	}
}

// DialConn dials a network address and wraps the connection as a channel.
func DialConn(ctx context.Context, network, address string) (*ConnChannel, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", network, err)
	}
	return NewConnChannel(conn), nil
}

// Read implements the ChannelIO interface. The decoder owns the read side
// of the connection; the context does not interrupt a blocked read.
func (c *ConnChannel) Read(_ context.Context) (*wire.Rpc, error) {
	c.rmu.Lock()
	defer c.rmu.Unlock()
	res := &wire.Rpc{}
	if err := c.dec.Decode(res); err != nil {
		return nil, fmt.Errorf("conn read error: %w", err)
	}
	return res, nil
}

// Write implements the ChannelIO interface. Writes are serialized so an
// envelope is never interleaved with another.
func (c *ConnChannel) Write(_ context.Context, res *wire.Rpc) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := c.enc.Encode(res); err != nil {
		return fmt.Errorf("conn write error: %w", err)
	}
	return nil
}

// Done implements the ChannelIO interface.
func (c *ConnChannel) Done() {
	_ = c.conn.Close()
}
