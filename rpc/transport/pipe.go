package transport

import (
	"context"
	"errors"

	"github.com/neat-no/goat-go/wire"
)

// ErrChannelClosed is returned by pipe reads and writes after either end
// has been torn down.
var ErrChannelClosed = errors.New("channel closed")

// ChannelPipe returns two connected in-process channels: envelopes written
// to one end are read from the other. It is used to run a peer in the same
// process, mainly in tests.
func ChannelPipe() (*PipeChannel, *PipeChannel) {
	a := NewQueue[*wire.Rpc]()
	b := NewQueue[*wire.Rpc]()
	return &PipeChannel{in: a, out: b}, &PipeChannel{in: b, out: a}
}

// PipeChannel is one end of an in-process channel pair.
type PipeChannel struct {
	in  *Queue[*wire.Rpc]
	out *Queue[*wire.Rpc]
}

// Read implements the ChannelIO interface.
func (p *PipeChannel) Read(ctx context.Context) (*wire.Rpc, error) {
	res, err := p.in.Pop(ctx)
	if err != nil {
		if errors.Is(err, ErrQueueClosed) {
			return nil, ErrChannelClosed
		}
		return nil, err
	}
	return res, nil
}

// Write implements the ChannelIO interface.
func (p *PipeChannel) Write(_ context.Context, res *wire.Rpc) error {
	if !p.out.Push(res) {
		return ErrChannelClosed
	}
	return nil
}

// Done implements the ChannelIO interface. Both directions are closed, so
// the peer's next read fails.
func (p *PipeChannel) Done() {
	p.in.Close()
	p.out.Close()
}
