// Package transport multiplexes unary and streaming RPCs over a single
// in-order, message-oriented channel of Rpc envelopes.
//
// The caller supplies the channel as a ChannelIO; the Transport allocates a
// call id per RPC, runs one reader goroutine that routes incoming envelopes
// back to the call they belong to, and fans channel failure out to every
// outstanding call. Reset swaps the channel for a fresh one, failing all
// in-flight calls.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/neat-no/goat-go/rpc"
	"github.com/neat-no/goat-go/wire"
)

// ErrReset is the default reason in-flight calls fail with when Reset is
// invoked without one.
var ErrReset = rpc.NewError(rpc.CodeAborted, "reset")

// ChannelIO is the message channel supplied by the caller. Read and Write
// move whole envelopes; neither is ever given a partial one. Read fails
// only on unrecoverable channel failure. Write must be safe for concurrent
// use, or the underlying transport must tolerate interleaved single-envelope
// writes.
type ChannelIO interface {
	// Read produces the next envelope from the peer.
	Read(ctx context.Context) (*wire.Rpc, error)

	// Write enqueues one envelope to the peer.
	Write(ctx context.Context, rpc *wire.Rpc) error

	// Done is a voluntary teardown notification, invoked exactly once per
	// channel after it has been replaced or discarded.
	Done()
}

// Options contains options for the Transport.
type Options struct {
	// DestinationName is included in every envelope's header.destination.
	DestinationName string

	// SourceName is included in every envelope's header.source.
	SourceName string

	// Interceptors wrap the Unary and Stream entry points, outermost first.
	Interceptors []Interceptor

	// ErrorCh is an optional channel used to report asynchronous channel
	// errors that have no call left to land on.
	ErrorCh chan error
}

// Transport multiplexes concurrent RPCs over one ChannelIO.
type Transport struct {
	opts Options
	id   uint64 // call id counter, never recycled

	mu      sync.Mutex
	channel ChannelIO
	calls   map[uint64]*callEntry
	readErr error
}

// callEntry routes envelopes and failures back to one live call driver.
// resolve receives every envelope read for the call's id; reject is called
// at most once, on channel failure or reset.
type callEntry struct {
	resolve func(res *wire.Rpc)
	reject  func(err error)
}

// New creates a new Transport over the given channel and starts its reader.
func New(channel ChannelIO, opts Options) (*Transport, error) {
	if channel == nil {
		return nil, errors.New("channel cannot be nil")
	}
	t := &Transport{
		opts:    opts,
		channel: channel,
		calls:   make(map[uint64]*callEntry),
	}
	go t.readerRoutine(channel)
	return t, nil
}

// Reset replaces the underlying channel. Every in-flight call fails with
// reason (or ErrReset when nil), the read-error latch is cleared, a reader
// is armed against the new channel, and the old channel's Done is invoked.
func (t *Transport) Reset(newChannel ChannelIO, reason error) error {
	if newChannel == nil {
		return errors.New("channel cannot be nil")
	}
	if reason == nil {
		reason = ErrReset
	}
	t.mu.Lock()
	old := t.channel
	calls := t.calls
	t.calls = make(map[uint64]*callEntry)
	t.channel = newChannel
	t.readErr = nil
	t.mu.Unlock()

	for _, entry := range calls {
		entry.reject(reason)
	}
	go t.readerRoutine(newChannel)
	old.Done()
	return nil
}

// readerRoutine reads envelopes from one channel generation and dispatches
// them to the call they belong to. Envelopes for unknown ids are dropped;
// the call has already been resolved or reset.
func (t *Transport) readerRoutine(initial ChannelIO) {
	for {
		res, err := initial.Read(context.Background())
		if err != nil {
			t.mu.Lock()
			if t.channel != initial {
				// The failure belongs to a channel that was already
				// replaced by Reset.
				t.mu.Unlock()
				return
			}
			t.readErr = err
			calls := t.calls
			t.calls = make(map[uint64]*callEntry)
			t.mu.Unlock()

			for _, entry := range calls {
				entry.reject(err)
			}
			if len(calls) == 0 {
				t.reportError(fmt.Errorf("channel read error: %w", err))
			}
			return
		}

		t.mu.Lock()
		entry := t.calls[res.ID]
		t.mu.Unlock()
		if entry != nil {
			entry.resolve(res)
		}
	}
}

// currentChannel returns the channel calls should write through, or the
// latched read error if the channel has already failed.
func (t *Transport) currentChannel() (ChannelIO, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.readErr != nil {
		return nil, t.readErr
	}
	return t.channel, nil
}

// nextID allocates a fresh call id. Ids are process-lifetime monotonic and
// never recycled.
func (t *Transport) nextID() uint64 {
	return atomic.AddUint64(&t.id, 1)
}

// register installs a call entry, unless the channel has already failed.
func (t *Transport) register(id uint64, entry *callEntry) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.readErr != nil {
		return t.readErr
	}
	t.calls[id] = entry
	return nil
}

// deregister removes a call entry. Missing ids are fine; the entry may
// already have been swept by a read failure or Reset.
func (t *Transport) deregister(id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.calls, id)
}

// requestHeader builds the routing header shared by every envelope of a
// call. The opening envelope additionally carries the user header list.
func (t *Transport) requestHeader(method rpc.Method) *wire.RequestHeader {
	return &wire.RequestHeader{
		Method:      method.Path(),
		Destination: t.opts.DestinationName,
		Source:      t.opts.SourceName,
	}
}

func (t *Transport) reportError(err error) {
	if t.opts.ErrorCh != nil {
		t.opts.ErrorCh <- err
	}
}
