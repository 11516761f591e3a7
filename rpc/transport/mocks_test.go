package transport

import (
	"context"
	"sync"
	"time"

	"github.com/neat-no/goat-go/rpc"
	"github.com/neat-no/goat-go/wire"
)

// testMsg is the message type used by the mock peers.
type testMsg struct {
	Value int `json:"value"`
}

var testMethod = rpc.Method{
	Service:   "test.EchoService",
	Name:      "Echo",
	Codec:     rpc.JSONCodec{},
	NewOutput: func() any { return &testMsg{} },
}

func mustMarshal(v any) []byte {
	data, err := testMethod.Codec.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

func mustUnmarshal(data []byte) *testMsg {
	msg := &testMsg{}
	if err := testMethod.Codec.Unmarshal(data, msg); err != nil {
		panic(err)
	}
	return msg
}

// readResult is one scripted outcome of mockChannel.Read.
type readResult struct {
	res *wire.Rpc
	err error
}

// mockChannel is a scriptable ChannelIO. Reads pop scripted results from a
// queue and block while it is empty; writes are recorded and handed to the
// optional onWrite peer behavior.
type mockChannel struct {
	in *Queue[readResult]

	mu      sync.Mutex
	written []*wire.Rpc
	done    bool

	// onWrite emulates the peer. It runs on the writer's goroutine.
	onWrite func(m *mockChannel, env *wire.Rpc) error
}

func newMockChannel(onWrite func(m *mockChannel, env *wire.Rpc) error) *mockChannel {
	return &mockChannel{
		in:      NewQueue[readResult](),
		onWrite: onWrite,
	}
}

// newEchoChannel returns a channel whose peer answers every envelope with
// an id-preserving echo of its body, followed by a trailer.
func newEchoChannel() *mockChannel {
	return newMockChannel(func(m *mockChannel, env *wire.Rpc) error {
		m.respond(&wire.Rpc{ID: env.ID, Body: env.Body, Trailer: &wire.Trailer{}})
		return nil
	})
}

func (m *mockChannel) Read(ctx context.Context) (*wire.Rpc, error) {
	r, err := m.in.Pop(ctx)
	if err != nil {
		return nil, err
	}
	return r.res, r.err
}

func (m *mockChannel) Write(_ context.Context, env *wire.Rpc) error {
	m.mu.Lock()
	m.written = append(m.written, env)
	m.mu.Unlock()
	if m.onWrite != nil {
		return m.onWrite(m, env)
	}
	return nil
}

func (m *mockChannel) Done() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.done = true
}

// respond schedules an envelope to be delivered by the next Read.
func (m *mockChannel) respond(env *wire.Rpc) {
	m.in.Push(readResult{res: env})
}

// failRead schedules a read failure.
func (m *mockChannel) failRead(err error) {
	m.in.Push(readResult{err: err})
}

func (m *mockChannel) doneCalled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done
}

func (m *mockChannel) writtenEnvelopes() []*wire.Rpc {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*wire.Rpc(nil), m.written...)
}

// waitWritten blocks until at least n envelopes have been written, or the
// timeout elapses.
func (m *mockChannel) waitWritten(n int) bool {
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(m.writtenEnvelopes()) >= n {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return false
}

// echoPeer drives the far end of a real channel: bodies are echoed back,
// trailers acknowledged with a trailer, resets ignored. It returns when
// the channel fails.
func echoPeer(ch ChannelIO) {
	ctx := context.Background()
	for {
		env, err := ch.Read(ctx)
		if err != nil {
			return
		}
		switch {
		case env.Reset != nil:
		case env.Body != nil && env.Trailer != nil:
			_ = ch.Write(ctx, &wire.Rpc{ID: env.ID, Body: env.Body, Trailer: &wire.Trailer{}})
		case env.Body != nil:
			_ = ch.Write(ctx, &wire.Rpc{ID: env.ID, Body: env.Body})
		case env.Trailer != nil:
			_ = ch.Write(ctx, &wire.Rpc{ID: env.ID, Trailer: &wire.Trailer{}})
		}
	}
}

// resetEnvelopes filters the recorded writes down to those carrying a
// reset field.
func (m *mockChannel) resetEnvelopes() []*wire.Rpc {
	var out []*wire.Rpc
	for _, env := range m.writtenEnvelopes() {
		if env.Reset != nil {
			out = append(out, env)
		}
	}
	return out
}
