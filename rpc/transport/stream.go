package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/neat-no/goat-go/rpc"
	"github.com/neat-no/goat-go/wire"
)

// ErrSendClosed is returned by Send after the send side has been closed.
var ErrSendClosed = errors.New("send side already closed")

// ErrStreamClosed is returned by Receive after the stream has been closed
// locally.
var ErrStreamClosed = errors.New("stream closed")

// StreamRequest is one streaming invocation. It covers client, server and
// bidirectional streaming; the shape of the method decides which messages
// actually flow.
type StreamRequest struct {
	// Method describes the RPC method to invoke.
	Method rpc.Method

	// Header is the user header list sent on the opening envelope.
	Header http.Header

	// Input optionally supplies the client messages. When non-nil the
	// transport uploads every message it yields and closes the send side
	// once it is exhausted. When nil the caller drives the send side with
	// Send and CloseSend.
	Input <-chan any
}

// streamItem is one element of a stream's response queue: an envelope
// routed by the reader, or an error injected by cancellation, channel
// failure or the upload loop.
type streamItem struct {
	res *wire.Rpc
	err error
}

// Stream is the client's view of one streaming RPC.
//
// Send, CloseSend and Receive may be used concurrently with each other.
// Receive returns an error wrapping io.EOF once the peer's trailer has been
// consumed. A stream abandoned before both sides closed cleanly must be
// released with Close, which informs the peer the stream framing may be
// inconsistent.
type Stream struct {
	t       *Transport
	channel ChannelIO
	ctx     context.Context
	id      uint64
	method  rpc.Method

	// output carries routed envelopes and injected errors to Receive.
	output *Queue[streamItem]
	// stopWatch releases the cancellation watcher.
	stopWatch context.CancelFunc

	mu           sync.Mutex
	serverClosed bool
	clientClosed bool
	header       http.Header
	trailer      http.Header
	done         error

	cleanupOnce sync.Once
}

// Stream opens one streaming RPC over the shared channel. The opening
// envelope carries the full user header list; every later envelope of the
// call repeats only the routing fields. Cancelling ctx aborts the call:
// Receive fails with the context error and cleanup resets the peer.
func (t *Transport) Stream(ctx context.Context, req *StreamRequest) (*Stream, error) {
	invoke := t.stream
	for i := len(t.opts.Interceptors) - 1; i >= 0; i-- {
		invoke = t.opts.Interceptors[i].WrapStream(invoke)
	}
	return invoke(ctx, req)
}

func (t *Transport) stream(ctx context.Context, req *StreamRequest) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	channel, err := t.currentChannel()
	if err != nil {
		return nil, err
	}

	s := &Stream{
		t:       t,
		channel: channel,
		ctx:     ctx,
		id:      t.nextID(),
		method:  req.Method,
		output:  NewQueue[streamItem](),
		header:  http.Header{},
		trailer: http.Header{},
	}

	// The queue discards pushes after Close, so late envelopes and errors
	// arriving after cleanup are dropped rather than leaked.
	entry := &callEntry{
		resolve: func(res *wire.Rpc) { s.output.Push(streamItem{res: res}) },
		reject:  func(err error) { s.output.Push(streamItem{err: err}) },
	}
	if err := t.register(s.id, entry); err != nil {
		return nil, err
	}

	// Cancellation watcher: injects the context error into the response
	// queue so a blocked Receive unblocks. Released in cleanup.
	watchCtx, stopWatch := context.WithCancel(context.Background())
	s.stopWatch = stopWatch
	go func() {
		select {
		case <-ctx.Done():
			s.output.Push(streamItem{err: ctx.Err()})
		case <-watchCtx.Done():
		}
	}()

	open := t.requestHeader(req.Method)
	open.Headers = headersToKV(req.Header)
	if err := channel.Write(ctx, &wire.Rpc{ID: s.id, Header: open}); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("channel write error: %w", err)
	}

	if req.Input != nil {
		go s.uploadRoutine(req.Input)
	}
	return s, nil
}

// uploadRoutine drains the input channel into the stream and closes the
// send side once the input is exhausted. Failures are surfaced to the
// response consumer rather than lost in this goroutine.
func (s *Stream) uploadRoutine(input <-chan any) {
	for {
		select {
		case msg, ok := <-input:
			if !ok {
				if err := s.CloseSend(); err != nil {
					s.output.Push(streamItem{err: fmt.Errorf("upload error: %w", err)})
				}
				return
			}
			if err := s.Send(msg); err != nil {
				s.output.Push(streamItem{err: fmt.Errorf("upload error: %w", err)})
				return
			}
		case <-s.ctx.Done():
			return
		}
	}
}

// Send serializes one message and writes it as a body envelope.
func (s *Stream) Send(msg any) error {
	s.mu.Lock()
	closed := s.clientClosed
	s.mu.Unlock()
	if closed {
		return ErrSendClosed
	}
	data, err := s.method.Codec.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	env := &wire.Rpc{
		ID:     s.id,
		Header: s.t.requestHeader(s.method),
		Body:   &wire.Body{Data: data},
	}
	if err := s.channel.Write(s.ctx, env); err != nil {
		return fmt.Errorf("channel write error: %w", err)
	}
	return nil
}

// CloseSend closes the send side by writing the client trailer envelope.
// It is a no-op if the send side is already closed.
func (s *Stream) CloseSend() error {
	// The flag is set before the write so the peer's reaction to the
	// trailer can never race a not-yet-closed client side.
	s.mu.Lock()
	if s.clientClosed {
		s.mu.Unlock()
		return nil
	}
	s.clientClosed = true
	s.mu.Unlock()

	env := &wire.Rpc{
		ID:      s.id,
		Header:  s.t.requestHeader(s.method),
		Trailer: &wire.Trailer{},
	}
	if err := s.channel.Write(s.ctx, env); err != nil {
		s.mu.Lock()
		s.clientClosed = false
		s.mu.Unlock()
		return fmt.Errorf("channel write error: %w", err)
	}
	return nil
}

// Receive returns the next message from the peer. It returns io.EOF once
// the peer's trailer has been consumed, a *rpc.Error if the peer reported a
// non-zero status, the context error if the call was aborted, and the
// channel failure if the shared channel broke. Any terminal return runs
// the stream's cleanup, so a fully drained stream needs no explicit Close.
func (s *Stream) Receive() (any, error) {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		return nil, done
	}
	for {
		item, err := s.output.Pop(context.Background())
		if err != nil {
			// The queue only closes in cleanup; someone already tore the
			// stream down.
			return nil, s.terminate(ErrStreamClosed)
		}
		if item.err != nil {
			return nil, s.terminate(item.err)
		}
		res := item.res
		if res.Status != nil && res.Status.Code != 0 {
			s.mu.Lock()
			s.serverClosed = true
			s.mu.Unlock()
			return nil, s.terminate(rpc.StatusError(res.Status))
		}
		if res.Header != nil && len(res.Header.Headers) > 0 {
			s.mu.Lock()
			s.header = kvToHeaders(res.Header.Headers)
			s.mu.Unlock()
		}
		if res.Body != nil {
			out := s.method.NewOutput()
			if err := s.method.Codec.Unmarshal(res.Body.Data, out); err != nil {
				return nil, s.terminate(fmt.Errorf("failed to unmarshal message: %w", err))
			}
			return out, nil
		}
		if res.Trailer != nil {
			s.mu.Lock()
			s.serverClosed = true
			s.trailer = kvToHeaders(res.Trailer.Metadata)
			s.mu.Unlock()
			return nil, s.terminate(io.EOF)
		}
		// Envelope with no body, status or trailer: nothing to deliver.
	}
}

// Header returns the header list from the peer, once one has been received.
func (s *Stream) Header() http.Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.header
}

// Trailer returns the trailer metadata from the peer. It is only populated
// after Receive has returned io.EOF.
func (s *Stream) Trailer() http.Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trailer
}

// Close releases the stream. If either side has not closed cleanly, the
// peer is told to treat the stream as aborted. Close is idempotent and
// safe to call after Receive has already terminated the stream.
func (s *Stream) Close() error {
	s.terminate(ErrStreamClosed)
	return nil
}

// terminate latches the stream's terminal error and runs cleanup. The
// first terminal error wins; later ones are dropped.
func (s *Stream) terminate(err error) error {
	s.mu.Lock()
	if s.done == nil {
		s.done = err
	} else {
		err = s.done
	}
	s.mu.Unlock()
	s.cleanup()
	return err
}

// cleanup runs exactly once per stream: it removes the demux entry, stops
// the cancellation watcher, closes the response queue, and, unless both
// sides already closed cleanly, resets the peer. The reset write is
// best-effort; the channel may already be gone.
func (s *Stream) cleanup() {
	s.cleanupOnce.Do(func() {
		s.t.deregister(s.id)
		s.stopWatch()
		s.output.Close()

		s.mu.Lock()
		clean := s.serverClosed && s.clientClosed
		s.mu.Unlock()
		if clean {
			return
		}
		env := &wire.Rpc{
			ID:     s.id,
			Header: s.t.requestHeader(s.method),
			Status: &wire.Status{
				Code:    int32(rpc.CodeAborted),
				Message: "aborted",
			},
			Trailer: &wire.Trailer{},
			Reset:   &wire.Reset{Type: wire.ResetTypeRST},
		}
		_ = s.channel.Write(context.Background(), env)
	})
}
