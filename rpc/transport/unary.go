package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/neat-no/goat-go/rpc"
	"github.com/neat-no/goat-go/wire"
)

// ErrInvalidResponse is returned when a unary response envelope carries
// neither a non-zero status nor a body.
var ErrInvalidResponse = errors.New("invalid response")

// UnaryRequest is one unary invocation.
type UnaryRequest struct {
	// Method describes the RPC method to invoke.
	Method rpc.Method

	// Header is the user header list sent on the request envelope.
	Header http.Header

	// Message is the input message, serialized with the method's codec.
	Message any
}

// UnaryResponse is the result of a unary invocation.
type UnaryResponse struct {
	// Header is the header list from the response envelope.
	Header http.Header

	// Trailer is the trailer metadata from the response envelope.
	Trailer http.Header

	// Message is the deserialized output message.
	Message any
}

// Unary performs one unary RPC over the shared channel: a single request
// envelope carrying the body and an end-of-client-stream trailer, answered
// by a single response envelope. Cancellation and deadlines propagate
// through ctx; an aborted unary call sends no reset to the peer.
func (t *Transport) Unary(ctx context.Context, req *UnaryRequest) (*UnaryResponse, error) {
	invoke := t.unary
	for i := len(t.opts.Interceptors) - 1; i >= 0; i-- {
		invoke = t.opts.Interceptors[i].WrapUnary(invoke)
	}
	return invoke(ctx, req)
}

func (t *Transport) unary(ctx context.Context, req *UnaryRequest) (*UnaryResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	channel, err := t.currentChannel()
	if err != nil {
		return nil, err
	}
	data, err := req.Method.Codec.Marshal(req.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	// One-shot response cell. The reader resolves it with the response
	// envelope; channel failure or Reset rejects it.
	id := t.nextID()
	resCh := make(chan *wire.Rpc, 1)
	errCh := make(chan error, 1)
	entry := &callEntry{
		resolve: func(res *wire.Rpc) {
			select {
			case resCh <- res:
			default:
			}
		},
		reject: func(err error) {
			select {
			case errCh <- err:
			default:
			}
		},
	}
	if err := t.register(id, entry); err != nil {
		return nil, err
	}
	defer t.deregister(id)

	header := t.requestHeader(req.Method)
	header.Headers = headersToKV(req.Header)
	env := &wire.Rpc{
		ID:     id,
		Header: header,
		Body:   &wire.Body{Data: data},
		// The empty trailer closes the client side of a unary call.
		Trailer: &wire.Trailer{},
	}
	if err := channel.Write(ctx, env); err != nil {
		return nil, fmt.Errorf("channel write error: %w", err)
	}

	select {
	case res := <-resCh:
		return unaryResponse(req.Method, res)
	case err := <-errCh:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// unaryResponse maps a response envelope onto the caller-facing result.
func unaryResponse(method rpc.Method, res *wire.Rpc) (*UnaryResponse, error) {
	if res.Status != nil && res.Status.Code != 0 {
		return nil, rpc.StatusError(res.Status)
	}
	if res.Body == nil {
		return nil, ErrInvalidResponse
	}
	out := method.NewOutput()
	if err := method.Codec.Unmarshal(res.Body.Data, out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	r := &UnaryResponse{
		Header:  http.Header{},
		Trailer: http.Header{},
		Message: out,
	}
	if res.Header != nil {
		r.Header = kvToHeaders(res.Header.Headers)
	}
	if res.Trailer != nil {
		r.Trailer = kvToHeaders(res.Trailer.Metadata)
	}
	return r, nil
}
