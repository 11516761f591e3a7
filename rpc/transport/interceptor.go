package transport

import "context"

// UnaryFunc performs one unary invocation. Interceptors wrap it.
type UnaryFunc func(ctx context.Context, req *UnaryRequest) (*UnaryResponse, error)

// StreamFunc opens one streaming invocation. Interceptors wrap it.
type StreamFunc func(ctx context.Context, req *StreamRequest) (*Stream, error)

// Interceptor wraps the Unary and Stream entry points. The transport
// attaches no semantics of its own; interceptors are applied in the order
// configured, the first one outermost.
type Interceptor interface {
	WrapUnary(next UnaryFunc) UnaryFunc
	WrapStream(next StreamFunc) StreamFunc
}

// UnaryInterceptorFunc is an Interceptor that only wraps unary calls.
type UnaryInterceptorFunc func(next UnaryFunc) UnaryFunc

// WrapUnary implements the Interceptor interface.
func (f UnaryInterceptorFunc) WrapUnary(next UnaryFunc) UnaryFunc { return f(next) }

// WrapStream implements the Interceptor interface.
func (f UnaryInterceptorFunc) WrapStream(next StreamFunc) StreamFunc { return next }
