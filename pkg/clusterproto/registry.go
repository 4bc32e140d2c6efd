package clusterproto

import (
	"context"
	"fmt"
)

// Handler processes a decoded request payload and returns a result payload
// to be marshaled back as the envelope's Result.
type Handler func(ctx context.Context, params []byte) ([]byte, error)

// Registry maps RPC method names to handlers, used on the receiving side
// of either direction (Hub handling `edge.*` calls, Edge handling `hub.*`
// calls), mirroring the teacher's single `handleIncomingMessage` switch
// but keyed by string method name instead of a message-type enum, since
// the Edge<->Hub surface is an open set of methods rather than a fixed
// Mumble.proto message list.
type Registry struct {
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

func (r *Registry) Register(method string, h Handler) {
	r.handlers[method] = h
}

var ErrUnknownMethod = fmt.Errorf("clusterproto: unknown method")

// Dispatch invokes the handler registered for e.Method, producing a
// response Envelope correlated by e.ID. e itself must be a KindRequest
// envelope.
func (r *Registry) Dispatch(ctx context.Context, e *Envelope) *Envelope {
	h, ok := r.handlers[e.Method]
	if !ok {
		return &Envelope{Kind: KindResponse, ID: e.ID, ErrCode: "unknown_method", ErrMsg: e.Method}
	}
	result, err := h(ctx, e.Params)
	if err != nil {
		return &Envelope{Kind: KindResponse, ID: e.ID, ErrCode: "handler_error", ErrMsg: err.Error()}
	}
	return &Envelope{Kind: KindResponse, ID: e.ID, Result: result}
}
