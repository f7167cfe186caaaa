package impl

import (
	"context"
	"fmt"
	"sync"

	"github.com/textileio/go-tonconnect/pkg/bridge"
	"github.com/textileio/go-tonconnect/pkg/tonconnect"
)

// Loopback is an in-process bridge. Events are injected by the embedding
// application and responses are kept until they're drained.
type Loopback struct {
	sink bridge.Sink

	mu        sync.Mutex
	responses map[string][]tonconnect.Response
	listeners []func(sessionID string, resp tonconnect.Response)
}

var _ bridge.Bridge = (*Loopback)(nil)

// NewLoopback returns a loopback bridge feeding injected events to sink.
func NewLoopback(sink bridge.Sink) *Loopback {
	return &Loopback{
		sink:      sink,
		responses: map[string][]tonconnect.Response{},
	}
}

// Inject delivers an event as if a dApp had sent it.
func (l *Loopback) Inject(ctx context.Context, raw tonconnect.RawEvent) error {
	if l.sink == nil {
		return fmt.Errorf("loopback bridge has no sink")
	}
	return l.sink.StoreEvent(ctx, raw)
}

// Send implements bridge.Bridge.
func (l *Loopback) Send(_ context.Context, sessionID string, resp tonconnect.Response) error {
	if sessionID == "" {
		return fmt.Errorf("session id is empty")
	}
	l.mu.Lock()
	l.responses[sessionID] = append(l.responses[sessionID], resp)
	listeners := append([]func(string, tonconnect.Response){}, l.listeners...)
	l.mu.Unlock()

	for _, f := range listeners {
		f(sessionID, resp)
	}
	return nil
}

// OnResponse registers a function called for every response sent.
func (l *Loopback) OnResponse(f func(sessionID string, resp tonconnect.Response)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners = append(l.listeners, f)
}

// Responses returns the responses sent to a session without draining them.
func (l *Loopback) Responses(sessionID string) []tonconnect.Response {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]tonconnect.Response(nil), l.responses[sessionID]...)
}

// Drain returns and forgets the responses sent to a session.
func (l *Loopback) Drain(sessionID string) []tonconnect.Response {
	l.mu.Lock()
	defer l.mu.Unlock()
	resps := l.responses[sessionID]
	delete(l.responses, sessionID)
	return resps
}
