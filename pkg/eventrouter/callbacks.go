package eventrouter

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Callback receives requests produced by a handler. Returned errors and
// panics are logged and never affect other callbacks or the event.
type Callback[T any] func(ctx context.Context, req T) error

type registration[T any] struct {
	seq uint64
	cb  Callback[T]
}

type registry[T any] struct {
	name string

	lock sync.RWMutex
	seq  uint64
	cbs  map[string]registration[T]
}

func newRegistry[T any](name string) *registry[T] {
	return &registry[T]{name: name, cbs: map[string]registration[T]{}}
}

func (r *registry[T]) add(cb Callback[T]) string {
	r.lock.Lock()
	defer r.lock.Unlock()
	id := uuid.NewString()
	r.seq++
	r.cbs[id] = registration[T]{seq: r.seq, cb: cb}
	return id
}

func (r *registry[T]) remove(id string) bool {
	r.lock.Lock()
	defer r.lock.Unlock()
	if _, ok := r.cbs[id]; !ok {
		return false
	}
	delete(r.cbs, id)
	return true
}

// snapshot returns the callbacks in registration order.
func (r *registry[T]) snapshot() []Callback[T] {
	r.lock.RLock()
	regs := make([]registration[T], 0, len(r.cbs))
	for _, reg := range r.cbs {
		regs = append(regs, reg)
	}
	r.lock.RUnlock()

	sort.Slice(regs, func(i, j int) bool { return regs[i].seq < regs[j].seq })
	cbs := make([]Callback[T], len(regs))
	for i := range regs {
		cbs[i] = regs[i].cb
	}
	return cbs
}

// notify calls every callback and returns how many of them failed.
func (r *registry[T]) notify(ctx context.Context, log zerolog.Logger, req T) int {
	var failed int
	for _, cb := range r.snapshot() {
		if err := call(ctx, cb, req); err != nil {
			failed++
			log.Error().Err(err).Str("callback", r.name).Msg("request callback failed")
		}
	}
	return failed
}

func call[T any](ctx context.Context, cb Callback[T], req T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("callback panicked: %v", r)
		}
	}()
	return cb(ctx, req)
}

// Callbacks is the set of application callbacks notified by the router.
type Callbacks struct {
	connect     *registry[ConnectRequest]
	transaction *registry[TransactionRequest]
	signData    *registry[SignDataRequest]
	disconnect  *registry[DisconnectEvent]
	reqError    *registry[RequestError]
}

// NewCallbacks returns an empty callback set.
func NewCallbacks() *Callbacks {
	return &Callbacks{
		connect:     newRegistry[ConnectRequest]("connect"),
		transaction: newRegistry[TransactionRequest]("transaction"),
		signData:    newRegistry[SignDataRequest]("signData"),
		disconnect:  newRegistry[DisconnectEvent]("disconnect"),
		reqError:    newRegistry[RequestError]("requestError"),
	}
}

// OnConnectRequest registers a callback for connect requests.
func (c *Callbacks) OnConnectRequest(cb Callback[ConnectRequest]) string {
	return c.connect.add(cb)
}

// OnTransactionRequest registers a callback for transaction requests.
func (c *Callbacks) OnTransactionRequest(cb Callback[TransactionRequest]) string {
	return c.transaction.add(cb)
}

// OnSignDataRequest registers a callback for sign data requests.
func (c *Callbacks) OnSignDataRequest(cb Callback[SignDataRequest]) string {
	return c.signData.add(cb)
}

// OnDisconnect registers a callback for disconnects.
func (c *Callbacks) OnDisconnect(cb Callback[DisconnectEvent]) string {
	return c.disconnect.add(cb)
}

// OnRequestError registers a callback for requests answered with an error.
func (c *Callbacks) OnRequestError(cb Callback[RequestError]) string {
	return c.reqError.add(cb)
}

// RemoveConnectRequestCallback unregisters a connect request callback.
func (c *Callbacks) RemoveConnectRequestCallback(id string) bool {
	return c.connect.remove(id)
}

// RemoveTransactionRequestCallback unregisters a transaction request callback.
func (c *Callbacks) RemoveTransactionRequestCallback(id string) bool {
	return c.transaction.remove(id)
}

// RemoveSignDataRequestCallback unregisters a sign data request callback.
func (c *Callbacks) RemoveSignDataRequestCallback(id string) bool {
	return c.signData.remove(id)
}

// RemoveDisconnectCallback unregisters a disconnect callback.
func (c *Callbacks) RemoveDisconnectCallback(id string) bool {
	return c.disconnect.remove(id)
}

// RemoveRequestErrorCallback unregisters a request error callback.
func (c *Callbacks) RemoveRequestErrorCallback(id string) bool {
	return c.reqError.remove(id)
}

// NotifyConnectRequest calls the connect request callbacks.
func (c *Callbacks) NotifyConnectRequest(ctx context.Context, log zerolog.Logger, req ConnectRequest) int {
	return c.connect.notify(ctx, log, req)
}

// NotifyTransactionRequest calls the transaction request callbacks.
func (c *Callbacks) NotifyTransactionRequest(ctx context.Context, log zerolog.Logger, req TransactionRequest) int {
	return c.transaction.notify(ctx, log, req)
}

// NotifySignDataRequest calls the sign data request callbacks.
func (c *Callbacks) NotifySignDataRequest(ctx context.Context, log zerolog.Logger, req SignDataRequest) int {
	return c.signData.notify(ctx, log, req)
}

// NotifyDisconnect calls the disconnect callbacks.
func (c *Callbacks) NotifyDisconnect(ctx context.Context, log zerolog.Logger, req DisconnectEvent) int {
	return c.disconnect.notify(ctx, log, req)
}

// NotifyRequestError calls the request error callbacks.
func (c *Callbacks) NotifyRequestError(ctx context.Context, log zerolog.Logger, req RequestError) int {
	return c.reqError.notify(ctx, log, req)
}
