package pending

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	logger "github.com/rs/zerolog/log"
	"github.com/textileio/go-tonconnect/pkg/eventrouter"
	"github.com/textileio/go-tonconnect/pkg/tonconnect"
)

// ErrNotFound indicates there's no pending request with the provided id.
var ErrNotFound = errors.New("pending request not found")

var namespace = uuid.MustParse("5a0b7a4e-43a4-4c43-9f43-2f0d8a7c4b11")

// Item is a request waiting for the user to approve or reject it.
// Exactly one of Connect, Transaction and SignData is set.
type Item struct {
	ID          string                          `json:"id"`
	Type        tonconnect.EventType            `json:"type"`
	CreatedAt   time.Time                       `json:"createdAt"`
	Connect     *eventrouter.ConnectRequest     `json:"connect,omitempty"`
	Transaction *eventrouter.TransactionRequest `json:"transaction,omitempty"`
	SignData    *eventrouter.SignDataRequest    `json:"signData,omitempty"`
}

// Request returns the fields the request has in common with any other.
func (i Item) Request() eventrouter.Request {
	switch {
	case i.Connect != nil:
		return i.Connect.Request
	case i.Transaction != nil:
		return i.Transaction.Request
	case i.SignData != nil:
		return i.SignData.Request
	default:
		return eventrouter.Request{}
	}
}

// Queue is an in-memory thread-safe set of requests awaiting a decision.
//
// Ids are derived from the session and request ids, so a request that's
// handled twice is only queued once.
type Queue struct {
	log zerolog.Logger
	ttl time.Duration
	now func() time.Time

	mu    sync.RWMutex
	items map[string]Item
}

// NewQueue creates a queue whose items expire after ttl. Zero never expires.
func NewQueue(ttl time.Duration) *Queue {
	return &Queue{
		log:   logger.With().Str("component", "pending").Logger(),
		ttl:   ttl,
		now:   time.Now,
		items: map[string]Item{},
	}
}

// Register subscribes the queue to the requests produced by the router.
// Disconnected sessions have their pending requests dropped.
func (q *Queue) Register(cbs *eventrouter.Callbacks) {
	cbs.OnConnectRequest(func(_ context.Context, req eventrouter.ConnectRequest) error {
		q.add(Item{Type: tonconnect.EventConnect, Connect: &req})
		return nil
	})
	cbs.OnTransactionRequest(func(_ context.Context, req eventrouter.TransactionRequest) error {
		q.add(Item{Type: tonconnect.EventSendTransaction, Transaction: &req})
		return nil
	})
	cbs.OnSignDataRequest(func(_ context.Context, req eventrouter.SignDataRequest) error {
		q.add(Item{Type: tonconnect.EventSignData, SignData: &req})
		return nil
	})
	cbs.OnDisconnect(func(_ context.Context, ev eventrouter.DisconnectEvent) error {
		if n := q.RemoveSession(ev.SessionID); n > 0 {
			q.log.Info().Str("session", ev.SessionID).Int("count", n).Msg("dropped requests of disconnected session")
		}
		return nil
	})
}

func (q *Queue) add(item Item) {
	req := item.Request()
	item.ID = ID(req.SessionID, req.ID)
	item.CreatedAt = q.now()

	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.items[item.ID]; ok {
		return
	}
	q.items[item.ID] = item
	q.log.Debug().Str("id", item.ID).Str("type", string(item.Type)).Msg("request queued")
}

// ID returns the queue id of a request.
func ID(sessionID, requestID string) string {
	return uuid.NewSHA1(namespace, []byte(sessionID+"/"+requestID)).String()
}

// Get returns a pending request.
func (q *Queue) Get(id string) (Item, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	item, ok := q.items[id]
	if !ok || q.expired(item) {
		return Item{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return item, nil
}

// Remove forgets a pending request once a decision was made about it.
func (q *Queue) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.items[id]
	delete(q.items, id)
	return ok
}

// RemoveSession forgets every pending request of a session.
func (q *Queue) RemoveSession(sessionID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	var n int
	for id, item := range q.items {
		if item.Request().SessionID == sessionID {
			delete(q.items, id)
			n++
		}
	}
	return n
}

// List returns the pending requests, oldest first. Expired ones are purged.
func (q *Queue) List() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := make([]Item, 0, len(q.items))
	for id, item := range q.items {
		if q.expired(item) {
			delete(q.items, id)
			continue
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID < items[j].ID
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	return items
}

func (q *Queue) expired(item Item) bool {
	return q.ttl > 0 && q.now().Sub(item.CreatedAt) > q.ttl
}
