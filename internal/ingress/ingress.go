package ingress

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	logger "github.com/rs/zerolog/log"
	"github.com/textileio/go-tonconnect/pkg/bridge"
	"github.com/textileio/go-tonconnect/pkg/eventstore"
	"github.com/textileio/go-tonconnect/pkg/session"
	"github.com/textileio/go-tonconnect/pkg/tonconnect"
)

// Notifier is woken up after an event was stored.
type Notifier interface {
	Notify()
}

// Refresher is told that the set of sessions changed.
type Refresher interface {
	Refresh()
}

// Ingress is the single entry point of inbound events, whether they come
// from the bridge or are injected through the API.
type Ingress struct {
	log        zerolog.Logger
	store      eventstore.EventStore
	sessions   session.Manager
	notifiers  []Notifier
	refreshers []Refresher
}

var _ bridge.Sink = (*Ingress)(nil)

// New returns a new Ingress.
func New(store eventstore.EventStore, sessions session.Manager) *Ingress {
	return &Ingress{
		log:      logger.With().Str("component", "ingress").Logger(),
		store:    store,
		sessions: sessions,
	}
}

// NotifyTo registers n to be woken up after every stored event.
func (i *Ingress) NotifyTo(n Notifier) {
	i.notifiers = append(i.notifiers, n)
}

// RefreshTo registers r to be told about new pending sessions.
func (i *Ingress) RefreshTo(r Refresher) {
	i.refreshers = append(i.refreshers, r)
}

// Ingest stores the event. A connect request also prepares the wallet side
// keys of its session, so that the dApp can be answered through the bridge.
func (i *Ingress) Ingest(ctx context.Context, raw tonconnect.RawEvent) (eventstore.StoredEvent, error) {
	stored, err := i.store.StoreEvent(ctx, raw)
	if err != nil {
		return eventstore.StoredEvent{}, fmt.Errorf("storing event: %w", err)
	}

	if stored.Type == tonconnect.EventConnect && raw.From != "" {
		if _, err := i.sessions.PrepareSession(ctx, raw.From); err != nil {
			i.log.Error().Err(err).Str("session", raw.From).Msg("preparing session")
		} else {
			for _, r := range i.refreshers {
				r.Refresh()
			}
		}
	}
	for _, n := range i.notifiers {
		n.Notify()
	}
	return stored, nil
}

// StoreEvent implements bridge.Sink.
func (i *Ingress) StoreEvent(ctx context.Context, raw tonconnect.RawEvent) error {
	_, err := i.Ingest(ctx, raw)
	return err
}
