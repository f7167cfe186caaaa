package impl

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/rs/zerolog"
	logger "github.com/rs/zerolog/log"
	"github.com/textileio/go-tonconnect/pkg/eventprocessor"
	"github.com/textileio/go-tonconnect/pkg/eventrouter"
	"github.com/textileio/go-tonconnect/pkg/eventstore"
	"github.com/textileio/go-tonconnect/pkg/session"
	"github.com/textileio/go-tonconnect/pkg/tonconnect"
	"github.com/textileio/go-tonconnect/pkg/wallet"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/instrument"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
)

// EventProcessor processes the events of the durable event store.
type EventProcessor struct {
	log      zerolog.Logger
	store    eventstore.EventStore
	router   eventrouter.Router
	sessions session.Manager
	wallets  *wallet.Manager
	config   *eventprocessor.Config
	webhook  Webhook

	lock           sync.Mutex
	daemonCtx      context.Context
	daemonCancel   context.CancelFunc
	daemonCanceled chan struct{}
	loops          map[string]*loop

	// Metrics
	mBaseLabels        []attribute.KeyValue
	mActiveLoops       atomic.Int64
	mEventCounter      instrument.Int64Counter
	mEventLatency      instrument.Int64Histogram
	mRecoveredCounter  instrument.Int64Counter
	mCleanedUpCounter  instrument.Int64Counter
	mSweepErrorCounter instrument.Int64Counter
}

var _ eventprocessor.EventProcessor = (*EventProcessor)(nil)

// loop is the processing loop of a wallet, or of events without wallet context.
type loop struct {
	scope  string
	cancel context.CancelFunc
	done   chan struct{}
	wake   chan struct{}
}

// New returns a new EventProcessor.
func New(
	store eventstore.EventStore,
	router eventrouter.Router,
	sessions session.Manager,
	wallets *wallet.Manager,
	opts ...eventprocessor.Option,
) (*EventProcessor, error) {
	config := eventprocessor.DefaultConfig()
	for _, op := range opts {
		if err := op(config); err != nil {
			return nil, fmt.Errorf("applying option: %s", err)
		}
	}

	ep := &EventProcessor{
		log:      logger.With().Str("component", "eventprocessor").Logger(),
		store:    store,
		router:   router,
		sessions: sessions,
		wallets:  wallets,
		config:   config,
		loops:    map[string]*loop{},
	}
	if config.Webhook.Enabled {
		wh, err := NewWebhook(config.Webhook.URL)
		if err != nil {
			return nil, fmt.Errorf("creating webhook: %s", err)
		}
		ep.webhook = wh
	}
	if err := ep.initMetrics(); err != nil {
		return nil, fmt.Errorf("initializing metric instruments: %s", err)
	}

	return ep, nil
}

// Start starts the recovery and cleanup loops.
func (ep *EventProcessor) Start() error {
	ep.lock.Lock()
	defer ep.lock.Unlock()

	if ep.daemonCtx != nil {
		return fmt.Errorf("already started")
	}

	ep.log.Debug().Msg("starting daemon...")
	ctx, cls := context.WithCancel(context.Background())
	ep.daemonCtx = ctx
	ep.daemonCancel = cls
	ep.daemonCanceled = make(chan struct{})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ep.runPeriodically(gctx, ep.config.RecoveryInterval, ep.recoverStaleEvents)
		return nil
	})
	g.Go(func() error {
		ep.runPeriodically(gctx, ep.config.CleanupInterval, ep.cleanupOldEvents)
		return nil
	})
	go func() {
		defer close(ep.daemonCanceled)
		_ = g.Wait()
	}()
	ep.log.Info().Msg("started")

	return nil
}

// Stop stops every loop. Events being handled finish before it returns.
func (ep *EventProcessor) Stop() {
	ep.lock.Lock()
	if ep.daemonCtx == nil {
		ep.lock.Unlock()
		return
	}
	ep.log.Debug().Msg("stopping processor gracefully...")
	ep.daemonCancel()
	canceled := ep.daemonCanceled
	loops := ep.loops
	ep.loops = map[string]*loop{}
	ep.lock.Unlock()

	// The lock is released while waiting since sweeps wake loops up.
	<-canceled
	for _, l := range loops {
		<-l.done
	}

	ep.lock.Lock()
	ep.daemonCtx = nil
	ep.daemonCancel = nil
	ep.daemonCanceled = nil
	ep.lock.Unlock()
	ep.mActiveLoops.Store(0)

	ep.log.Debug().Msg("processor stopped")
}

// StartProcessing implements eventprocessor.EventProcessor.
func (ep *EventProcessor) StartProcessing(walletAddress string) error {
	addr, err := tonconnect.NormalizeAddress(walletAddress)
	if err != nil {
		return fmt.Errorf("normalizing wallet address: %s", err)
	}
	if !ep.wallets.Has(addr) {
		return fmt.Errorf("%w: %s", wallet.ErrWalletNotFound, addr)
	}
	return ep.startLoop(addr)
}

// StartNoWalletProcessing implements eventprocessor.EventProcessor.
func (ep *EventProcessor) StartNoWalletProcessing() error {
	return ep.startLoop(eventstore.NoWallet)
}

// StopProcessing implements eventprocessor.EventProcessor.
func (ep *EventProcessor) StopProcessing(walletAddress string) {
	scope := walletAddress
	if scope != eventstore.NoWallet {
		addr, err := tonconnect.NormalizeAddress(walletAddress)
		if err != nil {
			ep.log.Warn().Err(err).Str("wallet", walletAddress).Msg("stopping loop of invalid address")
			return
		}
		scope = addr
	}

	ep.lock.Lock()
	l, ok := ep.loops[scope]
	delete(ep.loops, scope)
	ep.lock.Unlock()
	if !ok {
		return
	}

	l.cancel()
	<-l.done
	ep.mActiveLoops.Dec()
}

// Notify implements eventprocessor.EventProcessor.
func (ep *EventProcessor) Notify() {
	ep.lock.Lock()
	defer ep.lock.Unlock()
	for _, l := range ep.loops {
		select {
		case l.wake <- struct{}{}:
		default:
		}
	}
}

// ActiveLoops implements eventprocessor.EventProcessor.
func (ep *EventProcessor) ActiveLoops() []string {
	ep.lock.Lock()
	defer ep.lock.Unlock()
	scopes := make([]string, 0, len(ep.loops))
	for scope := range ep.loops {
		scopes = append(scopes, scope)
	}
	sort.Strings(scopes)
	return scopes
}

func (ep *EventProcessor) startLoop(scope string) error {
	ep.lock.Lock()
	defer ep.lock.Unlock()

	if ep.daemonCtx == nil {
		return fmt.Errorf("processor isn't started")
	}
	if ep.daemonCtx.Err() != nil {
		return fmt.Errorf("processor is stopping")
	}
	if _, ok := ep.loops[scope]; ok {
		return nil
	}

	ctx, cancel := context.WithCancel(ep.daemonCtx)
	l := &loop{
		scope:  scope,
		cancel: cancel,
		done:   make(chan struct{}),
		wake:   make(chan struct{}, 1),
	}
	ep.loops[scope] = l
	ep.mActiveLoops.Inc()
	go ep.runLoop(ctx, l)

	return nil
}

func (ep *EventProcessor) runLoop(ctx context.Context, l *loop) {
	defer close(l.done)
	log := ep.log.With().Str("scope", l.scope).Logger()
	log.Info().Msg("processing loop started")
	defer log.Info().Msg("processing loop stopped")

	for ctx.Err() == nil {
		processed, err := ep.processNext(ctx, log, l.scope)
		if err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("processing next event")
		}
		if processed && err == nil {
			continue
		}

		select {
		case <-ctx.Done():
		case <-l.wake:
		case <-time.After(ep.config.RetryDelay):
		}
	}
}

// processNext handles the oldest eligible event of the scope. It reports
// whether an event was handled.
//
// Only the oldest candidate is ever tried. If it can't be locked the loop
// idles instead of moving to the next one, which keeps the order of the scope.
func (ep *EventProcessor) processNext(ctx context.Context, log zerolog.Logger, scope string) (bool, error) {
	sessionIDs, err := ep.sessionScope(ctx, scope)
	if err != nil {
		return false, fmt.Errorf("resolving sessions: %s", err)
	}
	if len(sessionIDs) == 0 {
		return false, nil
	}

	events, err := ep.store.GetEventsForWallet(ctx, scope, sessionIDs, ep.config.EnabledEventTypes)
	if err != nil {
		return false, fmt.Errorf("getting events: %s", err)
	}
	if len(events) == 0 {
		return false, nil
	}

	e, err := ep.store.AcquireLock(ctx, events[0].ID, scope)
	if err != nil {
		return false, fmt.Errorf("acquiring lock: %s", err)
	}
	if e == nil {
		log.Debug().Str("eventId", events[0].ID).Msg("event was claimed by someone else")
		return false, nil
	}

	// Once locked, the event is handled to the end even if the loop is stopped.
	return true, ep.handle(context.WithoutCancel(ctx), log, scope, *e)
}

func (ep *EventProcessor) handle(ctx context.Context, log zerolog.Logger, scope string, e eventstore.StoredEvent) error {
	start := time.Now()
	log = log.With().Str("eventId", e.ID).Str("type", string(e.Type)).Logger()

	routeErr := ep.route(ctx, scope, e)
	outcome := eventprocessor.Outcome{
		EventID:   e.ID,
		Type:      e.Type,
		Scope:     scope,
		SessionID: e.SessionID,
		Attempt:   e.RetryCount + 1,
	}

	if routeErr != nil {
		released, err := ep.store.ReleaseEvent(ctx, e.ID, routeErr, ep.config.MaxRetries)
		if err != nil {
			return fmt.Errorf("releasing event after failure (%s): %s", routeErr, err)
		}
		outcome.Error = routeErr.Error()
		outcome.Terminal = released.Status == eventstore.StatusErrored
		outcome.DurationMs = time.Since(start).Milliseconds()
		result := "retry"
		if outcome.Terminal {
			result = "errored"
			ep.notifyWebhook(ctx, log, outcome)
		}
		ep.record(ctx, e.Type, result, start)
		return fmt.Errorf("routing event (attempt %d): %s", outcome.Attempt, routeErr)
	}

	if _, err := ep.store.UpdateEventStatus(ctx, e.ID, eventstore.StatusCompleted, eventstore.StatusProcessing); err != nil {
		if errors.Is(err, eventstore.ErrStatusMismatch) {
			// The lock was considered stale and reclaimed while the event was
			// being handled, so it'll be handled again.
			log.Warn().Err(err).Msg("event was reclaimed during handling")
			ep.record(ctx, e.Type, "reclaimed", start)
			return nil
		}
		return fmt.Errorf("completing event: %s", err)
	}
	outcome.Terminal = true
	outcome.DurationMs = time.Since(start).Milliseconds()
	ep.notifyWebhook(ctx, log, outcome)
	ep.record(ctx, e.Type, "completed", start)
	log.Debug().Int64("durationMs", outcome.DurationMs).Msg("event completed")

	return nil
}

func (ep *EventProcessor) route(ctx context.Context, scope string, e eventstore.StoredEvent) error {
	ev := eventrouter.Event{RawEvent: e.RawEvent}
	if scope != eventstore.NoWallet {
		w, err := ep.wallets.Get(scope)
		if err != nil {
			return fmt.Errorf("%w: %s", eventrouter.ErrNoWallet, err)
		}
		ev.Wallet = w
	}
	return ep.router.RouteEvent(ctx, ev)
}

// sessionScope returns the session ids whose events belong to the scope.
//
// A wallet owns the sessions bound to it. Events without wallet context are
// the ones without a session, like connect requests, plus the orphans: events
// of sessions that are pending or bound to a wallet that isn't registered.
func (ep *EventProcessor) sessionScope(ctx context.Context, scope string) ([]string, error) {
	if scope != eventstore.NoWallet {
		return ep.sessions.GetSessionIDsForWallet(ctx, scope)
	}

	all, err := ep.sessions.ListSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %s", err)
	}
	owned := mapset.NewThreadUnsafeSet[string]()
	for _, s := range all {
		if s.Bound() && ep.wallets.Has(s.WalletAddress) {
			owned.Add(s.ID)
		}
	}

	pending, err := ep.store.ListEvents(ctx, eventstore.Filter{Status: eventstore.StatusNew})
	if err != nil {
		return nil, fmt.Errorf("listing new events: %s", err)
	}
	ids := mapset.NewThreadUnsafeSet[string]("")
	for _, e := range pending {
		if !owned.Contains(e.SessionID) {
			ids.Add(e.SessionID)
		}
	}
	return ids.ToSlice(), nil
}

func (ep *EventProcessor) runPeriodically(ctx context.Context, every time.Duration, f func(context.Context)) {
	f(ctx)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f(ctx)
		}
	}
}

func (ep *EventProcessor) recoverStaleEvents(ctx context.Context) {
	n, err := ep.store.RecoverStaleEvents(ctx, ep.config.ProcessingTimeout)
	if err != nil {
		if ctx.Err() == nil {
			ep.log.Error().Err(err).Msg("recovering stale events")
			ep.mSweepErrorCounter.Add(ctx, 1, ep.attrs(attribute.String("sweep", "recovery"))...)
		}
		return
	}
	if n > 0 {
		ep.log.Info().Int("count", n).Msg("recovered stale events")
		ep.mRecoveredCounter.Add(ctx, int64(n), ep.mBaseLabels...)
		ep.Notify()
	}
}

func (ep *EventProcessor) cleanupOldEvents(ctx context.Context) {
	n, err := ep.store.CleanupOldEvents(ctx, ep.config.Retention)
	if err != nil {
		if ctx.Err() == nil {
			ep.log.Error().Err(err).Msg("cleaning up old events")
			ep.mSweepErrorCounter.Add(ctx, 1, ep.attrs(attribute.String("sweep", "cleanup"))...)
		}
		return
	}
	if n > 0 {
		ep.log.Info().Int("count", n).Msg("removed old events")
		ep.mCleanedUpCounter.Add(ctx, int64(n), ep.mBaseLabels...)
	}
}

func (ep *EventProcessor) notifyWebhook(ctx context.Context, log zerolog.Logger, o eventprocessor.Outcome) {
	if ep.webhook == nil {
		return
	}
	if err := ep.webhook.Send(ctx, o); err != nil {
		log.Warn().Err(err).Msg("sending webhook")
	}
}
