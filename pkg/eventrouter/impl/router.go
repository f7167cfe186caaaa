package impl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	logger "github.com/rs/zerolog/log"
	"github.com/textileio/go-tonconnect/pkg/bridge"
	"github.com/textileio/go-tonconnect/pkg/eventrouter"
	"github.com/textileio/go-tonconnect/pkg/manifest"
	"github.com/textileio/go-tonconnect/pkg/metrics"
	"github.com/textileio/go-tonconnect/pkg/session"
	"github.com/textileio/go-tonconnect/pkg/tonconnect"
	"github.com/textileio/go-tonconnect/pkg/wallet"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/global"
	"go.opentelemetry.io/otel/metric/instrument"
)

// Route outcomes reported in metrics.
const (
	outcomeNotified  = "notified"
	outcomeAnswered  = "answered"
	outcomeDropped   = "dropped"
	outcomeTransient = "transient"
)

// Router routes events to the handler of their type.
type Router struct {
	log       zerolog.Logger
	config    *eventrouter.Config
	wallets   *wallet.Manager
	sessions  session.Manager
	bridge    bridge.Bridge
	fetcher   manifest.Fetcher
	emulator  wallet.Emulator
	callbacks *eventrouter.Callbacks

	// Metrics
	mRouteCounter instrument.Int64Counter
	mRouteLatency instrument.Int64Histogram
}

var _ eventrouter.Router = (*Router)(nil)

// New returns a new Router. The emulator is optional.
func New(
	wallets *wallet.Manager,
	sessions session.Manager,
	br bridge.Bridge,
	fetcher manifest.Fetcher,
	emulator wallet.Emulator,
	callbacks *eventrouter.Callbacks,
	opts ...eventrouter.Option,
) (*Router, error) {
	config := eventrouter.DefaultConfig()
	for _, op := range opts {
		if err := op(config); err != nil {
			return nil, fmt.Errorf("applying option: %s", err)
		}
	}
	if wallets == nil || sessions == nil || br == nil || fetcher == nil || callbacks == nil {
		return nil, fmt.Errorf("wallets, sessions, bridge, fetcher and callbacks are required")
	}

	r := &Router{
		log:       logger.With().Str("component", "eventrouter").Logger(),
		config:    config,
		wallets:   wallets,
		sessions:  sessions,
		bridge:    br,
		fetcher:   fetcher,
		emulator:  emulator,
		callbacks: callbacks,
	}
	if err := r.initMetrics(); err != nil {
		return nil, fmt.Errorf("initializing metric instruments: %s", err)
	}
	return r, nil
}

// RouteEvent implements eventrouter.Router.
func (r *Router) RouteEvent(ctx context.Context, e eventrouter.Event) error {
	start := time.Now()
	log := r.log.With().
		Str("eventId", e.ID).
		Str("method", e.Method).
		Str("sessionId", e.From).
		Logger()

	if err := e.Validate(); err != nil {
		log.Warn().Err(err).Msg("dropping invalid event")
		r.record(ctx, e.Method, outcomeDropped, start)
		return nil
	}
	eventType, _ := tonconnect.EventTypeFromMethod(e.Method)

	var (
		outcome string
		err     error
	)
	switch eventType {
	case tonconnect.EventConnect:
		req, perr, herr := r.handleConnect(ctx, e)
		outcome, err = r.dispatch(ctx, log, e, perr, herr, func() {
			r.callbacks.NotifyConnectRequest(ctx, log, req)
		})
	case tonconnect.EventSendTransaction:
		req, perr, herr := r.handleTransaction(ctx, log, e)
		outcome, err = r.dispatch(ctx, log, e, perr, herr, func() {
			r.callbacks.NotifyTransactionRequest(ctx, log, req)
		})
	case tonconnect.EventSignData:
		req, perr, herr := r.handleSignData(ctx, e)
		outcome, err = r.dispatch(ctx, log, e, perr, herr, func() {
			r.callbacks.NotifySignDataRequest(ctx, log, req)
		})
	case tonconnect.EventDisconnect:
		req, perr, herr := r.handleDisconnect(ctx, log, e)
		outcome, err = r.dispatch(ctx, log, e, perr, herr, func() {
			r.callbacks.NotifyDisconnect(ctx, log, req)
		})
	default:
		log.Warn().Msg("dropping event without handler")
		outcome = outcomeDropped
	}

	r.record(ctx, e.Method, outcome, start)
	return err
}

// dispatch turns a handler result into the router outcome. Handler errors are
// transient, protocol errors are answered to the dApp and everything else
// reaches the success callbacks.
func (r *Router) dispatch(
	ctx context.Context,
	log zerolog.Logger,
	e eventrouter.Event,
	perr *tonconnect.Error,
	err error,
	notify func(),
) (string, error) {
	if err != nil {
		log.Warn().Err(err).Msg("handling event failed")
		return outcomeTransient, err
	}
	if perr != nil {
		if err := r.answerError(ctx, log, e, perr); err != nil {
			return outcomeTransient, err
		}
		return outcomeAnswered, nil
	}
	notify()
	return outcomeNotified, nil
}

func (r *Router) answerError(ctx context.Context, log zerolog.Logger, e eventrouter.Event, perr *tonconnect.Error) error {
	log.Info().Int("code", int(perr.Code)).Str("reason", perr.Message).Msg("answering request with error")

	if e.From != "" {
		resp := tonconnect.NewErrorResponse(e.ID, perr)
		if e.Method == string(tonconnect.MethodConnect) {
			resp = tonconnect.NewConnectErrorResponse(e.ID, perr)
		}
		err := r.bridge.Send(ctx, e.From, resp)
		switch {
		case errors.Is(err, session.ErrSessionNotFound):
			// Nobody is left to answer; retrying won't bring the session back.
			log.Warn().Err(err).Msg("error response not delivered, session is gone")
		case err != nil:
			return fmt.Errorf("sending error response: %s", err)
		}
	}

	r.callbacks.NotifyRequestError(ctx, log, eventrouter.RequestError{
		Request: requestOf(e, walletAddressOf(e)),
		Method:  e.Method,
		Error:   perr,
	})
	return nil
}

// resolveWallet finds the wallet an event must be handled with: the one the
// processor attached, the one named by the event, or the one bound to the
// event session. A nil wallet with a nil error means the dApp isn't connected.
func (r *Router) resolveWallet(ctx context.Context, e eventrouter.Event) (wallet.Wallet, error) {
	if e.Wallet != nil {
		return e.Wallet, nil
	}
	if e.WalletAddress != "" {
		w, err := r.wallets.Get(e.WalletAddress)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", eventrouter.ErrNoWallet, err)
		}
		return w, nil
	}
	if e.From == "" {
		return nil, nil
	}
	s, err := r.sessions.GetSession(ctx, e.From)
	if errors.Is(err, session.ErrSessionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting session: %s", err)
	}
	if !s.Bound() {
		return nil, nil
	}
	w, err := r.wallets.Get(s.WalletAddress)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", eventrouter.ErrNoWallet, err)
	}
	return w, nil
}

// checkScope validates the network and sender a dApp asked for.
func checkScope(w wallet.Wallet, network tonconnect.Chain, from string) *tonconnect.Error {
	if network != "" && network != w.Network() {
		return tonconnect.NewError(tonconnect.BadRequestError,
			"wrong network: wallet is on %s, request is for %s", w.Network(), network)
	}
	if from != "" {
		addr, err := tonconnect.NormalizeAddress(from)
		if err != nil {
			return tonconnect.NewError(tonconnect.BadRequestError, "invalid from address: %s", err)
		}
		own, err := tonconnect.NormalizeAddress(w.GetAddress())
		if err != nil || addr != own {
			return tonconnect.NewError(tonconnect.BadRequestError, "from address doesn't match the wallet")
		}
	}
	return nil
}

func requestOf(e eventrouter.Event, walletAddress string) eventrouter.Request {
	return eventrouter.Request{
		ID:            e.ID,
		SessionID:     e.From,
		Domain:        e.Domain,
		WalletAddress: walletAddress,
		Timestamp:     e.Timestamp,
	}
}

func walletAddressOf(e eventrouter.Event) string {
	if e.Wallet != nil {
		return e.Wallet.GetAddress()
	}
	return e.WalletAddress
}

func notConnected() *tonconnect.Error {
	return tonconnect.NewError(tonconnect.UnknownAppError, "dApp is not connected")
}

func badRequest(format string, args ...interface{}) *tonconnect.Error {
	return tonconnect.NewError(tonconnect.BadRequestError, format, args...)
}

func (r *Router) initMetrics() error {
	meter := global.MeterProvider().Meter("tonconnect")
	var err error
	r.mRouteCounter, err = meter.Int64Counter("tonconnect.eventrouter.route.count")
	if err != nil {
		return fmt.Errorf("creating route count instrument: %s", err)
	}
	r.mRouteLatency, err = meter.Int64Histogram("tonconnect.eventrouter.route.latency")
	if err != nil {
		return fmt.Errorf("creating route latency instrument: %s", err)
	}
	return nil
}

func (r *Router) record(ctx context.Context, method, outcome string, start time.Time) {
	attrs := append([]attribute.KeyValue{
		attribute.String("method", method),
		attribute.String("outcome", outcome),
	}, metrics.BaseAttrs...)
	r.mRouteCounter.Add(ctx, 1, attrs...)
	r.mRouteLatency.Record(ctx, time.Since(start).Milliseconds(), attrs...)
}
