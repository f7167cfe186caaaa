package impl

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	logger "github.com/rs/zerolog/log"
	"github.com/textileio/go-tonconnect/buildinfo"
	"github.com/textileio/go-tonconnect/pkg/bridge"
	"github.com/textileio/go-tonconnect/pkg/metrics"
	"github.com/textileio/go-tonconnect/pkg/session"
	"github.com/textileio/go-tonconnect/pkg/tonconnect"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/global"
	"go.opentelemetry.io/otel/metric/instrument"
)

const maxSSELine = 1 << 20

// HTTPBridge speaks the TonConnect HTTP bridge protocol. Requests of every
// known session are received through a single SSE subscription and responses
// are posted to /message, both end-to-end encrypted with the session keys.
type HTTPBridge struct {
	log      zerolog.Logger
	config   *bridge.Config
	client   *http.Client
	sessions session.Manager
	sink     bridge.Sink
	now      func() time.Time

	lock           sync.Mutex
	lastEventID    string
	refresh        chan struct{}
	daemonCtx      context.Context
	daemonCancel   context.CancelFunc
	daemonCanceled chan struct{}

	mBaseLabels      []attribute.KeyValue
	mReceivedCounter instrument.Int64Counter
	mSentCounter     instrument.Int64Counter
}

var _ bridge.Bridge = (*HTTPBridge)(nil)

// NewHTTPBridge returns a bridge client. Received requests are stored in sink.
func NewHTTPBridge(sessions session.Manager, sink bridge.Sink, opts ...bridge.Option) (*HTTPBridge, error) {
	config := bridge.DefaultConfig()
	for _, op := range opts {
		if err := op(config); err != nil {
			return nil, fmt.Errorf("applying option: %s", err)
		}
	}

	b := &HTTPBridge{
		log:      logger.With().Str("component", "bridge").Str("url", config.URL).Logger(),
		config:   config,
		client:   &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		sessions: sessions,
		sink:     sink,
		now:      time.Now,
		refresh:  make(chan struct{}, 1),
	}
	if err := b.initMetrics(); err != nil {
		return nil, fmt.Errorf("initializing metric instruments: %s", err)
	}
	return b, nil
}

// Start subscribes to the bridge in the background.
func (b *HTTPBridge) Start() error {
	b.lock.Lock()
	defer b.lock.Unlock()

	if b.daemonCtx != nil {
		return fmt.Errorf("already started")
	}
	ctx, cls := context.WithCancel(context.Background())
	b.daemonCtx = ctx
	b.daemonCancel = cls
	b.daemonCanceled = make(chan struct{})

	go func() {
		defer close(b.daemonCanceled)
		b.listen(ctx)
	}()
	b.log.Info().Msg("started")
	return nil
}

// Stop closes the subscription.
func (b *HTTPBridge) Stop() {
	b.lock.Lock()
	if b.daemonCtx == nil {
		b.lock.Unlock()
		return
	}
	b.daemonCancel()
	canceled := b.daemonCanceled
	b.lock.Unlock()

	<-canceled

	b.lock.Lock()
	b.daemonCtx = nil
	b.daemonCancel = nil
	b.daemonCanceled = nil
	b.lock.Unlock()
	b.log.Info().Msg("stopped")
}

// Refresh resubscribes so that sessions created or removed since the last
// subscription are taken into account.
func (b *HTTPBridge) Refresh() {
	select {
	case b.refresh <- struct{}{}:
	default:
	}
}

// LastEventID returns the id of the last bridge event that was stored.
func (b *HTTPBridge) LastEventID() string {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.lastEventID
}

// Send implements bridge.Bridge.
func (b *HTTPBridge) Send(ctx context.Context, sessionID string, resp tonconnect.Response) error {
	s, err := b.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("getting session: %w", err)
	}
	msg, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshaling response: %s", err)
	}
	sealed, err := s.Seal(msg)
	if err != nil {
		return fmt.Errorf("sealing response: %s", err)
	}

	q := url.Values{}
	q.Set("client_id", s.PublicKey)
	q.Set("to", s.ID)
	q.Set("ttl", strconv.Itoa(int(b.config.TTL.Seconds())))
	if resp.Event != "" {
		q.Set("topic", resp.Event)
	}

	ctx, cancel := context.WithTimeout(ctx, b.config.RequestTimeout)
	defer cancel()
	body := bytes.NewBufferString(base64.StdEncoding.EncodeToString(sealed))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.config.URL+"/message?"+q.Encode(), body)
	if err != nil {
		return fmt.Errorf("creating request: %s", err)
	}
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("User-Agent", buildinfo.UserAgent())

	res, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting message: %s", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, res.Body)
		if err := res.Body.Close(); err != nil {
			b.log.Error().Err(err).Msg("closing response body")
		}
	}()
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("bridge answered with status code %d", res.StatusCode)
	}
	b.mSentCounter.Add(ctx, 1, b.mBaseLabels...)

	return nil
}

func (b *HTTPBridge) listen(ctx context.Context) {
	for ctx.Err() == nil {
		err := b.subscribe(ctx)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			continue
		}
		b.log.Warn().Err(err).Dur("retryIn", b.config.ReconnectDelay).Msg("bridge subscription failed")
		select {
		case <-ctx.Done():
		case <-b.refresh:
		case <-time.After(b.config.ReconnectDelay):
		}
	}
}

// subscribe holds a single SSE subscription open until it ends, fails or a
// refresh is requested.
func (b *HTTPBridge) subscribe(ctx context.Context) error {
	all, err := b.sessions.ListSessions(ctx)
	if err != nil {
		return fmt.Errorf("listing sessions: %s", err)
	}
	if len(all) == 0 {
		select {
		case <-ctx.Done():
		case <-b.refresh:
		}
		return nil
	}
	clientIDs := make([]string, 0, len(all))
	for _, s := range all {
		clientIDs = append(clientIDs, s.PublicKey)
	}

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-subCtx.Done():
		case <-b.refresh:
			cancel()
		}
	}()

	q := url.Values{}
	q.Set("client_id", strings.Join(clientIDs, ","))
	if last := b.LastEventID(); last != "" {
		q.Set("last_event_id", last)
	}
	req, err := http.NewRequestWithContext(subCtx, http.MethodGet, b.config.URL+"/events?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("creating request: %s", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("User-Agent", buildinfo.UserAgent())

	res, err := b.client.Do(req)
	if err != nil {
		if subCtx.Err() != nil {
			return nil
		}
		return fmt.Errorf("subscribing: %s", err)
	}
	defer func() {
		if err := res.Body.Close(); err != nil {
			b.log.Debug().Err(err).Msg("closing event stream")
		}
	}()
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("bridge answered with status code %d", res.StatusCode)
	}
	b.log.Info().Int("sessions", len(clientIDs)).Msg("subscribed to bridge")

	err = readSSE(res.Body, func(ev sseEvent) {
		b.handleSSE(ctx, ev)
	})
	if subCtx.Err() != nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading event stream: %s", err)
	}
	return fmt.Errorf("event stream closed by the bridge")
}

type bridgeMessage struct {
	From    string `json:"from"`
	Message string `json:"message"`
}

type appRequest struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

func (b *HTTPBridge) handleSSE(ctx context.Context, ev sseEvent) {
	if ev.Event == "heartbeat" || ev.Data == "" || ev.Data == "heartbeat" {
		return
	}
	log := b.log.With().Str("bridgeEventId", ev.ID).Logger()

	raw, err := b.decode(ctx, ev.Data)
	if err != nil {
		// Undecodable messages will never become decodable, so they're skipped.
		log.Warn().Err(err).Msg("dropping bridge message")
		b.advance(ev.ID)
		return
	}
	if err := b.sink.StoreEvent(ctx, raw); err != nil {
		// Not advancing makes the bridge deliver it again on resubscription.
		log.Error().Err(err).Str("method", raw.Method).Msg("storing bridge event")
		return
	}
	b.advance(ev.ID)
	b.mReceivedCounter.Add(ctx, 1, b.attrs(attribute.String("method", raw.Method))...)
	log.Debug().Str("method", raw.Method).Str("session", raw.From).Msg("bridge event stored")
}

func (b *HTTPBridge) decode(ctx context.Context, data string) (tonconnect.RawEvent, error) {
	var msg bridgeMessage
	if err := json.Unmarshal([]byte(data), &msg); err != nil {
		return tonconnect.RawEvent{}, fmt.Errorf("unmarshaling bridge message: %s", err)
	}
	s, err := b.sessions.GetSession(ctx, msg.From)
	if err != nil {
		return tonconnect.RawEvent{}, fmt.Errorf("getting session %s: %w", msg.From, err)
	}
	sealed, err := base64.StdEncoding.DecodeString(msg.Message)
	if err != nil {
		return tonconnect.RawEvent{}, fmt.Errorf("decoding message: %s", err)
	}
	plain, err := s.Open(sealed)
	if err != nil {
		return tonconnect.RawEvent{}, fmt.Errorf("opening message: %s", err)
	}
	var req appRequest
	if err := json.Unmarshal(plain, &req); err != nil {
		return tonconnect.RawEvent{}, fmt.Errorf("unmarshaling request: %s", err)
	}

	return tonconnect.RawEvent{
		ID:            requestID(req.ID),
		Method:        req.Method,
		Params:        req.Params,
		From:          s.ID,
		Domain:        s.Domain,
		WalletAddress: s.WalletAddress,
		Timestamp:     b.now().UnixMilli(),
	}, nil
}

func (b *HTTPBridge) advance(eventID string) {
	if eventID == "" {
		return
	}
	b.lock.Lock()
	b.lastEventID = eventID
	b.lock.Unlock()
}

// requestID accepts both string and numeric request ids.
func requestID(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

type sseEvent struct {
	ID    string
	Event string
	Data  string
}

// readSSE calls f for every event of a text/event-stream until r is exhausted.
func readSSE(r io.Reader, f func(sseEvent)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxSSELine)

	var ev sseEvent
	var data []string
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if len(data) > 0 || ev.Event != "" {
				ev.Data = strings.Join(data, "\n")
				f(ev)
			}
			ev, data = sseEvent{}, nil
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "id":
			ev.ID = value
		case "event":
			ev.Event = value
		case "data":
			data = append(data, value)
		}
	}
	return scanner.Err()
}

func (b *HTTPBridge) initMetrics() error {
	meter := global.MeterProvider().Meter("tonconnect")
	b.mBaseLabels = append([]attribute.KeyValue(nil), metrics.BaseAttrs...)

	var err error
	b.mReceivedCounter, err = meter.Int64Counter("tonconnect.bridge.received.count")
	if err != nil {
		return fmt.Errorf("creating received count instrument: %s", err)
	}
	b.mSentCounter, err = meter.Int64Counter("tonconnect.bridge.sent.count")
	if err != nil {
		return fmt.Errorf("creating sent count instrument: %s", err)
	}
	return nil
}

func (b *HTTPBridge) attrs(kvs ...attribute.KeyValue) []attribute.KeyValue {
	return append(append(make([]attribute.KeyValue, 0, len(kvs)+len(b.mBaseLabels)), kvs...), b.mBaseLabels...)
}
