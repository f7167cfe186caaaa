package impl

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/textileio/go-tonconnect/pkg/bridge"
	"github.com/textileio/go-tonconnect/pkg/session"
	sessionimpl "github.com/textileio/go-tonconnect/pkg/session/impl"
	"github.com/textileio/go-tonconnect/pkg/storage"
	"github.com/textileio/go-tonconnect/pkg/storage/impl/memory"
	"github.com/textileio/go-tonconnect/pkg/tonconnect"
	"golang.org/x/crypto/nacl/box"
)

const testWallet = "0:83dfd552e63729b472fcbcc8c45ebcc6691702558b68ec7527e1ba403a0f31a8"

func TestReadSSE(t *testing.T) {
	t.Parallel()

	stream := ": keepalive\n\n" +
		"event: heartbeat\n\n" +
		"id: 1\nevent: message\ndata: {\"a\":1}\n\n" +
		"id: 2\ndata: first\ndata: second\n\n" +
		"data:no-space\n\n"

	var got []sseEvent
	require.NoError(t, readSSE(strings.NewReader(stream), func(ev sseEvent) {
		got = append(got, ev)
	}))
	require.Equal(t, []sseEvent{
		{Event: "heartbeat"},
		{ID: "1", Event: "message", Data: `{"a":1}`},
		{ID: "2", Data: "first\nsecond"},
		{Data: "no-space"},
	}, got)
}

func TestHTTPBridgeSend(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	dApp := newDApp(t)
	var (
		mu    sync.Mutex
		query map[string]string
		body  []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/message", r.URL.Path)
		b, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		mu.Lock()
		query = map[string]string{
			"client_id": r.URL.Query().Get("client_id"),
			"to":        r.URL.Query().Get("to"),
			"ttl":       r.URL.Query().Get("ttl"),
			"topic":     r.URL.Query().Get("topic"),
		}
		body = b
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	sessions := sessionimpl.NewManager(memory.New(), storage.JSON)
	s, err := sessions.CreateSession(ctx, dApp.id, testWallet, session.DApp{Name: "Example"})
	require.NoError(t, err)

	b, err := NewHTTPBridge(sessions, nil, bridge.WithURL(srv.URL), bridge.WithTTL(time.Minute))
	require.NoError(t, err)

	resp := tonconnect.NewDisconnectResponse("3")
	require.NoError(t, b.Send(ctx, dApp.id, resp))

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, s.PublicKey, query["client_id"])
	require.Equal(t, dApp.id, query["to"])
	require.Equal(t, "60", query["ttl"])
	require.Equal(t, "disconnect", query["topic"])

	plain := dApp.open(t, s.PublicKey, string(body))
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(plain, &decoded))
	require.Equal(t, "3", decoded["id"])
	require.Equal(t, "disconnect", decoded["event"])
}

func TestHTTPBridgeSendFailures(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	sessions := sessionimpl.NewManager(memory.New(), storage.JSON)
	b, err := NewHTTPBridge(sessions, nil, bridge.WithURL(srv.URL))
	require.NoError(t, err)

	err = b.Send(ctx, "unknown", tonconnect.NewResultResponse("1", "ok"))
	require.ErrorIs(t, err, session.ErrSessionNotFound)

	dApp := newDApp(t)
	_, err = sessions.CreateSession(ctx, dApp.id, testWallet, session.DApp{})
	require.NoError(t, err)
	err = b.Send(ctx, dApp.id, tonconnect.NewResultResponse("1", "ok"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "502")
}

func TestHTTPBridgeReceive(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	dApp := newDApp(t)
	sessions := sessionimpl.NewManager(memory.New(), storage.JSON)
	s, err := sessions.CreateSession(ctx, dApp.id, testWallet, session.DApp{Domain: "app.example"})
	require.NoError(t, err)

	request := `{"id":5,"method":"sendTransaction","params":["{\"messages\":[]}"]}`
	message, err := json.Marshal(bridgeMessage{From: dApp.id, Message: dApp.seal(t, s.PublicKey, request)})
	require.NoError(t, err)

	subscribed := make(chan string, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/events", r.URL.Path)
		subscribed <- r.URL.Query().Get("client_id")
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "event: heartbeat\n\n")
		_, _ = io.WriteString(w, "id: 42\nevent: message\ndata: "+string(message)+"\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	events := make(chan tonconnect.RawEvent, 4)
	sink := bridge.SinkFunc(func(_ context.Context, raw tonconnect.RawEvent) error {
		events <- raw
		return nil
	})
	b, err := NewHTTPBridge(sessions, sink, bridge.WithURL(srv.URL), bridge.WithReconnectDelay(10*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, b.Start())
	t.Cleanup(b.Stop)
	require.Error(t, b.Start())

	select {
	case clientID := <-subscribed:
		require.Equal(t, s.PublicKey, clientID)
	case <-time.After(5 * time.Second):
		t.Fatal("bridge never subscribed")
	}

	select {
	case raw := <-events:
		require.Equal(t, "5", raw.ID)
		require.Equal(t, string(tonconnect.MethodSendTransaction), raw.Method)
		require.Equal(t, dApp.id, raw.From)
		require.Equal(t, testWallet, raw.WalletAddress)
		require.Equal(t, "app.example", raw.Domain)
		require.NoError(t, raw.Validate())
	case <-time.After(5 * time.Second):
		t.Fatal("event never stored")
	}
	require.Eventually(t, func() bool { return b.LastEventID() == "42" }, 5*time.Second, 10*time.Millisecond)
}

func TestRequestID(t *testing.T) {
	t.Parallel()

	require.Equal(t, "7", requestID(json.RawMessage(`"7"`)))
	require.Equal(t, "7", requestID(json.RawMessage(`7`)))
}

func TestBridgeOptions(t *testing.T) {
	t.Parallel()

	for _, opt := range []bridge.Option{
		bridge.WithURL("ftp://bridge.example"),
		bridge.WithURL("://bad"),
		bridge.WithTTL(time.Millisecond),
		bridge.WithReconnectDelay(0),
	} {
		_, err := NewHTTPBridge(nil, nil, opt)
		require.Error(t, err)
	}

	b, err := NewHTTPBridge(nil, nil, bridge.WithURL("https://bridge.example/bridge/"))
	require.NoError(t, err)
	require.Equal(t, "https://bridge.example/bridge", b.config.URL)
}

type dApp struct {
	id   string
	priv *[32]byte
}

func newDApp(t *testing.T) dApp {
	t.Helper()
	pub, priv, err := box.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return dApp{id: hex.EncodeToString(pub[:]), priv: priv}
}

func (d dApp) peer(t *testing.T, walletPub string) *[32]byte {
	t.Helper()
	raw, err := hex.DecodeString(walletPub)
	require.NoError(t, err)
	require.Len(t, raw, 32)
	var k [32]byte
	copy(k[:], raw)
	return &k
}

func (d dApp) seal(t *testing.T, walletPub, msg string) string {
	t.Helper()
	var nonce [24]byte
	_, err := rand.Read(nonce[:])
	require.NoError(t, err)
	sealed := box.Seal(nonce[:], []byte(msg), &nonce, d.peer(t, walletPub), d.priv)
	return base64.StdEncoding.EncodeToString(sealed)
}

func (d dApp) open(t *testing.T, walletPub, b64 string) []byte {
	t.Helper()
	sealed, err := base64.StdEncoding.DecodeString(b64)
	require.NoError(t, err)
	var nonce [24]byte
	copy(nonce[:], sealed[:24])
	plain, ok := box.Open(nil, sealed[24:], &nonce, d.peer(t, walletPub), d.priv)
	require.True(t, ok)
	return plain
}
