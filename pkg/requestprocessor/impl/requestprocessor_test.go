package impl

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	bridgeimpl "github.com/textileio/go-tonconnect/pkg/bridge/impl"
	"github.com/textileio/go-tonconnect/pkg/eventrouter"
	"github.com/textileio/go-tonconnect/pkg/requestprocessor"
	"github.com/textileio/go-tonconnect/pkg/session"
	sessionimpl "github.com/textileio/go-tonconnect/pkg/session/impl"
	"github.com/textileio/go-tonconnect/pkg/storage"
	"github.com/textileio/go-tonconnect/pkg/storage/impl/memory"
	"github.com/textileio/go-tonconnect/pkg/tonconnect"
	"github.com/textileio/go-tonconnect/pkg/wallet"
	walletimpl "github.com/textileio/go-tonconnect/pkg/wallet/impl"
)

const (
	testSeed     = "9d61b19deffd5a60ba844af492ec2cc44449c5697b326919703bac031cae7f60"
	testClientID = "2b9f1c3e5a7d9f0b1d3f5a7c9e0b2d4f6a8c0e2b4d6f8a0c2e4b6d8f0a2c4e6b"
	testDest     = "0:83dfd552e63729b472fcbcc8c45ebcc6691702558b68ec7527e1ba403a0f31a8"
)

var testNow = time.Unix(1_700_000_000, 0)

func TestApproveConnect(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newEnv(t)

	req := eventrouter.ConnectRequest{
		Request: eventrouter.Request{ID: "1", SessionID: testClientID},
		DApp:    eventrouter.DAppInfo{Name: "Example", Domain: "app.example", URL: "https://app.example"},
		Items: []tonconnect.ConnectItem{
			{Name: tonconnect.ItemTonAddr},
			{Name: tonconnect.ItemTonProof, Payload: "nonce-123"},
		},
	}
	payload, err := env.rp.ApproveConnect(ctx, req)
	require.NoError(t, err)
	require.Len(t, payload.Items, 2)
	require.Equal(t, requestprocessor.MaxProtocolVersion, payload.Device.MaxProtocolVersion)

	addrItem, ok := payload.Items[0].(tonconnect.TonAddrItemReply)
	require.True(t, ok)
	require.Equal(t, env.wallet.GetAddress(), addrItem.Address)
	require.Equal(t, tonconnect.ChainMainnet, addrItem.Network)
	require.Equal(t, hex.EncodeToString(env.wallet.PublicKey()), addrItem.PublicKey)
	require.NotEmpty(t, addrItem.WalletStateInit)

	proofItem, ok := payload.Items[1].(tonconnect.TonProofItemReply)
	require.True(t, ok)
	require.Equal(t, testNow.Unix(), proofItem.Proof.Timestamp)
	require.Equal(t, tonconnect.TonProofDomain{LengthBytes: 11, Value: "app.example"}, proofItem.Proof.Domain)
	require.Equal(t, "nonce-123", proofItem.Proof.Payload)

	sig, err := base64.StdEncoding.DecodeString(proofItem.Proof.Signature)
	require.NoError(t, err)
	addr, err := tonconnect.ParseAddress(env.wallet.GetAddress())
	require.NoError(t, err)
	digest := tonconnect.TonProofHash(addr, "app.example", testNow.Unix(), "nonce-123")
	require.True(t, ed25519.Verify(env.wallet.PublicKey(), digest, sig))

	s, err := env.sessions.GetSession(ctx, testClientID)
	require.NoError(t, err)
	require.Equal(t, env.wallet.GetAddress(), s.WalletAddress)
	require.Equal(t, "Example", s.DAppName)

	resps := env.bridge.Responses(testClientID)
	require.Len(t, resps, 1)
	require.Equal(t, "connect", resps[0].Event)
	require.Equal(t, "1", resps[0].ID)
}

func TestApproveConnectProofNeedsDomain(t *testing.T) {
	t.Parallel()
	env := newEnv(t)

	req := eventrouter.ConnectRequest{
		Request: eventrouter.Request{ID: "1", SessionID: testClientID},
		Items:   []tonconnect.ConnectItem{{Name: tonconnect.ItemTonProof, Payload: "p"}},
	}
	_, err := env.rp.ApproveConnect(context.Background(), req)
	require.Error(t, err)

	_, err = env.sessions.GetSession(context.Background(), testClientID)
	require.ErrorIs(t, err, session.ErrSessionNotFound)
	require.Empty(t, env.bridge.Responses(testClientID))
}

func TestRejectConnect(t *testing.T) {
	t.Parallel()
	env := newEnv(t)

	req := eventrouter.ConnectRequest{Request: eventrouter.Request{ID: "7", SessionID: testClientID}}
	require.NoError(t, env.rp.RejectConnect(context.Background(), req))

	resps := env.bridge.Responses(testClientID)
	require.Len(t, resps, 1)
	require.Equal(t, "connect_error", resps[0].Event)
	require.True(t, resps[0].IsError())
	protoErr, ok := resps[0].Payload.(*tonconnect.Error)
	require.True(t, ok)
	require.Equal(t, tonconnect.UserRejectsError, protoErr.Code)
}

func TestApproveTransaction(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		t.Parallel()
		env := newEnv(t)
		env.bind(t)

		res, err := env.rp.ApproveTransaction(ctx, txRequest(env, testNow.Add(time.Minute).Unix()))
		require.NoError(t, err)
		require.NotEmpty(t, res.Boc)
		require.Equal(t, "hash-1", res.Hash)
		require.Equal(t, []string{res.Boc}, env.client.sent())

		resps := env.bridge.Responses(testClientID)
		require.Len(t, resps, 1)
		require.Equal(t, "tx-1", resps[0].ID)
		require.Equal(t, res.Boc, resps[0].Result)
	})

	t.Run("expired", func(t *testing.T) {
		t.Parallel()
		env := newEnv(t)
		env.bind(t)

		_, err := env.rp.ApproveTransaction(ctx, txRequest(env, testNow.Add(-time.Second).Unix()))
		require.ErrorIs(t, err, requestprocessor.ErrRequestExpired)
		require.Empty(t, env.client.sent())
		require.Empty(t, env.bridge.Responses(testClientID))
	})

	t.Run("send failure", func(t *testing.T) {
		t.Parallel()
		env := newEnv(t)
		env.bind(t)
		env.client.sendErr = errors.New("liteserver unavailable")

		_, err := env.rp.ApproveTransaction(ctx, txRequest(env, 0))
		require.Error(t, err)
		require.Empty(t, env.bridge.Responses(testClientID))
	})

	t.Run("unknown wallet", func(t *testing.T) {
		t.Parallel()
		env := newEnv(t)

		req := txRequest(env, 0)
		req.WalletAddress = testDest
		_, err := env.rp.ApproveTransaction(ctx, req)
		require.ErrorIs(t, err, wallet.ErrWalletNotFound)
	})
}

func TestApproveSignData(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newEnv(t)
	env.bind(t)

	req := eventrouter.SignDataRequest{
		Request: eventrouter.Request{
			ID:            "sd-1",
			SessionID:     testClientID,
			Domain:        "app.example",
			WalletAddress: env.wallet.GetAddress(),
		},
		Payload: tonconnect.SignDataPayload{Type: tonconnect.SignDataText, Text: "sign me"},
	}
	res, err := env.rp.ApproveSignData(ctx, req)
	require.NoError(t, err)
	require.Equal(t, env.wallet.GetAddress(), res.Address)
	require.Equal(t, testNow.Unix(), res.Timestamp)
	require.Equal(t, "app.example", res.Domain)

	addr, err := tonconnect.ParseAddress(env.wallet.GetAddress())
	require.NoError(t, err)
	digest, err := tonconnect.SignDataHash(addr, "app.example", testNow.Unix(), req.Payload)
	require.NoError(t, err)
	sig, err := base64.StdEncoding.DecodeString(res.Signature)
	require.NoError(t, err)
	require.True(t, ed25519.Verify(env.wallet.PublicKey(), digest, sig))

	resps := env.bridge.Responses(testClientID)
	require.Len(t, resps, 1)
	require.Equal(t, "sd-1", resps[0].ID)
	require.Equal(t, res, resps[0].Result)
}

func TestRejectRequest(t *testing.T) {
	t.Parallel()
	env := newEnv(t)

	req := eventrouter.Request{ID: "9", SessionID: testClientID}
	require.NoError(t, env.rp.RejectRequest(context.Background(), req, tonconnect.UserRejectsError, ""))

	resps := env.bridge.Responses(testClientID)
	require.Len(t, resps, 1)
	require.Equal(t, "9", resps[0].ID)
	require.Equal(t, tonconnect.UserRejectsError, resps[0].Error.Code)
	require.Equal(t, "request was rejected", resps[0].Error.Message)
}

func TestDisconnect(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newEnv(t)
	env.bind(t)

	require.NoError(t, env.rp.Disconnect(ctx, testClientID))

	_, err := env.sessions.GetSession(ctx, testClientID)
	require.ErrorIs(t, err, session.ErrSessionNotFound)
	resps := env.bridge.Responses(testClientID)
	require.Len(t, resps, 1)
	require.Equal(t, "disconnect", resps[0].Event)

	err = env.rp.Disconnect(ctx, testClientID)
	require.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestInvalidOptions(t *testing.T) {
	t.Parallel()

	_, err := New(wallet.NewManager(), nil, nil, requestprocessor.WithClock(nil))
	require.Error(t, err)
	_, err = New(wallet.NewManager(), nil, nil, requestprocessor.WithDevice("", "app", "1"))
	require.Error(t, err)

	rp, err := New(wallet.NewManager(), nil, nil, requestprocessor.WithDevice("ios", "MyWallet", ""))
	require.NoError(t, err)
	require.Equal(t, "MyWallet", rp.config.Device.AppName)
}

type chainClientMock struct {
	mu      sync.Mutex
	boc     []string
	sendErr error
}

func (c *chainClientMock) GetAccountState(context.Context, string) (wallet.AccountState, error) {
	return wallet.AccountState{Balance: big.NewInt(5_000_000_000), Seqno: 1, Status: "active"}, nil
}

func (c *chainClientMock) SendBoc(_ context.Context, boc string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return "", c.sendErr
	}
	c.boc = append(c.boc, boc)
	return "hash-1", nil
}

func (c *chainClientMock) sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.boc...)
}

type env struct {
	rp       *RequestProcessor
	bridge   *bridgeimpl.Loopback
	sessions session.Manager
	wallet   *walletimpl.LocalWallet
	client   *chainClientMock
}

func newEnv(t *testing.T) *env {
	t.Helper()

	client := &chainClientMock{}
	w, err := walletimpl.NewLocalWallet(testSeed, tonconnect.ChainMainnet, client)
	require.NoError(t, err)
	wallets := wallet.NewManager()
	_, err = wallets.Register(w)
	require.NoError(t, err)

	sessions := sessionimpl.NewManager(memory.New(), storage.JSON)
	br := bridgeimpl.NewLoopback(nil)
	rp, err := New(wallets, sessions, br, requestprocessor.WithClock(func() time.Time { return testNow }))
	require.NoError(t, err)

	return &env{rp: rp, bridge: br, sessions: sessions, wallet: w, client: client}
}

func (e *env) bind(t *testing.T) {
	t.Helper()
	_, err := e.sessions.CreateSession(context.Background(), testClientID, e.wallet.GetAddress(), session.DApp{Name: "Example"})
	require.NoError(t, err)
}

func txRequest(e *env, validUntil int64) eventrouter.TransactionRequest {
	return eventrouter.TransactionRequest{
		Request: eventrouter.Request{ID: "tx-1", SessionID: testClientID, WalletAddress: e.wallet.GetAddress()},
		Payload: tonconnect.TransactionPayload{
			ValidUntil: validUntil,
			Messages:   []tonconnect.TransactionMessage{{Address: testDest, Amount: "1000000"}},
		},
	}
}
