package impl

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"github.com/rs/zerolog"
	logger "github.com/rs/zerolog/log"
	"github.com/textileio/go-tonconnect/pkg/tonconnect"
	"github.com/textileio/go-tonconnect/pkg/wallet"
	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tlb"
	tonwallet "github.com/xssnick/tonutils-go/ton/wallet"
	"github.com/xssnick/tonutils-go/tvm/cell"
)

const (
	// MaxMessages is the number of outgoing messages a v4 wallet accepts per transaction.
	MaxMessages = 4

	defaultValidity = 5 * time.Minute
	sendMode        = 3 // pay fees separately, ignore errors
)

// LocalWallet is a v4r2 wallet whose ed25519 key lives in the process.
type LocalWallet struct {
	log       zerolog.Logger
	key       ed25519.PrivateKey
	subwallet uint32
	network   tonconnect.Chain
	addr      *address.Address
	stateInit *tlb.StateInit
	client    wallet.ChainClient
}

var _ wallet.Wallet = (*LocalWallet)(nil)

// NewLocalWallet creates a wallet from a hex encoded 32 byte ed25519 seed.
func NewLocalWallet(seedHex string, network tonconnect.Chain, client wallet.ChainClient) (*LocalWallet, error) {
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, fmt.Errorf("decoding seed: %s", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes long", ed25519.SeedSize)
	}
	return NewLocalWalletFromKey(ed25519.NewKeyFromSeed(seed), network, client)
}

// NewLocalWalletFromKey creates a wallet from an ed25519 private key.
func NewLocalWalletFromKey(
	key ed25519.PrivateKey,
	network tonconnect.Chain,
	client wallet.ChainClient,
) (*LocalWallet, error) {
	if network != tonconnect.ChainMainnet && network != tonconnect.ChainTestnet {
		return nil, fmt.Errorf("unknown network %q", network)
	}
	pub := key.Public().(ed25519.PublicKey)
	addr, err := tonwallet.AddressFromPubKey(pub, tonwallet.V4R2, tonwallet.DefaultSubwallet)
	if err != nil {
		return nil, fmt.Errorf("deriving address: %s", err)
	}
	addr.SetTestnetOnly(network == tonconnect.ChainTestnet)
	stateInit, err := tonwallet.GetStateInit(pub, tonwallet.V4R2, tonwallet.DefaultSubwallet)
	if err != nil {
		return nil, fmt.Errorf("building state init: %s", err)
	}

	return &LocalWallet{
		log: logger.With().
			Str("component", "wallet").
			Str("address", addr.String()).
			Logger(),
		key:       key,
		subwallet: tonwallet.DefaultSubwallet,
		network:   network,
		addr:      addr,
		stateInit: stateInit,
		client:    client,
	}, nil
}

// GetAddress implements wallet.Wallet.
func (w *LocalWallet) GetAddress() string {
	return tonconnect.RawAddress(w.addr)
}

// FriendlyAddress returns the user-friendly form of the address.
func (w *LocalWallet) FriendlyAddress() string {
	return w.addr.String()
}

// PublicKey implements wallet.Wallet.
func (w *LocalWallet) PublicKey() ed25519.PublicKey {
	return w.key.Public().(ed25519.PublicKey)
}

// Network implements wallet.Wallet.
func (w *LocalWallet) Network() tonconnect.Chain {
	return w.network
}

// Sign implements wallet.Wallet.
func (w *LocalWallet) Sign(_ context.Context, data []byte) ([]byte, error) {
	return ed25519.Sign(w.key, data), nil
}

// GetBalance implements wallet.Wallet.
func (w *LocalWallet) GetBalance(ctx context.Context) (*big.Int, error) {
	if w.client == nil {
		return nil, fmt.Errorf("wallet has no chain client")
	}
	state, err := w.client.GetAccountState(ctx, w.GetAddress())
	if err != nil {
		return nil, fmt.Errorf("getting account state: %s", err)
	}
	return state.Balance, nil
}

// GetStateInit implements wallet.Wallet.
func (w *LocalWallet) GetStateInit(_ context.Context) (string, error) {
	c, err := tlb.ToCell(w.stateInit)
	if err != nil {
		return "", fmt.Errorf("serializing state init: %s", err)
	}
	return base64.StdEncoding.EncodeToString(c.ToBOC()), nil
}

// SignTransaction implements wallet.Wallet.
func (w *LocalWallet) SignTransaction(ctx context.Context, tx tonconnect.TransactionPayload) (string, error) {
	if len(tx.Messages) == 0 || len(tx.Messages) > MaxMessages {
		return "", fmt.Errorf("transaction must have between 1 and %d messages", MaxMessages)
	}
	if w.client == nil {
		return "", fmt.Errorf("wallet has no chain client")
	}

	state, err := w.client.GetAccountState(ctx, w.GetAddress())
	if err != nil {
		return "", fmt.Errorf("getting account state: %s", err)
	}

	validUntil := tx.ValidUntil
	if validUntil == 0 {
		validUntil = time.Now().Add(defaultValidity).Unix()
	}

	payload := cell.BeginCell().
		MustStoreUInt(uint64(w.subwallet), 32).
		MustStoreUInt(uint64(validUntil), 32).
		MustStoreUInt(uint64(state.Seqno), 32).
		MustStoreUInt(0, 8) // simple send
	for i, m := range tx.Messages {
		msg, err := BuildInternalMessage(m)
		if err != nil {
			return "", fmt.Errorf("message %d: %s", i, err)
		}
		msgCell, err := tlb.ToCell(msg)
		if err != nil {
			return "", fmt.Errorf("serializing message %d: %s", i, err)
		}
		payload.MustStoreUInt(sendMode, 8).MustStoreRef(msgCell)
	}

	signature := ed25519.Sign(w.key, payload.EndCell().Hash())
	body := cell.BeginCell().
		MustStoreSlice(signature, 512).
		MustStoreBuilder(payload).
		EndCell()

	ext := &tlb.ExternalMessage{
		DstAddr: w.addr,
		Body:    body,
	}
	if state.Seqno == 0 && state.Status != "active" {
		ext.StateInit = w.stateInit
	}
	extCell, err := tlb.ToCell(ext)
	if err != nil {
		return "", fmt.Errorf("serializing external message: %s", err)
	}

	w.log.Debug().
		Uint32("seqno", state.Seqno).
		Int("messages", len(tx.Messages)).
		Msg("transaction signed")

	return base64.StdEncoding.EncodeToString(extCell.ToBOC()), nil
}

// SendBoc implements wallet.Wallet.
func (w *LocalWallet) SendBoc(ctx context.Context, boc string) (string, error) {
	if w.client == nil {
		return "", fmt.Errorf("wallet has no chain client")
	}
	hash, err := w.client.SendBoc(ctx, boc)
	if err != nil {
		return "", fmt.Errorf("sending boc: %s", err)
	}
	return hash, nil
}

// BuildInternalMessage converts a TonConnect message into an internal message.
func BuildInternalMessage(m tonconnect.TransactionMessage) (*tlb.InternalMessage, error) {
	dst, err := tonconnect.ParseAddress(m.Address)
	if err != nil {
		return nil, err
	}
	amount, err := tonconnect.ParseNanotons(m.Amount)
	if err != nil {
		return nil, err
	}

	msg := &tlb.InternalMessage{
		IHRDisabled: true,
		Bounce:      dst.IsBounceable(),
		DstAddr:     dst,
		Amount:      tlb.FromNanoTON(amount),
		Body:        cell.BeginCell().EndCell(),
	}
	if m.Payload != "" {
		if msg.Body, err = tonconnect.ParseBOC(m.Payload); err != nil {
			return nil, fmt.Errorf("payload: %s", err)
		}
	}
	if m.StateInit != "" {
		c, err := tonconnect.ParseBOC(m.StateInit)
		if err != nil {
			return nil, fmt.Errorf("state init: %s", err)
		}
		var si tlb.StateInit
		if err := tlb.LoadFromCell(&si, c.BeginParse()); err != nil {
			return nil, fmt.Errorf("decoding state init: %s", err)
		}
		msg.StateInit = &si
	}
	return msg, nil
}
