package wallet

import (
	"context"
	"crypto/ed25519"
	"errors"
	"math/big"

	"github.com/textileio/go-tonconnect/pkg/tonconnect"
)

// ErrWalletNotFound indicates no wallet is registered under the address.
var ErrWalletNotFound = errors.New("wallet not found")

// Wallet is the signing and sending capability of a wallet contract.
// It's a handle, not data, and is never persisted.
type Wallet interface {
	// GetAddress returns the raw form (workchain:hex) of the wallet address.
	GetAddress() string
	// PublicKey returns the ed25519 public key of the wallet.
	PublicKey() ed25519.PublicKey
	// Network returns the chain the wallet lives on.
	Network() tonconnect.Chain
	// Sign signs arbitrary bytes with the wallet key.
	Sign(ctx context.Context, data []byte) ([]byte, error)
	// GetBalance returns the wallet balance in nanotons.
	GetBalance(ctx context.Context) (*big.Int, error)
	// GetStateInit returns the base64 BOC of the wallet state init.
	GetStateInit(ctx context.Context) (string, error)
	// SignTransaction builds and signs the external message that performs the
	// transaction, returning its base64 BOC.
	SignTransaction(ctx context.Context, tx tonconnect.TransactionPayload) (string, error)
	// SendBoc broadcasts a base64 BOC and returns the message hash.
	SendBoc(ctx context.Context, boc string) (string, error)
}

// AccountState is what a chain client knows about a wallet contract.
type AccountState struct {
	Balance *big.Int
	Seqno   uint32
	Status  string
}

// ChainClient talks to the blockchain on behalf of wallets.
type ChainClient interface {
	GetAccountState(ctx context.Context, address string) (AccountState, error)
	SendBoc(ctx context.Context, boc string) (string, error)
}

// EmulatedAction is a high level action detected while emulating a trace.
type EmulatedAction struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
}

// Emulation is the outcome of emulating a transaction request.
type Emulation struct {
	McBlockSeqno int64            `json:"mcBlockSeqno"`
	TotalFees    *big.Int         `json:"totalFees"`
	Actions      []EmulatedAction `json:"actions,omitempty"`
	Incomplete   bool             `json:"incomplete"`
}

// Emulator previews the effects of a transaction request.
type Emulator interface {
	Emulate(ctx context.Context, from string, tx tonconnect.TransactionPayload) (*Emulation, error)
}
