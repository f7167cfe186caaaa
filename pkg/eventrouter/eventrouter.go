package eventrouter

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/textileio/go-tonconnect/pkg/tonconnect"
	"github.com/textileio/go-tonconnect/pkg/wallet"
)

// ErrNoWallet indicates no wallet could be resolved for an event. It's a
// transient condition: the event is retried once a wallet is registered.
var ErrNoWallet = errors.New("no wallet available")

// Event is a raw event augmented with the wallet resolved by the processor.
// Wallet is nil for events processed without wallet context.
type Event struct {
	tonconnect.RawEvent
	Wallet wallet.Wallet
}

// Router validates events and dispatches them to their handler.
type Router interface {
	// RouteEvent handles an event. A nil error means the event is done with,
	// including events that were dropped or answered with a protocol error.
	// A non-nil error is transient and the event should be retried.
	RouteEvent(ctx context.Context, e Event) error
}

// Request carries what every request has in common.
type Request struct {
	// ID is the request id chosen by the dApp.
	ID            string `json:"id"`
	// SessionID is the dApp client id the request came from.
	SessionID     string `json:"sessionId"`
	Domain        string `json:"domain,omitempty"`
	WalletAddress string `json:"walletAddress,omitempty"`
	Timestamp     int64  `json:"timestamp,omitempty"`
}

// DAppInfo describes the dApp asking to connect.
type DAppInfo struct {
	Name                string `json:"name,omitempty"`
	URL                 string `json:"url,omitempty"`
	IconURL             string `json:"iconUrl,omitempty"`
	Domain              string `json:"domain,omitempty"`
	ManifestURL         string `json:"manifestUrl"`
	ManifestFetchFailed bool   `json:"manifestFetchFailed,omitempty"`
	ManifestError       string `json:"manifestError,omitempty"`
}

// Permission is a human readable description of a requested connect item.
type Permission struct {
	Name        tonconnect.ConnectItemName `json:"name"`
	Title       string                     `json:"title"`
	Description string                     `json:"description"`
}

// ConnectRequest asks the user to connect a wallet to a dApp.
type ConnectRequest struct {
	Request
	DApp        DAppInfo                 `json:"dApp"`
	Items       []tonconnect.ConnectItem `json:"items"`
	Permissions []Permission             `json:"permissions"`
}

// CellPreview is a human oriented rendition of a cell.
type CellPreview struct {
	Kind    string                 `json:"kind"`
	Comment string                 `json:"comment,omitempty"`
	Jetton  *JettonTransferPreview `json:"jettonTransfer,omitempty"`
	Hex     string                 `json:"hex,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

// Cell preview kinds.
const (
	CellKindEmpty          = "empty"
	CellKindComment        = "comment"
	CellKindEncrypted      = "encrypted_comment"
	CellKindJettonTransfer = "jetton_transfer"
	CellKindRaw            = "raw"
)

// JettonTransferPreview is a decoded jetton transfer body.
type JettonTransferPreview struct {
	QueryID             uint64 `json:"queryId"`
	Amount              string `json:"amount"`
	Destination         string `json:"destination"`
	ResponseDestination string `json:"responseDestination,omitempty"`
	ForwardTonAmount    string `json:"forwardTonAmount"`
}

// MessagePreview describes a single outgoing message.
type MessagePreview struct {
	Address      string       `json:"address"`
	Amount       string       `json:"amount"`
	Bounceable   bool         `json:"bounceable"`
	HasStateInit bool         `json:"hasStateInit"`
	Payload      *CellPreview `json:"payload,omitempty"`
}

// TransactionPreview summarizes the effects of a transaction request.
type TransactionPreview struct {
	TotalAmount    *big.Int          `json:"totalAmount"`
	Messages       []MessagePreview  `json:"messages"`
	Emulation      *wallet.Emulation `json:"emulation,omitempty"`
	EmulationError string            `json:"emulationError,omitempty"`
}

// TransactionRequest asks the user to sign and send a transaction.
type TransactionRequest struct {
	Request
	Payload tonconnect.TransactionPayload `json:"payload"`
	Preview TransactionPreview            `json:"preview"`
}

// SignDataPreview describes the data a dApp wants signed.
type SignDataPreview struct {
	Type tonconnect.SignDataType `json:"type"`
	Text string                  `json:"text,omitempty"`
	Size int                     `json:"size,omitempty"`
	Hex  string                  `json:"hex,omitempty"`
	Cell *CellPreview            `json:"cell,omitempty"`
}

// SignDataRequest asks the user to sign data.
type SignDataRequest struct {
	Request
	Payload tonconnect.SignDataPayload `json:"payload"`
	Preview SignDataPreview            `json:"preview"`
}

// DisconnectEvent notifies that a dApp closed its session.
type DisconnectEvent struct {
	Request
	Reason string `json:"reason,omitempty"`
}

// RequestError notifies that a request was answered with a protocol error.
type RequestError struct {
	Request
	Method string            `json:"method"`
	Error  *tonconnect.Error `json:"error"`
}

// Config contains configuration attributes for a router.
type Config struct {
	// EmulationRetries is how many times a failed emulation is retried.
	EmulationRetries    int
	EmulationRetryDelay time.Duration
	// MaxReasonLength caps the disconnect reason reported to callbacks.
	MaxReasonLength     int
	// ValidUntilLeeway tolerates clock skew when checking valid_until.
	ValidUntilLeeway    time.Duration
	Now                 func() time.Time
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		EmulationRetries:    2,
		EmulationRetryDelay: 500 * time.Millisecond,
		MaxReasonLength:     200,
		Now:                 time.Now,
	}
}

// Option modifies a configuration attribute.
type Option func(*Config) error

// WithEmulationRetries configures how failed emulations are retried.
func WithEmulationRetries(retries int, delay time.Duration) Option {
	return func(c *Config) error {
		if retries < 0 {
			return fmt.Errorf("retries cannot be negative")
		}
		if delay < 0 {
			return fmt.Errorf("retry delay cannot be negative")
		}
		c.EmulationRetries = retries
		c.EmulationRetryDelay = delay
		return nil
	}
}

// WithMaxReasonLength caps the length of disconnect reasons.
func WithMaxReasonLength(n int) Option {
	return func(c *Config) error {
		if n < 1 {
			return fmt.Errorf("max reason length must be positive")
		}
		c.MaxReasonLength = n
		return nil
	}
}

// WithValidUntilLeeway tolerates transactions that expired less than d ago.
func WithValidUntilLeeway(d time.Duration) Option {
	return func(c *Config) error {
		if d < 0 {
			return fmt.Errorf("leeway cannot be negative")
		}
		c.ValidUntilLeeway = d
		return nil
	}
}

// WithClock replaces the wall clock used for expiration checks.
func WithClock(now func() time.Time) Option {
	return func(c *Config) error {
		if now == nil {
			return fmt.Errorf("clock cannot be nil")
		}
		c.Now = now
		return nil
	}
}
