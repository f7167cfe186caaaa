package requestprocessor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/textileio/go-tonconnect/buildinfo"
	"github.com/textileio/go-tonconnect/pkg/eventrouter"
	"github.com/textileio/go-tonconnect/pkg/tonconnect"
)

// ErrRequestExpired indicates a transaction request is past its valid_until.
var ErrRequestExpired = errors.New("request expired")

// MaxProtocolVersion is the highest TonConnect protocol version spoken by the wallet.
const MaxProtocolVersion = 2

// Config contains configuration attributes for a request processor.
type Config struct {
	Device tonconnect.DeviceInfo
	Now    func() time.Time
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Device: tonconnect.DeviceInfo{
			Platform:           "linux",
			AppName:            "go-tonconnect",
			AppVersion:         buildinfo.GetSummary().Version,
			MaxProtocolVersion: MaxProtocolVersion,
			Features: []interface{}{
				"SendTransaction",
				map[string]interface{}{"name": "SendTransaction", "maxMessages": 4},
				map[string]interface{}{
					"name":  "SignData",
					"types": []tonconnect.SignDataType{tonconnect.SignDataText, tonconnect.SignDataBinary, tonconnect.SignDataCell},
				},
			},
		},
		Now: time.Now,
	}
}

// Option modifies a configuration attribute.
type Option func(*Config) error

// WithDevice configures the device info announced on connect.
func WithDevice(platform, appName, appVersion string) Option {
	return func(c *Config) error {
		if platform == "" || appName == "" {
			return fmt.Errorf("platform and app name can't be empty")
		}
		c.Device.Platform = platform
		c.Device.AppName = appName
		if appVersion != "" {
			c.Device.AppVersion = appVersion
		}
		return nil
	}
}

// WithClock configures the clock used for proof timestamps and expiration.
func WithClock(now func() time.Time) Option {
	return func(c *Config) error {
		if now == nil {
			return fmt.Errorf("clock can't be nil")
		}
		c.Now = now
		return nil
	}
}

// TransactionResult is the outcome of an approved transaction.
type TransactionResult struct {
	Boc  string `json:"boc"`
	Hash string `json:"hash"`
}

// RequestProcessor answers requests once the user decided about them.
type RequestProcessor interface {
	// ApproveConnect answers the requested items, binds the session to the
	// wallet and sends the connect event to the dApp.
	ApproveConnect(ctx context.Context, req eventrouter.ConnectRequest) (tonconnect.ConnectPayload, error)
	// RejectConnect answers a connect request with a user rejection.
	RejectConnect(ctx context.Context, req eventrouter.ConnectRequest) error
	// ApproveTransaction signs and broadcasts the transaction, then answers
	// with the signed external message.
	ApproveTransaction(ctx context.Context, req eventrouter.TransactionRequest) (TransactionResult, error)
	// ApproveSignData signs the data and answers with the signature.
	ApproveSignData(ctx context.Context, req eventrouter.SignDataRequest) (tonconnect.SignDataResult, error)
	// RejectRequest answers a request with a protocol error.
	RejectRequest(ctx context.Context, req eventrouter.Request, code tonconnect.ErrorCode, msg string) error
	// Disconnect closes a session from the wallet side.
	Disconnect(ctx context.Context, sessionID string) error
}
