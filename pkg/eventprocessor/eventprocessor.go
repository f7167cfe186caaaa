package eventprocessor

import (
	"fmt"
	"time"

	"github.com/textileio/go-tonconnect/pkg/tonconnect"
)

type webhook struct {
	Enabled bool
	URL     string
}

// Config contains configuration attributes for an event processor.
type Config struct {
	// RecoveryInterval is the pace of stale lock recovery sweeps.
	RecoveryInterval  time.Duration
	// ProcessingTimeout is how long an event can stay locked before it's
	// considered abandoned. It must exceed the slowest legitimate handling,
	// otherwise live events get reclaimed and handled twice.
	ProcessingTimeout time.Duration
	CleanupInterval   time.Duration
	// Retention is how long completed events are kept.
	Retention         time.Duration
	// MaxRetries is the number of failed attempts after which an event is
	// marked as errored. Zero retries forever.
	MaxRetries        int
	// RetryDelay is the idle backoff between empty polls and after failures.
	RetryDelay        time.Duration
	EnabledEventTypes []tonconnect.EventType
	Webhook           webhook
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		RecoveryInterval:  time.Minute,
		ProcessingTimeout: 5 * time.Minute,
		CleanupInterval:   time.Hour,
		Retention:         24 * time.Hour,
		MaxRetries:        3,
		RetryDelay:        time.Second,
		EnabledEventTypes: append([]tonconnect.EventType(nil), tonconnect.AllEventTypes...),
	}
}

// Option modifies a configuration attribute.
type Option func(*Config) error

// WithRecoveryInterval configures how often stale locks are recovered.
func WithRecoveryInterval(d time.Duration) Option {
	return func(c *Config) error {
		if d <= 0 {
			return fmt.Errorf("recovery interval must be positive")
		}
		c.RecoveryInterval = d
		return nil
	}
}

// WithProcessingTimeout configures after how long a locked event is considered stale.
func WithProcessingTimeout(d time.Duration) Option {
	return func(c *Config) error {
		if d <= 0 {
			return fmt.Errorf("processing timeout must be positive")
		}
		c.ProcessingTimeout = d
		return nil
	}
}

// WithCleanupInterval configures how often old events are removed.
func WithCleanupInterval(d time.Duration) Option {
	return func(c *Config) error {
		if d <= 0 {
			return fmt.Errorf("cleanup interval must be positive")
		}
		c.CleanupInterval = d
		return nil
	}
}

// WithRetention configures how long finished events are kept.
func WithRetention(d time.Duration) Option {
	return func(c *Config) error {
		if d <= 0 {
			return fmt.Errorf("retention must be positive")
		}
		c.Retention = d
		return nil
	}
}

// WithMaxRetries configures after how many failed attempts an event is errored.
func WithMaxRetries(n int) Option {
	return func(c *Config) error {
		if n < 0 {
			return fmt.Errorf("max retries cannot be negative")
		}
		c.MaxRetries = n
		return nil
	}
}

// WithRetryDelay configures the idle backoff of processing loops.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Config) error {
		if d <= 0 {
			return fmt.Errorf("retry delay must be positive")
		}
		c.RetryDelay = d
		return nil
	}
}

// WithEnabledEventTypes restricts the event types that are processed.
func WithEnabledEventTypes(types ...tonconnect.EventType) Option {
	return func(c *Config) error {
		if len(types) == 0 {
			return fmt.Errorf("at least one event type must be enabled")
		}
		for _, t := range types {
			if _, ok := tonconnect.EventTypeFromMethod(string(t)); !ok {
				return fmt.Errorf("unknown event type %q", t)
			}
		}
		c.EnabledEventTypes = append([]tonconnect.EventType(nil), types...)
		return nil
	}
}

// WithWebhook is set when we want to send event outcome notifications
// to an external webhook.
func WithWebhook(url string) Option {
	return func(c *Config) error {
		if url == "" {
			return fmt.Errorf("webhook url is empty")
		}
		c.Webhook.Enabled = true
		c.Webhook.URL = url
		return nil
	}
}

// EventProcessor drives the durable event queue: one loop per wallet plus
// the recovery and cleanup sweeps.
type EventProcessor interface {
	// Start starts the recovery and cleanup loops.
	Start() error
	// StartProcessing starts the loop of a wallet. It's a no-op if it's running.
	StartProcessing(walletAddress string) error
	// StartNoWalletProcessing starts the loop for events without wallet context.
	StartNoWalletProcessing() error
	// StopProcessing stops the loop of a wallet after its current iteration.
	StopProcessing(walletAddress string)
	// Notify wakes up idle loops, e.g. after a new event was stored.
	Notify()
	// ActiveLoops returns the scopes with a running loop.
	ActiveLoops() []string
	// Stop stops every loop. In-flight events finish being handled.
	Stop()
}

// Outcome describes how the processing of an event ended.
type Outcome struct {
	EventID    string               `json:"eventId"`
	Type       tonconnect.EventType `json:"type"`
	Scope      string               `json:"scope"`
	SessionID  string               `json:"sessionId,omitempty"`
	Attempt    int                  `json:"attempt"`
	Error      string               `json:"error,omitempty"`
	Terminal   bool                 `json:"terminal"`
	DurationMs int64                `json:"durationMs"`
}
