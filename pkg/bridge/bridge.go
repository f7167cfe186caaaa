package bridge

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/textileio/go-tonconnect/pkg/tonconnect"
)

// Bridge carries wallet responses back to dApps.
type Bridge interface {
	// Send delivers a response to the dApp identified by sessionID.
	Send(ctx context.Context, sessionID string, resp tonconnect.Response) error
}

// Sink receives raw events delivered by a bridge.
type Sink interface {
	StoreEvent(ctx context.Context, raw tonconnect.RawEvent) error
}

// SinkFunc adapts a function into a Sink.
type SinkFunc func(ctx context.Context, raw tonconnect.RawEvent) error

// StoreEvent implements Sink.
func (f SinkFunc) StoreEvent(ctx context.Context, raw tonconnect.RawEvent) error {
	return f(ctx, raw)
}

// DefaultURL is the public TonConnect bridge.
const DefaultURL = "https://bridge.tonapi.io/bridge"

// Config contains configuration attributes for the HTTP bridge.
type Config struct {
	URL string
	// TTL is how long the bridge keeps a message for an offline dApp.
	TTL            time.Duration
	ReconnectDelay time.Duration
	RequestTimeout time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		URL:            DefaultURL,
		TTL:            5 * time.Minute,
		ReconnectDelay: 2 * time.Second,
		RequestTimeout: 10 * time.Second,
	}
}

// Option modifies a configuration attribute.
type Option func(*Config) error

// WithURL configures the bridge base url.
func WithURL(rawURL string) Option {
	return func(c *Config) error {
		u, err := url.Parse(rawURL)
		if err != nil {
			return fmt.Errorf("parsing bridge url: %s", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("bridge url must be http or https")
		}
		c.URL = strings.TrimRight(rawURL, "/")
		return nil
	}
}

// WithTTL configures how long undelivered responses are kept by the bridge.
func WithTTL(ttl time.Duration) Option {
	return func(c *Config) error {
		if ttl < time.Second {
			return fmt.Errorf("ttl must be at least one second")
		}
		c.TTL = ttl
		return nil
	}
}

// WithReconnectDelay configures the pause before resubscribing after a failure.
func WithReconnectDelay(d time.Duration) Option {
	return func(c *Config) error {
		if d <= 0 {
			return fmt.Errorf("reconnect delay must be positive")
		}
		c.ReconnectDelay = d
		return nil
	}
}
