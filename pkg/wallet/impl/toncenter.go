package impl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	logger "github.com/rs/zerolog/log"
	"github.com/textileio/go-tonconnect/pkg/tonconnect"
	"github.com/textileio/go-tonconnect/pkg/wallet"
)

// Default toncenter endpoints.
const (
	MainnetToncenterURL = "https://toncenter.com"
	TestnetToncenterURL = "https://testnet.toncenter.com"
)

// ToncenterURL returns the default toncenter endpoint of a network.
func ToncenterURL(network tonconnect.Chain) string {
	if network == tonconnect.ChainTestnet {
		return TestnetToncenterURL
	}
	return MainnetToncenterURL
}

// ToncenterClient is a wallet.ChainClient and wallet.Emulator backed by the toncenter HTTP API.
type ToncenterClient struct {
	log     zerolog.Logger
	http    *http.Client
	baseURL string
	apiKey  string

	retries    int
	retryDelay time.Duration
}

var (
	_ wallet.ChainClient = (*ToncenterClient)(nil)
	_ wallet.Emulator    = (*ToncenterClient)(nil)
)

// ToncenterOption modifies the client.
type ToncenterOption func(*ToncenterClient)

// WithAPIKey sets the key sent in the X-API-Key header.
func WithAPIKey(key string) ToncenterOption {
	return func(c *ToncenterClient) {
		c.apiKey = key
	}
}

// WithRetries sets how many times a failed call is retried and the delay between attempts.
func WithRetries(retries int, delay time.Duration) ToncenterOption {
	return func(c *ToncenterClient) {
		c.retries = retries
		c.retryDelay = delay
	}
}

// WithHTTPClient replaces the underlying http client.
func WithHTTPClient(hc *http.Client) ToncenterOption {
	return func(c *ToncenterClient) {
		c.http = hc
	}
}

// NewToncenterClient returns a client for the toncenter instance at baseURL.
func NewToncenterClient(baseURL string, opts ...ToncenterOption) *ToncenterClient {
	c := &ToncenterClient{
		log:        logger.With().Str("component", "toncenter").Logger(),
		http:       &http.Client{Timeout: 15 * time.Second},
		baseURL:    baseURL,
		retries:    2,
		retryDelay: 500 * time.Millisecond,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type walletInformation struct {
	Balance string `json:"balance"`
	Seqno   *int64 `json:"seqno,omitempty"`
	Status  string `json:"status"`
}

// GetAccountState implements wallet.ChainClient.
func (c *ToncenterClient) GetAccountState(ctx context.Context, address string) (wallet.AccountState, error) {
	q := url.Values{}
	q.Set("address", address)
	q.Set("use_v2", "false")

	var info walletInformation
	if err := c.do(ctx, http.MethodGet, "/api/v3/walletInformation?"+q.Encode(), nil, &info); err != nil {
		return wallet.AccountState{}, fmt.Errorf("getting wallet information: %w", err)
	}

	balance, ok := new(big.Int).SetString(info.Balance, 10)
	if !ok {
		return wallet.AccountState{}, fmt.Errorf("invalid balance %q", info.Balance)
	}
	state := wallet.AccountState{Balance: balance, Status: info.Status}
	if info.Seqno != nil {
		state.Seqno = uint32(*info.Seqno)
	}
	return state, nil
}

type sendMessageRequest struct {
	BOC string `json:"boc"`
}

type sendMessageResult struct {
	MessageHash string `json:"message_hash"`
}

// SendBoc implements wallet.ChainClient.
// Sending isn't idempotent from the caller perspective so it's never retried.
func (c *ToncenterClient) SendBoc(ctx context.Context, boc string) (string, error) {
	var res sendMessageResult
	if err := c.doOnce(ctx, http.MethodPost, "/api/v3/message", sendMessageRequest{BOC: boc}, &res); err != nil {
		return "", fmt.Errorf("sending message: %w", err)
	}
	return res.MessageHash, nil
}

type emulateMessage struct {
	Address   string  `json:"address"`
	Amount    string  `json:"amount"`
	Payload   *string `json:"payload"`
	StateInit *string `json:"stateInit"`
}

type emulateRequest struct {
	From        string           `json:"from"`
	Messages    []emulateMessage `json:"messages"`
	ValidUntil  *uint64          `json:"valid_until"`
	WithActions bool             `json:"with_actions"`
}

type emulateResponse struct {
	McBlockSeqno int64 `json:"mc_block_seqno"`
	Transactions map[string]struct {
		Account   string `json:"account"`
		TotalFees string `json:"total_fees"`
	} `json:"transactions"`
	Actions []struct {
		Type    string `json:"type"`
		Success bool   `json:"success"`
	} `json:"actions"`
	IsIncomplete bool `json:"is_incomplete"`
}

// Emulate implements wallet.Emulator.
func (c *ToncenterClient) Emulate(
	ctx context.Context,
	from string,
	tx tonconnect.TransactionPayload,
) (*wallet.Emulation, error) {
	req := emulateRequest{From: from, WithActions: true}
	if tx.ValidUntil > 0 {
		validUntil := uint64(tx.ValidUntil)
		req.ValidUntil = &validUntil
	}
	for _, m := range tx.Messages {
		em := emulateMessage{Address: m.Address, Amount: m.Amount}
		if m.Payload != "" {
			payload := m.Payload
			em.Payload = &payload
		}
		if m.StateInit != "" {
			stateInit := m.StateInit
			em.StateInit = &stateInit
		}
		req.Messages = append(req.Messages, em)
	}

	var res emulateResponse
	if err := c.do(ctx, http.MethodPost, "/api/emulate/v1/emulateTonConnect", req, &res); err != nil {
		return nil, fmt.Errorf("emulating transaction: %w", err)
	}

	emulation := &wallet.Emulation{
		McBlockSeqno: res.McBlockSeqno,
		TotalFees:    new(big.Int),
		Incomplete:   res.IsIncomplete,
	}
	for _, t := range res.Transactions {
		fees, ok := new(big.Int).SetString(t.TotalFees, 10)
		if !ok {
			return nil, fmt.Errorf("invalid fees %q", t.TotalFees)
		}
		emulation.TotalFees.Add(emulation.TotalFees, fees)
	}
	for _, a := range res.Actions {
		emulation.Actions = append(emulation.Actions, wallet.EmulatedAction{Type: a.Type, Success: a.Success})
	}
	return emulation, nil
}

// statusError is returned for non-2xx responses.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.code, e.body)
}

func (e *statusError) retryable() bool {
	return e.code == http.StatusTooManyRequests || e.code >= http.StatusInternalServerError
}

func (c *ToncenterClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var err error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			c.log.Debug().Err(err).Int("attempt", attempt).Str("path", path).Msg("retrying call")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retryDelay * time.Duration(attempt)):
			}
		}
		if err = c.doOnce(ctx, method, path, body, out); err == nil {
			return nil
		}
		var se *statusError
		if errors.As(err, &se) && !se.retryable() {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
	}
	return err
}

func (c *ToncenterClient) doOnce(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %s", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %s", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("http %s error: %s", method, err)
	}
	defer func() { _ = res.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(res.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("reading response: %s", err)
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return &statusError{code: res.StatusCode, body: string(data)}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response: %s", err)
	}
	return nil
}
