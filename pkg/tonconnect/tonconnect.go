package tonconnect

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Method is the name of a TonConnect RPC method sent by a dApp.
type Method string

const (
	// MethodConnect starts a new dApp session.
	MethodConnect Method = "connect"
	// MethodSendTransaction asks the wallet to sign and send a transaction.
	MethodSendTransaction Method = "sendTransaction"
	// MethodSignData asks the wallet to sign arbitrary data.
	MethodSignData Method = "signData"
	// MethodDisconnect terminates a dApp session.
	MethodDisconnect Method = "disconnect"
)

// EventType is the closed set of event kinds the wallet knows how to process.
type EventType string

const (
	// EventConnect is a connect request.
	EventConnect EventType = "connect"
	// EventSendTransaction is a transaction request.
	EventSendTransaction EventType = "sendTransaction"
	// EventSignData is a sign data request.
	EventSignData EventType = "signData"
	// EventDisconnect is a disconnect notification.
	EventDisconnect EventType = "disconnect"
)

// AllEventTypes lists every supported event type.
var AllEventTypes = []EventType{EventConnect, EventSendTransaction, EventSignData, EventDisconnect}

// EventTypeFromMethod derives the event type for a method name.
// The mapping is deterministic; unknown methods report false.
func EventTypeFromMethod(method string) (EventType, bool) {
	switch Method(method) {
	case MethodConnect:
		return EventConnect, true
	case MethodSendTransaction:
		return EventSendTransaction, true
	case MethodSignData:
		return EventSignData, true
	case MethodDisconnect:
		return EventDisconnect, true
	default:
		return "", false
	}
}

// Chain identifies a TON network as TonConnect encodes it.
type Chain string

const (
	// ChainMainnet is the TON mainnet.
	ChainMainnet Chain = "-239"
	// ChainTestnet is the TON testnet.
	ChainTestnet Chain = "-3"
)

// RawEvent is an inbound request as delivered by the bridge.
type RawEvent struct {
	ID            string          `json:"id" msgpack:"id"`
	Method        string          `json:"method" msgpack:"method"`
	Params        json.RawMessage `json:"params,omitempty" msgpack:"params"`
	From          string          `json:"from,omitempty" msgpack:"from"`
	Domain        string          `json:"domain,omitempty" msgpack:"domain"`
	WalletAddress string          `json:"walletAddress,omitempty" msgpack:"walletAddress"`
	Timestamp     int64           `json:"timestamp,omitempty" msgpack:"timestamp"`
}

// Validate checks the structure every event must have regardless of its method.
func (e RawEvent) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return fmt.Errorf("event id is empty")
	}
	if _, ok := EventTypeFromMethod(e.Method); !ok {
		return fmt.Errorf("unknown method %q", e.Method)
	}
	if len(e.Params) > 0 && !json.Valid(e.Params) {
		return fmt.Errorf("params are not valid json")
	}
	return nil
}

// DecodeParams decodes the event params into v.
//
// dApps send sendTransaction and signData params as a one element array
// holding a JSON-encoded string, while connect params are usually a plain
// object. All three shapes are accepted.
func (e RawEvent) DecodeParams(v interface{}) error {
	if len(e.Params) == 0 {
		return fmt.Errorf("params are empty")
	}
	payload := []byte(e.Params)

	var arr []json.RawMessage
	if err := json.Unmarshal(payload, &arr); err == nil {
		if len(arr) == 0 {
			return fmt.Errorf("params array is empty")
		}
		payload = arr[0]
	}

	var str string
	if err := json.Unmarshal(payload, &str); err == nil {
		payload = []byte(str)
	}

	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("decoding params: %s", err)
	}
	return nil
}
