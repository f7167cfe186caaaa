package tonconnect

// ConnectItemName names an item a dApp can request on connect.
type ConnectItemName string

const (
	// ItemTonAddr requests the wallet address, network, public key and state init.
	ItemTonAddr ConnectItemName = "ton_addr"
	// ItemTonProof requests a signed proof of address ownership.
	ItemTonProof ConnectItemName = "ton_proof"
)

// ConnectItem is an item requested in a connect request.
type ConnectItem struct {
	Name    ConnectItemName `json:"name"`
	Payload string          `json:"payload,omitempty"`
}

// ConnectParams are the params of a connect request.
type ConnectParams struct {
	ManifestURL string        `json:"manifestUrl"`
	Manifest    *struct {
		URL string `json:"url"`
	} `json:"manifest,omitempty"`
	Items []ConnectItem `json:"items"`
}

// URL returns the manifest url regardless of which field the dApp used.
func (p ConnectParams) URL() string {
	if p.ManifestURL != "" {
		return p.ManifestURL
	}
	if p.Manifest != nil {
		return p.Manifest.URL
	}
	return ""
}

// Manifest is the tonconnect-manifest.json published by a dApp.
type Manifest struct {
	URL              string `json:"url"`
	Name             string `json:"name"`
	IconURL          string `json:"iconUrl"`
	TermsOfUseURL    string `json:"termsOfUseUrl,omitempty"`
	PrivacyPolicyURL string `json:"privacyPolicyUrl,omitempty"`
}

// TransactionMessage is a single outgoing message of a transaction request.
type TransactionMessage struct {
	Address   string `json:"address"`
	Amount    string `json:"amount"`
	Payload   string `json:"payload,omitempty"`
	StateInit string `json:"stateInit,omitempty"`
}

// TransactionPayload is the payload of a sendTransaction request.
type TransactionPayload struct {
	ValidUntil int64                `json:"valid_until,omitempty"`
	Network    Chain                `json:"network,omitempty"`
	From       string               `json:"from,omitempty"`
	Messages   []TransactionMessage `json:"messages"`
}

// SignDataType is the kind of data a dApp asks to sign.
type SignDataType string

const (
	// SignDataText is human readable text.
	SignDataText SignDataType = "text"
	// SignDataBinary is opaque base64 encoded bytes.
	SignDataBinary SignDataType = "binary"
	// SignDataCell is a base64 BOC described by a TL-B schema.
	SignDataCell SignDataType = "cell"
)

// SignDataPayload is the payload of a signData request.
type SignDataPayload struct {
	Type    SignDataType `json:"type"`
	Text    string       `json:"text,omitempty"`
	Bytes   string       `json:"bytes,omitempty"`
	Schema  string       `json:"schema,omitempty"`
	Cell    string       `json:"cell,omitempty"`
	Network Chain        `json:"network,omitempty"`
	From    string       `json:"from,omitempty"`
}

// DisconnectParams are the optional params of a disconnect request.
type DisconnectParams struct {
	Reason string `json:"reason,omitempty"`
}
