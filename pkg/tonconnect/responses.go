package tonconnect

// Response is a message sent from the wallet back to a dApp.
// RPC answers use ID with Result or Error; wallet events use Event and Payload.
type Response struct {
	ID      string      `json:"id,omitempty"`
	Event   string      `json:"event,omitempty"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
	Payload interface{} `json:"payload,omitempty"`
}

// IsError reports whether the response carries a protocol error.
func (r Response) IsError() bool {
	if r.Error != nil {
		return true
	}
	_, ok := r.Payload.(*Error)
	return ok
}

// NewResultResponse answers an RPC request successfully.
func NewResultResponse(id string, result interface{}) Response {
	return Response{ID: id, Result: result}
}

// NewErrorResponse answers an RPC request with a protocol error.
func NewErrorResponse(id string, err *Error) Response {
	return Response{ID: id, Error: err}
}

// NewConnectResponse answers a connect request successfully.
func NewConnectResponse(id string, payload ConnectPayload) Response {
	return Response{ID: id, Event: "connect", Payload: payload}
}

// NewConnectErrorResponse answers a connect request with a protocol error.
func NewConnectErrorResponse(id string, err *Error) Response {
	return Response{ID: id, Event: "connect_error", Payload: err}
}

// NewDisconnectResponse notifies the dApp that the wallet closed the session.
func NewDisconnectResponse(id string) Response {
	return Response{ID: id, Event: "disconnect", Payload: struct{}{}}
}

// DeviceInfo describes the wallet application to the dApp.
type DeviceInfo struct {
	Platform           string        `json:"platform"`
	AppName            string        `json:"appName"`
	AppVersion         string        `json:"appVersion"`
	MaxProtocolVersion int           `json:"maxProtocolVersion"`
	Features           []interface{} `json:"features"`
}

// ConnectPayload is the payload of a successful connect event.
type ConnectPayload struct {
	Items  []interface{} `json:"items"`
	Device DeviceInfo    `json:"device"`
}

// TonAddrItemReply is the reply to a ton_addr item.
type TonAddrItemReply struct {
	Name            ConnectItemName `json:"name"`
	Address         string          `json:"address"`
	Network         Chain           `json:"network"`
	PublicKey       string          `json:"publicKey"`
	WalletStateInit string          `json:"walletStateInit"`
}

// TonProofItemReply is the reply to a ton_proof item.
type TonProofItemReply struct {
	Name  ConnectItemName `json:"name"`
	Proof TonProof        `json:"proof"`
}

// TonProofDomain is the dApp domain embedded in a ton_proof.
type TonProofDomain struct {
	LengthBytes int    `json:"lengthBytes"`
	Value       string `json:"value"`
}

// TonProof is a signed proof of address ownership.
type TonProof struct {
	Timestamp int64          `json:"timestamp"`
	Domain    TonProofDomain `json:"domain"`
	Signature string         `json:"signature"`
	Payload   string         `json:"payload"`
}

// SignDataResult is the result of a signData request.
type SignDataResult struct {
	Signature string          `json:"signature"`
	Address   string          `json:"address"`
	Timestamp int64           `json:"timestamp"`
	Domain    string          `json:"domain"`
	Payload   SignDataPayload `json:"payload"`
}
