package errors

// ServiceError should be used to return error messages in JSON format.
// Code is a stable machine readable identifier of the failure, when there's one.
type ServiceError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Stable service error codes.
const (
	CodeInvalidEvent    = "invalid_event"
	CodeEventTooLarge   = "event_too_large"
	CodeNotFound        = "not_found"
	CodeRequestExpired  = "request_expired"
	CodeWalletNotFound  = "wallet_not_found"
	CodeInvalidArgument = "invalid_argument"
	CodeInternal        = "internal"
)
