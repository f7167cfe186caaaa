package tonconnect

import "fmt"

// ErrorCode is a TonConnect protocol error code.
type ErrorCode int

// Error codes defined by the TonConnect protocol.
const (
	UnknownError            ErrorCode = 0
	BadRequestError         ErrorCode = 1
	ManifestNotFoundError   ErrorCode = 2
	ManifestContentError    ErrorCode = 3
	UnknownAppError         ErrorCode = 100
	UserRejectsError        ErrorCode = 300
	MethodNotSupportedError ErrorCode = 400
)

func (c ErrorCode) String() string {
	switch c {
	case UnknownError:
		return "UNKNOWN_ERROR"
	case BadRequestError:
		return "BAD_REQUEST_ERROR"
	case ManifestNotFoundError:
		return "MANIFEST_NOT_FOUND_ERROR"
	case ManifestContentError:
		return "MANIFEST_CONTENT_ERROR"
	case UnknownAppError:
		return "UNKNOWN_APP_ERROR"
	case UserRejectsError:
		return "USER_REJECTS_ERROR"
	case MethodNotSupportedError:
		return "METHOD_NOT_SUPPORTED"
	default:
		return fmt.Sprintf("ERROR_%d", int(c))
	}
}

// Error is a structured protocol error that is sent back to the dApp.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// NewError creates a protocol error.
func NewError(code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}
