package middlewares

// ContextKey is used to key context values.
type ContextKey int

const (
	// ContextKeyClient is used to store the authenticated API client of the
	// incoming request. It's derived from the bearer token.
	ContextKeyClient ContextKey = iota
	// ContextIPAddress is used to store the ip address of the client for the incoming request,
	// this is found in either the request IP or the x-forwarded header.
	ContextIPAddress ContextKey = iota
)
