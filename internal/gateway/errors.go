package gateway

import "errors"

// Connection errors form the closed taxonomy the HTTP layer maps to status
// codes. Security blocks (ErrHostBlocked, ErrEdgeNetworkBlocked) are raised
// before any socket is opened and must stay distinguishable from network
// failures, so operators can tell "we refused to try" from "we tried and
// failed".
//
// Design decision: We use package-level sentinel errors wrapped with
// fmt.Errorf("%w: ...") at the failure site. Callers branch with errors.Is()
// and still get a specific message for logs.
var (
	// ErrHostBlocked means HostValidator classified the destination as
	// internal or otherwise off-limits. No I/O was performed.
	ErrHostBlocked = errors.New("gateway: host blocked")

	// ErrEdgeNetworkBlocked means the destination resolved into a known
	// anycast edge provider's ranges. No connection was attempted.
	ErrEdgeNetworkBlocked = errors.New("gateway: edge network blocked")

	// ErrConnectTimeout means the connection attempt did not complete
	// within the caller's timeout. Any partial socket was closed.
	ErrConnectTimeout = errors.New("gateway: connect timeout")

	// ErrConnectFailed means the attempt completed with a failure such as
	// refusal, unreachable network, or resolution error.
	ErrConnectFailed = errors.New("gateway: connect failed")

	// ErrInvalidRequest means the caller supplied an unusable request
	// (zero port, unsupported network) and nothing was attempted.
	ErrInvalidRequest = errors.New("gateway: invalid connection request")
)

// ErrorKind returns the stable token used in API responses and metrics
// labels for a gateway error, or "internal" for anything else.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrHostBlocked):
		return "host-blocked"
	case errors.Is(err, ErrEdgeNetworkBlocked):
		return "edge-network-blocked"
	case errors.Is(err, ErrConnectTimeout):
		return "connect-timeout"
	case errors.Is(err, ErrConnectFailed):
		return "connect-failed"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid-request"
	default:
		return "internal"
	}
}
