// Package api exposes the probe service over HTTP. The server is a thin
// control plane: request validation and status mapping live here, while all
// security checks happen inside the gateway before any socket is opened.
//
// Routes are versioned under /v1 so additions stay non-breaking. Security
// blocks surface as 403 with a stable error_kind token; network and protocol
// failures after a permitted connection return 200 with success=false, since
// the probe itself ran as requested.
package api
