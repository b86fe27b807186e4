package utils

import "io"

// DrainAndClose empties and closes an HTTP response body. The RPC client
// calls it on every response so the transport can reuse the connection
// to the chain node instead of redialing per poll.
func DrainAndClose(rc io.ReadCloser) error {
	if rc == nil {
		return nil
	}
	_, _ = io.Copy(io.Discard, rc)
	return rc.Close()
}
