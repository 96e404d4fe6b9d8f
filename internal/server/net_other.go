//go:build !windows
// +build !windows

package server

import "net"

// Off Windows the orchestrator listens on a unix socket (or plain TCP
// when configured); there is no npipe network here.
func listen(network, address string) (net.Listener, error) {
	return net.Listen(network, address)
}
