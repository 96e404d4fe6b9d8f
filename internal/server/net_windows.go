//go:build windows
// +build windows

package server

import (
	"net"

	"github.com/Microsoft/go-winio"
)

// On Windows the default host is a named pipe; the desktop frontend and
// the CLI subcommands dial the same address DefaultHost hands out.
func listen(network, address string) (net.Listener, error) {
	if network != "npipe" {
		return net.Listen(network, address)
	}
	cfg := &winio.PipeConfig{
		MessageMode:      true,
		InputBufferSize:  65536,
		OutputBufferSize: 65536,
	}
	return winio.ListenPipe(address, cfg)
}
