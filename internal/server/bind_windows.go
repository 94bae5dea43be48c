//go:build windows

package server

import "net"

// reusePortListenConfig returns a plain ListenConfig: Windows has no
// SO_REUSEPORT, so standalone workers fall back to a normal bind.
func reusePortListenConfig() net.ListenConfig {
	return net.ListenConfig{}
}
