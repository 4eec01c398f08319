package domain

import (
	"fmt"
	"net"
	"strconv"
)

// TunnelEndpoint is the remote service discovery address of an established
// tunnel. It is only valid while the tunnel helper that printed it is alive.
type TunnelEndpoint struct {
	Address string `json:"address"`
	Port    int    `json:"port"`
}

func (e TunnelEndpoint) String() string {
	return net.JoinHostPort(e.Address, strconv.Itoa(e.Port))
}

// DebugEndpoint is the debug server listening inside a tunnel.
type DebugEndpoint struct {
	Address string `json:"address"`
	Port    int    `json:"port"`
}

// ConnectURL renders the URL the debugger's "process connect" expects.
func (e DebugEndpoint) ConnectURL() string {
	return fmt.Sprintf("connect://[%s]:%d", e.Address, e.Port)
}
