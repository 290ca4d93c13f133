// Package netio is the blocking UDP endpoint the pump reads and
// writes datagrams through, plus the peer address slot.
package netio

import (
	"net"
	"strconv"
	"sync"
)

// PeerSlot is the single remembered "other end of the tunnel"
// address. A nil address means "no known peer yet" (server before its
// first authenticated datagram). The TUN->UDP and UDP->TUN directions
// run as separate goroutines, so the slot is guarded by a mutex.
type PeerSlot struct {
	mu   sync.RWMutex
	addr *net.UDPAddr
}

// Get returns the current peer address, or nil if none is known yet.
func (p *PeerSlot) Get() *net.UDPAddr {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.addr
}

// Known reports whether a peer address has been learned or
// configured.
func (p *PeerSlot) Known() bool {
	return p.Get() != nil
}

// Set replaces the remembered peer address. Called once at init for
// a client (from DNS resolution) and on every successfully
// authenticated inbound datagram for a server (address learning).
func (p *PeerSlot) Set(addr *net.UDPAddr) {
	p.mu.Lock()
	p.addr = addr
	p.mu.Unlock()
}

// ResolveUDPAddr resolves "host:port" to a *net.UDPAddr.
func ResolveUDPAddr(host string, port int) (*net.UDPAddr, error) {
	return net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(port)))
}
