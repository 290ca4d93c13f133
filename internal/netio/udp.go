package netio

import (
	"fmt"
	"net"
)

// Endpoint is the single UDP socket the tunnel forwards datagrams
// through. It is deliberately unconnected (no Dial): a server must
// accept datagrams from whatever source the peer slot has learned,
// and a client's configured peer can still differ in port from what
// actually replies behind NAT.
type Endpoint struct {
	conn *net.UDPConn
}

// Open resolves host:port and opens a UDP socket. bind is true for a
// server (listen on host:port) and false for a client (listen on an
// ephemeral local port, send only to the resolved peer address).
// Returns the endpoint and the resolved address; for a client this is
// the peer to install into its PeerSlot, for a server it is the local
// bind address.
func Open(bind bool, host string, port int) (*Endpoint, *net.UDPAddr, error) {
	resolved, err := ResolveUDPAddr(host, port)
	if err != nil {
		return nil, nil, err
	}

	var conn *net.UDPConn
	if bind {
		conn, err = net.ListenUDP("udp", resolved)
	} else {
		conn, err = net.ListenUDP("udp", nil)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("netio: listen: %w", err)
	}
	if bind {
		if local, ok := conn.LocalAddr().(*net.UDPAddr); ok {
			resolved = local
		}
	}

	return &Endpoint{conn: conn}, resolved, nil
}

// Close releases the socket. A concurrent blocking RecvFrom returns
// an error immediately, which is how the UDP-side pump goroutine is
// woken for shutdown.
func (e *Endpoint) Close() error { return e.conn.Close() }

// SendTo transmits one datagram to addr.
func (e *Endpoint) SendTo(buf []byte, addr *net.UDPAddr) error {
	_, err := e.conn.WriteToUDP(buf, addr)
	return err
}

// RecvFrom blocks until one datagram arrives, returning its length
// and source address. Errors are returned raw; the pump classifies
// them via the classify package.
func (e *Endpoint) RecvFrom(buf []byte) (int, *net.UDPAddr, error) {
	return e.conn.ReadFromUDP(buf)
}
