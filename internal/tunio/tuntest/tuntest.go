// Package tuntest provides a channel-backed fake tunio.Device so the
// pump and vpn packages can be exercised without a real kernel TUN
// interface or root privileges.
package tuntest

import (
	"encoding/binary"
	"io"
	"net"
)

// ChannelTUN is a loopback TUN device: packets written to it appear
// on Inbound, and packets sent on Outbound are returned by Read, the
// same contract wireguard-go's own tuntest package uses.
type ChannelTUN struct {
	Inbound  chan []byte // packets the device under test wrote
	Outbound chan []byte // packets for Read to hand back

	closed chan struct{}
}

// NewChannelTUN returns a ready-to-use fake device.
func NewChannelTUN() *ChannelTUN {
	return &ChannelTUN{
		Inbound:  make(chan []byte, 16),
		Outbound: make(chan []byte, 16),
		closed:   make(chan struct{}),
	}
}

// Read blocks until a packet is queued on Outbound or the device is
// closed.
func (c *ChannelTUN) Read(buf []byte) (int, error) {
	select {
	case <-c.closed:
		return 0, io.EOF
	case msg := <-c.Outbound:
		return copy(buf, msg), nil
	}
}

// Write delivers buf on Inbound for the test to observe.
func (c *ChannelTUN) Write(buf []byte) error {
	msg := make([]byte, len(buf))
	copy(msg, buf)
	select {
	case <-c.closed:
		return io.EOF
	case c.Inbound <- msg:
		return nil
	}
}

func (c *ChannelTUN) Name() (string, error) { return "looptun0", nil }

// Close unblocks any pending Read or Write.
func (c *ChannelTUN) Close() error {
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
	return nil
}

// Ping builds a minimal ICMPv4 echo request from src to dst, useful as
// a throwaway packet payload in tests.
func Ping(dst, src net.IP) []byte {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint16(payload[0:], 1337)
	binary.BigEndian.PutUint16(payload[2:], 0)
	return genICMPv4(payload, dst, src)
}

func checksum(buf []byte, initial uint16) uint16 {
	v := uint32(initial)
	for i := 0; i < len(buf)-1; i += 2 {
		v += uint32(binary.BigEndian.Uint16(buf[i:]))
	}
	if len(buf)%2 == 1 {
		v += uint32(buf[len(buf)-1]) << 8
	}
	for v > 0xffff {
		v = (v >> 16) + (v & 0xffff)
	}
	return ^uint16(v)
}

func genICMPv4(payload []byte, dst, src net.IP) []byte {
	const (
		icmpv4Echo         = 8
		icmpv4Size         = 8
		ipv4Size           = 20
		ipv4TotalLenOffset = 2
		ipv4ChecksumOffset = 10
		ttl                = 64
		protoICMP          = 1
	)

	hdr := make([]byte, ipv4Size+icmpv4Size)
	ip := hdr[0:ipv4Size]
	icmpv4 := hdr[ipv4Size : ipv4Size+icmpv4Size]

	icmpv4[0] = icmpv4Echo
	icmpv4[1] = 0
	chksum := ^checksum(icmpv4, checksum(payload, 0))
	binary.BigEndian.PutUint16(icmpv4[2:], chksum)

	length := uint16(len(hdr) + len(payload))
	ip[0] = (4 << 4) | (ipv4Size / 4)
	binary.BigEndian.PutUint16(ip[ipv4TotalLenOffset:], length)
	ip[8] = ttl
	ip[9] = protoICMP
	copy(ip[12:], src.To4())
	copy(ip[16:], dst.To4())
	chksum = ^checksum(ip, 0)
	binary.BigEndian.PutUint16(ip[ipv4ChecksumOffset:], chksum)

	out := make([]byte, 0, len(hdr)+len(payload))
	out = append(out, hdr...)
	out = append(out, payload...)
	return out
}
