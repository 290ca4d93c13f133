package tunio

import (
	"encoding/binary"
	"fmt"
	"syscall"

	"golang.zx2c4.com/wireguard/tun"
)

// packetOffset is the header room the underlying engine reserves in
// front of every packet (utun's 4-byte address-family prefix on
// Darwin/FreeBSD; unused but harmless on Linux and Windows, which
// don't need it). Reserving it unconditionally keeps one code path
// for every platform tun.CreateTUN supports.
const packetOffset = 4

// wgDevice adapts golang.zx2c4.com/wireguard/tun.Device, a
// cross-platform TUN engine, to our single-packet Device contract.
// tun.Device batches multiple packets per call; this adapter always
// passes a one-element batch, matching the pump's one-packet-at-a-time
// model. Buffers are allocated once and reused, never per packet.
type wgDevice struct {
	dev tun.Device

	readBuf  []byte
	readVec  [][]byte
	sizes    []int
	writeBuf []byte
	writeVec [][]byte
}

// Open provisions a layer-3 TUN interface named ifName (a requested
// name; the kernel may assign a different one, e.g. Darwin utun).
func Open(ifName string, mtu int) (Device, error) {
	dev, err := tun.CreateTUN(ifName, mtu)
	if err != nil {
		return nil, fmt.Errorf("tunio: create TUN %q: %w", ifName, err)
	}

	bufSize := mtu + packetOffset
	rb := make([]byte, bufSize)
	wb := make([]byte, bufSize)
	return &wgDevice{
		dev:      dev,
		readBuf:  rb,
		readVec:  [][]byte{rb},
		sizes:    []int{0},
		writeBuf: wb,
		writeVec: [][]byte{wb},
	}, nil
}

// Read copies one clean IP packet (header room stripped) into buf.
func (d *wgDevice) Read(buf []byte) (int, error) {
	d.sizes[0] = 0
	if _, err := d.dev.Read(d.readVec, d.sizes, packetOffset); err != nil {
		return 0, err
	}
	n := d.sizes[0]
	if n > len(buf) {
		return 0, fmt.Errorf("tunio: packet of %d bytes exceeds destination buffer of %d", n, len(buf))
	}
	copy(buf, d.readBuf[packetOffset:packetOffset+n])
	return n, nil
}

// Write transmits one IP packet, prefixing the address-family header
// the engine expects at the reserved offset.
func (d *wgDevice) Write(buf []byte) error {
	if len(buf) == 0 {
		return fmt.Errorf("tunio: empty packet")
	}
	if len(buf)+packetOffset > len(d.writeBuf) {
		return fmt.Errorf("tunio: packet of %d bytes exceeds MTU buffer", len(buf))
	}

	family := uint32(syscall.AF_INET)
	if buf[0]>>4 == 6 {
		family = uint32(syscall.AF_INET6)
	}
	binary.BigEndian.PutUint32(d.writeBuf[:packetOffset], family)
	copy(d.writeBuf[packetOffset:], buf)
	d.writeVec[0] = d.writeBuf[:packetOffset+len(buf)]

	_, err := d.dev.Write(d.writeVec, packetOffset)
	return err
}

func (d *wgDevice) Name() (string, error) {
	return d.dev.Name()
}

func (d *wgDevice) Close() error {
	return d.dev.Close()
}
