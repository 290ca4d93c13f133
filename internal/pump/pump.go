// Package pump is the bidirectional datagram forwarder between a TUN
// device and a UDP endpoint: the core of the tunnel. It runs one
// goroutine per direction rather than a single ready-set multiplexer
// because the TUN engine exposes no pollable descriptor; shutdown is
// delivered by closing both endpoints instead.
package pump

import (
	"context"
	"errors"
	"log"
	"net"
	"sync"

	"shadowtun/internal/classify"
	"shadowtun/internal/crypto"
	"shadowtun/internal/netio"
	"shadowtun/internal/tunio"
)

// bufSize is the one buffer size both directions need: ZeroBytes of
// scratch/header room plus up to mtu bytes of plaintext, which also
// happens to be exactly large enough to hold PacketOffset+OverheadLen
// bytes of wire header plus an mtu-sized payload.
func bufSize(mtu int) int { return crypto.ZeroBytes + mtu }

// Run starts the TUN->UDP and UDP->TUN goroutines and blocks until
// both return, which happens when ctx is canceled or either side hits
// a fatal I/O error (in which case cancel is called so the other
// goroutine also unwinds). isServer selects the address-learning rule
// for UDP->TUN.
func Run(ctx context.Context, cancel context.CancelFunc, dev tunio.Device, udp *netio.Endpoint, env *crypto.Envelope, peer *netio.PeerSlot, mtu int, isServer bool) {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		tunToUDP(ctx, cancel, dev, udp, env, peer, mtu)
	}()
	go func() {
		defer wg.Done()
		udpToTun(ctx, cancel, dev, udp, env, peer, mtu, isServer)
	}()

	wg.Wait()
}

// tunToUDP reads plaintext packets off the TUN device, encrypts them,
// and sends them to the current peer address. Packets are dropped
// silently if no peer is known yet (server before its first
// authenticated datagram).
func tunToUDP(ctx context.Context, cancel context.CancelFunc, dev tunio.Device, udp *netio.Endpoint, env *crypto.Envelope, peer *netio.PeerSlot, mtu int) {
	size := bufSize(mtu)
	tunBuf := make([]byte, size)
	udpBuf := make([]byte, size)

	go func() {
		<-ctx.Done()
		_ = dev.Close()
	}()

	for {
		if ctx.Err() != nil {
			return
		}

		n, err := dev.Read(tunBuf[crypto.ZeroBytes:])
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			switch classify.Classify(classify.OpTUNRead, err) {
			case classify.Skip:
			case classify.LogSkip:
				log.Printf("pump: read from TUN: %v", err)
			case classify.Fatal:
				log.Printf("pump: fatal TUN read error: %v", err)
				cancel()
				return
			}
			continue
		}

		addr := peer.Get()
		if addr == nil {
			continue
		}

		if err := env.Encrypt(udpBuf, tunBuf, n); err != nil {
			log.Printf("pump: encrypt: %v", err)
			continue
		}

		wireLen := crypto.PacketOffset + crypto.OverheadLen + n
		if err := udp.SendTo(udpBuf[crypto.PacketOffset:wireLen], addr); err != nil {
			if ctx.Err() != nil {
				return
			}
			switch classify.Classify(classify.OpUDPSend, err) {
			case classify.Skip:
			case classify.LogSkip:
				log.Printf("pump: send to %s: %v", addr, err)
			case classify.Fatal:
				log.Printf("pump: fatal UDP send error: %v", err)
				cancel()
				return
			}
		}
	}
}

// udpToTun receives datagrams, decrypts them, and writes the
// recovered plaintext to the TUN device. In server mode, a
// successfully authenticated datagram's source address replaces the
// peer slot (address learning); a client never updates its slot from
// received traffic.
func udpToTun(ctx context.Context, cancel context.CancelFunc, dev tunio.Device, udp *netio.Endpoint, env *crypto.Envelope, peer *netio.PeerSlot, mtu int, isServer bool) {
	size := bufSize(mtu)
	udpBuf := make([]byte, size)
	tunBuf := make([]byte, size)

	go func() {
		<-ctx.Done()
		_ = udp.Close()
	}()

	for {
		if ctx.Err() != nil {
			return
		}

		n, from, err := udp.RecvFrom(udpBuf[crypto.PacketOffset:])
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			switch classify.Classify(classify.OpUDPRecv, err) {
			case classify.Skip:
			case classify.LogSkip:
				log.Printf("pump: recv from UDP: %v", err)
			case classify.Fatal:
				log.Printf("pump: fatal UDP recv error: %v", err)
				cancel()
				return
			}
			continue
		}
		if n == 0 {
			continue
		}

		plaintextLen, err := env.Decrypt(tunBuf, udpBuf, n)
		if err != nil {
			if errors.Is(err, crypto.ErrAuthFailed) {
				log.Printf("dropping invalid packet, maybe wrong password")
				continue
			}
			log.Printf("pump: decrypt: %v", err)
			continue
		}

		if isServer {
			learnPeer(peer, from)
		}

		if err := dev.Write(tunBuf[crypto.ZeroBytes : crypto.ZeroBytes+plaintextLen]); err != nil {
			if ctx.Err() != nil {
				return
			}
			switch classify.Classify(classify.OpTUNWrite, err) {
			case classify.Skip:
			case classify.LogSkip:
				log.Printf("pump: write to TUN: %v", err)
			case classify.Fatal:
				log.Printf("pump: fatal TUN write error: %v", err)
				cancel()
				return
			}
		}
	}
}

func learnPeer(peer *netio.PeerSlot, from *net.UDPAddr) {
	if from == nil {
		return
	}
	peer.Set(from)
}
