package pump

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"shadowtun/internal/crypto"
	"shadowtun/internal/netio"
	"shadowtun/internal/tunio/tuntest"
)

const testMTU = 1400

func mustEnvelope(t *testing.T, password string, isServer bool) *crypto.Envelope {
	t.Helper()
	env, err := crypto.NewEnvelope([]byte(password), isServer)
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	return env
}

// pair wires up a client pump and a server pump against each other
// over real loopback UDP sockets, each with its own fake TUN device,
// and returns everything needed to drive and tear the pair down.
type pair struct {
	clientTUN *tuntest.ChannelTUN
	serverTUN *tuntest.ChannelTUN

	serverPeer *netio.PeerSlot

	cancel context.CancelFunc
	done   chan struct{}
}

func newPair(t *testing.T, password string) *pair {
	t.Helper()

	serverUDP, serverAddr, err := netio.Open(true, "127.0.0.1", 0)
	if err != nil {
		t.Fatalf("server netio.Open: %v", err)
	}
	clientUDP, _, err := netio.Open(false, "127.0.0.1", serverAddr.Port)
	if err != nil {
		t.Fatalf("client netio.Open: %v", err)
	}

	clientPeer := &netio.PeerSlot{}
	clientPeer.Set(serverAddr)
	serverPeer := &netio.PeerSlot{}

	clientTUN := tuntest.NewChannelTUN()
	serverTUN := tuntest.NewChannelTUN()

	ctx, cancel := context.WithCancel(context.Background())

	clientEnv := mustEnvelope(t, password, false)
	serverEnv := mustEnvelope(t, password, true)

	done := make(chan struct{})
	go func() {
		defer close(done)
		var innerDone = make(chan struct{}, 2)
		go func() { Run(ctx, cancel, clientTUN, clientUDP, clientEnv, clientPeer, testMTU, false); innerDone <- struct{}{} }()
		go func() { Run(ctx, cancel, serverTUN, serverUDP, serverEnv, serverPeer, testMTU, true); innerDone <- struct{}{} }()
		<-innerDone
		<-innerDone
	}()

	return &pair{clientTUN: clientTUN, serverTUN: serverTUN, serverPeer: serverPeer, cancel: cancel, done: done}
}

func (p *pair) stop(t *testing.T) {
	t.Helper()
	p.cancel()
	select {
	case <-p.done:
	case <-time.After(2 * time.Second):
		t.Fatal("pump goroutines did not exit after cancel")
	}
}

func fakePacket(b byte, n int) []byte {
	pkt := make([]byte, n)
	for i := range pkt {
		pkt[i] = b
	}
	// A minimal IPv4-looking first byte so address-family sniffing on
	// the TUN write path doesn't misbehave.
	pkt[0] = 0x45
	return pkt
}

func TestClientToServerRoundTrip(t *testing.T) {
	p := newPair(t, "correct horse battery staple")
	defer p.stop(t)

	want := fakePacket(0xAB, 64)
	p.clientTUN.Outbound <- want

	select {
	case got := <-p.serverTUN.Inbound:
		if string(got) != string(want) {
			t.Fatalf("server received %x, want %x", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server to receive packet")
	}
}

func TestServerToClientRoundTripAfterLearning(t *testing.T) {
	p := newPair(t, "correct horse battery staple")
	defer p.stop(t)

	// Prime address learning: client sends first so the server learns
	// its return address.
	p.clientTUN.Outbound <- fakePacket(0x01, 32)
	<-p.serverTUN.Inbound

	want := fakePacket(0xCD, 48)
	p.serverTUN.Outbound <- want

	select {
	case got := <-p.clientTUN.Inbound:
		if string(got) != string(want) {
			t.Fatalf("client received %x, want %x", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for client to receive packet")
	}
}

func TestServerDropsBeforeLearningPeer(t *testing.T) {
	p := newPair(t, "correct horse battery staple")
	defer p.stop(t)

	// The server has no peer yet; nothing it writes should reach the
	// client's TUN device because there is nowhere to send it.
	p.serverTUN.Outbound <- fakePacket(0xEE, 16)

	select {
	case got := <-p.clientTUN.Inbound:
		t.Fatalf("client unexpectedly received %x before server learned a peer", got)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWrongPasswordDropsPacketSilently(t *testing.T) {
	serverUDP, serverAddr, err := netio.Open(true, "127.0.0.1", 0)
	if err != nil {
		t.Fatalf("server netio.Open: %v", err)
	}
	clientUDP, _, err := netio.Open(false, "127.0.0.1", serverAddr.Port)
	if err != nil {
		t.Fatalf("client netio.Open: %v", err)
	}

	clientPeer := &netio.PeerSlot{}
	clientPeer.Set(serverAddr)
	serverPeer := &netio.PeerSlot{}

	clientTUN := tuntest.NewChannelTUN()
	serverTUN := tuntest.NewChannelTUN()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clientEnv := mustEnvelope(t, "password-a", false)
	serverEnv := mustEnvelope(t, "password-b", true)

	go Run(ctx, cancel, clientTUN, clientUDP, clientEnv, clientPeer, testMTU, false)
	go Run(ctx, cancel, serverTUN, serverUDP, serverEnv, serverPeer, testMTU, true)

	clientTUN.Outbound <- fakePacket(0x99, 20)

	select {
	case got := <-serverTUN.Inbound:
		t.Fatalf("server accepted a wrong-password packet: %x", got)
	case <-time.After(200 * time.Millisecond):
	}

	if serverPeer.Known() {
		t.Fatal("server learned a peer from an unauthenticated packet")
	}
}

// rawSender is a UDP socket that speaks the client side of the
// envelope directly, without a pump of its own, standing in for a
// second or spoofing "client" the server has never seen before.
type rawSender struct {
	udp *netio.Endpoint
	env *crypto.Envelope
}

func newRawSender(t *testing.T, password string, to *net.UDPAddr) *rawSender {
	t.Helper()
	udp, _, err := netio.Open(false, "127.0.0.1", to.Port)
	if err != nil {
		t.Fatalf("rawSender netio.Open: %v", err)
	}
	return &rawSender{udp: udp, env: mustEnvelope(t, password, false)}
}

func (s *rawSender) sendEncrypted(t *testing.T, to *net.UDPAddr, plaintext []byte) {
	t.Helper()
	in := make([]byte, crypto.ZeroBytes+len(plaintext))
	copy(in[crypto.ZeroBytes:], plaintext)
	out := make([]byte, crypto.ZeroBytes+len(plaintext))
	if err := s.env.Encrypt(out, in, len(plaintext)); err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	wireLen := crypto.PacketOffset + crypto.OverheadLen + len(plaintext)
	if err := s.udp.SendTo(out[crypto.PacketOffset:wireLen], to); err != nil {
		t.Fatalf("SendTo: %v", err)
	}
}

func (s *rawSender) sendGarbage(t *testing.T, to *net.UDPAddr, n int) {
	t.Helper()
	garbage := bytes.Repeat([]byte{0xFF}, n)
	if err := s.udp.SendTo(garbage, to); err != nil {
		t.Fatalf("SendTo garbage: %v", err)
	}
}

func TestServerRelearnsPeerFromMostRecentSource(t *testing.T) {
	serverUDP, serverAddr, err := netio.Open(true, "127.0.0.1", 0)
	if err != nil {
		t.Fatalf("server netio.Open: %v", err)
	}
	serverPeer := &netio.PeerSlot{}
	serverTUN := tuntest.NewChannelTUN()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	serverEnv := mustEnvelope(t, "correct horse battery staple", true)
	go Run(ctx, cancel, serverTUN, serverUDP, serverEnv, serverPeer, testMTU, true)

	first := newRawSender(t, "correct horse battery staple", serverAddr)
	first.sendEncrypted(t, serverAddr, fakePacket(0x01, 20))
	<-serverTUN.Inbound

	firstAddr := serverPeer.Get()
	if firstAddr == nil {
		t.Fatal("server did not learn the first peer")
	}

	second := newRawSender(t, "correct horse battery staple", serverAddr)
	second.sendEncrypted(t, serverAddr, fakePacket(0x02, 20))
	<-serverTUN.Inbound

	secondAddr := serverPeer.Get()
	if secondAddr == nil || secondAddr.Port == firstAddr.Port {
		t.Fatalf("server did not relearn from the second source: first=%s second=%s", firstAddr, secondAddr)
	}
}

func TestSpoofedGarbageDoesNotOverwritePeer(t *testing.T) {
	serverUDP, serverAddr, err := netio.Open(true, "127.0.0.1", 0)
	if err != nil {
		t.Fatalf("server netio.Open: %v", err)
	}
	serverPeer := &netio.PeerSlot{}
	serverTUN := tuntest.NewChannelTUN()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	serverEnv := mustEnvelope(t, "correct horse battery staple", true)
	go Run(ctx, cancel, serverTUN, serverUDP, serverEnv, serverPeer, testMTU, true)

	legit := newRawSender(t, "correct horse battery staple", serverAddr)
	legit.sendEncrypted(t, serverAddr, fakePacket(0x01, 20))
	<-serverTUN.Inbound
	knownAddr := serverPeer.Get()
	if knownAddr == nil {
		t.Fatal("server did not learn the legitimate peer")
	}

	attacker := newRawSender(t, "whatever", serverAddr)
	attacker.sendGarbage(t, serverAddr, 64)

	select {
	case got := <-serverTUN.Inbound:
		t.Fatalf("server forwarded spoofed garbage: %x", got)
	case <-time.After(200 * time.Millisecond):
	}

	if serverPeer.Get().Port != knownAddr.Port {
		t.Fatalf("peer slot changed after spoofed garbage: was %s, now %s", knownAddr, serverPeer.Get())
	}
}

func TestManyPacketsDeliveredInOrder(t *testing.T) {
	p := newPair(t, "correct horse battery staple")
	defer p.stop(t)

	const count = 200
	go func() {
		for i := 0; i < count; i++ {
			p.clientTUN.Outbound <- fakePacket(byte(i), 32)
		}
	}()

	for i := 0; i < count; i++ {
		select {
		case got := <-p.serverTUN.Inbound:
			if got[1] != byte(i) {
				t.Fatalf("packet %d out of order or corrupted: got tag %d", i, got[1])
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for packet %d", i)
		}
	}
}
