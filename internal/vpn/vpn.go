// Package vpn wires a validated Config into a running tunnel: it opens
// the TUN device and UDP endpoint, derives the crypto envelope, runs
// the ifconfig_up/shell_up hooks, starts the pump, and reverses all of
// it on Stop.
package vpn

import (
	"context"
	"fmt"
	"log"
	"runtime"

	"shadowtun/internal/config"
	"shadowtun/internal/crypto"
	"shadowtun/internal/hooks"
	"shadowtun/internal/netio"
	"shadowtun/internal/pump"
	"shadowtun/internal/tunio"
)

// Indirections over the real collaborators, swapped out in tests the
// same way the PAL layer swaps osOpenFile.
var (
	openTUN          = tunio.Open
	openUDP          = netio.Open
	ifconfigUp       = hooks.IfconfigUp
	ifconfigDown     = hooks.IfconfigDown
	shellUp          = hooks.ShellUp
	shellDown        = hooks.ShellDown
	enableServerNAT  = hooks.EnableServerNAT
	disableServerNAT = hooks.DisableServerNAT
)

// Tunnel holds every resource a running instance owns, so Stop can
// undo Start's effects: the pump (which closes the TUN device and UDP
// socket), then the down script, then server NAT, then the interface.
type Tunnel struct {
	cfg    *config.Config
	cancel context.CancelFunc
	done   chan struct{}
	ifName string
}

// Start brings up the tunnel described by cfg: opens the TUN device,
// assigns its address (ifconfig_up), runs the up script, opens the UDP
// endpoint, derives the envelope, and launches the pump in the
// background. It returns once the tunnel is forwarding traffic; Run
// keeps running until ctx is canceled or a fatal error occurs.
func Start(ctx context.Context, cfg *config.Config) (*Tunnel, error) {
	dev, err := openTUN(cfg.IfName, cfg.MTU)
	if err != nil {
		return nil, fmt.Errorf("vpn: open TUN: %w", err)
	}

	ifName, err := dev.Name()
	if err != nil {
		ifName = cfg.IfName
	}

	if err := ifconfigUp(cfg); err != nil {
		dev.Close()
		return nil, fmt.Errorf("vpn: bring up interface: %w", err)
	}
	shellUp(cfg.UpScript)

	isServer := cfg.Mode == config.ModeServer
	udp, localOrPeer, err := openUDP(isServer, cfg.Server, cfg.Port)
	if err != nil {
		_ = ifconfigDown(cfg)
		dev.Close()
		return nil, fmt.Errorf("vpn: open UDP endpoint: %w", err)
	}

	peer := &netio.PeerSlot{}
	if !isServer {
		peer.Set(localOrPeer)
	}

	env, err := crypto.NewEnvelope(cfg.Password, isServer)
	if err != nil {
		udp.Close()
		_ = ifconfigDown(cfg)
		dev.Close()
		return nil, fmt.Errorf("vpn: derive envelope: %w", err)
	}

	if cfg.ServerNAT && isServer && runtime.GOOS == "linux" {
		if err := enableServerNAT(ifName); err != nil {
			log.Printf("vpn: server NAT setup failed, client traffic will not be routed onward: %v", err)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	t := &Tunnel{
		cfg:    cfg,
		cancel: cancel,
		done:   make(chan struct{}),
		ifName: ifName,
	}

	go func() {
		defer close(t.done)
		pump.Run(runCtx, cancel, dev, udp, env, peer, cfg.MTU, isServer)
	}()

	return t, nil
}

// Done returns a channel that closes once the tunnel's pump has
// exited, whether because Stop was called or because a fatal I/O
// error brought it down on its own. A caller that only wants to be
// woken on the latter should still call Stop afterward to run the
// down hooks.
func (t *Tunnel) Done() <-chan struct{} {
	return t.done
}

// Stop cancels the pump, waits for both of its goroutines to return,
// runs the down script, and tears down the interface. It is safe to
// call exactly once.
func (t *Tunnel) Stop() error {
	t.cancel()
	<-t.done

	shellDown(t.cfg.DownScript)

	if t.cfg.ServerNAT && t.cfg.Mode == config.ModeServer && runtime.GOOS == "linux" {
		if err := disableServerNAT(t.ifName); err != nil {
			log.Printf("vpn: server NAT teardown failed: %v", err)
		}
	}

	return ifconfigDown(t.cfg)
}
