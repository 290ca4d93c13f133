//go:build linux

package hooks

import (
	"fmt"

	"shadowtun/internal/config"
)

// IfconfigUp assigns the local address with the configured netmask to
// ifName, brings it up at the configured MTU, and adds a host route to
// the remote address through it.
func IfconfigUp(cfg *config.Config) error {
	if cfg.TunLocalIP != nil {
		addr := fmt.Sprintf("%s/%d", cfg.TunLocalIP, netmaskBits(cfg.TunNetmask))
		if out, err := cmdr.CombinedOutput("ip", "addr", "add", addr, "dev", cfg.IfName); err != nil {
			return fmt.Errorf("hooks: assign address to %s: %v, output: %s", cfg.IfName, err, out)
		}
	}
	if out, err := cmdr.CombinedOutput("ip", "link", "set", "dev", cfg.IfName, "mtu", fmt.Sprintf("%d", cfg.MTU), "up"); err != nil {
		return fmt.Errorf("hooks: bring up %s: %v, output: %s", cfg.IfName, err, out)
	}
	if cfg.TunRemoteIP != nil {
		if out, err := cmdr.CombinedOutput("ip", "route", "add", cfg.TunRemoteIP.String(), "dev", cfg.IfName); err != nil {
			return fmt.Errorf("hooks: route to %s via %s: %v, output: %s", cfg.TunRemoteIP, cfg.IfName, err, out)
		}
	}
	return nil
}

// IfconfigDown removes the route and deletes the interface.
func IfconfigDown(cfg *config.Config) error {
	if cfg.TunRemoteIP != nil {
		_, _ = cmdr.CombinedOutput("ip", "route", "del", cfg.TunRemoteIP.String())
	}
	if out, err := cmdr.CombinedOutput("ip", "link", "delete", cfg.IfName); err != nil {
		return fmt.Errorf("hooks: delete %s: %v, output: %s", cfg.IfName, err, out)
	}
	return nil
}
