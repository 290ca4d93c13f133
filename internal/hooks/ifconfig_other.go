//go:build darwin || freebsd

package hooks

import (
	"fmt"

	"shadowtun/internal/config"
)

// IfconfigUp assigns addresses via BSD-style ifconfig.
func IfconfigUp(cfg *config.Config) error {
	if cfg.TunLocalIP != nil && cfg.TunRemoteIP != nil {
		mask := "255.255.255.255"
		if cfg.TunNetmask != nil {
			mask = cfg.TunNetmask.String()
		}
		out, err := cmdr.CombinedOutput("ifconfig", cfg.IfName, "inet",
			cfg.TunLocalIP.String(), cfg.TunRemoteIP.String(), "netmask", mask)
		if err != nil {
			return fmt.Errorf("hooks: assign address to %s: %v (%s)", cfg.IfName, err, out)
		}
	}
	if out, err := cmdr.CombinedOutput("ifconfig", cfg.IfName, "mtu", fmt.Sprintf("%d", cfg.MTU), "up"); err != nil {
		return fmt.Errorf("hooks: bring up %s: %v (%s)", cfg.IfName, err, out)
	}
	return nil
}

// IfconfigDown destroys the interface.
func IfconfigDown(cfg *config.Config) error {
	if out, err := cmdr.CombinedOutput("ifconfig", cfg.IfName, "destroy"); err != nil {
		return fmt.Errorf("hooks: destroy %s: %v (%s)", cfg.IfName, err, out)
	}
	return nil
}
