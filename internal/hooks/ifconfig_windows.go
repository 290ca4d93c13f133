//go:build windows

package hooks

import (
	"fmt"

	"shadowtun/internal/config"
)

// IfconfigUp assigns a static address via netsh.
func IfconfigUp(cfg *config.Config) error {
	if cfg.TunLocalIP == nil {
		return nil
	}
	mask := "255.255.255.0"
	if cfg.TunNetmask != nil {
		mask = cfg.TunNetmask.String()
	}
	out, err := cmdr.CombinedOutput("netsh", "interface", "ip", "set", "address",
		fmt.Sprintf("name=%s", cfg.IfName), "static", cfg.TunLocalIP.String(), mask)
	if err != nil {
		return fmt.Errorf("hooks: set address on %s: %v (%s)", cfg.IfName, err, out)
	}
	return nil
}

// IfconfigDown removes the static address.
func IfconfigDown(cfg *config.Config) error {
	out, err := cmdr.CombinedOutput("netsh", "interface", "ip", "delete", "address",
		fmt.Sprintf("name=%s", cfg.IfName), cfg.TunLocalIP.String())
	if err != nil {
		return fmt.Errorf("hooks: delete address on %s: %v (%s)", cfg.IfName, err, out)
	}
	return nil
}
