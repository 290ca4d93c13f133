// Package hooks runs the external collaborators around a tunnel's
// run: interface provisioning (ifconfig_up/down) and user-supplied
// scripts (shell_up/down).
package hooks

import "net"

// netmaskBits converts a dotted netmask to its CIDR prefix length,
// defaulting to a /32 if it can't be parsed (a safe, restrictive
// fallback rather than silently widening the route).
func netmaskBits(mask net.IP) int {
	if mask == nil {
		return 32
	}
	m4 := mask.To4()
	if m4 == nil {
		return 32
	}
	ones, bits := net.IPMask(m4).Size()
	if bits == 0 {
		// Non-contiguous mask: no CIDR prefix describes it.
		return 32
	}
	return ones
}
