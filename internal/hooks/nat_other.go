//go:build !linux

package hooks

// Server-side NAT is only wired up on Linux, where nftables is
// available; elsewhere these are no-ops so a server still forwards
// tunnel traffic between its TUN device and its own addresses, just
// without onward masquerading.
func EnableServerNAT(tunName string) error { return nil }

func DisableServerNAT(tunName string) error { return nil }
