//go:build linux

package hooks

import (
	"fmt"
	"reflect"
	"strings"

	nft "github.com/google/nftables"
	"github.com/google/nftables/expr"
)

// nftConn is the subset of *nftables.Conn this package drives, factored
// out so tests can supply an in-memory fake instead of a real netlink
// socket.
type nftConn interface {
	ListTables() ([]*nft.Table, error)
	ListChains() ([]*nft.Chain, error)
	AddTable(*nft.Table) *nft.Table
	AddChain(*nft.Chain) *nft.Chain
	GetRules(*nft.Table, *nft.Chain) ([]*nft.Rule, error)
	AddRule(*nft.Rule) *nft.Rule
	DelRule(*nft.Rule) error
	Flush() error
	CloseLasting() error
}

// newNFTConn opens the real netlink connection; tests swap this for a
// fake.
var newNFTConn = func() (nftConn, error) {
	c, err := nft.New()
	if err != nil {
		return nil, err
	}
	return c, nil
}

// EnableServerNAT installs masquerade and forwarding rules so a
// server VPN host actually routes client traffic onward to devName
// (typically the default route's device). Rules are tagged so a
// second call is a no-op and DisableServerNAT can find exactly what
// it added.
func EnableServerNAT(tunName string) error {
	devName, err := defaultRouteDevice()
	if err != nil {
		return fmt.Errorf("hooks: find default route device: %w", err)
	}

	c, err := newNFTConn()
	if err != nil {
		return fmt.Errorf("hooks: nftables connect: %w", err)
	}
	defer c.CloseLasting()

	natTable, postrouting, err := ensureChain(c, "nat", "POSTROUTING", nft.ChainTypeNAT, nft.ChainHookPostrouting, 100, nil)
	if err != nil {
		return err
	}
	if err := appendIfMissing(c, natTable, postrouting, masqueradeExpr(devName), natTag(devName)); err != nil {
		return err
	}

	accept := nft.ChainPolicyAccept
	filterTable, forward, err := ensureChain(c, "filter", "FORWARD", nft.ChainTypeFilter, nft.ChainHookForward, 0, &accept)
	if err != nil {
		return err
	}
	if err := appendIfMissing(c, filterTable, forward, acceptExpr(tunName, devName), forwardTag(tunName, devName)); err != nil {
		return err
	}
	if err := appendIfMissing(c, filterTable, forward, acceptExpr(devName, tunName), forwardTag(devName, tunName)); err != nil {
		return err
	}

	return c.Flush()
}

// DisableServerNAT removes the rules EnableServerNAT added.
func DisableServerNAT(tunName string) error {
	devName, err := defaultRouteDevice()
	if err != nil {
		return fmt.Errorf("hooks: find default route device: %w", err)
	}

	c, err := newNFTConn()
	if err != nil {
		return fmt.Errorf("hooks: nftables connect: %w", err)
	}
	defer c.CloseLasting()

	if t, ch, err := findChain(c, "nat", "POSTROUTING"); err == nil {
		_ = deleteByTag(c, t, ch, natTag(devName))
	}
	if t, ch, err := findChain(c, "filter", "FORWARD"); err == nil {
		_ = deleteByTag(c, t, ch, forwardTag(tunName, devName))
		_ = deleteByTag(c, t, ch, forwardTag(devName, tunName))
	}

	return c.Flush()
}

func defaultRouteDevice() (string, error) {
	out, err := cmdr.Output("ip", "route")
	if err != nil {
		return "", err
	}
	for _, line := range strings.Split(string(out), "\n") {
		if strings.HasPrefix(line, "default") {
			fields := strings.Fields(line)
			if len(fields) >= 5 {
				return fields[4], nil
			}
		}
	}
	return "", fmt.Errorf("no default route found")
}

func ensureChain(c nftConn, tableName, chainName string, chainType nft.ChainType, hook *nft.ChainHook, prio int, policy *nft.ChainPolicy) (*nft.Table, *nft.Chain, error) {
	if t, ch, err := findChain(c, tableName, chainName); err == nil {
		return t, ch, nil
	}

	table := c.AddTable(&nft.Table{Family: nft.TableFamilyIPv4, Name: tableName})
	h := *hook
	p := nft.ChainPriority(prio)
	chain := &nft.Chain{Table: table, Name: chainName, Type: chainType, Hooknum: &h, Priority: &p, Policy: policy}
	c.AddChain(chain)
	if err := c.Flush(); err != nil {
		return nil, nil, fmt.Errorf("hooks: create %s/%s: %w", tableName, chainName, err)
	}
	return table, chain, nil
}

func findChain(c nftConn, tableName, chainName string) (*nft.Table, *nft.Chain, error) {
	tables, err := c.ListTables()
	if err != nil {
		return nil, nil, err
	}
	for _, t := range tables {
		if t.Family != nft.TableFamilyIPv4 || t.Name != tableName {
			continue
		}
		chains, err := c.ListChains()
		if err != nil {
			return nil, nil, err
		}
		for _, ch := range chains {
			if ch.Table != nil && ch.Table.Name == tableName && ch.Name == chainName {
				return t, ch, nil
			}
		}
	}
	return nil, nil, fmt.Errorf("not found")
}

func appendIfMissing(c nftConn, t *nft.Table, ch *nft.Chain, exprs []expr.Any, tag []byte) error {
	rules, err := c.GetRules(t, ch)
	if err != nil {
		return fmt.Errorf("hooks: list rules in %s/%s: %w", t.Name, ch.Name, err)
	}
	for _, r := range rules {
		if reflect.DeepEqual(r.UserData, tag) {
			return nil
		}
	}
	c.AddRule(&nft.Rule{Table: t, Chain: ch, Exprs: exprs, UserData: tag})
	return nil
}

func deleteByTag(c nftConn, t *nft.Table, ch *nft.Chain, tag []byte) error {
	rules, err := c.GetRules(t, ch)
	if err != nil {
		return err
	}
	for _, r := range rules {
		if reflect.DeepEqual(r.UserData, tag) {
			return c.DelRule(r)
		}
	}
	return nil
}

func nulTerminated(s string) []byte { return append([]byte(s), 0x00) }

func masqueradeExpr(outDev string) []expr.Any {
	return []expr.Any{
		&expr.Meta{Key: expr.MetaKeyOIFNAME, Register: 1},
		&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: nulTerminated(outDev)},
		&expr.Masq{},
	}
}

func acceptExpr(inDev, outDev string) []expr.Any {
	return []expr.Any{
		&expr.Meta{Key: expr.MetaKeyIIFNAME, Register: 1},
		&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: nulTerminated(inDev)},
		&expr.Meta{Key: expr.MetaKeyOIFNAME, Register: 1},
		&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: nulTerminated(outDev)},
		&expr.Verdict{Kind: expr.VerdictAccept},
	}
}

func natTag(dev string) []byte         { return []byte("shadowtun:nat oif=" + dev) }
func forwardTag(in, out string) []byte { return []byte("shadowtun:fwd " + in + "->" + out) }
