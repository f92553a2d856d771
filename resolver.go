package cfddns

import (
	"context"
	"fmt"
	"net/netip"
	"strings"
)

// Resolver looks up the public IPv4 address the synced record should hold.
type Resolver interface {
	Resolve(context.Context) (netip.Addr, error)
}

// ResolverFunc adapts a plain function to the Resolver interface.
type ResolverFunc func(context.Context) (netip.Addr, error)

func (f ResolverFunc) Resolve(ctx context.Context) (netip.Addr, error) {
	return f(ctx)
}

// StaticResolver constructs a resolver that always answers with addr.
// Parsing is deferred to Resolve so construction never fails.
func StaticResolver(addr string) Resolver {
	return staticResolver(addr)
}

type staticResolver string

func (s staticResolver) Resolve(context.Context) (netip.Addr, error) {
	return parseIPv4(string(s))
}

// parseIPv4 accepts only a dotted-quad IPv4 address. IPv6, 4-in-6 forms,
// octets out of range, and empty strings are all rejected: a malformed
// answer must never reach the provider.
func parseIPv4(s string) (netip.Addr, error) {
	trimmed := strings.TrimSpace(s)
	addr, err := netip.ParseAddr(trimmed)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("unable to parse IP from %q: %w", trimmed, err)
	}
	if !addr.Is4() {
		return netip.Addr{}, fmt.Errorf("%s is not an IPv4 address", addr)
	}
	return addr, nil
}
