package net

import (
	"context"
	"net"
	"net/netip"
	"strconv"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/ztsock"
	"github.com/opd-ai/ztsock/sockaddr"
)

const (
	resolverCacheSize = 256
	resolverCacheTTL  = time.Minute
)

// LookupFunc resolves a host name to addresses.
type LookupFunc func(ctx context.Context, host string) ([]netip.Addr, error)

// Resolver turns "host:port" strings into virtual network addresses.
// Literal IPs are used as is. Names are looked up in the node's hosts
// table first, then through Lookup, whose answers are cached.
type Resolver struct {
	node   *ztsock.Node
	lookup LookupFunc
	cache  *expirable.LRU[string, []netip.Addr]
}

// NewResolver returns a resolver for node. A nil lookup uses the system
// resolver.
func NewResolver(node *ztsock.Node, lookup LookupFunc) *Resolver {
	if lookup == nil {
		lookup = func(ctx context.Context, host string) ([]netip.Addr, error) {
			return net.DefaultResolver.LookupNetIP(ctx, "ip", host)
		}
	}
	return &Resolver{
		node:   node,
		lookup: lookup,
		cache:  expirable.NewLRU[string, []netip.Addr](resolverCacheSize, nil, resolverCacheTTL),
	}
}

// Resolve returns every candidate address for address in lookup order.
// An empty host means the unspecified IPv4 address. It fails with an
// *UnresolvedAddressError when nothing matches.
func (r *Resolver) Resolve(ctx context.Context, address string) ([]sockaddr.Address, error) {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return nil, newOpError("resolve", address, err)
	}
	port, err := parsePort(ctx, portStr)
	if err != nil {
		return nil, newOpError("resolve", address, err)
	}

	ips, err := r.lookupHost(ctx, host)
	if err != nil || len(ips) == 0 {
		return nil, &UnresolvedAddressError{Address: address, Err: err}
	}

	out := make([]sockaddr.Address, 0, len(ips))
	for _, ip := range ips {
		out = append(out, sockaddr.New(ip.Unmap(), port))
	}
	return out, nil
}

func (r *Resolver) lookupHost(ctx context.Context, host string) ([]netip.Addr, error) {
	if host == "" {
		return []netip.Addr{netip.IPv4Unspecified()}, nil
	}
	if ip, err := netip.ParseAddr(host); err == nil {
		return []netip.Addr{ip}, nil
	}
	if ips, ok := r.node.LookupHost(host); ok {
		return ips, nil
	}
	if ips, ok := r.cache.Get(host); ok {
		return ips, nil
	}

	ips, err := r.lookup(ctx, host)
	if err != nil {
		r.node.Logger().WithFields(logrus.Fields{
			"function": "lookupHost",
			"host":     host,
			"error":    err.Error(),
		}).Debug("Host lookup failed")
		return nil, err
	}
	if len(ips) > 0 {
		r.cache.Add(host, ips)
	}
	return ips, nil
}

func parsePort(ctx context.Context, s string) (uint16, error) {
	if p, err := strconv.ParseUint(s, 10, 16); err == nil {
		return uint16(p), nil
	}
	p, err := net.DefaultResolver.LookupPort(ctx, "tcp", s)
	if err != nil {
		return 0, err
	}
	return uint16(p), nil
}
