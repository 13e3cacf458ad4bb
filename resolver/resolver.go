// Package resolver turns a dial address into a socket address. Lookups may
// block, so callers run them on a worker pool rather than the reactor.
package resolver

import (
	"context"
	"net"
	"strconv"

	"github.com/pkg/errors"
)

// Resolver maps a network and address ("host:port" or a socket path) to a
// concrete net.Addr.
type Resolver interface {
	Resolve(ctx context.Context, network, address string) (net.Addr, error)
}

// NetResolver resolves through a net.Resolver, preferring IPv4 results.
type NetResolver struct {
	Resolver *net.Resolver
}

// Default uses net.DefaultResolver.
var Default Resolver = &NetResolver{}

func (r *NetResolver) Resolve(ctx context.Context, network, address string) (net.Addr, error) {
	if network == "unix" {
		return &net.UnixAddr{Name: address, Net: "unix"}, nil
	}
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return nil, errors.Wrapf(err, "split %q", address)
	}
	res := r.Resolver
	if res == nil {
		res = net.DefaultResolver
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		port, err = res.LookupPort(ctx, "tcp", portStr)
		if err != nil {
			return nil, err
		}
	}
	if ip := net.ParseIP(host); ip != nil {
		return &net.TCPAddr{IP: ip, Port: port}, nil
	}
	addrs, err := res.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	picked, ok := pick(network, addrs)
	if !ok {
		return nil, &net.DNSError{Err: "no suitable address", Name: host, IsNotFound: true}
	}
	return &net.TCPAddr{IP: picked.IP, Port: port, Zone: picked.Zone}, nil
}

func pick(network string, addrs []net.IPAddr) (net.IPAddr, bool) {
	var v6 *net.IPAddr
	for i := range addrs {
		if addrs[i].IP.To4() != nil {
			if network != "tcp6" {
				return addrs[i], true
			}
			continue
		}
		if v6 == nil {
			v6 = &addrs[i]
		}
	}
	if v6 != nil && network != "tcp4" {
		return *v6, true
	}
	return net.IPAddr{}, false
}

// Static resolves every host to a fixed address map, falling back to Next.
// Useful for tests and for pinning hosts.
type Static struct {
	Hosts map[string]string
	Next  Resolver
}

func (s *Static) Resolve(ctx context.Context, network, address string) (net.Addr, error) {
	if host, port, err := net.SplitHostPort(address); err == nil {
		if ip, ok := s.Hosts[host]; ok {
			address = net.JoinHostPort(ip, port)
		}
	}
	next := s.Next
	if next == nil {
		next = Default
	}
	return next.Resolve(ctx, network, address)
}
