// Package clientip determines which address a request should be attributed
// to. Forwarding headers are honoured only when the transport peer is an
// allow-listed proxy; otherwise the peer address is used as is.
package clientip

import (
	"fmt"
	"net/netip"
	"net/textproto"
	"strings"

	"go4.org/netipx"
)

// SourceRemoteAddr is reported when the transport peer address was used.
const SourceRemoteAddr = "remote_addr"

const (
	headerForwarded     = "Forwarded"
	headerXForwardedFor = "X-Forwarded-For"
)

// DefaultHeaders are consulted when no header list is configured.
var DefaultHeaders = []string{headerXForwardedFor}

// ChainSelection picks the client out of a multi-hop forwarding chain.
type ChainSelection int

const (
	// Leftmost takes the first element of the chain, the original client as
	// reported by the first proxy.
	Leftmost ChainSelection = iota
	// RightmostUntrusted walks the chain from the right, skipping
	// allow-listed hops, and takes the first untrusted element.
	RightmostUntrusted
)

// ParseChainSelection parses "leftmost" or "rightmost-untrusted".
func ParseChainSelection(s string) (ChainSelection, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "leftmost":
		return Leftmost, nil
	case "rightmost-untrusted", "rightmost_untrusted":
		return RightmostUntrusted, nil
	}
	return 0, fmt.Errorf("unknown chain selection %q", s)
}

func (c ChainSelection) String() string {
	if c == RightmostUntrusted {
		return "rightmost-untrusted"
	}
	return "leftmost"
}

// Policy is the proxy trust configuration.
type Policy struct {
	// Trusted holds the proxies allowed to supply a forwarded address.
	// nil trusts nobody.
	Trusted *netipx.IPSet
	// Headers are checked in order; the first usable one decides.
	Headers   []string
	Selection ChainSelection
}

// Decision is the result of evaluating a Policy for one request.
type Decision struct {
	Addr   netip.Addr
	Source string
	// Violation is set when a forwarding header was present but the peer
	// is not trusted, so the header was ignored.
	Violation bool
	// Malformed lists headers that were present but could not be used.
	Malformed []string
}

// ParseTrusted builds an allow-list from CIDR prefixes and single addresses.
func ParseTrusted(entries []string) (*netipx.IPSet, error) {
	var b netipx.IPSetBuilder

	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("invalid trusted proxy prefix %q: %w", entry, err)
			}
			b.AddPrefix(prefix.Masked())
			continue
		}

		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy address %q: %w", entry, err)
		}
		b.Add(addr.WithZone("").Unmap())
	}

	return b.IPSet()
}

func (p Policy) headers() []string {
	if len(p.Headers) == 0 {
		return DefaultHeaders
	}
	out := make([]string, 0, len(p.Headers))
	for _, h := range p.Headers {
		out = append(out, textproto.CanonicalMIMEHeaderKey(strings.TrimSpace(h)))
	}
	return out
}

func (p Policy) trusts(addr netip.Addr) bool {
	return p.Trusted != nil && p.Trusted.Contains(addr)
}

// cidrs lists the allow-list as prefix strings, one per covering range.
func (p Policy) cidrs() []string {
	if p.Trusted == nil {
		return nil
	}
	prefixes := p.Trusted.Prefixes()
	out := make([]string, len(prefixes))
	for i, prefix := range prefixes {
		out[i] = prefix.String()
	}
	return out
}

// leftmost returns the first hop of an already validated header. Forwarded
// elements contribute their for= parameter.
func leftmost(name string, values []string) (netip.Addr, bool) {
	if len(values) == 0 {
		return netip.Addr{}, false
	}

	first, _, _ := strings.Cut(values[0], ",")
	if name == headerForwarded {
		node, ok := forwardedFor(first)
		if !ok {
			return netip.Addr{}, false
		}
		first = node
	}

	first = strings.Trim(strings.TrimSpace(first), `"`)
	var addr netip.Addr
	if ap, err := netip.ParseAddrPort(first); err == nil {
		addr = ap.Addr()
	} else if a, err := netip.ParseAddr(strings.TrimSuffix(strings.TrimPrefix(first, "["), "]")); err == nil {
		addr = a
	} else {
		return netip.Addr{}, false
	}

	addr = addr.Unmap()
	if addr.Zone() != "" || addr.IsUnspecified() || addr.IsLoopback() || addr.IsMulticast() {
		return netip.Addr{}, false
	}
	return addr, true
}

func forwardedFor(element string) (string, bool) {
	for _, pair := range strings.Split(element, ";") {
		key, value, found := strings.Cut(strings.TrimSpace(pair), "=")
		if found && strings.EqualFold(strings.TrimSpace(key), "for") {
			return value, true
		}
	}
	return "", false
}

func normalize(addr netip.Addr) netip.Addr {
	return addr.WithZone("").Unmap()
}
