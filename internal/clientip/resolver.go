package clientip

import (
	"context"
	"log/slog"
	"net/http"
	"net/netip"
	"strings"

	"github.com/TomasB/geolookup/internal/address"
	"github.com/TomasB/geolookup/internal/metrics"
)

// Resolver turns requests into subject addresses.
type Resolver struct {
	policy  Policy
	headers []string
	extract extractFunc
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger used for trust decisions.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// WithMetrics records ignored forwarding headers.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Resolver) { r.metrics = m }
}

// NewResolver creates a Resolver applying policy. Header extraction is only
// set up when at least one proxy is trusted.
func NewResolver(policy Policy, opts ...Option) (*Resolver, error) {
	r := &Resolver{policy: policy, headers: policy.headers(), logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}

	if len(policy.cidrs()) > 0 {
		extract, err := newExtractor(policy, r.headers, r.logger)
		if err != nil {
			return nil, err
		}
		r.extract = extract
	}

	return r, nil
}

// ResolveExplicit validates an address literal supplied by the caller.
// No network trust is implied.
func (r *Resolver) ResolveExplicit(raw string) (address.Address, error) {
	return address.Parse(raw)
}

// ResolveCaller returns the address of the entity that made req and the
// name of the source it was taken from.
func (r *Resolver) ResolveCaller(req *http.Request) (address.Address, string, error) {
	return r.ResolvePeer(req.Context(), req.RemoteAddr, req.Header.Values)
}

// ResolvePeer is ResolveCaller for transports other than net/http. remote
// is the peer as "host:port" or a bare address.
func (r *Resolver) ResolvePeer(ctx context.Context, remote string, header func(name string) []string) (address.Address, string, error) {
	peer, err := ParsePeer(remote)
	if err != nil {
		return address.Address{}, "", err
	}

	d := r.Decide(ctx, peer, header)

	if d.Violation {
		r.metrics.ObserveProxyTrustViolation()
		r.logger.DebugContext(ctx, "forwarding header from untrusted peer ignored", "peer", peer.String())
	}
	for _, name := range d.Malformed {
		r.logger.DebugContext(ctx, "unusable forwarding header ignored", "peer", peer.String(), "header", name)
	}

	addr, err := address.FromAddr(d.Addr)
	if err != nil {
		return address.Address{}, "", err
	}
	return addr, d.Source, nil
}

// Decide chooses the client address for a request arriving from peer.
// header returns every value of the named header, in arrival order.
func (r *Resolver) Decide(ctx context.Context, peer netip.Addr, header func(name string) []string) Decision {
	peer = normalize(peer)
	d := Decision{Addr: peer, Source: SourceRemoteAddr}

	present := http.Header{}
	for _, name := range r.headers {
		if values := header(name); len(values) > 0 {
			present[name] = values
		}
	}
	if len(present) == 0 {
		return d
	}

	if !r.policy.trusts(peer) {
		d.Violation = true
		return d
	}

	addr, source, err := r.extract(forwardedRequest(peer, present).WithContext(ctx))
	name, fromHeader := headerFor(r.headers, source)
	if err != nil || !fromHeader || !addr.IsValid() {
		d.Malformed = r.presentBefore(present, "")
		return d
	}

	d.Malformed = r.presentBefore(present, name)
	d.Source = name
	d.Addr = normalize(addr)
	if r.policy.Selection == Leftmost {
		if first, ok := leftmost(name, present[name]); ok {
			d.Addr = first
		}
	}

	return d
}

// presentBefore lists the present headers that rank ahead of winner. An
// empty winner lists all of them.
func (r *Resolver) presentBefore(present http.Header, winner string) []string {
	var out []string
	for _, name := range r.headers {
		if name == winner {
			break
		}
		if _, ok := present[name]; ok {
			out = append(out, name)
		}
	}
	return out
}

// ParsePeer parses a transport peer such as http.Request.RemoteAddr.
func ParsePeer(remote string) (netip.Addr, error) {
	remote = strings.TrimSpace(remote)

	if ap, err := netip.ParseAddrPort(remote); err == nil {
		return normalize(ap.Addr()), nil
	}
	if addr, err := netip.ParseAddr(remote); err == nil {
		return normalize(addr), nil
	}
	return netip.Addr{}, address.ErrInvalidAddress
}
