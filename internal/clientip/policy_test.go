package clientip

import (
	"context"
	"net/http"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func headers(kv ...string) func(string) []string {
	h := http.Header{}
	for i := 0; i+1 < len(kv); i += 2 {
		h.Add(kv[i], kv[i+1])
	}
	return h.Values
}

func newTestResolver(t *testing.T, p Policy) *Resolver {
	t.Helper()
	r, err := NewResolver(p)
	require.NoError(t, err)
	return r
}

func trusted(t *testing.T, entries ...string) Policy {
	t.Helper()
	set, err := ParseTrusted(entries)
	require.NoError(t, err)
	return Policy{Trusted: set}
}

func TestDecideNoAllowListUsesPeer(t *testing.T) {
	r := newTestResolver(t, Policy{})
	peer := netip.MustParseAddr("203.0.113.9")

	d := r.Decide(context.Background(), peer, headers("X-Forwarded-For", "8.8.8.8"))

	assert.Equal(t, peer, d.Addr)
	assert.Equal(t, SourceRemoteAddr, d.Source)
	assert.True(t, d.Violation)
}

func TestDecideUntrustedPeerIgnoresHeader(t *testing.T) {
	r := newTestResolver(t, trusted(t, "10.0.0.0/8"))
	peer := netip.MustParseAddr("203.0.113.9")

	d := r.Decide(context.Background(), peer, headers("X-Forwarded-For", "8.8.8.8, 10.0.0.2"))

	assert.Equal(t, peer, d.Addr)
	assert.Equal(t, SourceRemoteAddr, d.Source)
	assert.True(t, d.Violation)
}

func TestDecideNoHeaderIsNotViolation(t *testing.T) {
	r := newTestResolver(t, trusted(t, "10.0.0.0/8"))
	peer := netip.MustParseAddr("203.0.113.9")

	d := r.Decide(context.Background(), peer, headers())

	assert.Equal(t, peer, d.Addr)
	assert.False(t, d.Violation)
}

func TestDecideTrustedPeerLeftmost(t *testing.T) {
	r := newTestResolver(t, trusted(t, "10.0.0.0/8", "192.168.1.1"))

	tests := []struct {
		name   string
		peer   string
		header string
		want   string
	}{
		{name: "single", peer: "10.1.2.3", header: "8.8.8.8", want: "8.8.8.8"},
		{name: "chain", peer: "10.1.2.3", header: "1.1.1.1, 9.9.9.9, 10.0.0.5", want: "1.1.1.1"},
		{name: "single address proxy", peer: "192.168.1.1", header: "1.1.1.1", want: "1.1.1.1"},
		{name: "ipv6", peer: "10.1.2.3", header: "2606:4700:4700::1111, 10.0.0.5", want: "2606:4700:4700::1111"},
		{name: "mapped peer", peer: "::ffff:10.1.2.3", header: "8.8.8.8", want: "8.8.8.8"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := r.Decide(context.Background(), netip.MustParseAddr(tt.peer), headers("X-Forwarded-For", tt.header))

			assert.Equal(t, netip.MustParseAddr(tt.want), d.Addr)
			assert.Equal(t, "X-Forwarded-For", d.Source)
			assert.False(t, d.Violation)
			assert.Empty(t, d.Malformed)
		})
	}
}

func TestDecideRightmostUntrusted(t *testing.T) {
	p := trusted(t, "10.0.0.0/8")
	p.Selection = RightmostUntrusted
	r := newTestResolver(t, p)

	d := r.Decide(context.Background(), netip.MustParseAddr("10.0.0.1"), headers("X-Forwarded-For", "1.1.1.1, 9.9.9.9, 10.0.0.5"))

	assert.Equal(t, netip.MustParseAddr("9.9.9.9"), d.Addr)
	assert.Equal(t, "X-Forwarded-For", d.Source)
}

func TestDecideMalformedHeaderFallsBack(t *testing.T) {
	r := newTestResolver(t, trusted(t, "10.0.0.0/8"))
	peer := netip.MustParseAddr("10.0.0.1")

	for _, value := range []string{"unknown", "not-an-ip", "999.1.1.1"} {
		t.Run(value, func(t *testing.T) {
			d := r.Decide(context.Background(), peer, headers("X-Forwarded-For", value))

			assert.Equal(t, peer, d.Addr)
			assert.Equal(t, SourceRemoteAddr, d.Source)
			assert.Equal(t, []string{"X-Forwarded-For"}, d.Malformed)
			assert.False(t, d.Violation)
		})
	}
}

func TestDecideHeaderPriority(t *testing.T) {
	p := trusted(t, "10.0.0.0/8")
	p.Headers = []string{"forwarded", "x-forwarded-for", "x-real-ip"}
	r := newTestResolver(t, p)
	peer := netip.MustParseAddr("10.0.0.1")

	d := r.Decide(context.Background(), peer, headers(
		"X-Forwarded-For", "8.8.4.4",
		"Forwarded", "for=9.9.9.9;proto=http, for=1.0.0.1",
	))
	assert.Equal(t, netip.MustParseAddr("9.9.9.9"), d.Addr)
	assert.Equal(t, "Forwarded", d.Source)
	assert.Empty(t, d.Malformed)

	d = r.Decide(context.Background(), peer, headers(
		"X-Forwarded-For", "8.8.4.4",
		"Forwarded", "for=not-an-ip",
	))
	assert.Equal(t, netip.MustParseAddr("8.8.4.4"), d.Addr)
	assert.Equal(t, "X-Forwarded-For", d.Source)
	assert.Equal(t, []string{"Forwarded"}, d.Malformed)

	d = r.Decide(context.Background(), peer, headers("X-Real-Ip", "1.0.0.1"))
	assert.Equal(t, netip.MustParseAddr("1.0.0.1"), d.Addr)
	assert.Equal(t, "X-Real-Ip", d.Source)
}

func TestDecideForwardedWithoutFor(t *testing.T) {
	p := trusted(t, "10.0.0.0/8")
	p.Headers = []string{"Forwarded"}
	r := newTestResolver(t, p)
	peer := netip.MustParseAddr("10.0.0.1")

	d := r.Decide(context.Background(), peer, headers("Forwarded", "proto=https;by=10.0.0.1"))

	assert.Equal(t, peer, d.Addr)
	assert.Equal(t, SourceRemoteAddr, d.Source)
	assert.Equal(t, []string{"Forwarded"}, d.Malformed)
}

func TestDecideUnconfiguredHeaderIgnored(t *testing.T) {
	r := newTestResolver(t, trusted(t, "10.0.0.0/8"))
	peer := netip.MustParseAddr("10.0.0.1")

	d := r.Decide(context.Background(), peer, headers("X-Real-Ip", "1.0.0.1"))

	assert.Equal(t, peer, d.Addr)
	assert.Equal(t, SourceRemoteAddr, d.Source)
	assert.Empty(t, d.Malformed)
	assert.False(t, d.Violation)
}

func TestLeftmost(t *testing.T) {
	tests := []struct {
		name   string
		header string
		values []string
		want   string
		ok     bool
	}{
		{name: "bare", header: "X-Forwarded-For", values: []string{"1.1.1.1, 9.9.9.9"}, want: "1.1.1.1", ok: true},
		{name: "port", header: "X-Forwarded-For", values: []string{"8.8.8.8:5353"}, want: "8.8.8.8", ok: true},
		{name: "bracketed", header: "X-Forwarded-For", values: []string{"[2606:4700::1]"}, want: "2606:4700::1", ok: true},
		{name: "first line wins", header: "X-Forwarded-For", values: []string{"1.1.1.1", "9.9.9.9"}, want: "1.1.1.1", ok: true},
		{name: "mapped", header: "X-Forwarded-For", values: []string{"::ffff:8.8.8.8"}, want: "8.8.8.8", ok: true},
		{name: "forwarded quoted", header: "Forwarded", values: []string{`for="[2606:4700::1]:4711";proto=https`}, want: "2606:4700::1", ok: true},
		{name: "forwarded without for", header: "Forwarded", values: []string{"proto=https"}},
		{name: "zone", header: "X-Forwarded-For", values: []string{"fe80::1%eth0"}},
		{name: "loopback", header: "X-Forwarded-For", values: []string{"127.0.0.1"}},
		{name: "garbage", header: "X-Forwarded-For", values: []string{"unknown"}},
		{name: "empty", header: "X-Forwarded-For"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr, ok := leftmost(tt.header, tt.values)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, netip.MustParseAddr(tt.want), addr)
			}
		})
	}
}

func TestHeaderFor(t *testing.T) {
	hs := []string{"Forwarded", "X-Forwarded-For", "X-Real-Ip"}

	for source, want := range map[string]string{
		"x_forwarded_for": "X-Forwarded-For",
		"X-Forwarded-For": "X-Forwarded-For",
		"forwarded":       "Forwarded",
		"X-Real-IP":       "X-Real-Ip",
		"x-real-ip":       "X-Real-Ip",
	} {
		got, ok := headerFor(hs, source)
		assert.True(t, ok, source)
		assert.Equal(t, want, got, source)
	}

	_, ok := headerFor(hs, SourceRemoteAddr)
	assert.False(t, ok)
}

func TestParseTrusted(t *testing.T) {
	set, err := ParseTrusted([]string{" 10.0.0.0/8 ", "", "2001:db8::/32", "127.0.0.1", "::ffff:172.16.0.1", "192.168.1.77/24"})
	require.NoError(t, err)

	assert.True(t, set.Contains(netip.MustParseAddr("10.200.0.1")))
	assert.True(t, set.Contains(netip.MustParseAddr("2001:db8::5")))
	assert.True(t, set.Contains(netip.MustParseAddr("127.0.0.1")))
	assert.True(t, set.Contains(netip.MustParseAddr("172.16.0.1")))
	assert.True(t, set.Contains(netip.MustParseAddr("192.168.1.1")))
	assert.False(t, set.Contains(netip.MustParseAddr("127.0.0.2")))

	_, err = ParseTrusted([]string{"10.0.0.0/33"})
	assert.Error(t, err)
	_, err = ParseTrusted([]string{"proxy.local"})
	assert.Error(t, err)
}

func TestPolicyCIDRs(t *testing.T) {
	assert.Empty(t, Policy{}.cidrs())

	p := trusted(t, "10.0.0.0/8", "192.168.1.1")
	assert.Equal(t, []string{"10.0.0.0/8", "192.168.1.1/32"}, p.cidrs())
}

func TestParseChainSelection(t *testing.T) {
	sel, err := ParseChainSelection("")
	require.NoError(t, err)
	assert.Equal(t, Leftmost, sel)

	sel, err = ParseChainSelection("Rightmost-Untrusted")
	require.NoError(t, err)
	assert.Equal(t, RightmostUntrusted, sel)
	assert.Equal(t, "rightmost-untrusted", sel.String())

	_, err = ParseChainSelection("middle")
	assert.Error(t, err)
}
