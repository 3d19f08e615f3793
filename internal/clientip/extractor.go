package clientip

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"net/url"
	"strings"

	clientiplib "github.com/abczzz13/clientip"
)

// maxTrustedHops bounds how many allow-listed proxies a forwarding chain may
// name before the header is refused.
const maxTrustedHops = 32

// extractFunc runs header extraction for a request whose peer is already
// known to be trusted. It returns the chosen address and the library's name
// for the source it came from.
type extractFunc func(req *http.Request) (netip.Addr, string, error)

// newExtractor builds the header extractor for policy. Extraction always
// selects the rightmost untrusted hop; a leftmost policy re-reads the
// winning header afterwards. Lax mode makes an unusable header fall
// through to the next one and finally to the peer.
func newExtractor(policy Policy, headers []string, logger *slog.Logger) (extractFunc, error) {
	cidrs, err := clientiplib.ParseCIDRs(policy.cidrs()...)
	if err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}

	sources := make([]string, 0, len(headers)+1)
	for _, h := range headers {
		sources = append(sources, sourceName(h))
	}
	sources = append(sources, string(clientiplib.SourceRemoteAddr))

	ext, err := clientiplib.New(
		clientiplib.TrustedProxies(cidrs, 0, maxTrustedHops),
		priority(clientiplib.Priority, sources),
		clientiplib.WithChainSelection(clientiplib.RightmostUntrustedIP),
		clientiplib.WithSecurityMode(clientiplib.SecurityModeLax),
		clientiplib.AllowPrivateIPs(true),
		clientiplib.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("client ip extractor: %w", err)
	}

	return func(req *http.Request) (netip.Addr, string, error) {
		e, err := ext.Extract(req)
		if err != nil {
			return netip.Addr{}, "", err
		}
		return e.IP, fmt.Sprint(e.Source), nil
	}, nil
}

// priority passes configured header names to the library's Priority option
// whatever string type it declares for sources.
func priority[S ~string, O any](fn func(...S) O, names []string) O {
	sources := make([]S, len(names))
	for i, name := range names {
		sources[i] = S(name)
	}
	return fn(sources...)
}

// sourceName maps a header to the library's built-in source where one
// exists; other headers are read as custom sources.
func sourceName(header string) string {
	switch header {
	case headerForwarded:
		return string(clientiplib.SourceForwarded)
	case headerXForwardedFor:
		return string(clientiplib.SourceXForwardedFor)
	}
	return header
}

func sourceKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-")
}

// headerFor maps an extraction source back to the configured header name.
func headerFor(headers []string, source string) (string, bool) {
	key := sourceKey(source)
	for _, h := range headers {
		if key == sourceKey(h) || key == sourceKey(sourceName(h)) {
			return h, true
		}
	}
	return "", false
}

// forwardedRequest carries the peer and the configured headers only, so
// gRPC metadata and HTTP requests are evaluated the same way.
func forwardedRequest(peer netip.Addr, header http.Header) *http.Request {
	return &http.Request{
		Method:     http.MethodGet,
		URL:        &url.URL{Path: "/"},
		Header:     header,
		RemoteAddr: netip.AddrPortFrom(peer, 0).String(),
	}
}
