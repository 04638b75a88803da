// Package ipfilter restricts HTTP endpoints to a set of client networks.
package ipfilter

import (
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// Filter checks client addresses against allowed networks. Forwarding headers
// are only honoured when the direct peer is a trusted proxy.
type Filter struct {
	allowed []netip.Prefix
	proxies []netip.Prefix
	logger  *slog.Logger
}

// New creates a filter from IPs or CIDRs. An empty list allows everyone.
func New(allowedIPs []string, logger *slog.Logger) *Filter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Filter{
		allowed: parsePrefixes(allowedIPs, "allowed_ips", logger),
		logger:  logger,
	}
}

// TrustProxies marks peers whose X-Forwarded-For and X-Real-IP headers are believed.
func (f *Filter) TrustProxies(cidrs []string) *Filter {
	f.proxies = parsePrefixes(cidrs, "trusted_proxies", f.logger)
	return f
}

func parsePrefixes(values []string, field string, logger *slog.Logger) []netip.Prefix {
	var out []netip.Prefix
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if strings.Contains(v, "/") {
			p, err := netip.ParsePrefix(v)
			if err != nil {
				logger.Warn("invalid CIDR", "field", field, "cidr", v, "error", err)
				continue
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(v)
		if err != nil {
			logger.Warn("invalid IP", "field", field, "ip", v)
			continue
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out
}

// Enabled returns true if IP filtering is active
func (f *Filter) Enabled() bool {
	return len(f.allowed) > 0
}

// Count returns the number of allowed networks
func (f *Filter) Count() int {
	return len(f.allowed)
}

// IsAllowed reports whether addr is inside an allowed network.
// An empty filter allows everything.
func (f *Filter) IsAllowed(addr netip.Addr) bool {
	if len(f.allowed) == 0 {
		return true
	}
	return contains(f.allowed, addr)
}

// IsAllowedString parses and checks an address string
func (f *Filter) IsAllowedString(s string) bool {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return false
	}
	return f.IsAllowed(addr)
}

func contains(prefixes []netip.Prefix, addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, p := range prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// ClientAddr extracts the client address of r. Forwarding headers are used
// only when the peer in RemoteAddr is a trusted proxy.
func (f *Filter) ClientAddr(r *http.Request) (netip.Addr, bool) {
	peer, ok := remoteAddr(r.RemoteAddr)
	if !ok {
		return netip.Addr{}, false
	}
	if len(f.proxies) == 0 || !contains(f.proxies, peer) {
		return peer, true
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if addr, err := netip.ParseAddr(strings.TrimSpace(first)); err == nil {
			return addr.Unmap(), true
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		if addr, err := netip.ParseAddr(strings.TrimSpace(xri)); err == nil {
			return addr.Unmap(), true
		}
	}
	return peer, true
}

func remoteAddr(s string) (netip.Addr, bool) {
	host, _, err := net.SplitHostPort(s)
	if err != nil {
		host = s
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}

// HTTPMiddleware rejects requests from addresses outside the allowed networks
func (f *Filter) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !f.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		addr, ok := f.ClientAddr(r)
		if !ok {
			f.logger.Warn("could not parse client IP", "remote_addr", r.RemoteAddr)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		if !f.IsAllowed(addr) {
			f.logger.Warn("access denied by IP filter", "ip", addr.String(), "path", r.URL.Path)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}
