package middleware

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// ErrInvalidProxy is returned when a trusted proxy entry is neither an IP
// address nor a CIDR prefix.
var ErrInvalidProxy = errors.New("proxy headers: invalid proxy entry")

// DefaultTrustedProxies covers loopback and private ranges.
var DefaultTrustedProxies = []string{
	"127.0.0.0/8",
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"::1/128",
	"fc00::/7",
}

// ProxyHeaders returns a middleware that restores the client address, the
// scheme and the Host from X-Forwarded-For, X-Forwarded-Proto and
// X-Forwarded-Host when the peer is a trusted proxy.
//
// Restoring Host matters for signature verification: the sender signed the
// public host name, not the upstream address a proxy may rewrite it to.
func ProxyHeaders(trusted []string) (func(http.Handler) http.Handler, error) {
	if len(trusted) == 0 {
		trusted = DefaultTrustedProxies
	}

	prefixes := make([]netip.Prefix, 0, len(trusted))

	for _, entry := range trusted {
		entry = strings.TrimSpace(entry)

		if p, err := netip.ParsePrefix(entry); err == nil {
			prefixes = append(prefixes, p.Masked())
			continue
		}

		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidProxy, entry)
		}

		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}

	trustedPeer := func(remoteAddr string) bool {
		host, _, err := net.SplitHostPort(remoteAddr)
		if err != nil {
			host = remoteAddr
		}

		addr, err := netip.ParseAddr(host)
		if err != nil {
			return false
		}

		addr = addr.Unmap()

		for _, p := range prefixes {
			if p.Contains(addr) {
				return true
			}
		}

		return false
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !trustedPeer(r.RemoteAddr) {
				next.ServeHTTP(w, r)
				return
			}

			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				first, _, _ := strings.Cut(xff, ",")
				if addr, err := netip.ParseAddr(strings.TrimSpace(first)); err == nil {
					r.RemoteAddr = addr.String()
				}
			}

			switch proto := strings.ToLower(strings.TrimSpace(r.Header.Get("X-Forwarded-Proto"))); proto {
			case "http", "https":
				u := *r.URL
				u.Scheme = proto
				r.URL = &u
			}

			if host := strings.TrimSpace(r.Header.Get("X-Forwarded-Host")); host != "" {
				r.Host = host
			}

			next.ServeHTTP(w, r)
		})
	}, nil
}
