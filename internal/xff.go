package internal

import (
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/gaissmai/bart"
	"github.com/sebest/xff"
)

// privateRanges matches addresses that should never be trusted as a client
// identity: loopback, RFC 1918, CGNAT, link-local and ULA space.
var privateRanges = func() *bart.Table[struct{}] {
	result := new(bart.Table[struct{}])

	for _, cidr := range []string{
		"10.0.0.0/8",
		"100.64.0.0/10",
		"127.0.0.0/8",
		"169.254.0.0/16",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"::1/128",
		"fc00::/7",
		"fe80::/10",
	} {
		result.Insert(netip.MustParsePrefix(cidr), struct{}{})
	}

	return result
}()

func isPrivate(ip string) bool {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return false
	}
	return privateRanges.Contains(addr.Unmap())
}

func hostOnly(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// RemoteXRealIP sets X-Real-Ip from the socket peer address. This is for
// deployments where linkgate faces the network directly instead of sitting
// behind a load balancer.
func RemoteXRealIP(useRemoteAddress bool, bindNetwork string, next http.Handler) http.Handler {
	if !useRemoteAddress {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if bindNetwork == "unix" {
			// unix sockets have no peer IP, assume a local caller
			r.Header.Set("X-Real-Ip", "127.0.0.1")
		} else {
			r.Header.Set("X-Real-Ip", hostOnly(r.RemoteAddr))
		}
		next.ServeHTTP(w, r)
	})
}

// XForwardedForToXRealIP fills in X-Real-Ip from X-Forwarded-For when the
// load balancer only sets the latter.
func XForwardedForToXRealIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Real-Ip") == "" && r.Header.Get("X-Forwarded-For") != "" {
			r.Header.Set("X-Real-Ip", hostOnly(xff.GetRemoteAddr(r)))
		}
		next.ServeHTTP(w, r)
	})
}

// XForwardedForUpdate optionally strips private hops from X-Forwarded-For
// so that upstream handlers and logs only ever see routable addresses.
func XForwardedForUpdate(stripPrivate bool, next http.Handler) http.Handler {
	if !stripPrivate {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fwd := r.Header.Get("X-Forwarded-For")
		if fwd == "" {
			next.ServeHTTP(w, r)
			return
		}

		var kept []string
		for _, hop := range strings.Split(fwd, ",") {
			hop = strings.TrimSpace(hop)
			if hop == "" || isPrivate(hop) {
				continue
			}
			kept = append(kept, hop)
		}

		if len(kept) == 0 {
			r.Header.Del("X-Forwarded-For")
		} else {
			r.Header.Set("X-Forwarded-For", strings.Join(kept, ", "))
		}

		next.ServeHTTP(w, r)
	})
}
