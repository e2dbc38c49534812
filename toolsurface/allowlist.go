package toolsurface

import (
	"net"
	"net/http"
	"strings"
)

// AllowlistOptions configures the DNS-rebinding protection middleware
// (spec §4.8, §6.1). There is no pack precedent for this narrow a
// transport-security concern — see DESIGN.md for why it is built on the
// standard library rather than a third-party router/middleware package.
type AllowlistOptions struct {
	Enabled        bool
	AllowedHosts   []string
	AllowedOrigins []string
}

// Allowlist wraps next with Host/Origin header enforcement. A request
// whose Host header (stripped of port) is not in AllowedHosts is rejected
// with 421 Misdirected Request; when AllowedOrigins is non-empty, a request
// carrying an Origin header not in it is rejected with 403 Forbidden (an
// empty AllowedOrigins lets every Origin through). Requests with no Origin
// header (same-origin tool callers, curl, server-to-server) are allowed
// through the Origin check since there is nothing to validate.
func Allowlist(opts AllowlistOptions, next http.Handler) http.Handler {
	if !opts.Enabled {
		return next
	}
	hosts := make(map[string]bool, len(opts.AllowedHosts))
	for _, h := range opts.AllowedHosts {
		hosts[strings.ToLower(h)] = true
	}
	origins := make(map[string]bool, len(opts.AllowedOrigins))
	for _, o := range opts.AllowedOrigins {
		origins[strings.ToLower(o)] = true
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := hostWithoutPort(r.Host)
		if !hosts[strings.ToLower(host)] {
			http.Error(w, "host not allowed", http.StatusMisdirectedRequest)
			return
		}
		if origin := r.Header.Get("Origin"); origin != "" && len(origins) > 0 {
			if !origins[strings.ToLower(origin)] {
				http.Error(w, "origin not allowed", http.StatusForbidden)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func hostWithoutPort(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}
