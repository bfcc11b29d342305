package api

import (
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	allowMethods  = "GET, HEAD, POST, PUT, DELETE, OPTIONS"
	allowHeaders  = "Authorization, Content-Type, Range, X-Dashgrid-Request-Id, X-Dashgrid-Device-Id"
	exposeHeaders = "Content-Range, Accept-Ranges, Content-Length, Content-Type"
)

// CORSAllowlist admits the local viewer origins and the hosted viewer's
// per-org subdomains. Range request and response headers are included so
// the browser can scrub video through the playback endpoint.
func CORSAllowlist() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}

			if !isAllowedOrigin(origin) {
				if r.Method == http.MethodOptions {
					WriteError(w, http.StatusForbidden, "origin not allowed", "FORBIDDEN")
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")

			if r.Method == http.MethodOptions {
				w.Header().Set("Access-Control-Allow-Methods", allowMethods)
				w.Header().Set("Access-Control-Allow-Headers", allowHeaders)
				w.Header().Set("Access-Control-Max-Age", "3600")
				w.WriteHeader(http.StatusNoContent)
				return
			}

			w.Header().Set("Access-Control-Expose-Headers", exposeHeaders)
			next.ServeHTTP(w, r)
		})
	}
}

// isAllowedOrigin accepts localhost and 127.0.0.1 on any port, plus
// HTTPS per-org subdomains of the hosted viewer (and their .local
// development counterparts over either scheme).
func isAllowedOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil || u.Path != "" || u.RawQuery != "" || u.Fragment != "" {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	if port := u.Port(); port != "" {
		if _, err := strconv.Atoi(port); err != nil {
			return false
		}
	}

	host := u.Hostname()
	if host == "localhost" || host == "127.0.0.1" {
		return true
	}

	if sub, ok := strings.CutSuffix(host, ".app.dashgrid.io"); ok {
		return u.Scheme == "https" && isValidSubdomain(sub)
	}
	if sub, ok := strings.CutSuffix(host, ".app.dashgrid.local"); ok {
		return isValidSubdomain(sub)
	}
	return false
}

func isValidSubdomain(sub string) bool {
	if sub == "" || strings.Contains(sub, ".") {
		return false
	}
	if strings.HasPrefix(sub, "-") || strings.HasSuffix(sub, "-") {
		return false
	}
	for _, r := range sub {
		isAlnum := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if !isAlnum && r != '-' {
			return false
		}
	}
	return true
}

// LoopbackGuard rejects requests that did not arrive over the loopback
// interface. The listener binds 127.0.0.1, so this only matters if the
// agent is ever fronted by a local proxy.
func LoopbackGuard() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !isLoopbackRemoteAddr(r.RemoteAddr) {
				WriteError(w, http.StatusForbidden, "loopback connections only", "FORBIDDEN")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isLoopbackRemoteAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = strings.Trim(addr, "[]")
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
