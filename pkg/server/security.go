package server

import (
	"net/http"
	"strings"
)

// contentSecurityPolicy allows the chart library and the sign-in client
// from their CDNs and nothing else off-origin.
var contentSecurityPolicy = strings.Join([]string{
	"default-src 'self'",
	"script-src 'self' https://cdn.plot.ly https://accounts.google.com/gsi/client",
	"style-src 'self' 'unsafe-inline' https://accounts.google.com/gsi/style",
	"frame-src https://accounts.google.com/gsi/",
	"connect-src 'self' https://accounts.google.com/gsi/",
	"img-src 'self' data: blob:",
	"frame-ancestors 'none'",
}, "; ")

func (s *Server) securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Strict-Transport-Security: max-age=2 years
		w.Header().Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains")

		// Prevent MIME-sniffing
		w.Header().Set("X-Content-Type-Options", "nosniff")

		// Prevent clickjacking
		w.Header().Set("X-Frame-Options", "DENY")

		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Content-Security-Policy", contentSecurityPolicy)

		next.ServeHTTP(w, r)
	})
}
