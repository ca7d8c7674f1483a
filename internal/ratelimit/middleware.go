package ratelimit

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const limitedMessage = "too many requests, please try again later"

// Middleware rejects requests over the limit with 429 {message}. The key is
// tag joined with clientID(r).
func Middleware(l Limiter, tag string, clientID func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, err := l.Allow(r.Context(), Key(tag, clientID(r)))
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			if res.Allowed {
				next.ServeHTTP(w, r)
				return
			}
			h.Set("Retry-After", strconv.Itoa(int(res.RetryAfter(time.Now())/time.Second)))
			h.Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{"message": limitedMessage})
		})
	}
}

// ClientIP identifies the caller by the first entry of header, falling back
// to the connection address. The header is client-controlled and spoofable.
func ClientIP(header string) func(*http.Request) string {
	return func(r *http.Request) string {
		if header != "" {
			if v := r.Header.Get(header); v != "" {
				first, _, _ := strings.Cut(v, ",")
				if first = strings.TrimSpace(first); first != "" {
					return first
				}
			}
		}
		if r.RemoteAddr == "" {
			return "unknown"
		}
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			return host
		}
		return r.RemoteAddr
	}
}
