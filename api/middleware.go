package api

import (
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"
)

const (
	maxAuthFailures    = 5
	authLockoutWindow  = 10 * time.Minute
	limiterIdleTimeout = 1 * time.Hour
)

// rateLimitMiddleware provides rate limiting per client IP
func (a *API) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := a.clientIP(r)
		a.rateLimitersMu.Lock()
		entry, exists := a.rateLimiters[ip]
		if !exists {
			entry = &rateLimiterEntry{
				limiter: rate.NewLimiter(
					rate.Limit(a.config.Server.RateLimit.RequestsPerSecond),
					a.config.Server.RateLimit.Burst),
			}
			a.rateLimiters[ip] = entry
		}
		entry.lastSeen = time.Now()
		limiter := entry.limiter
		a.rateLimitersMu.Unlock()

		if !limiter.Allow() {
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// cleanupRateLimiters drops idle limiters and stale auth failures
func (a *API) cleanupRateLimiters() {
	ticker := time.NewTicker(limiterIdleTimeout)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			a.rateLimitersMu.Lock()
			for ip, entry := range a.rateLimiters {
				if time.Since(entry.lastSeen) > limiterIdleTimeout {
					delete(a.rateLimiters, ip)
				}
			}
			a.rateLimitersMu.Unlock()

			a.authFailuresMu.Lock()
			for ip, entry := range a.authFailures {
				if time.Since(entry.lastFail) > limiterIdleTimeout {
					delete(a.authFailures, ip)
				}
			}
			a.authFailuresMu.Unlock()
		case <-a.stopCh:
			return
		}
	}
}

// corsMiddleware adds CORS headers and answers preflight requests
func (a *API) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		for _, allowed := range a.config.Server.AllowedOrigins {
			if allowed == "*" {
				w.Header().Set("Access-Control-Allow-Origin", "*")
				break
			}
			if origin != "" && origin == allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
				break
			}
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// basicAuthMiddleware guards operator routes and locks out an IP after
// repeated failures.
func (a *API) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := a.clientIP(r)

		a.authFailuresMu.Lock()
		entry, exists := a.authFailures[ip]
		if exists && entry.count >= maxAuthFailures && time.Since(entry.lastFail) < authLockoutWindow {
			a.authFailuresMu.Unlock()
			a.logger.Warnw("Too many failed auth attempts", "ip", ip)
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}
		a.authFailuresMu.Unlock()

		auth := a.config.Server.Auth
		username, password, ok := r.BasicAuth()
		if !ok || username != auth.Username ||
			bcrypt.CompareHashAndPassword([]byte(auth.PasswordHash), []byte(password)) != nil {
			a.authFailuresMu.Lock()
			if entry, exists := a.authFailures[ip]; exists {
				entry.count++
				entry.lastFail = time.Now()
			} else {
				a.authFailures[ip] = &authFailureEntry{count: 1, lastFail: time.Now()}
			}
			a.authFailuresMu.Unlock()

			a.logger.Warnw("Failed authentication attempt", "ip", ip, "path", r.URL.Path)
			w.Header().Set("WWW-Authenticate", `Basic realm="Vigil"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		a.authFailuresMu.Lock()
		delete(a.authFailures, ip)
		a.authFailuresMu.Unlock()

		next.ServeHTTP(w, r)
	})
}

// getRealIP extracts the client IP, honouring forwarding headers only when
// the direct peer is a trusted proxy.
func getRealIP(r *http.Request, trustProxy bool, trustedNetworks []string) string {
	directIP, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		directIP = r.RemoteAddr
	}
	if !trustProxy || !isTrustedProxy(directIP, trustedNetworks) {
		return directIP
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// The first entry is the original client
		ip := strings.TrimSpace(strings.Split(xff, ",")[0])
		if ip != "" && net.ParseIP(ip) != nil {
			return ip
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" && net.ParseIP(xri) != nil {
		return xri
	}
	return directIP
}

// isTrustedProxy checks ip against a list of IPs and CIDRs
func isTrustedProxy(ip string, trustedNetworks []string) bool {
	parsedIP := net.ParseIP(ip)
	if parsedIP == nil {
		return false
	}
	for _, network := range trustedNetworks {
		if strings.Contains(network, "/") {
			_, ipNet, err := net.ParseCIDR(network)
			if err == nil && ipNet.Contains(parsedIP) {
				return true
			}
		} else if network == ip {
			return true
		}
	}
	return false
}

// clientIP resolves the request's client address under the proxy settings
func (a *API) clientIP(r *http.Request) string {
	return getRealIP(r, a.config.Server.TrustProxy, a.config.Server.TrustedProxies)
}
