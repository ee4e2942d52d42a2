package shield

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"
)

// StoreLock allows one URL metric submission per client IP per TTL window,
// so a single visitor cannot flood the sample groups of a page. A zero or
// negative TTL disables the lock. Trusted clients, such as a sampler on the
// same host, are never locked.
type StoreLock struct {
	ttl     time.Duration
	locks   sync.Map // ip -> time.Time (lock expiry)
	now     func() time.Time
	trusted []netip.Prefix
}

// NewStoreLock creates a lock with the given TTL.
func NewStoreLock(ttl time.Duration) *StoreLock {
	return &StoreLock{ttl: ttl, now: time.Now}
}

// Trust exempts clients in the given CIDR prefixes. A request is trusted only
// when both its peer address and its forwarded client address are in a
// trusted prefix, so a spoofed X-Forwarded-For cannot bypass the lock.
func (l *StoreLock) Trust(cidrs ...string) error {
	for _, c := range cidrs {
		p, err := netip.ParsePrefix(c)
		if err != nil {
			return fmt.Errorf("shield: trust %q: %w", c, err)
		}
		l.trusted = append(l.trusted, p.Masked())
	}
	return nil
}

func (l *StoreLock) isTrusted(r *http.Request) bool {
	if len(l.trusted) == 0 {
		return false
	}
	peer := r.RemoteAddr
	if host, _, err := net.SplitHostPort(peer); err == nil {
		peer = host
	}
	return l.trustedIP(peer) && l.trustedIP(ExtractIP(r))
}

func (l *StoreLock) trustedIP(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range l.trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// StartGC removes expired locks every TTL until done is closed.
func (l *StoreLock) StartGC(done <-chan struct{}) {
	if l.ttl <= 0 {
		return
	}
	tick := time.NewTicker(l.ttl)
	go func() {
		defer tick.Stop()
		for {
			select {
			case <-done:
				return
			case <-tick.C:
				l.gc()
			}
		}
	}()
}

func (l *StoreLock) gc() {
	now := l.now()
	l.locks.Range(func(key, value any) bool {
		if now.After(value.(time.Time)) {
			l.locks.Delete(key)
		}
		return true
	})
}

// acquire reports whether ip may store now, and if so locks it for the TTL.
func (l *StoreLock) acquire(ip string) bool {
	if l.ttl <= 0 {
		return true
	}
	now := l.now()
	expiry := now.Add(l.ttl)
	prev, loaded := l.locks.LoadOrStore(ip, expiry)
	if !loaded {
		return true
	}
	if now.After(prev.(time.Time)) {
		return l.locks.CompareAndSwap(ip, prev, expiry)
	}
	return false
}

// Middleware answers 429 with a JSON error while the client is locked.
func (l *StoreLock) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ExtractIP(r)
		if l.isTrusted(r) || l.acquire(ip) {
			next.ServeHTTP(w, r)
			return
		}

		slog.Warn("storelock: submission blocked", "ip", ip, "path", r.URL.Path)
		w.Header().Set("Retry-After", strconv.Itoa(max(1, int(l.ttl/time.Second))))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]string{
			"error": "url metric storage locked for this client",
		})
	})
}

// ExtractIP returns the client IP from X-Forwarded-For or RemoteAddr.
func ExtractIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i >= 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
