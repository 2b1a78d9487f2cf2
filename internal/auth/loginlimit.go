// loginlimit.go implements the failed-login throttle: after a configured
// number of consecutive failures for one email+IP pair, further attempts for
// that pair are refused until the cooldown elapses. State is in-memory and
// per-process; a restart clears it, which only ever errs toward allowing a
// legitimate user in sooner.
package auth

import (
	"strings"
	"sync"
	"time"
)

// LoginThrottle tracks consecutive failed login attempts per email+IP pair.
type LoginThrottle struct {
	maxFailures int
	cooldown    time.Duration

	mu      sync.Mutex
	entries map[string]*throttleEntry
	stopCh  chan struct{}
	stopped sync.Once
}

type throttleEntry struct {
	failures    int
	lastFailure time.Time
}

// NewLoginThrottle creates a throttle and starts its cleanup loop. Non-positive
// arguments fall back to the configuration defaults (5 failures, 15m cooldown).
func NewLoginThrottle(maxFailures int, cooldown time.Duration) *LoginThrottle {
	if maxFailures <= 0 {
		maxFailures = 5
	}
	if cooldown <= 0 {
		cooldown = 15 * time.Minute
	}
	lt := &LoginThrottle{
		maxFailures: maxFailures,
		cooldown:    cooldown,
		entries:     make(map[string]*throttleEntry),
		stopCh:      make(chan struct{}),
	}
	go lt.cleanup()
	return lt
}

// cleanup periodically removes entries whose cooldown has long expired.
func (lt *LoginThrottle) cleanup() {
	ticker := time.NewTicker(lt.cooldown)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			lt.mu.Lock()
			now := time.Now()
			for key, entry := range lt.entries {
				if now.Sub(entry.lastFailure) > 2*lt.cooldown {
					delete(lt.entries, key)
				}
			}
			lt.mu.Unlock()
		case <-lt.stopCh:
			return
		}
	}
}

// Stop stops the cleanup goroutine.
func (lt *LoginThrottle) Stop() {
	lt.stopped.Do(func() { close(lt.stopCh) })
}

func throttleKey(email, ip string) string {
	return strings.ToLower(email) + "|" + ip
}

// Allow reports whether a login attempt for this email+IP pair may proceed.
// The pair is blocked once it has accumulated maxFailures consecutive
// failures within the cooldown window.
func (lt *LoginThrottle) Allow(email, ip string) bool {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	entry, exists := lt.entries[throttleKey(email, ip)]
	if !exists {
		return true
	}

	if time.Since(entry.lastFailure) > lt.cooldown {
		// Cooldown elapsed; forgive the streak.
		delete(lt.entries, throttleKey(email, ip))
		return true
	}

	return entry.failures < lt.maxFailures
}

// RecordFailure counts one failed attempt for the pair.
func (lt *LoginThrottle) RecordFailure(email, ip string) {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	key := throttleKey(email, ip)
	entry, exists := lt.entries[key]
	if !exists {
		entry = &throttleEntry{}
		lt.entries[key] = entry
	}
	entry.failures++
	entry.lastFailure = time.Now()
}

// RecordSuccess resets the failure streak for the pair. A successful login
// proves possession of the credential, so past failures stop counting.
func (lt *LoginThrottle) RecordSuccess(email, ip string) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	delete(lt.entries, throttleKey(email, ip))
}

// RetryAfter returns how long until the pair may try again, zero when the
// pair is not currently blocked.
func (lt *LoginThrottle) RetryAfter(email, ip string) time.Duration {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	entry, exists := lt.entries[throttleKey(email, ip)]
	if !exists || entry.failures < lt.maxFailures {
		return 0
	}
	remaining := lt.cooldown - time.Since(entry.lastFailure)
	if remaining < 0 {
		return 0
	}
	return remaining
}
