package limits

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"wsrelay/internal/monitoring"
)

// ConnLimiter throttles connection attempts with two token buckets: one per
// source IP and one global. It guards the upgrade path before the capacity
// check, so a reconnect storm cannot reach the registry.
type ConnLimiter struct {
	ipMu       sync.Mutex
	ipLimiters map[string]*ipEntry
	ipBurst    int
	ipRate     float64
	ipTTL      time.Duration

	global *rate.Limiter

	logger zerolog.Logger

	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	stopOnce      sync.Once
}

type ipEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// ConnLimiterConfig holds connection-attempt limits. Zero values fall back
// to defaults: per-IP 10 burst / 1 per second with 5 minute TTL, global 300
// burst / 50 per second.
type ConnLimiterConfig struct {
	IPBurst     int
	IPRate      float64
	IPTTL       time.Duration
	GlobalBurst int
	GlobalRate  float64
	Logger      zerolog.Logger
}

// NewConnLimiter creates the limiter and starts its cleanup loop.
func NewConnLimiter(cfg ConnLimiterConfig) *ConnLimiter {
	if cfg.IPBurst == 0 {
		cfg.IPBurst = 10
	}
	if cfg.IPRate == 0 {
		cfg.IPRate = 1.0
	}
	if cfg.IPTTL == 0 {
		cfg.IPTTL = 5 * time.Minute
	}
	if cfg.GlobalBurst == 0 {
		cfg.GlobalBurst = 300
	}
	if cfg.GlobalRate == 0 {
		cfg.GlobalRate = 50.0
	}

	l := &ConnLimiter{
		ipLimiters:  make(map[string]*ipEntry),
		ipBurst:     cfg.IPBurst,
		ipRate:      cfg.IPRate,
		ipTTL:       cfg.IPTTL,
		global:      rate.NewLimiter(rate.Limit(cfg.GlobalRate), cfg.GlobalBurst),
		logger:      cfg.Logger.With().Str("component", "conn_limiter").Logger(),
		stopCleanup: make(chan struct{}),
	}

	l.cleanupTicker = time.NewTicker(time.Minute)
	go l.cleanupLoop()
	return l
}

// Allow reports whether a connection attempt from ip may proceed. The
// global bucket is checked first, then the per-IP bucket.
func (l *ConnLimiter) Allow(ip string) bool {
	if !l.global.Allow() {
		monitoring.RateLimited.WithLabelValues("conn_global").Inc()
		l.logger.Debug().Str("ip", ip).Msg("Connection rejected: global rate limit")
		return false
	}
	if !l.ipLimiter(ip).Allow() {
		monitoring.RateLimited.WithLabelValues("conn_ip").Inc()
		l.logger.Debug().Str("ip", ip).Msg("Connection rejected: per-IP rate limit")
		return false
	}
	return true
}

func (l *ConnLimiter) ipLimiter(ip string) *rate.Limiter {
	l.ipMu.Lock()
	defer l.ipMu.Unlock()

	entry, ok := l.ipLimiters[ip]
	if !ok {
		entry = &ipEntry{limiter: rate.NewLimiter(rate.Limit(l.ipRate), l.ipBurst)}
		l.ipLimiters[ip] = entry
	}
	entry.lastAccess = time.Now()
	return entry.limiter
}

func (l *ConnLimiter) cleanupLoop() {
	for {
		select {
		case <-l.cleanupTicker.C:
			l.cleanup()
		case <-l.stopCleanup:
			l.cleanupTicker.Stop()
			return
		}
	}
}

func (l *ConnLimiter) cleanup() {
	l.ipMu.Lock()
	defer l.ipMu.Unlock()

	now := time.Now()
	removed := 0
	for ip, entry := range l.ipLimiters {
		if now.Sub(entry.lastAccess) > l.ipTTL {
			delete(l.ipLimiters, ip)
			removed++
		}
	}
	if removed > 0 {
		l.logger.Debug().
			Int("removed", removed).
			Int("remaining", len(l.ipLimiters)).
			Msg("Cleaned up stale IP limiters")
	}
}

// Stop terminates the cleanup loop. Safe to call more than once.
func (l *ConnLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCleanup) })
}
