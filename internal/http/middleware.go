package http

import (
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/allisson/batchdonations/internal/httputil"
)

// CustomLoggerMiddleware writes one slog line per request. Server errors log
// at error level, client errors at warn.
func CustomLoggerMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		attrs := []slog.Attr{
			slog.String("request_id", requestid.Get(c)),
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.String("route", c.FullPath()),
			slog.Int("status", status),
			slog.Duration("duration", time.Since(start)),
			slog.String("client_ip", c.ClientIP()),
		}
		if batchID := c.Param("id"); batchID != "" {
			attrs = append(attrs, slog.String("batch_id", batchID))
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, slog.String("errors", c.Errors.String()))
		}

		level := slog.LevelInfo
		switch {
		case status >= http.StatusInternalServerError:
			level = slog.LevelError
		case status >= http.StatusBadRequest:
			level = slog.LevelWarn
		}
		logger.LogAttrs(c, level, "http request", attrs...)
	}
}

// limiterIdleTTL is how long a client's limiter survives without requests.
const limiterIdleTTL = time.Hour

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64
}

// clientLimiters keeps one token bucket per client IP. Idle buckets are swept
// from the request path at most once per sweepEvery.
type clientLimiters struct {
	limit      rate.Limit
	burst      int
	sweepEvery time.Duration
	now        func() time.Time

	clients   sync.Map // string -> *clientLimiter
	lastSweep atomic.Int64
}

func newClientLimiters(rps float64, burst int) *clientLimiters {
	l := &clientLimiters{
		limit:      rate.Limit(rps),
		burst:      burst,
		sweepEvery: 5 * time.Minute,
		now:        time.Now,
	}
	l.lastSweep.Store(l.now().UnixNano())
	return l
}

func (l *clientLimiters) get(clientIP string) *rate.Limiter {
	now := l.now()
	l.maybeSweep(now)

	if v, ok := l.clients.Load(clientIP); ok {
		entry := v.(*clientLimiter)
		entry.lastSeen.Store(now.UnixNano())
		return entry.limiter
	}

	entry := &clientLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
	entry.lastSeen.Store(now.UnixNano())
	actual, _ := l.clients.LoadOrStore(clientIP, entry)
	return actual.(*clientLimiter).limiter
}

func (l *clientLimiters) maybeSweep(now time.Time) {
	last := l.lastSweep.Load()
	if now.UnixNano()-last < l.sweepEvery.Nanoseconds() {
		return
	}
	if !l.lastSweep.CompareAndSwap(last, now.UnixNano()) {
		return
	}
	cutoff := now.Add(-limiterIdleTTL).UnixNano()
	l.clients.Range(func(key, value any) bool {
		if value.(*clientLimiter).lastSeen.Load() < cutoff {
			l.clients.Delete(key)
		}
		return true
	})
}

// RateLimitMiddleware throttles the admin API per client IP. Rejected requests
// get 429 and a Retry-After header in whole seconds.
func RateLimitMiddleware(rps float64, burst int, logger *slog.Logger) gin.HandlerFunc {
	limiters := newClientLimiters(rps, burst)

	return func(c *gin.Context) {
		clientIP := c.ClientIP()
		limiter := limiters.get(clientIP)

		if limiter.Allow() {
			c.Next()
			return
		}

		reservation := limiter.Reserve()
		wait := reservation.Delay()
		reservation.Cancel()
		retryAfter := max(int(wait.Round(time.Second)/time.Second), 1)

		logger.Debug("rate limit exceeded",
			slog.String("client_ip", clientIP),
			slog.Int("retry_after", retryAfter),
		)

		c.Header("Retry-After", strconv.Itoa(retryAfter))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, httputil.ErrorResponse{
			Error:   "rate_limit_exceeded",
			Message: "Too many requests, retry after the Retry-After delay",
		})
	}
}
