package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/seiixin/PakbetTV-sub001/internal/auth"
	"github.com/seiixin/PakbetTV-sub001/internal/logger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Tier is one rate limit policy. A Limit or Window below one disables it.
type Tier struct {
	Name   string
	Limit  int
	Window time.Duration
	// Soft tiers never reject: over-quota requests are logged, flagged on the
	// context and served.
	Soft bool
}

func (t Tier) disabled() bool {
	return t.Limit <= 0 || t.Window <= 0
}

type overQuotaKey struct{}

// OverQuota reports whether a soft tier let this request through past its
// quota.
func OverQuota(ctx context.Context) bool {
	v, _ := ctx.Value(overQuotaKey{}).(bool)
	return v
}

// Limiter counts requests per key. Implementations must be safe for
// concurrent use.
type Limiter interface {
	Allow(ctx context.Context, key string, t Tier) (bool, error)
}

// RedisLimiter keeps fixed-window counters in Redis so every instance of the
// service shares the same quota.
type RedisLimiter struct {
	client redis.Cmdable
	prefix string
	now    func() time.Time
}

func NewRedisLimiter(client redis.Cmdable) *RedisLimiter {
	return &RedisLimiter{client: client, prefix: "ratelimit", now: time.Now}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string, t Tier) (bool, error) {
	if t.disabled() {
		return true, nil
	}
	window := l.now().UnixNano() / int64(t.Window)
	bucket := fmt.Sprintf("%s:%s:%s:%d", l.prefix, t.Name, key, window)

	n, err := l.client.Incr(ctx, bucket).Result()
	if err != nil {
		return false, err
	}
	if n == 1 {
		if err := l.client.Expire(ctx, bucket, t.Window).Err(); err != nil {
			return false, err
		}
	}
	return n <= int64(t.Limit), nil
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// LocalLimiter is the in-process fallback used when Redis is not
// configured. Quotas are per instance.
type LocalLimiter struct {
	mu        sync.Mutex
	visitors  map[string]*visitor
	lastSweep time.Time
	idle      time.Duration
	now       func() time.Time
}

func NewLocalLimiter() *LocalLimiter {
	return &LocalLimiter{
		visitors: make(map[string]*visitor),
		idle:     3 * time.Minute,
		now:      time.Now,
	}
}

func (l *LocalLimiter) Allow(_ context.Context, key string, t Tier) (bool, error) {
	if t.disabled() {
		return true, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) > time.Minute {
		for k, v := range l.visitors {
			if now.Sub(v.lastSeen) > l.idle {
				delete(l.visitors, k)
			}
		}
		l.lastSweep = now
	}

	bucket := t.Name + ":" + key
	v, ok := l.visitors[bucket]
	if !ok {
		every := rate.Every(t.Window / time.Duration(t.Limit))
		v = &visitor{limiter: rate.NewLimiter(every, t.Limit)}
		l.visitors[bucket] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1), nil
}

// RateLimit rejects requests over the tier's quota with 429, unless the tier
// is soft. Authenticated callers are keyed by user id, everyone else by client
// IP. A failing counter store lets the request through.
func RateLimit(l Limiter, t Tier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if t.disabled() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientKey(r)

			ok, err := l.Allow(r.Context(), key, t)
			if err != nil {
				logger.FromCtx(r.Context()).Warn("rate limiter unavailable",
					zap.String("tier", t.Name),
					zap.Error(err),
				)
				next.ServeHTTP(w, r)
				return
			}
			if !ok && t.Soft {
				logger.FromCtx(r.Context()).Warn("rate limit exceeded, serving anyway",
					zap.String("tier", t.Name),
					zap.String("key", key),
				)
				next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), overQuotaKey{}, true)))
				return
			}
			if !ok {
				w.Header().Set("Retry-After", strconv.Itoa(int(t.Window.Seconds())))
				http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	if p, ok := auth.PrincipalFrom(r.Context()); ok {
		return "user:" + strconv.FormatUint(uint64(p.UserID), 10)
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}
	return "ip:" + ip
}
