package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter 上行发送限流；key 为限流维度（如 send:<userId>）。
// Local 为进程内实现，RedisBucket 为多进程共享实现。
type Limiter interface {
	Allow(ctx context.Context, key string) bool
}

// Local 进程内按 key 的令牌桶，未配置 Redis 时使用
type Local struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	qps     rate.Limit
	burst   int
}

func NewLocal(qps float64, burst int) *Local {
	if burst < 1 {
		burst = 1
	}
	return &Local{buckets: make(map[string]*rate.Limiter), qps: rate.Limit(qps), burst: burst}
}

func (l *Local) Allow(_ context.Context, key string) bool {
	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = rate.NewLimiter(l.qps, l.burst)
		l.buckets[key] = b
	}
	l.mu.Unlock()
	return b.Allow()
}
