package registry

import (
	"sync"
	"time"

	"github.com/chafiq1992/wagateway/pkg/metrics"
)

// bucket is a token bucket refilled continuously at rate tokens/sec.
type bucket struct {
	capacity float64
	rate     float64
	tokens   float64
	last     time.Time
}

func (b *bucket) take(now time.Time) bool {
	elapsed := now.Sub(b.last).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * b.rate
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
		b.last = now
	}
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// SendLimiter throttles outbound sends per agent, with separate budgets
// for text and media. A full bucket holds one burst window of budget;
// refill always runs at the per-minute rate.
type SendLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket

	textPerMin  float64
	mediaPerMin float64
	burstWindow float64
	now         func() time.Time
}

func NewSendLimiter(textPerMin, mediaPerMin, burstWindowSec int) *SendLimiter {
	if burstWindowSec <= 0 {
		burstWindowSec = 60
	}
	return &SendLimiter{
		buckets:     make(map[string]*bucket),
		textPerMin:  float64(textPerMin),
		mediaPerMin: float64(mediaPerMin),
		burstWindow: float64(burstWindowSec),
		now:         time.Now,
	}
}

// AllowText reports whether the agent may send one more text message.
func (l *SendLimiter) AllowText(agentID string) bool {
	return l.allow(agentID+":text", l.textPerMin, "text")
}

// AllowMedia reports whether the agent may send one more media message.
func (l *SendLimiter) AllowMedia(agentID string) bool {
	return l.allow(agentID+":media", l.mediaPerMin, "media")
}

func (l *SendLimiter) allow(key string, perMin float64, kind string) bool {
	if perMin <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		capacity := perMin * l.burstWindow / 60
		b = &bucket{
			capacity: capacity,
			rate:     perMin / 60,
			tokens:   capacity,
			last:     l.now(),
		}
		l.buckets[key] = b
	}
	if !b.take(l.now()) {
		metrics.RateLimited.WithLabelValues(kind).Inc()
		return false
	}
	return true
}
