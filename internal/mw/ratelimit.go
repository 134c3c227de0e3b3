package mw

import (
	"net"
	"net/http"
	"sync"
	"time"

	"aichatroom/internal/auth"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type keyLimiter struct {
	lim *rate.Limiter
	ts  time.Time
}

// KeyedLimiter 为每个 key 维护独立的令牌桶，空闲超过 ttl 的 key 会被回收。
type KeyedLimiter struct {
	mu   sync.Mutex
	m    map[string]*keyLimiter
	r    rate.Limit
	b    int
	ttl  time.Duration
	stop chan struct{}
	once sync.Once
}

func NewKeyedLimiter(r rate.Limit, burst int, ttl time.Duration) *KeyedLimiter {
	return &KeyedLimiter{m: make(map[string]*keyLimiter), r: r, b: burst, ttl: ttl, stop: make(chan struct{})}
}

func (kl *KeyedLimiter) get(key string) *rate.Limiter {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	e, ok := kl.m[key]
	if ok {
		e.ts = time.Now()
		return e.lim
	}
	lim := rate.NewLimiter(kl.r, kl.b)
	kl.m[key] = &keyLimiter{lim: lim, ts: time.Now()}
	return lim
}

// Allow 报告 key 当前是否还有令牌。
func (kl *KeyedLimiter) Allow(key string) bool {
	return kl.get(key).Allow()
}

// Len 返回当前跟踪的 key 数量。
func (kl *KeyedLimiter) Len() int {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	return len(kl.m)
}

func (kl *KeyedLimiter) sweep(now time.Time) {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	for k, v := range kl.m {
		if now.Sub(v.ts) > kl.ttl {
			delete(kl.m, k)
		}
	}
}

// Run 周期性回收空闲 key，直到 Stop 被调用。
func (kl *KeyedLimiter) Run(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-kl.stop:
			return
		case now := <-ticker.C:
			kl.sweep(now)
		}
	}
}

// Stop 停止回收 goroutine，用于优雅停服。
func (kl *KeyedLimiter) Stop() {
	kl.once.Do(func() { close(kl.stop) })
}

// RateLimit 返回一个基于 IP+路径的令牌桶限速中间件。
func RateLimit(kl *KeyedLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := clientIP(c.Request.RemoteAddr)
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		if !kl.Allow(ip + "|" + path) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}

// PerUser 按登录用户限速，超限时直接返回 202，用于可丢弃的写入（如输入状态）。
func PerUser(kl *KeyedLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !kl.Allow(auth.GetUserID(c)) {
			c.AbortWithStatusJSON(http.StatusAccepted, gin.H{"throttled": true})
			return
		}
		c.Next()
	}
}

func clientIP(remote string) string {
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		return remote
	}
	return host
}
