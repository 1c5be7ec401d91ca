package server

import (
	"context"
	"crypto/subtle"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"dify2ollama/internal/core"
)

// MaxBodySize is the maximum allowed request body size (50MB).
const MaxBodySize = 50 << 20

func (s *Server) maxBodySizeMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxBodySize)
		c.Next()
	}
}

type rateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitorInfo
	rate     int
	cleanup  time.Duration
}

type visitorInfo struct {
	count    int
	lastSeen time.Time
}

// newRateLimiter allows ratePerMinute requests per client IP. The cleanup loop
// exits when ctx is done.
func newRateLimiter(ctx context.Context, ratePerMinute int) *rateLimiter {
	rl := &rateLimiter{
		visitors: make(map[string]*visitorInfo),
		rate:     ratePerMinute,
		cleanup:  core.CacheCleanupInterval,
	}
	go rl.cleanupLoop(ctx)
	return rl
}

func (rl *rateLimiter) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(rl.cleanup)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.mu.Lock()
			for ip, v := range rl.visitors {
				if time.Since(v.lastSeen) > time.Minute {
					delete(rl.visitors, ip)
				}
			}
			rl.mu.Unlock()
		}
	}
}

func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	v, exists := rl.visitors[ip]
	if !exists || time.Since(v.lastSeen) > time.Minute {
		rl.visitors[ip] = &visitorInfo{count: 1, lastSeen: time.Now()}
		return true
	}
	v.count++
	v.lastSeen = time.Now()
	return v.count <= rl.rate
}

func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if !s.rateLimiter.allow(ip) {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			c.Abort()
			return
		}
		c.Next()
	}
}

func (s *Server) isValidClientKey(providedKey string) bool {
	providedBytes := []byte(providedKey)
	for validKey := range s.validClientKeys {
		validBytes := []byte(validKey)
		if len(providedBytes) == len(validBytes) && subtle.ConstantTimeCompare(providedBytes, validBytes) == 1 {
			return true
		}
	}
	return false
}

func (s *Server) corsMiddleware() gin.HandlerFunc {
	allowOrigin := s.config.CORSAllowOrigin
	if allowOrigin == "" {
		allowOrigin = "*"
	}

	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", allowOrigin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, x-api-key")
		c.Header("Access-Control-Max-Age", core.CORSMaxAge)

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// authorize admits a request carrying a valid client API key or a live session
// cookie. Otherwise API calls get a 401 and pages are sent to the login form.
func (s *Server) authorize(c *gin.Context) {
	if !s.config.AuthEnabled {
		c.Set(core.ContextKeyClient, "anonymous")
		return
	}

	if key, source := clientKeyFromRequest(c); key != "" && len(s.validClientKeys) > 0 {
		if s.isValidClientKey(key) {
			c.Set(core.ContextKeyClient, "apikey")
			return
		}
		c.JSON(http.StatusForbidden, gin.H{"error": "Invalid client API key (" + source + ")"})
		c.Abort()
		return
	}

	sess, err := s.currentSession(c)
	if err != nil {
		s.logger.Error("Session lookup failed: %v", err)
		respondWithError(c, core.ErrUnexpected(err))
		c.Abort()
		return
	}
	if sess != nil {
		c.Set(core.ContextKeyUser, sess.Username)
		c.Set(core.ContextKeyClient, "session:"+sess.Username)
		return
	}

	if strings.HasPrefix(c.Request.URL.Path, core.RouteAPIPrefix) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		c.Abort()
		return
	}
	c.Redirect(http.StatusFound, core.RouteLogin+"?next="+url.QueryEscape(c.Request.URL.RequestURI()))
	c.Abort()
}

// clientKeyFromRequest returns the presented key and the header it came from.
// x-api-key takes precedence over a Bearer token.
func clientKeyFromRequest(c *gin.Context) (string, string) {
	if apiKey := c.GetHeader(core.HeaderXAPIKey); apiKey != "" {
		return apiKey, "x-api-key"
	}
	if authHeader := c.GetHeader(core.HeaderAuthorization); strings.HasPrefix(authHeader, core.AuthBearerPrefix) {
		return strings.TrimPrefix(authHeader, core.AuthBearerPrefix), "Bearer token"
	}
	return "", ""
}

// currentSession resolves the session cookie, returning nil when there is none.
func (s *Server) currentSession(c *gin.Context) (*core.Session, error) {
	id, err := c.Cookie(core.SessionCookieName)
	if err != nil || id == "" {
		return nil, nil
	}
	return s.sessions.Lookup(c.Request.Context(), id)
}

// clientLabel names the caller for request history.
func clientLabel(c *gin.Context) string {
	if label := c.GetString(core.ContextKeyClient); label != "" {
		return label
	}
	return "anonymous"
}
