package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ecorewards-engine/pkg/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func rateLimitConfig(capacity int) *config.Config {
	cfg := &config.Config{}
	cfg.RateLimit.Enabled = true
	cfg.RateLimit.Capacity = capacity
	cfg.RateLimit.RefillTokens = 1
	cfg.RateLimit.RefillInterval = time.Hour
	return cfg
}

func newLimitedRouter(cfg *config.Config, rdb *redis.Client) *gin.Engine {
	r := gin.New()
	r.Use(Error())
	r.POST("/v1/actions",
		func(c *gin.Context) {
			if uid := c.GetHeader("X-Test-User"); uid != "" {
				c.Set(ContextUserID, uid)
			}
			c.Next()
		},
		RateLimit(cfg, rdb, "actions"),
		func(c *gin.Context) { c.Status(http.StatusCreated) },
	)
	return r
}

func post(r http.Handler, userID string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/actions", nil)
	if userID != "" {
		req.Header.Set("X-Test-User", userID)
	}
	r.ServeHTTP(w, req)
	return w
}

func newMiniRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestRateLimitDisabledPassesThrough(t *testing.T) {
	_, rdb := newMiniRedis(t)

	t.Run("flag off", func(t *testing.T) {
		cfg := rateLimitConfig(1)
		cfg.RateLimit.Enabled = false
		r := newLimitedRouter(cfg, rdb)
		for i := 0; i < 3; i++ {
			require.Equal(t, http.StatusCreated, post(r, "alice").Code)
		}
	})

	t.Run("no redis", func(t *testing.T) {
		r := newLimitedRouter(rateLimitConfig(1), nil)
		for i := 0; i < 3; i++ {
			require.Equal(t, http.StatusCreated, post(r, "alice").Code)
		}
	})
}

func TestRateLimitDeniesAfterCapacity(t *testing.T) {
	mr, rdb := newMiniRedis(t)
	r := newLimitedRouter(rateLimitConfig(2), rdb)

	w := post(r, "alice")
	require.Equal(t, http.StatusCreated, w.Code)
	require.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	require.Equal(t, "1", w.Header().Get("X-RateLimit-Remaining"))

	require.Equal(t, http.StatusCreated, post(r, "alice").Code)

	w = post(r, "alice")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	require.NotEmpty(t, w.Header().Get("Retry-After"))
	require.Contains(t, w.Body.String(), "rate limit exceeded")

	// buckets are per user
	require.Equal(t, http.StatusCreated, post(r, "bob").Code)

	require.True(t, mr.Exists("ratelimit:actions:alice"))
}

func TestRateLimitFailsOpenOnRedisError(t *testing.T) {
	mr, rdb := newMiniRedis(t)
	r := newLimitedRouter(rateLimitConfig(1), rdb)

	mr.Close()

	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusCreated, post(r, "alice").Code)
	}
}
