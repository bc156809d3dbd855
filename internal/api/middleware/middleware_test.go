package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/egsm/perftrace/internal/infrastructure/tracing"
	"github.com/egsm/perftrace/internal/shared/clock"
)

func newRouter(mw gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(mw)
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func get(r *gin.Engine, remote, component string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = remote
	if component != "" {
		req.Header.Set(ComponentHeader, component)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimitIsPerClient(t *testing.T) {
	fake := clock.Fake(time.Unix(0, 0))
	r := newRouter(RateLimit(RateLimitConfig{RequestsPerSecond: 1, Burst: 2, Clock: fake}))

	assert.Equal(t, http.StatusOK, get(r, "10.0.0.1:1000", "").Code)
	assert.Equal(t, http.StatusOK, get(r, "10.0.0.1:1000", "").Code)
	w := get(r, "10.0.0.1:1000", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, get(r, "10.0.0.2:1000", "").Code)

	fake.Advance(time.Second)
	assert.Equal(t, http.StatusOK, get(r, "10.0.0.1:1000", "").Code)
}

func TestRateLimitKeysOnComponent(t *testing.T) {
	fake := clock.Fake(time.Unix(0, 0))
	r := newRouter(RateLimit(RateLimitConfig{RequestsPerSecond: 1, Burst: 1, Clock: fake}))

	assert.Equal(t, http.StatusOK, get(r, "10.0.0.1:1000", "engine").Code)
	assert.Equal(t, http.StatusOK, get(r, "10.0.0.1:1000", "aggregator").Code)
	assert.Equal(t, http.StatusTooManyRequests, get(r, "10.0.0.1:1000", "engine").Code)
}

func TestIdleLimitersAreSwept(t *testing.T) {
	fake := clock.Fake(time.Unix(0, 0))
	set := &limiterSet{
		cfg:       RateLimitConfig{RequestsPerSecond: 1, Burst: 1, IdleTTL: time.Minute, Clock: fake},
		clients:   make(map[string]*clientLimiter),
		lastSweep: fake.Now(),
	}
	assert.True(t, set.allow("a"))
	assert.True(t, set.allow("b"))
	assert.Equal(t, 2, set.len())

	fake.Advance(2 * time.Minute)
	assert.True(t, set.allow("c"))
	assert.Equal(t, 1, set.len())
}

func preflight(r *gin.Engine, origin string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", origin)
	req.Header.Set("Access-Control-Request-Method", "POST")
	req.Header.Set("Access-Control-Request-Headers", tracing.Header)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCORSExposesCorrelationHeader(t *testing.T) {
	r := newRouter(CORS())

	w := preflight(r, "http://dashboard.local")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), http.CanonicalHeaderKey(tracing.Header))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.CanonicalHeaderKey(tracing.Header), w.Header().Get("Access-Control-Expose-Headers"))
}

func TestCORSRestrictedOrigins(t *testing.T) {
	r := newRouter(CORS("http://dashboard.local"))

	w := preflight(r, "http://dashboard.local")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://dashboard.local", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))

	w = preflight(r, "http://elsewhere.local")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
