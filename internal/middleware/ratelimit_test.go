package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/zjoart/go-cleaner-wallet/internal/user"
	"github.com/zjoart/go-cleaner-wallet/pkg/utils"
	"golang.org/x/time/rate"
)

func newLimitedHandler(rl *RateLimiter) http.Handler {
	return rl.Limit(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func TestRateLimiter(t *testing.T) {
	handler := newLimitedHandler(NewRateLimiter(rate.Limit(2), 2))

	makeRequest := func(ip string) int {
		req := httptest.NewRequest("GET", "/", nil)
		req.RemoteAddr = ip + ":1234"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w.Code
	}

	ip := "192.168.1.1"
	assert.Equal(t, http.StatusOK, makeRequest(ip))
	assert.Equal(t, http.StatusOK, makeRequest(ip))

	// request will be ratelimited here
	assert.Equal(t, http.StatusTooManyRequests, makeRequest(ip))

	// different IP should pass
	assert.Equal(t, http.StatusOK, makeRequest("192.168.1.2"))
}

func TestRateLimiter_KeysByUser(t *testing.T) {
	handler := newLimitedHandler(PerMinute(1))

	makeRequest := func(userID uuid.UUID) int {
		req := httptest.NewRequest("POST", "/api/wallet/topups", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		ctx := context.WithValue(req.Context(), utils.UserKey, user.User{ID: userID})
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req.WithContext(ctx))
		return w.Code
	}

	alice, bob := uuid.New(), uuid.New()
	assert.Equal(t, http.StatusOK, makeRequest(alice))
	assert.Equal(t, http.StatusTooManyRequests, makeRequest(alice))

	// same IP, different user
	assert.Equal(t, http.StatusOK, makeRequest(bob))
}

func TestRateLimiter_EvictsIdleVisitors(t *testing.T) {
	rl := NewRateLimiter(rate.Limit(1), 1)
	rl.getVisitor("ip:1.1.1.1")

	rl.evictIdle(time.Now())
	assert.Len(t, rl.visitors, 1)

	rl.evictIdle(time.Now().Add(5 * time.Minute))
	assert.Empty(t, rl.visitors)
}
