package auth

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/HyphaGroup/mcpcore/internal/transport"
)

func TestRateLimiter_Allow(t *testing.T) {
	limiter := NewRateLimiter(1000, 10)
	for i := 0; i < 10; i++ {
		if !limiter.Allow("test-key") {
			t.Errorf("Allow() should return true for request %d (within burst)", i)
		}
	}
}

func TestRateLimiter_BlocksOverLimit(t *testing.T) {
	limiter := NewRateLimiter(0.1, 2)
	if !limiter.Allow("test-key") {
		t.Error("first request should be allowed")
	}
	if !limiter.Allow("test-key") {
		t.Error("second request should be allowed (burst)")
	}
	if limiter.Allow("test-key") {
		t.Error("third request should be blocked (over limit)")
	}
}

func TestRateLimiter_PerKeyIsolation(t *testing.T) {
	limiter := NewRateLimiter(0.1, 2)
	limiter.Allow("key1")
	limiter.Allow("key1")
	if !limiter.Allow("key2") {
		t.Error("key2's first request should be allowed")
	}
	if !limiter.Allow("key2") {
		t.Error("key2's second request should be allowed")
	}
}

func TestRateLimiter_DefaultRateLimiter(t *testing.T) {
	limiter := DefaultRateLimiter()
	if limiter == nil {
		t.Fatal("DefaultRateLimiter() returned nil")
	}
	if !limiter.Allow("test") {
		t.Error("default limiter should allow requests")
	}
}

func TestRateLimiter_ConcurrentAccess(t *testing.T) {
	limiter := NewRateLimiter(10000, 100)
	var wg sync.WaitGroup
	var allowed, denied int
	var mu sync.Mutex

	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := "key-" + string(rune('0'+i%10))
			result := limiter.Allow(key)
			mu.Lock()
			if result {
				allowed++
			} else {
				denied++
			}
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	if allowed != 200 {
		t.Logf("allowed=%d, denied=%d", allowed, denied)
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	limiter := NewRateLimiter(10, 5)
	limiter.Allow("key1")
	limiter.Allow("key2")
	limiter.Allow("key3")
	limiter.Cleanup(0)
	if !limiter.Allow("key1") {
		t.Error("after cleanup, first request should be allowed")
	}
}

func TestRateLimitMiddleware_KeysBySessionOverToken(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	limiter := NewRateLimiter(0.1, 1)
	wrapped := RateLimitMiddleware(limiter)(handler)

	// Two requests carrying the same bearer token but different
	// session ids must not share a bucket.
	req1 := httptest.NewRequest("POST", "/mcp", http.NoBody)
	req1.Header.Set(transport.SessionIDHeader, "sess-1")
	req1 = req1.WithContext(WithContext(req1.Context(), &AuthContext{Type: AuthTypeBearer, Token: "shared-token"}))
	rec1 := httptest.NewRecorder()
	wrapped.ServeHTTP(rec1, req1)
	if rec1.Code != http.StatusOK {
		t.Fatalf("sess-1 first request: status = %d, want 200", rec1.Code)
	}

	req2 := httptest.NewRequest("POST", "/mcp", http.NoBody)
	req2.Header.Set(transport.SessionIDHeader, "sess-2")
	req2 = req2.WithContext(WithContext(req2.Context(), &AuthContext{Type: AuthTypeBearer, Token: "shared-token"}))
	rec2 := httptest.NewRecorder()
	wrapped.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusOK {
		t.Errorf("sess-2 request should not be throttled by sess-1's bucket, status = %d", rec2.Code)
	}

	// A second request on sess-1 should now be over its own limit.
	req3 := httptest.NewRequest("POST", "/mcp", http.NoBody)
	req3.Header.Set(transport.SessionIDHeader, "sess-1")
	req3 = req3.WithContext(WithContext(req3.Context(), &AuthContext{Type: AuthTypeBearer, Token: "shared-token"}))
	rec3 := httptest.NewRecorder()
	wrapped.ServeHTTP(rec3, req3)
	if rec3.Code != http.StatusTooManyRequests {
		t.Errorf("sess-1 second request: status = %d, want 429", rec3.Code)
	}
}

func TestRateLimiter_getLimiter_DoubleCheck(t *testing.T) {
	limiter := NewRateLimiter(10, 5)
	var wg sync.WaitGroup
	results := make(chan bool, 100)

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l := limiter.getLimiter("same-key")
			results <- (l != nil)
		}()
	}
	wg.Wait()
	close(results)

	for result := range results {
		if !result {
			t.Error("getLimiter should always return non-nil")
		}
	}
}
