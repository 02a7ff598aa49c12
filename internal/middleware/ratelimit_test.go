package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/hitoshi/mailfeed/internal/model"
)

func testRateConfig(generalBurst, inboundBurst int) RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     1,
		GeneralBurst:    generalBurst,
		InboundRate:     1,
		InboundBurst:    inboundBurst,
		CleanupInterval: 1 * time.Minute,
	}
}

func requestAs(userID string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/articles", nil)
	if userID == "" {
		return req
	}
	return req.WithContext(context.WithValue(req.Context(), userIDContextKey, userID))
}

// --- GeneralMiddleware のテスト ---

func TestRateLimitMiddleware_AllowsRequestsWithinBurst(t *testing.T) {
	rl := NewRateLimiter(testRateConfig(5, 1))
	defer rl.Stop()

	calls := 0
	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestAs("user-1"))
		if w.Code != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d", i, w.Code, http.StatusOK)
		}
	}
	if calls != 5 {
		t.Errorf("handler call count = %d, want 5", calls)
	}
}

func TestRateLimitMiddleware_Returns429WithRetryAfter(t *testing.T) {
	rl := NewRateLimiter(testRateConfig(1, 1))
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), requestAs("user-1"))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestAs("user-1"))

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	retryAfter, err := strconv.Atoi(w.Header().Get("Retry-After"))
	if err != nil || retryAfter < 1 {
		t.Errorf("Retry-After = %q, want positive integer", w.Header().Get("Retry-After"))
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Code != "RATE_LIMIT_EXCEEDED" || body.Category != "system" || body.Action == "" {
		t.Errorf("unexpected body: %+v", body)
	}
}

func TestRateLimitMiddleware_IsolatesUsers(t *testing.T) {
	rl := NewRateLimiter(testRateConfig(1, 1))
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), requestAs("user-A"))
	wA := httptest.NewRecorder()
	handler.ServeHTTP(wA, requestAs("user-A"))
	if wA.Code != http.StatusTooManyRequests {
		t.Errorf("user-A second request: status = %d, want 429", wA.Code)
	}

	wB := httptest.NewRecorder()
	handler.ServeHTTP(wB, requestAs("user-B"))
	if wB.Code != http.StatusOK {
		t.Errorf("user-B first request: status = %d, want 200", wB.Code)
	}
	if got := rl.GeneralLimiterCount(); got != 2 {
		t.Errorf("GeneralLimiterCount = %d, want 2", got)
	}
}

func TestRateLimitMiddleware_NoUserID_Returns401(t *testing.T) {
	rl := NewRateLimiter(testRateConfig(5, 1))
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called without user ID")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestAs(""))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

// --- AllowInbound のテスト ---

func TestAllowInbound_LimitsPerRecipient(t *testing.T) {
	rl := NewRateLimiter(testRateConfig(1, 2))
	defer rl.Stop()

	for i := 0; i < 2; i++ {
		if !rl.AllowInbound(httptest.NewRecorder(), "u-abc@mail.example.com") {
			t.Fatalf("request %d should be allowed within burst", i)
		}
	}

	// 大文字小文字の違いは同じ宛先として扱う
	w := httptest.NewRecorder()
	if rl.AllowInbound(w, "U-ABC@mail.example.com ") {
		t.Fatal("third request for same recipient should be rejected")
	}
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", w.Code)
	}

	if !rl.AllowInbound(httptest.NewRecorder(), "u-other@mail.example.com") {
		t.Error("other recipient should not be limited")
	}
	if got := rl.InboundLimiterCount(); got != 2 {
		t.Errorf("InboundLimiterCount = %d, want 2", got)
	}
}

func TestAllowInbound_IndependentFromGeneralLimit(t *testing.T) {
	rl := NewRateLimiter(testRateConfig(1, 1))
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), requestAs("user-1"))
	handler.ServeHTTP(httptest.NewRecorder(), requestAs("user-1"))

	if !rl.AllowInbound(httptest.NewRecorder(), "user-1") {
		t.Error("inbound limit should be independent from general limit")
	}
}

// --- クリーンアップのテスト ---

func TestRateLimiter_CleanupRemovesExpiredEntries(t *testing.T) {
	cfg := testRateConfig(5, 5)
	cfg.CleanupInterval = 50 * time.Millisecond
	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), requestAs("user-cleanup"))
	rl.AllowInbound(httptest.NewRecorder(), "u-cleanup@mail.example.com")

	if rl.GeneralLimiterCount() == 0 || rl.InboundLimiterCount() == 0 {
		t.Fatal("expected limiter entries to exist")
	}

	// TTLはクリーンアップ間隔の2倍（100ms）
	time.Sleep(250 * time.Millisecond)

	if count := rl.GeneralLimiterCount(); count != 0 {
		t.Errorf("general entries after cleanup = %d, want 0", count)
	}
	if count := rl.InboundLimiterCount(); count != 0 {
		t.Errorf("inbound entries after cleanup = %d, want 0", count)
	}
}

// --- ミドルウェアチェーンとの統合テスト ---

func TestRateLimitMiddleware_InChainWithUserHeaderAndCORS(t *testing.T) {
	users := &mockUserFinder{
		findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
			return &model.User{ID: id, Email: "reader@example.com"}, nil
		},
	}

	rl := NewRateLimiter(testRateConfig(2, 1))
	defer rl.Stop()

	// CORS -> UserHeader -> RateLimit -> Handler
	handler := NewCORSMiddleware("http://localhost:3000")(
		NewUserHeaderMiddleware(users)(
			rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			})),
		),
	)

	send := func() int {
		req := httptest.NewRequest(http.MethodGet, "/api/articles", nil)
		req.Header.Set(UserIDHeader, testUserID)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w.Code
	}

	for i := 0; i < 2; i++ {
		if code := send(); code != http.StatusOK {
			t.Errorf("request %d: status = %d, want 200", i, code)
		}
	}
	if code := send(); code != http.StatusTooManyRequests {
		t.Errorf("request 3: status = %d, want 429", code)
	}
}

// --- デフォルト設定値のテスト ---

func TestDefaultRateLimiterConfig(t *testing.T) {
	cfg := DefaultRateLimiterConfig()

	if cfg.GeneralRate != 2.0 { // 120/60 = 2
		t.Errorf("GeneralRate = %f, want 2.0", cfg.GeneralRate)
	}
	if cfg.GeneralBurst != 120 {
		t.Errorf("GeneralBurst = %d, want 120", cfg.GeneralBurst)
	}
	if cfg.InboundRate != 1.0 {
		t.Errorf("InboundRate = %f, want 1.0", cfg.InboundRate)
	}
	if cfg.InboundBurst != 60 {
		t.Errorf("InboundBurst = %d, want 60", cfg.InboundBurst)
	}
}
