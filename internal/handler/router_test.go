package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/mailfeed/internal/middleware"
	"github.com/hitoshi/mailfeed/internal/model"
)

const (
	adminUserID  = "9b2f1c3a-7d4e-4b8a-a1f0-5c6d7e8f9a0b"
	testSecret   = "s3cret"
	adminAddress = "admin@example.com"
)

type stubUserFinder struct{}

func (stubUserFinder) FindByID(ctx context.Context, id string) (*model.User, error) {
	switch id {
	case testUserID:
		return &model.User{ID: id, Email: "reader@example.com"}, nil
	case adminUserID:
		return &model.User{ID: id, Email: adminAddress}, nil
	}
	return nil, nil
}

type stubAdmins struct{}

func (stubAdmins) IsAdmin(email string) bool { return email == adminAddress }

type stubPinger struct{ err error }

func (p stubPinger) PingContext(ctx context.Context) error { return p.err }

type statusCounter struct{ statuses []int }

func (c *statusCounter) RecordHTTPStatus(status int) { c.statuses = append(c.statuses, status) }

func newTestRouter(t *testing.T, pinger HealthChecker, recorder middleware.StatusRecorder) http.Handler {
	t.Helper()
	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(rl.Stop)

	return NewRouter(&RouterDeps{
		Logger:              slog.New(slog.NewTextHandler(io.Discard, nil)),
		StatusRecorder:      recorder,
		UserFinder:          stubUserFinder{},
		AdminChecker:        stubAdmins{},
		CORSAllowedOrigin:   "http://localhost:3000",
		RateLimiter:         rl,
		InboundSecret:       testSecret,
		InboundMaxBodySize:  1 << 20,
		HealthChecker:       pinger,
		MetricsHandler:      http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { io.WriteString(w, "# metrics") }),
		Ingester:            &mockIngester{},
		ArticleService:      &mockArticleService{},
		SubscriptionService: &mockSubscriptionService{},
		UserService:         &mockUserService{},
		UsageChecker:        &mockUsageChecker{},
		NewsletterService:   &mockNewsletterService{},
		AdminService:        &mockAdminService{},
	})
}

func doRequest(h http.Handler, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRouter_Health(t *testing.T) {
	healthy := newTestRouter(t, stubPinger{}, nil)
	if w := doRequest(healthy, http.MethodGet, "/health", "", nil); w.Code != http.StatusOK {
		t.Errorf("healthy status = %d, want 200", w.Code)
	}

	down := newTestRouter(t, stubPinger{err: errors.New("connection refused")}, nil)
	if w := doRequest(down, http.MethodGet, "/health", "", nil); w.Code != http.StatusServiceUnavailable {
		t.Errorf("unhealthy status = %d, want 503", w.Code)
	}
}

func TestRouter_MetricsIsPublic(t *testing.T) {
	w := doRequest(newTestRouter(t, stubPinger{}, nil), http.MethodGet, "/metrics", "", nil)

	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "# metrics") {
		t.Errorf("status = %d body = %q", w.Code, w.Body.String())
	}
}

func TestRouter_AuthenticatedRoutes(t *testing.T) {
	router := newTestRouter(t, stubPinger{}, nil)
	routes := []struct {
		method string
		path   string
		body   string
	}{
		{http.MethodGet, "/api/me", ""},
		{http.MethodGet, "/api/feed", ""},
		{http.MethodGet, "/api/saved", ""},
		{http.MethodGet, "/api/subscriptions", ""},
		{http.MethodGet, "/api/usage/saved_articles", ""},
		{http.MethodGet, "/api/newsletters/predefined", ""},
		{http.MethodPut, "/api/articles/a-1/read", ""},
		{http.MethodDelete, "/api/subscriptions/sub-1", ""},
	}

	for _, rt := range routes {
		t.Run(rt.method+" "+rt.path, func(t *testing.T) {
			if w := doRequest(router, rt.method, rt.path, rt.body, nil); w.Code != http.StatusUnauthorized {
				t.Errorf("without user: status = %d, want 401", w.Code)
			}

			w := doRequest(router, rt.method, rt.path, rt.body, map[string]string{middleware.UserIDHeader: testUserID})
			if w.Code >= 400 {
				t.Errorf("with user: status = %d (body=%s)", w.Code, w.Body.String())
			}
		})
	}
}

func TestRouter_UnknownUser(t *testing.T) {
	w := doRequest(newTestRouter(t, stubPinger{}, nil), http.MethodGet, "/api/me", "",
		map[string]string{middleware.UserIDHeader: "00000000-0000-4000-8000-000000000000"})

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestRouter_AdminRoutes(t *testing.T) {
	router := newTestRouter(t, stubPinger{}, nil)
	paths := []struct {
		method string
		path   string
		body   string
	}{
		{http.MethodGet, "/api/admin/inbound", ""},
		{http.MethodGet, "/api/admin/newsletters/top", ""},
		{http.MethodPost, "/api/admin/inbound/e-1/reprocess", ""},
		{http.MethodPost, "/api/admin/articles/bulk-delete", `{"ids": ["a-1"]}`},
	}

	for _, p := range paths {
		t.Run(p.method+" "+p.path, func(t *testing.T) {
			w := doRequest(router, p.method, p.path, p.body, map[string]string{
				middleware.UserIDHeader: testUserID,
				"X-User-Email":          adminAddress,
			})
			if w.Code != http.StatusForbidden {
				t.Errorf("non-admin: status = %d, want 403", w.Code)
			}

			w = doRequest(router, p.method, p.path, p.body, map[string]string{middleware.UserIDHeader: adminUserID})
			if w.Code != http.StatusOK {
				t.Errorf("admin: status = %d, want 200 (body=%s)", w.Code, w.Body.String())
			}
		})
	}
}

func TestRouter_InboundRequiresSecret(t *testing.T) {
	router := newTestRouter(t, stubPinger{}, nil)
	body := `{"recipient": "abc@in.example.com", "rawContent": "<p>hi</p>"}`

	if w := doRequest(router, http.MethodPost, "/inbound/email", body, nil); w.Code != http.StatusUnauthorized {
		t.Errorf("without secret: status = %d, want 401", w.Code)
	}
	if w := doRequest(router, http.MethodPost, "/inbound/email", body,
		map[string]string{middleware.InboundSecretHeader: "wrong"}); w.Code != http.StatusUnauthorized {
		t.Errorf("wrong secret: status = %d, want 401", w.Code)
	}

	w := doRequest(router, http.MethodPost, "/inbound/email", body, map[string]string{middleware.InboundSecretHeader: testSecret})
	if w.Code != http.StatusOK {
		t.Errorf("with secret: status = %d, want 200 (body=%s)", w.Code, w.Body.String())
	}
}

func TestRouter_RegisterRequiresSecret(t *testing.T) {
	router := newTestRouter(t, stubPinger{}, nil)
	body := `{"email": "reader@example.com"}`

	if w := doRequest(router, http.MethodPost, "/api/users", body, nil); w.Code != http.StatusUnauthorized {
		t.Errorf("without secret: status = %d, want 401", w.Code)
	}
	w := doRequest(router, http.MethodPost, "/api/users", body, map[string]string{middleware.InboundSecretHeader: testSecret})
	if w.Code != http.StatusCreated {
		t.Errorf("with secret: status = %d, want 201", w.Code)
	}
}

func TestRouter_SecurityHeadersAndStatusMetric(t *testing.T) {
	recorder := &statusCounter{}
	router := newTestRouter(t, stubPinger{}, recorder)

	w := doRequest(router, http.MethodGet, "/health", "", nil)

	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers not applied")
	}
	if len(recorder.statuses) != 1 || recorder.statuses[0] != http.StatusOK {
		t.Errorf("recorded statuses = %v", recorder.statuses)
	}
}
