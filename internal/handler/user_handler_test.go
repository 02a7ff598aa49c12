package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/mailfeed/internal/model"
)

func newUserRouter(svc UserServiceInterface) http.Handler {
	h := NewUserHandler(svc)
	r := chi.NewRouter()
	r.Post("/api/users", h.Register)
	r.Get("/api/me", h.Me)
	r.Delete("/api/me", h.Withdraw)
	return r
}

func TestRegister(t *testing.T) {
	for _, created := range []bool{true, false} {
		t.Run(fmt.Sprintf("created=%v", created), func(t *testing.T) {
			svc := &mockUserService{
				registerFn: func(ctx context.Context, email string) (*model.User, bool, error) {
					return &model.User{ID: testUserID, Email: email, SystemEmail: "x@in.example.com", Plan: model.PlanFree}, created, nil
				},
			}
			req := httptest.NewRequest(http.MethodPost, "/api/users", strings.NewReader(`{"email": "reader@example.com"}`))
			w := httptest.NewRecorder()
			newUserRouter(svc).ServeHTTP(w, req)

			want := http.StatusOK
			if created {
				want = http.StatusCreated
			}
			if w.Code != want {
				t.Fatalf("status = %d, want %d", w.Code, want)
			}
			var resp userResponse
			decodeBody(t, w, &resp)
			if resp.Email != "reader@example.com" || resp.SystemEmail != "x@in.example.com" || resp.Plan != "free" {
				t.Errorf("unexpected response: %+v", resp)
			}
		})
	}
}

func TestRegister_InvalidEmail(t *testing.T) {
	svc := &mockUserService{
		registerFn: func(ctx context.Context, email string) (*model.User, bool, error) {
			return nil, false, model.NewInvalidRequestError("メールアドレスが不正です")
		},
	}
	req := httptest.NewRequest(http.MethodPost, "/api/users", strings.NewReader(`{"email": "nope"}`))
	w := httptest.NewRecorder()
	newUserRouter(svc).ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestMe_ReturnsStoredSystemEmail(t *testing.T) {
	svc := &mockUserService{}

	w := serveAsUser(newUserRouter(svc), http.MethodGet, "/api/me", "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if svc.ensureCalls != 0 {
		t.Error("EnsureSystemEmail must not be called when the address is already stored")
	}
	var resp userResponse
	decodeBody(t, w, &resp)
	if resp.SystemEmail != "abc@in.example.com" {
		t.Errorf("system_email = %q", resp.SystemEmail)
	}
}

func TestMe_DerivesMissingSystemEmail(t *testing.T) {
	svc := &mockUserService{
		getFn: func(ctx context.Context, userID string) (*model.User, error) {
			return &model.User{ID: userID, Email: "legacy@example.com"}, nil
		},
	}

	w := serveAsUser(newUserRouter(svc), http.MethodGet, "/api/me", "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if svc.ensureCalls != 1 {
		t.Errorf("ensureCalls = %d, want 1", svc.ensureCalls)
	}
	var resp userResponse
	decodeBody(t, w, &resp)
	if resp.SystemEmail != "derived@in.example.com" {
		t.Errorf("system_email = %q", resp.SystemEmail)
	}
}

func TestMe_UserNotFound(t *testing.T) {
	svc := &mockUserService{
		getFn: func(ctx context.Context, userID string) (*model.User, error) {
			return nil, model.NewUserNotFoundError()
		},
	}

	w := serveAsUser(newUserRouter(svc), http.MethodGet, "/api/me", "")

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestWithdraw(t *testing.T) {
	svc := &mockUserService{}

	w := serveAsUser(newUserRouter(svc), http.MethodDelete, "/api/me", "")

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", w.Code)
	}
	if svc.withdrawCalls != 1 {
		t.Errorf("withdrawCalls = %d, want 1", svc.withdrawCalls)
	}
}

func TestWithdraw_InternalError(t *testing.T) {
	svc := &mockUserService{
		withdrawFn: func(ctx context.Context, userID string) error {
			return errors.New("tx failed")
		},
	}

	w := serveAsUser(newUserRouter(svc), http.MethodDelete, "/api/me", "")

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
}
