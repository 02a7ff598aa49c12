// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/hitoshi/mailfeed/internal/model"
)

// UserIDHeader は認証ゲートウェイが付与するユーザーIDヘッダー。
const UserIDHeader = "X-User-ID"

// InboundSecretHeader はメール受信プロバイダーのWebhookが付与する共有シークレットヘッダー。
const InboundSecretHeader = "X-Inbound-Secret"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	// userIDContextKey はリクエストコンテキストにユーザーIDを格納するためのキー。
	userIDContextKey = contextKey("user_id")
	// userEmailContextKey は認証済みユーザーのメールアドレスを格納するためのキー。
	userEmailContextKey = contextKey("user_email")
)

// UserFinder はユーザーの検索に必要なインターフェース。
// repository.UserRepositoryの部分集合として定義する。
type UserFinder interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// NewUserHeaderMiddleware はゲートウェイが付与したユーザーIDヘッダーを検証するミドルウェアを返す。
// ユーザーが存在する場合のみ、ユーザーIDと登録メールアドレスをリクエストコンテキストに注入する。
// ヘッダーがない、UUIDでない、ユーザーが存在しない場合は401 Unauthorizedを返す。
func NewUserHeaderMiddleware(users UserFinder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := strings.TrimSpace(r.Header.Get(UserIDHeader))
			if userID == "" {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}
			if _, err := uuid.Parse(userID); err != nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			user, err := users.FindByID(r.Context(), userID)
			if err != nil {
				slog.Error("failed to find user",
					slog.String("user_id", userID),
					slog.String("error", err.Error()),
				)
				WriteInternalServerError(w)
				return
			}
			if user == nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUserNotFoundError())
				return
			}

			setRequestUser(r.Context(), user.ID)
			ctx := context.WithValue(r.Context(), userIDContextKey, user.ID)
			ctx = context.WithValue(ctx, userEmailContextKey, user.Email)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AdminChecker は管理者判定に必要なインターフェース。
type AdminChecker interface {
	IsAdmin(email string) bool
}

// NewAdminMiddleware は認証済みユーザーの登録メールアドレスが管理者許可リストに
// 含まれる場合のみ通過させるミドルウェアを返す。
// クライアントが送るヘッダーではなく、UserHeaderMiddlewareが注入したアドレスで判定する。
func NewAdminMiddleware(checker AdminChecker) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			email, ok := r.Context().Value(userEmailContextKey).(string)
			if !ok || !checker.IsAdmin(email) {
				userID, _ := UserIDFromContext(r.Context())
				slog.Warn("admin access denied", slog.String("user_id", userID))
				WriteErrorResponse(w, http.StatusForbidden, model.NewForbiddenError())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// NewInboundSecretMiddleware は受信Webhookの共有シークレットを定数時間で比較するミドルウェアを返す。
// secretが空の場合は検証を行わない（ローカル開発用）。
func NewInboundSecretMiddleware(secret string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if secret == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(InboundSecretHeader)
			if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
				slog.Warn("inbound webhook rejected", slog.String("remote_addr", r.RemoteAddr))
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// NewBodyLimitMiddleware はリクエストボディの読み取りをmaxBytesまでに制限する。
// 超過した場合はボディの読み取りがエラーになり、ハンドラが413を返す。
func NewBodyLimitMiddleware(maxBytes int64) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// ユーザーヘッダーミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}

// ContextWithUserEmail はコンテキストに認証済みユーザーのメールアドレスを注入する。
func ContextWithUserEmail(ctx context.Context, email string) context.Context {
	return context.WithValue(ctx, userEmailContextKey, email)
}
