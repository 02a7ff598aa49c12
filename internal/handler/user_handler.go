package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/mailfeed/internal/model"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	// Register はユーザーを登録し、システムメールアドレスを導出する。登録済みの場合は既存ユーザーを返す。
	Register(ctx context.Context, email string) (*model.User, bool, error)
	// Get はユーザーを返す。
	Get(ctx context.Context, userID string) (*model.User, error)
	// EnsureSystemEmail はシステムメールアドレスが未設定の場合のみ導出して保存する。
	EnsureSystemEmail(ctx context.Context, userID string) (string, error)
	// Withdraw はユーザーの退会処理を実行する。
	// 保存記事・購読・ユーザーを削除し、記事とニュースレターは残す。
	Withdraw(ctx context.Context, userID string) error
}

// UserHandler はユーザー管理のHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface) *UserHandler {
	return &UserHandler{
		service: service,
	}
}

// userResponse はユーザー情報のレスポンス。
// system_emailはニュースレターの購読登録に使う受信専用アドレス。
type userResponse struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	SystemEmail string    `json:"system_email"`
	Plan        string    `json:"plan"`
	IsVerified  bool      `json:"is_verified"`
	CreatedAt   time.Time `json:"created_at"`
}

// registerRequest はユーザー登録リクエストのボディ。
type registerRequest struct {
	Email string `json:"email"`
}

// Register は外部の認証基盤からのサインアップ通知でユーザーを登録する。
// POST /api/users
//
// 新規登録は201、登録済みの場合は200で既存ユーザーを返す。
func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	u, created, err := h.service.Register(r.Context(), req.Email)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, toUserResponse(u))
}

// Me は認証済みユーザーの情報を返す。
// システムメールアドレスが未設定の既存ユーザーはここで一度だけ導出する。
// GET /api/me
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	u, err := h.service.Get(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if u.SystemEmail == "" {
		systemEmail, err := h.service.EnsureSystemEmail(r.Context(), userID)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		u.SystemEmail = systemEmail
	}

	writeJSON(w, http.StatusOK, toUserResponse(u))
}

// Withdraw はユーザーの退会処理を実行する。
// DELETE /api/me
func (h *UserHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.Withdraw(r.Context(), userID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func toUserResponse(u *model.User) userResponse {
	return userResponse{
		ID:          u.ID,
		Email:       u.Email,
		SystemEmail: u.SystemEmail,
		Plan:        string(u.Plan),
		IsVerified:  u.IsVerified,
		CreatedAt:   u.CreatedAt,
	}
}
