package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/mailfeed/internal/model"
)

// UsageChecker は利用可否判定のインターフェース。判定はエラーを返さない。
type UsageChecker interface {
	CheckUsage(ctx context.Context, userID string, limitType model.LimitType) model.UsageCheck
}

// UsageHandler は利用可否判定のHTTPハンドラー。
type UsageHandler struct {
	checker UsageChecker
}

// NewUsageHandler はUsageHandlerを生成する。
func NewUsageHandler(checker UsageChecker) *UsageHandler {
	return &UsageHandler{checker: checker}
}

// CheckUsage は指定した制限種別について現在の利用可否を返す。
// 上限到達時もエラーではなく判定結果（requiresUpgrade=true）として200で返す。
// GET /api/usage/{limitType}
func (h *UsageHandler) CheckUsage(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	limitType := model.LimitType(chi.URLParam(r, "limitType"))
	if !limitType.IsValid() {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidLimitTypeError(string(limitType)))
		return
	}

	writeJSON(w, http.StatusOK, h.checker.CheckUsage(r.Context(), userID, limitType))
}
