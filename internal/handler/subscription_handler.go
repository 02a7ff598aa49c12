package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/mailfeed/internal/model"
	"github.com/hitoshi/mailfeed/internal/subscription"
)

// SubscriptionServiceInterface は購読ハンドラーが必要とするサービスインターフェース。
type SubscriptionServiceInterface interface {
	// ListSubscriptions はユーザーの購読一覧を返す。購読解除中のものも含む。
	ListSubscriptions(ctx context.Context, userID string) ([]subscription.SubscriptionInfo, error)
	// Subscribe はニュースレターを購読する。プランの購読上限で制限される。
	Subscribe(ctx context.Context, userID, newsletterID string) (*subscription.SubscriptionInfo, error)
	// Unsubscribe は購読を解除する（行は削除しない）。
	Unsubscribe(ctx context.Context, userID, subscriptionID string) error
	// Resubscribe は購読解除中の購読を再開する。
	Resubscribe(ctx context.Context, userID, subscriptionID string) (*subscription.SubscriptionInfo, error)
	// UpdateAIToggles はAI要約・AI分類の有効フラグを更新する。
	UpdateAIToggles(ctx context.Context, userID, subscriptionID string, summaryEnabled, categorizationEnabled bool) (*subscription.SubscriptionInfo, error)
}

// SubscriptionHandler は購読管理のHTTPハンドラー。
type SubscriptionHandler struct {
	service SubscriptionServiceInterface
}

// NewSubscriptionHandler はSubscriptionHandlerを生成する。
func NewSubscriptionHandler(service SubscriptionServiceInterface) *SubscriptionHandler {
	return &SubscriptionHandler{
		service: service,
	}
}

// subscriptionResponse は購読情報のAPIレスポンス。
type subscriptionResponse struct {
	ID                    string     `json:"id"`
	NewsletterID          string     `json:"newsletter_id"`
	NewsletterName        string     `json:"newsletter_name"`
	SenderEmail           string     `json:"sender_email"`
	Frequency             string     `json:"frequency"`
	SummaryEnabled        bool       `json:"summary_enabled"`
	CategorizationEnabled bool       `json:"categorization_enabled"`
	IsActive              bool       `json:"is_active"`
	SubscribedAt          time.Time  `json:"subscribed_at"`
	UnsubscribedAt        *time.Time `json:"unsubscribed_at,omitempty"`
}

// subscribeRequest は購読リクエストのボディ。
type subscribeRequest struct {
	NewsletterID string `json:"newsletter_id"`
}

// subscriptionSettingsRequest はAI設定更新リクエストのボディ。
type subscriptionSettingsRequest struct {
	SummaryEnabled        *bool `json:"summary_enabled"`
	CategorizationEnabled *bool `json:"categorization_enabled"`
}

// ListSubscriptions はユーザーの購読一覧を取得する。
// GET /api/subscriptions
func (h *SubscriptionHandler) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	subs, err := h.service.ListSubscriptions(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]subscriptionResponse, len(subs))
	for i, s := range subs {
		resp[i] = toSubscriptionResponse(s)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Subscribe はニュースレターを購読する。
// POST /api/subscriptions
func (h *SubscriptionHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req subscribeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	newsletterID := strings.TrimSpace(req.NewsletterID)
	if newsletterID == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("newsletter_idは必須です"))
		return
	}

	sub, err := h.service.Subscribe(r.Context(), userID, newsletterID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSubscriptionResponse(*sub))
}

// UpdateSettings は購読のAI設定を更新する。
// PUT /api/subscriptions/{id}/settings
func (h *SubscriptionHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req subscriptionSettingsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.SummaryEnabled == nil || req.CategorizationEnabled == nil {
		writeAPIErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("summary_enabledとcategorization_enabledは必須です"))
		return
	}

	sub, err := h.service.UpdateAIToggles(r.Context(), userID, chi.URLParam(r, "id"),
		*req.SummaryEnabled, *req.CategorizationEnabled)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSubscriptionResponse(*sub))
}

// Unsubscribe は購読を解除する。
// DELETE /api/subscriptions/{id}
func (h *SubscriptionHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.Unsubscribe(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Resubscribe は購読解除中の購読を再開する。
// POST /api/subscriptions/{id}/resume
func (h *SubscriptionHandler) Resubscribe(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	sub, err := h.service.Resubscribe(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSubscriptionResponse(*sub))
}

// toSubscriptionResponse はドメインのSubscriptionInfoをレスポンス型に変換する。
func toSubscriptionResponse(info subscription.SubscriptionInfo) subscriptionResponse {
	return subscriptionResponse{
		ID:                    info.ID,
		NewsletterID:          info.NewsletterID,
		NewsletterName:        info.NewsletterName,
		SenderEmail:           info.SenderEmail,
		Frequency:             string(info.Frequency),
		SummaryEnabled:        info.SummaryEnabled,
		CategorizationEnabled: info.CategorizationEnabled,
		IsActive:              info.IsActive,
		SubscribedAt:          info.SubscribedAt,
		UnsubscribedAt:        info.UnsubscribedAt,
	}
}
