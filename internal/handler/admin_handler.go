package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/mailfeed/internal/ingest"
	"github.com/hitoshi/mailfeed/internal/model"
)

// AdminServiceInterface は管理者ハンドラーが必要とするサービスインターフェース。
type AdminServiceInterface interface {
	ListPendingEmails(ctx context.Context, status string, limit int) ([]*model.InboundEmail, error)
	Reprocess(ctx context.Context, emailID string) (*ingest.Result, error)
	TopNewsletters(ctx context.Context, limit int) ([]model.NewsletterStat, error)
	BulkDeleteArticles(ctx context.Context, ids []string) (int64, error)
}

// AdminHandler は管理者向けのHTTPハンドラー。
// 許可リストによるアクセス制御はミドルウェアで行う。
type AdminHandler struct {
	service AdminServiceInterface
}

// NewAdminHandler はAdminHandlerを生成する。
func NewAdminHandler(service AdminServiceInterface) *AdminHandler {
	return &AdminHandler{service: service}
}

// inboundEmailResponse は管理画面向けの受信メール情報。本文は含めない。
type inboundEmailResponse struct {
	ID           string     `json:"id"`
	MessageID    string     `json:"message_id,omitempty"`
	Recipient    string     `json:"recipient"`
	Sender       string     `json:"sender"`
	Subject      string     `json:"subject"`
	Status       string     `json:"status"`
	ErrorMessage string     `json:"error_message,omitempty"`
	ArticleCount int        `json:"article_count"`
	UserID       string     `json:"user_id,omitempty"`
	NewsletterID string     `json:"newsletter_id,omitempty"`
	ReceivedAt   *time.Time `json:"received_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	ProcessedAt  *time.Time `json:"processed_at,omitempty"`
}

// newsletterStatResponse はニュースレター集計のレスポンス。
type newsletterStatResponse struct {
	newsletterResponse
	ArticleCount    int `json:"article_count"`
	SubscriberCount int `json:"subscriber_count"`
}

// bulkDeleteRequest は記事一括削除リクエストのボディ。
type bulkDeleteRequest struct {
	IDs []string `json:"ids"`
}

// ListInbound は確認が必要な受信メールの一覧を返す。
// GET /api/admin/inbound?status=...&limit=...
func (h *AdminHandler) ListInbound(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("limitは整数で指定してください"))
		return
	}

	emails, err := h.service.ListPendingEmails(r.Context(), r.URL.Query().Get("status"), limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]inboundEmailResponse, len(emails))
	for i, e := range emails {
		resp[i] = inboundEmailResponse{
			ID:           e.ID,
			MessageID:    e.MessageID,
			Recipient:    e.Recipient,
			Sender:       e.Sender,
			Subject:      e.Subject,
			Status:       string(e.Status),
			ErrorMessage: e.ErrorMessage,
			ArticleCount: len(e.Articles),
			UserID:       e.UserID,
			NewsletterID: e.NewsletterID,
			ReceivedAt:   e.ReceivedAt,
			CreatedAt:    e.CreatedAt,
			ProcessedAt:  e.ProcessedAt,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// Reprocess は保持されている受信メールを再処理する。
// POST /api/admin/inbound/{id}/reprocess
func (h *AdminHandler) Reprocess(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.Reprocess(r.Context(), chi.URLParam(r, "id"))
	writeIngestResult(w, result, err)
}

// TopNewsletters は記事数の多いニュースレターを返す。
// GET /api/admin/newsletters/top?limit=...
func (h *AdminHandler) TopNewsletters(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("limitは整数で指定してください"))
		return
	}

	stats, err := h.service.TopNewsletters(r.Context(), limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]newsletterStatResponse, len(stats))
	for i, s := range stats {
		resp[i] = newsletterStatResponse{
			newsletterResponse: toNewsletterResponse(&s.Newsletter),
			ArticleCount:       s.ArticleCount,
			SubscriberCount:    s.SubscriberCount,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// BulkDeleteArticles は記事を一括削除する。
// POST /api/admin/articles/bulk-delete
func (h *AdminHandler) BulkDeleteArticles(w http.ResponseWriter, r *http.Request) {
	var req bulkDeleteRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	deleted, err := h.service.BulkDeleteArticles(r.Context(), req.IDs)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}
