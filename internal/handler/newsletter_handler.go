package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/mailfeed/internal/model"
)

// NewsletterServiceInterface はニュースレターハンドラーが必要とするサービスインターフェース。
type NewsletterServiceInterface interface {
	ListPredefined(ctx context.Context) ([]*model.Newsletter, error)
}

// NewsletterHandler はニュースレターカタログのHTTPハンドラー。
type NewsletterHandler struct {
	service NewsletterServiceInterface
}

// NewNewsletterHandler はNewsletterHandlerを生成する。
func NewNewsletterHandler(service NewsletterServiceInterface) *NewsletterHandler {
	return &NewsletterHandler{service: service}
}

// newsletterResponse はニュースレター情報のレスポンス。
type newsletterResponse struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	SenderEmail  string `json:"sender_email"`
	SenderDomain string `json:"sender_domain"`
	Frequency    string `json:"frequency"`
	IsPredefined bool   `json:"is_predefined"`
}

// ListPredefined はシステムで用意したニュースレターの一覧を返す。
// GET /api/newsletters/predefined
func (h *NewsletterHandler) ListPredefined(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.ListPredefined(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]newsletterResponse, len(list))
	for i, nl := range list {
		resp[i] = toNewsletterResponse(nl)
	}
	writeJSON(w, http.StatusOK, resp)
}

func toNewsletterResponse(nl *model.Newsletter) newsletterResponse {
	return newsletterResponse{
		ID:           nl.ID,
		Name:         nl.Name,
		SenderEmail:  nl.SenderEmail,
		SenderDomain: nl.SenderDomain,
		Frequency:    string(nl.Frequency),
		IsPredefined: nl.IsPredefined,
	}
}
