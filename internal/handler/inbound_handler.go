package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/mailfeed/internal/ingest"
	"github.com/hitoshi/mailfeed/internal/model"
)

// Ingester は受信メールハンドラーが必要とする取り込みインターフェース。
type Ingester interface {
	Ingest(ctx context.Context, email model.InboundEmail, articles []model.ExtractedArticle) (*ingest.Result, error)
}

// InboundLimiter は宛先アドレスごとの受信レート制限インターフェース。
// 上限超過時はレスポンスを書き込みfalseを返す。
type InboundLimiter interface {
	AllowInbound(w http.ResponseWriter, recipient string) bool
}

// InboundHandler はメール受信Webhookのハンドラー。
type InboundHandler struct {
	ingester Ingester
	limiter  InboundLimiter
}

// NewInboundHandler はInboundHandlerを生成する。limiterがnilの場合はレート制限を行わない。
func NewInboundHandler(ingester Ingester, limiter InboundLimiter) *InboundHandler {
	return &InboundHandler{ingester: ingester, limiter: limiter}
}

// inboundEmailRequest はメール受信プロバイダー（ワークフローエンジン等）から届くペイロード。
// 記事候補は抽出済みのものが渡される。空の場合は本文から抽出する。
type inboundEmailRequest struct {
	MessageID      string                   `json:"messageId"`
	Recipient      string                   `json:"recipient"`
	Sender         string                   `json:"sender"`
	SenderName     string                   `json:"senderName"`
	NewsletterName string                   `json:"newsletterName"`
	Subject        string                   `json:"subject"`
	Frequency      string                   `json:"frequency"`
	ReceivedAt     *time.Time               `json:"receivedAt"`
	RawContent     string                   `json:"rawContent"`
	Articles       []model.ExtractedArticle `json:"articles"`
}

// itemErrorResponse は1記事分の取り込み失敗。
type itemErrorResponse struct {
	Index   int    `json:"index"`
	Title   string `json:"title,omitempty"`
	Message string `json:"message"`
}

// ingestResponse は取り込み結果のレスポンス。
type ingestResponse struct {
	EmailID           string              `json:"email_id"`
	Status            string              `json:"status"`
	NewsletterID      string              `json:"newsletter_id,omitempty"`
	NewsletterCreated bool                `json:"newsletter_created"`
	ArticlesCreated   int                 `json:"articles_created"`
	ArticlesSkipped   int                 `json:"articles_skipped"`
	ArticlesFailed    int                 `json:"articles_failed"`
	ItemErrors        []itemErrorResponse `json:"item_errors,omitempty"`
	Success           bool                `json:"success"`
}

// ReceiveEmail は受信メールを取り込む。
// POST /inbound/email
//
// 処理済みの場合は200、宛先不明・抽出失敗などでメールを保持した場合は202を返す。
// 保持されたメールは管理画面から再処理できる。
func (h *InboundHandler) ReceiveEmail(w http.ResponseWriter, r *http.Request) {
	var req inboundEmailRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	req.Recipient = strings.TrimSpace(req.Recipient)
	if req.Recipient == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("recipientは必須です"))
		return
	}
	if req.Frequency != "" && !isValidFrequency(req.Frequency) {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("無効な配信頻度です: "+req.Frequency))
		return
	}

	if h.limiter != nil && !h.limiter.AllowInbound(w, req.Recipient) {
		return
	}

	result, err := h.ingester.Ingest(r.Context(), model.InboundEmail{
		MessageID:      strings.TrimSpace(req.MessageID),
		Recipient:      req.Recipient,
		Sender:         req.Sender,
		SenderName:     req.SenderName,
		NewsletterName: req.NewsletterName,
		Subject:        req.Subject,
		Frequency:      model.Frequency(req.Frequency),
		ReceivedAt:     req.ReceivedAt,
		RawContent:     req.RawContent,
	}, req.Articles)

	writeIngestResult(w, result, err)
}

// writeIngestResult は取り込み結果をレスポンスに変換する。
// 処理済みは200、処理できずに保持されたメールは202で結果を返す。
func writeIngestResult(w http.ResponseWriter, result *ingest.Result, err error) {
	switch {
	case err == nil && result.Status == model.InboundStatusProcessed:
		writeJSON(w, http.StatusOK, toIngestResponse(result))
	case result == nil, errors.Is(err, model.ErrPersistenceUnavailable):
		handleServiceError(w, err)
	default:
		// 処理できなかったメールも保持されており、後から再処理できる
		writeJSON(w, http.StatusAccepted, toIngestResponse(result))
	}
}

func isValidFrequency(f string) bool {
	switch model.Frequency(f) {
	case model.FrequencyDaily, model.FrequencyWeekly, model.FrequencyMonthly:
		return true
	}
	return false
}

func toIngestResponse(result *ingest.Result) ingestResponse {
	resp := ingestResponse{
		EmailID:           result.EmailID,
		Status:            string(result.Status),
		NewsletterID:      result.NewsletterID,
		NewsletterCreated: result.NewsletterCreated,
		ArticlesCreated:   result.ArticlesCreated,
		ArticlesSkipped:   result.ArticlesSkipped,
		ArticlesFailed:    result.ArticlesFailed,
		Success:           result.Success,
	}
	for _, ie := range result.ItemErrors {
		resp.ItemErrors = append(resp.ItemErrors, itemErrorResponse{
			Index:   ie.Index,
			Title:   ie.Title,
			Message: ie.Message,
		})
	}
	return resp
}
