package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/mailfeed/internal/article"
	"github.com/hitoshi/mailfeed/internal/model"
)

// ArticleServiceInterface は記事ハンドラーが必要とするサービスインターフェース。
type ArticleServiceInterface interface {
	ListFeed(ctx context.Context, userID string, filter model.ArticleFilter, cursor string, limit int) (*article.FeedResult, error)
	GetArticle(ctx context.Context, userID, articleID string) (*model.FeedArticle, error)
	MarkRead(ctx context.Context, userID, articleID string, read bool) error
	SaveArticle(ctx context.Context, userID, articleID string, in article.SaveInput) (*model.SavedArticle, bool, error)
	UpdateSaved(ctx context.Context, userID, savedID string, in article.SaveInput) (*model.SavedArticle, error)
	Unsave(ctx context.Context, userID, savedID string) error
	ListSaved(ctx context.Context, userID, folder string, limit, offset int) ([]model.SavedArticleWithArticle, error)
}

// ArticleHandler はフィード・記事・保存記事のHTTPハンドラー。
type ArticleHandler struct {
	service ArticleServiceInterface
}

// NewArticleHandler はArticleHandlerを生成する。
func NewArticleHandler(service ArticleServiceInterface) *ArticleHandler {
	return &ArticleHandler{service: service}
}

// articleSummaryResponse はフィード一覧の記事レスポンス。
type articleSummaryResponse struct {
	ID             string    `json:"id"`
	NewsletterID   string    `json:"newsletter_id"`
	NewsletterName string    `json:"newsletter_name"`
	Title          string    `json:"title"`
	URL            string    `json:"url"`
	AISummary      string    `json:"ai_summary,omitempty"`
	AICategory     string    `json:"ai_category,omitempty"`
	InterestScore  int       `json:"interest_score"`
	ProcessedAt    time.Time `json:"processed_at"`
	IsRead         bool      `json:"is_read"`
	IsSaved        bool      `json:"is_saved"`
}

// articleDetailResponse は記事詳細レスポンス。本文を含む。
type articleDetailResponse struct {
	articleSummaryResponse
	Content string `json:"content"`
}

// feedResponse はフィード一覧のレスポンス。
type feedResponse struct {
	Articles   []articleSummaryResponse `json:"articles"`
	NextCursor string                   `json:"next_cursor,omitempty"`
	HasMore    bool                     `json:"has_more"`
}

// savedArticleResponse は保存記事のレスポンス。
type savedArticleResponse struct {
	ID             string    `json:"id"`
	ArticleID      string    `json:"article_id"`
	Title          string    `json:"title,omitempty"`
	URL            string    `json:"url,omitempty"`
	NewsletterName string    `json:"newsletter_name,omitempty"`
	Folder         string    `json:"folder"`
	Notes          string    `json:"notes"`
	Tags           []string  `json:"tags"`
	SavedAt        time.Time `json:"saved_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// markReadRequest は既読状態更新リクエストのボディ。
type markReadRequest struct {
	IsRead *bool `json:"is_read"`
}

// saveArticleRequest は保存・保存記事更新リクエストのボディ。
type saveArticleRequest struct {
	Folder string   `json:"folder"`
	Notes  string   `json:"notes"`
	Tags   []string `json:"tags"`
}

// ListFeed は有効な購読の記事一覧を返す。
// GET /api/feed?filter=all|unread|saved&cursor=...&limit=...
func (h *ArticleHandler) ListFeed(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	limit, err := queryInt(r, "limit")
	if err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("limitは整数で指定してください"))
		return
	}

	q := r.URL.Query()
	result, err := h.service.ListFeed(r.Context(), userID, model.ArticleFilter(q.Get("filter")), q.Get("cursor"), limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := feedResponse{
		Articles:   make([]articleSummaryResponse, len(result.Articles)),
		NextCursor: result.NextCursor,
		HasMore:    result.HasMore,
	}
	for i, a := range result.Articles {
		resp.Articles[i] = toArticleSummaryResponse(a)
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetArticle は記事詳細を返す。
// GET /api/articles/{id}
func (h *ArticleHandler) GetArticle(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	a, err := h.service.GetArticle(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, articleDetailResponse{
		articleSummaryResponse: toArticleSummaryResponse(*a),
		Content:                a.Content,
	})
}

// MarkRead は記事の既読状態を更新する。ボディ省略時は既読にする。
// PUT /api/articles/{id}/read
func (h *ArticleHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	read := true
	if r.ContentLength != 0 {
		var req markReadRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.IsRead != nil {
			read = *req.IsRead
		}
	}

	if err := h.service.MarkRead(r.Context(), userID, chi.URLParam(r, "id"), read); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SaveArticle は記事を保存する。
// POST /api/articles/{id}/save
//
// 新規保存は201、保存済みの場合は200で既存の保存記事を返す。
// プランの保存上限に達している場合は402を返す。
func (h *ArticleHandler) SaveArticle(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	req, ok := decodeOptionalSaveRequest(w, r)
	if !ok {
		return
	}

	saved, created, err := h.service.SaveArticle(r.Context(), userID, chi.URLParam(r, "id"), article.SaveInput(req))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, toSavedArticleResponse(*saved))
}

// ListSaved は保存記事一覧を返す。
// GET /api/saved?folder=...&limit=...&offset=...
func (h *ArticleHandler) ListSaved(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	limit, err := queryInt(r, "limit")
	if err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("limitは整数で指定してください"))
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("offsetは整数で指定してください"))
		return
	}

	list, err := h.service.ListSaved(r.Context(), userID, r.URL.Query().Get("folder"), limit, offset)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]savedArticleResponse, len(list))
	for i, s := range list {
		resp[i] = toSavedArticleResponse(s.SavedArticle)
		resp[i].Title = s.Title
		resp[i].URL = s.URL
		resp[i].NewsletterName = s.NewsletterName
	}
	writeJSON(w, http.StatusOK, resp)
}

// UpdateSaved は保存記事のフォルダ・メモ・タグを更新する。
// PATCH /api/saved/{id}
func (h *ArticleHandler) UpdateSaved(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req saveArticleRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	saved, err := h.service.UpdateSaved(r.Context(), userID, chi.URLParam(r, "id"), article.SaveInput(req))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSavedArticleResponse(*saved))
}

// Unsave は保存記事を削除する。
// DELETE /api/saved/{id}
func (h *ArticleHandler) Unsave(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.Unsave(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decodeOptionalSaveRequest は省略可能な保存リクエストボディを解析する。
func decodeOptionalSaveRequest(w http.ResponseWriter, r *http.Request) (saveArticleRequest, bool) {
	var req saveArticleRequest
	if r.Body == nil || r.Body == http.NoBody || r.ContentLength == 0 {
		return req, true
	}
	if !decodeJSON(w, r, &req) {
		return req, false
	}
	return req, true
}

func toArticleSummaryResponse(a model.FeedArticle) articleSummaryResponse {
	return articleSummaryResponse{
		ID:             a.ID,
		NewsletterID:   a.NewsletterID,
		NewsletterName: a.NewsletterName,
		Title:          a.Title,
		URL:            a.URL,
		AISummary:      a.AISummary,
		AICategory:     a.AICategory,
		InterestScore:  a.InterestScore,
		ProcessedAt:    a.ProcessedAt,
		IsRead:         a.IsRead,
		IsSaved:        a.IsSaved,
	}
}

func toSavedArticleResponse(s model.SavedArticle) savedArticleResponse {
	tags := s.Tags
	if tags == nil {
		tags = []string{}
	}
	return savedArticleResponse{
		ID:        s.ID,
		ArticleID: s.ArticleID,
		Folder:    s.Folder,
		Notes:     s.Notes,
		Tags:      tags,
		SavedAt:   s.SavedAt,
		UpdatedAt: s.UpdatedAt,
	}
}
