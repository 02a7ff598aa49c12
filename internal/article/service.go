// Package article はフィード表示と記事保存のドメインロジックを提供する。
package article

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/mailfeed/internal/model"
	"github.com/hitoshi/mailfeed/internal/repository"
)

// フィード取得件数の既定値と上限。
const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// UsageGate はプランによる利用制限の判定と利用回数の記録を行うインターフェース。
type UsageGate interface {
	Require(ctx context.Context, userID string, limitType model.LimitType) error
	RecordUsage(ctx context.Context, userID string, limitType model.LimitType) error
}

// Service は記事取得・既読管理・保存のサービス。
type Service struct {
	articleRepo repository.ArticleRepository
	savedRepo   repository.SavedArticleRepository
	gate        UsageGate
	now         func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	articleRepo repository.ArticleRepository,
	savedRepo repository.SavedArticleRepository,
	gate UsageGate,
) *Service {
	return &Service{
		articleRepo: articleRepo,
		savedRepo:   savedRepo,
		gate:        gate,
		now:         time.Now,
	}
}

// FeedResult はListFeedの戻り値。
type FeedResult struct {
	Articles   []model.FeedArticle
	NextCursor string
	HasMore    bool
}

// validFilters は有効なフィルタ値のセット。
var validFilters = map[model.ArticleFilter]bool{
	model.ArticleFilterAll:    true,
	model.ArticleFilterUnread: true,
	model.ArticleFilterSaved:  true,
}

// ListFeed は有効な購読に属する記事をフィルタ・ページネーション付きで返す。
// processed_at降順で、limit+1件を取得してHasMoreを判定する。
func (s *Service) ListFeed(
	ctx context.Context,
	userID string,
	filter model.ArticleFilter,
	cursorStr string,
	limit int,
) (*FeedResult, error) {
	if filter == "" {
		filter = model.ArticleFilterAll
	}
	if !validFilters[filter] {
		return nil, model.NewInvalidFilterError(string(filter))
	}

	cursor, err := DecodeCursor(cursorStr)
	if err != nil {
		return nil, model.NewInvalidRequestError("無効なカーソル値: " + cursorStr)
	}

	switch {
	case limit <= 0:
		limit = DefaultLimit
	case limit > MaxLimit:
		limit = MaxLimit
	}

	articles, err := s.articleRepo.ListFeed(ctx, userID, filter, cursor, limit+1)
	if err != nil {
		return nil, fmt.Errorf("フィードの取得に失敗しました: %w", err)
	}

	hasMore := len(articles) > limit
	if hasMore {
		articles = articles[:limit]
	}
	if articles == nil {
		articles = []model.FeedArticle{}
	}

	var nextCursor string
	if hasMore {
		last := articles[len(articles)-1]
		nextCursor = EncodeCursor(model.FeedCursor{ProcessedAt: last.ProcessedAt, ID: last.ID})
	}

	return &FeedResult{
		Articles:   articles,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}

// GetArticle はユーザーが所有する記事を返す。
func (s *Service) GetArticle(ctx context.Context, userID, articleID string) (*model.FeedArticle, error) {
	a, err := s.articleRepo.FindForUser(ctx, userID, articleID)
	if err != nil {
		return nil, fmt.Errorf("記事の取得に失敗しました: %w", err)
	}
	if a == nil {
		return nil, model.NewArticleNotFoundError(articleID)
	}
	return a, nil
}

// MarkRead は記事の既読状態を更新する。
func (s *Service) MarkRead(ctx context.Context, userID, articleID string, read bool) error {
	found, err := s.articleRepo.MarkRead(ctx, userID, articleID, read)
	if err != nil {
		return err
	}
	if !found {
		return model.NewArticleNotFoundError(articleID)
	}
	return nil
}

// SaveInput は保存時・保存記事更新時の入力。
type SaveInput struct {
	Folder string
	Notes  string
	Tags   []string
}

// SaveArticle は記事を保存する。
// 既に保存済みの場合は既存の保存記事を返し、利用回数は加算しない。
// 新規保存はプランの保存上限で制限される。
func (s *Service) SaveArticle(ctx context.Context, userID, articleID string, in SaveInput) (*model.SavedArticle, bool, error) {
	a, err := s.articleRepo.FindForUser(ctx, userID, articleID)
	if err != nil {
		return nil, false, fmt.Errorf("記事の取得に失敗しました: %w", err)
	}
	if a == nil {
		return nil, false, model.NewArticleNotFoundError(articleID)
	}

	// 保存済みの記事は上限判定の対象外とする
	if !a.IsSaved {
		if err := s.gate.Require(ctx, userID, model.LimitSavedArticles); err != nil {
			return nil, false, err
		}
	}

	now := s.now()
	saved, created, err := s.savedRepo.Save(ctx, &model.SavedArticle{
		ID:        uuid.New().String(),
		UserID:    userID,
		ArticleID: articleID,
		Folder:    strings.TrimSpace(in.Folder),
		Notes:     in.Notes,
		Tags:      normalizeTags(in.Tags),
		SavedAt:   now,
		UpdatedAt: now,
	})
	if err != nil {
		return nil, false, err
	}

	if created {
		if err := s.gate.RecordUsage(ctx, userID, model.LimitSavedArticles); err != nil {
			slog.Warn("利用回数の記録に失敗しました",
				slog.String("user_id", userID),
				slog.String("limit_type", string(model.LimitSavedArticles)),
				slog.String("error", err.Error()),
			)
		}
	}
	return saved, created, nil
}

// UpdateSaved は保存記事のフォルダ・メモ・タグを更新する。
func (s *Service) UpdateSaved(ctx context.Context, userID, savedID string, in SaveInput) (*model.SavedArticle, error) {
	saved, err := s.savedRepo.FindByID(ctx, userID, savedID)
	if err != nil {
		return nil, err
	}
	if saved == nil {
		return nil, model.NewSavedArticleNotFoundError(savedID)
	}

	saved.Folder = strings.TrimSpace(in.Folder)
	saved.Notes = in.Notes
	saved.Tags = normalizeTags(in.Tags)
	saved.UpdatedAt = s.now()

	found, err := s.savedRepo.Update(ctx, saved)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, model.NewSavedArticleNotFoundError(savedID)
	}
	return saved, nil
}

// Unsave は保存記事を削除する。利用回数は戻さない。
func (s *Service) Unsave(ctx context.Context, userID, savedID string) error {
	deleted, err := s.savedRepo.Delete(ctx, userID, savedID)
	if err != nil {
		return err
	}
	if !deleted {
		return model.NewSavedArticleNotFoundError(savedID)
	}
	return nil
}

// ListSaved は保存記事を保存日時の降順で返す。folderが空の場合は全件を返す。
func (s *Service) ListSaved(ctx context.Context, userID, folder string, limit, offset int) ([]model.SavedArticleWithArticle, error) {
	switch {
	case limit <= 0:
		limit = DefaultLimit
	case limit > MaxLimit:
		limit = MaxLimit
	}
	if offset < 0 {
		offset = 0
	}

	list, err := s.savedRepo.ListByUserID(ctx, userID, strings.TrimSpace(folder), limit, offset)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []model.SavedArticleWithArticle{}
	}
	return list, nil
}

// EncodeCursor はカーソルをURLに埋め込める文字列に変換する。
func EncodeCursor(c model.FeedCursor) string {
	raw := c.ProcessedAt.UTC().Format(time.RFC3339Nano) + "|" + c.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor はEncodeCursorで生成した文字列を復元する。空文字列はゼロ値を返す。
func DecodeCursor(s string) (model.FeedCursor, error) {
	if s == "" {
		return model.FeedCursor{}, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return model.FeedCursor{}, fmt.Errorf("カーソルのデコードに失敗しました: %w", err)
	}
	ts, id, ok := strings.Cut(string(raw), "|")
	if !ok {
		return model.FeedCursor{}, fmt.Errorf("カーソルの形式が不正です")
	}
	processedAt, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return model.FeedCursor{}, fmt.Errorf("カーソルの日時が不正です: %w", err)
	}
	if _, err := uuid.Parse(id); err != nil {
		return model.FeedCursor{}, fmt.Errorf("カーソルのIDが不正です: %w", err)
	}
	return model.FeedCursor{ProcessedAt: processedAt, ID: id}, nil
}

// normalizeTags は前後の空白を除去し、空と重複を取り除く。
func normalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	result := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		result = append(result, tag)
	}
	return result
}
