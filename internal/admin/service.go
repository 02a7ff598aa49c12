package admin

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hitoshi/mailfeed/internal/ingest"
	"github.com/hitoshi/mailfeed/internal/model"
	"github.com/hitoshi/mailfeed/internal/repository"
)

// 一覧件数の既定値と上限。
const (
	DefaultListLimit = 50
	MaxListLimit     = 500
	MaxBulkDelete    = 1000
)

// Reprocessor は保存済みの受信メールを再処理するインターフェース。
type Reprocessor interface {
	Reprocess(ctx context.Context, emailID string) (*ingest.Result, error)
}

// NewsletterStats はニュースレター集計を提供するインターフェース。
type NewsletterStats interface {
	TopNewsletters(ctx context.Context, limit int) ([]model.NewsletterStat, error)
}

// Service は管理者向け操作のサービス層。
type Service struct {
	emails      repository.InboundEmailRepository
	articles    repository.ArticleRepository
	reprocessor Reprocessor
	stats       NewsletterStats
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	emails repository.InboundEmailRepository,
	articles repository.ArticleRepository,
	reprocessor Reprocessor,
	stats NewsletterStats,
) *Service {
	return &Service{
		emails:      emails,
		articles:    articles,
		reprocessor: reprocessor,
		stats:       stats,
	}
}

// pendingStatuses は管理画面で確認が必要な状態。
var pendingStatuses = []model.InboundStatus{
	model.InboundStatusPending,
	model.InboundStatusUnknownRecipient,
	model.InboundStatusExtractionFailed,
	model.InboundStatusFailed,
}

// ListPendingEmails は未処理・失敗状態の受信メールを受信順に返す。
// statusが空の場合は処理済み以外の全状態を対象とする。
func (s *Service) ListPendingEmails(ctx context.Context, status string, limit int) ([]*model.InboundEmail, error) {
	statuses := pendingStatuses
	if status != "" {
		st := model.InboundStatus(status)
		if !isKnownStatus(st) {
			return nil, model.NewInvalidRequestError("無効な状態です: " + status)
		}
		statuses = []model.InboundStatus{st}
	}

	switch {
	case limit <= 0:
		limit = DefaultListLimit
	case limit > MaxListLimit:
		limit = MaxListLimit
	}

	emails, err := s.emails.ListByStatus(ctx, statuses, limit)
	if err != nil {
		return nil, fmt.Errorf("受信メール一覧の取得に失敗しました: %w", err)
	}
	if emails == nil {
		emails = []*model.InboundEmail{}
	}
	return emails, nil
}

// Reprocess は受信メールを再処理する。
func (s *Service) Reprocess(ctx context.Context, emailID string) (*ingest.Result, error) {
	return s.reprocessor.Reprocess(ctx, emailID)
}

// TopNewsletters は記事数の多いニュースレターを返す。
func (s *Service) TopNewsletters(ctx context.Context, limit int) ([]model.NewsletterStat, error) {
	return s.stats.TopNewsletters(ctx, limit)
}

// BulkDeleteArticles は指定IDの記事を一括削除し、削除件数を返す。
func (s *Service) BulkDeleteArticles(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, model.NewInvalidRequestError("記事IDを指定してください")
	}
	if len(ids) > MaxBulkDelete {
		return 0, model.NewInvalidRequestError(fmt.Sprintf("一度に削除できる記事は%d件までです", MaxBulkDelete))
	}

	seen := make(map[string]struct{}, len(ids))
	unique := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, err := uuid.Parse(id); err != nil {
			return 0, model.NewInvalidRequestError("無効な記事IDです: " + id)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}

	deleted, err := s.articles.DeleteByIDs(ctx, unique)
	if err != nil {
		return 0, err
	}
	slog.Info("記事を一括削除しました",
		slog.Int("requested", len(unique)),
		slog.Int64("deleted", deleted),
	)
	return deleted, nil
}

func isKnownStatus(st model.InboundStatus) bool {
	switch st {
	case model.InboundStatusPending,
		model.InboundStatusProcessed,
		model.InboundStatusUnknownRecipient,
		model.InboundStatusExtractionFailed,
		model.InboundStatusFailed:
		return true
	}
	return false
}
