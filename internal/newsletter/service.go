package newsletter

import (
	"context"
	"fmt"

	"github.com/hitoshi/mailfeed/internal/model"
	"github.com/hitoshi/mailfeed/internal/repository"
)

// 集計一覧の件数の既定値と上限。
const (
	DefaultTopLimit = 10
	MaxTopLimit     = 100
)

// Service はニュースレター一覧の参照を提供する。
type Service struct {
	repo repository.NewsletterRepository
}

// NewService はServiceを生成する。
func NewService(repo repository.NewsletterRepository) *Service {
	return &Service{repo: repo}
}

// ListPredefined はシステム側で用意したニュースレターの一覧を返す。
func (s *Service) ListPredefined(ctx context.Context) ([]*model.Newsletter, error) {
	list, err := s.repo.ListPredefined(ctx)
	if err != nil {
		return nil, fmt.Errorf("ニュースレター一覧の取得に失敗しました: %w", err)
	}
	if list == nil {
		list = []*model.Newsletter{}
	}
	return list, nil
}

// TopNewsletters は記事数の多いニュースレターを返す。
// limitが範囲外の場合は既定値または上限に丸める。
func (s *Service) TopNewsletters(ctx context.Context, limit int) ([]model.NewsletterStat, error) {
	switch {
	case limit <= 0:
		limit = DefaultTopLimit
	case limit > MaxTopLimit:
		limit = MaxTopLimit
	}
	stats, err := s.repo.TopByArticleCount(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("ニュースレター集計の取得に失敗しました: %w", err)
	}
	if stats == nil {
		stats = []model.NewsletterStat{}
	}
	return stats, nil
}
