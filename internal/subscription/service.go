// Package subscription はニュースレター購読管理のドメインロジックを提供する。
package subscription

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/mailfeed/internal/model"
	"github.com/hitoshi/mailfeed/internal/repository"
)

// UsageGate はプランによる利用制限の判定と利用回数の記録を行うインターフェース。
type UsageGate interface {
	Require(ctx context.Context, userID string, limitType model.LimitType) error
	RecordUsage(ctx context.Context, userID string, limitType model.LimitType) error
}

// SubscriptionInfo は購読情報とニュースレター情報を結合したドメインオブジェクト。
type SubscriptionInfo struct {
	ID                    string
	UserID                string
	NewsletterID          string
	NewsletterName        string
	SenderEmail           string
	Frequency             model.Frequency
	SummaryEnabled        bool
	CategorizationEnabled bool
	IsActive              bool
	SubscribedAt          time.Time
	UnsubscribedAt        *time.Time
}

// Service は購読管理のサービス層。
// 購読一覧取得、購読、購読解除、再購読、AI設定更新のビジネスロジックを提供する。
type Service struct {
	subRepo        repository.SubscriptionRepository
	newsletterRepo repository.NewsletterRepository
	gate           UsageGate
	now            func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	subRepo repository.SubscriptionRepository,
	newsletterRepo repository.NewsletterRepository,
	gate UsageGate,
) *Service {
	return &Service{
		subRepo:        subRepo,
		newsletterRepo: newsletterRepo,
		gate:           gate,
		now:            time.Now,
	}
}

// ListSubscriptions はユーザーの購読一覧をニュースレター情報付きで返す。
// 購読解除中の購読も含む。
func (s *Service) ListSubscriptions(ctx context.Context, userID string) ([]SubscriptionInfo, error) {
	rows, err := s.subRepo.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("購読一覧の取得に失敗しました: %w", err)
	}

	results := make([]SubscriptionInfo, len(rows))
	for i, row := range rows {
		results[i] = toInfo(row)
	}
	return results, nil
}

// Subscribe はユーザーをニュースレターに購読登録する。
// 既に有効な購読がある場合はそれを返し、利用回数は加算しない。
// 購読解除中の購読がある場合は再購読として扱う。
func (s *Service) Subscribe(ctx context.Context, userID, newsletterID string) (*SubscriptionInfo, error) {
	nl, err := s.newsletterRepo.FindByID(ctx, newsletterID)
	if err != nil {
		return nil, fmt.Errorf("ニュースレターの取得に失敗しました: %w", err)
	}
	if nl == nil || !nl.IsActive {
		return nil, model.NewNewsletterNotFoundError(newsletterID)
	}

	existing, err := s.subRepo.FindByUserAndNewsletter(ctx, userID, newsletterID)
	if err != nil {
		return nil, fmt.Errorf("購読の取得に失敗しました: %w", err)
	}
	if existing != nil {
		if existing.IsActive {
			return s.findInfo(ctx, userID, existing.ID)
		}
		return s.activate(ctx, existing)
	}

	if err := s.gate.Require(ctx, userID, model.LimitNewsletterSubscriptions); err != nil {
		return nil, err
	}

	now := s.now()
	sub, created, err := s.subRepo.CreateIfNotExists(ctx, &model.Subscription{
		ID:           uuid.New().String(),
		UserID:       userID,
		NewsletterID: newsletterID,
		IsActive:     true,
		SubscribedAt: now,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return nil, fmt.Errorf("購読の作成に失敗しました: %w", err)
	}
	if created {
		s.recordUsage(ctx, userID, model.LimitNewsletterSubscriptions)
	}
	return s.findInfo(ctx, userID, sub.ID)
}

// Unsubscribe は購読を解除する。
// 行は削除せず、is_active=falseと解除日時を記録する。既に解除済みの場合は何もしない。
func (s *Service) Unsubscribe(ctx context.Context, userID, subscriptionID string) error {
	sub, err := s.findOwned(ctx, userID, subscriptionID)
	if err != nil {
		return err
	}
	if !sub.IsActive {
		return nil
	}

	if err := s.subRepo.SetActive(ctx, sub.ID, false, s.now()); err != nil {
		return fmt.Errorf("購読の解除に失敗しました: %w", err)
	}
	slog.Info("購読を解除しました",
		slog.String("user_id", userID),
		slog.String("subscription_id", sub.ID),
		slog.String("newsletter_id", sub.NewsletterID),
	)
	return nil
}

// Resubscribe は購読解除中の購読を再開する。既に有効な場合はそのまま返す。
func (s *Service) Resubscribe(ctx context.Context, userID, subscriptionID string) (*SubscriptionInfo, error) {
	sub, err := s.findOwned(ctx, userID, subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub.IsActive {
		return s.findInfo(ctx, userID, sub.ID)
	}
	return s.activate(ctx, sub)
}

// UpdateAIToggles は購読のAI要約・AI分類の有効フラグを更新する。
// 無効から有効に切り替える機能はプランで許可されている必要がある。
func (s *Service) UpdateAIToggles(ctx context.Context, userID, subscriptionID string, summaryEnabled, categorizationEnabled bool) (*SubscriptionInfo, error) {
	sub, err := s.findOwned(ctx, userID, subscriptionID)
	if err != nil {
		return nil, err
	}
	if !sub.IsActive {
		return nil, model.NewSubscriptionNotActiveError()
	}

	if summaryEnabled && !sub.SummaryEnabled {
		if err := s.gate.Require(ctx, userID, model.LimitAISummaries); err != nil {
			return nil, err
		}
	}
	if categorizationEnabled && !sub.CategorizationEnabled {
		if err := s.gate.Require(ctx, userID, model.LimitAICategorization); err != nil {
			return nil, err
		}
	}

	if err := s.subRepo.UpdateAIToggles(ctx, sub.ID, summaryEnabled, categorizationEnabled); err != nil {
		return nil, fmt.Errorf("AI設定の更新に失敗しました: %w", err)
	}
	return s.findInfo(ctx, userID, sub.ID)
}

// EnsureSubscribed はメール取り込み時に購読の存在を保証する。
// 初回のメールでは有効な購読を作成する。既存の購読は解除中であっても再開しない。
// 作成した場合はtrueを返す。
func (s *Service) EnsureSubscribed(ctx context.Context, userID, newsletterID string) (*model.Subscription, bool, error) {
	now := s.now()
	sub, created, err := s.subRepo.CreateIfNotExists(ctx, &model.Subscription{
		ID:           uuid.New().String(),
		UserID:       userID,
		NewsletterID: newsletterID,
		IsActive:     true,
		SubscribedAt: now,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return nil, false, fmt.Errorf("購読の確保に失敗しました: %w", err)
	}
	if created {
		slog.Info("受信メールから購読を作成しました",
			slog.String("user_id", userID),
			slog.String("newsletter_id", newsletterID),
		)
	}
	return sub, created, nil
}

func (s *Service) activate(ctx context.Context, sub *model.Subscription) (*SubscriptionInfo, error) {
	if err := s.gate.Require(ctx, sub.UserID, model.LimitNewsletterSubscriptions); err != nil {
		return nil, err
	}
	if err := s.subRepo.SetActive(ctx, sub.ID, true, s.now()); err != nil {
		return nil, fmt.Errorf("購読の再開に失敗しました: %w", err)
	}
	s.recordUsage(ctx, sub.UserID, model.LimitNewsletterSubscriptions)
	return s.findInfo(ctx, sub.UserID, sub.ID)
}

// findOwned はユーザーが所有する購読を返す。他ユーザーの購読は存在しないものとして扱う。
func (s *Service) findOwned(ctx context.Context, userID, subscriptionID string) (*model.Subscription, error) {
	sub, err := s.subRepo.FindByID(ctx, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("購読の取得に失敗しました: %w", err)
	}
	if sub == nil || sub.UserID != userID {
		return nil, model.NewSubscriptionNotFoundError(subscriptionID)
	}
	return sub, nil
}

// findInfo は更新後の購読情報を一覧から取得する。
func (s *Service) findInfo(ctx context.Context, userID, subscriptionID string) (*SubscriptionInfo, error) {
	rows, err := s.subRepo.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("購読情報の再取得に失敗しました: %w", err)
	}
	for _, row := range rows {
		if row.ID == subscriptionID {
			info := toInfo(row)
			return &info, nil
		}
	}
	return nil, model.NewSubscriptionNotFoundError(subscriptionID)
}

// recordUsage は利用回数を加算する。操作自体は成功しているため、失敗はログに留める。
func (s *Service) recordUsage(ctx context.Context, userID string, limitType model.LimitType) {
	if err := s.gate.RecordUsage(ctx, userID, limitType); err != nil {
		slog.Warn("利用回数の記録に失敗しました",
			slog.String("user_id", userID),
			slog.String("limit_type", string(limitType)),
			slog.String("error", err.Error()),
		)
	}
}

func toInfo(row repository.SubscriptionWithNewsletter) SubscriptionInfo {
	return SubscriptionInfo{
		ID:                    row.ID,
		UserID:                row.UserID,
		NewsletterID:          row.NewsletterID,
		NewsletterName:        row.NewsletterName,
		SenderEmail:           row.SenderEmail,
		Frequency:             row.Frequency,
		SummaryEnabled:        row.SummaryEnabled,
		CategorizationEnabled: row.CategorizationEnabled,
		IsActive:              row.IsActive,
		SubscribedAt:          row.SubscribedAt,
		UnsubscribedAt:        row.UnsubscribedAt,
	}
}
