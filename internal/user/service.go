// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/mailfeed/internal/model"
	"github.com/hitoshi/mailfeed/internal/repository"
)

// AddressDeriver はユーザーIDからシステムメールアドレスを導出するインターフェース。
type AddressDeriver interface {
	DeriveSystemEmail(userID string) (string, error)
}

// Service はユーザー管理のサービス層。
// 登録・システムメールアドレスの発行・退会処理のビジネスロジックを提供する。
type Service struct {
	userRepo repository.UserRepository
	deriver  AddressDeriver
	now      func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(userRepo repository.UserRepository, deriver AddressDeriver) *Service {
	return &Service{
		userRepo: userRepo,
		deriver:  deriver,
		now:      time.Now,
	}
}

// Register はサインアップ済みのユーザーを登録し、システムメールアドレスを発行する。
// 同じメールアドレスで登録済みの場合は既存のユーザーとfalseを返す。
func (s *Service) Register(ctx context.Context, email string) (*model.User, bool, error) {
	normalized, err := normalizeEmail(email)
	if err != nil {
		return nil, false, model.NewInvalidRequestError("メールアドレスの形式が不正です")
	}

	existing, err := s.userRepo.FindByEmail(ctx, normalized)
	if err != nil {
		return nil, false, fmt.Errorf("ユーザーの検索に失敗しました: %w", err)
	}
	if existing != nil {
		return s.withSystemEmail(ctx, existing)
	}

	id := uuid.New().String()
	systemEmail, err := s.deriver.DeriveSystemEmail(id)
	if err != nil {
		return nil, false, fmt.Errorf("システムメールアドレスの導出に失敗しました: %w", err)
	}

	now := s.now()
	user := &model.User{
		ID:          id,
		Email:       normalized,
		SystemEmail: systemEmail,
		Plan:        model.PlanFree,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if createErr := s.userRepo.Create(ctx, user); createErr != nil {
		if !errors.Is(createErr, repository.ErrDuplicate) {
			return nil, false, fmt.Errorf("ユーザーの作成に失敗しました: %w", createErr)
		}
		// 同時登録で先に作成されたユーザーを返す
		existing, err := s.userRepo.FindByEmail(ctx, normalized)
		if err != nil {
			return nil, false, fmt.Errorf("ユーザーの再取得に失敗しました: %w", err)
		}
		if existing == nil {
			return nil, false, fmt.Errorf("ユーザーの作成に失敗しました: %w", createErr)
		}
		return s.withSystemEmail(ctx, existing)
	}

	slog.Info("ユーザーを登録しました",
		slog.String("user_id", user.ID),
		slog.String("system_email", user.SystemEmail),
	)
	return user, true, nil
}

// Get は指定IDのユーザーを返す。
func (s *Service) Get(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// EnsureSystemEmail はシステムメールアドレスが未発行の場合のみ発行し、その値を返す。
// 一度発行したアドレスは変更しない。
func (s *Service) EnsureSystemEmail(ctx context.Context, userID string) (string, error) {
	user, err := s.Get(ctx, userID)
	if err != nil {
		return "", err
	}
	if user.SystemEmail != "" {
		return user.SystemEmail, nil
	}

	derived, err := s.deriver.DeriveSystemEmail(user.ID)
	if err != nil {
		return "", fmt.Errorf("システムメールアドレスの導出に失敗しました: %w", err)
	}
	stored, err := s.userRepo.SetSystemEmailIfEmpty(ctx, user.ID, derived)
	if err != nil {
		return "", fmt.Errorf("システムメールアドレスの保存に失敗しました: %w", err)
	}
	if stored == "" {
		return "", model.NewUserNotFoundError()
	}
	return stored, nil
}

// Withdraw はユーザーの退会処理を実行する。
// 保存記事・購読・ユーザーを削除し、記事とニュースレターは残す。
func (s *Service) Withdraw(ctx context.Context, userID string) error {
	slog.Info("退会処理を開始します",
		slog.String("user_id", userID),
	)

	found, err := s.userRepo.Withdraw(ctx, userID)
	if err != nil {
		return fmt.Errorf("退会処理に失敗しました: %w", err)
	}
	if !found {
		return model.NewUserNotFoundError()
	}

	slog.Info("退会処理が完了しました",
		slog.String("user_id", userID),
	)
	return nil
}

func (s *Service) withSystemEmail(ctx context.Context, user *model.User) (*model.User, bool, error) {
	if user.SystemEmail == "" {
		systemEmail, err := s.EnsureSystemEmail(ctx, user.ID)
		if err != nil {
			return nil, false, err
		}
		user.SystemEmail = systemEmail
	}
	return user, false, nil
}

// normalizeEmail はメールアドレスを検証し、小文字に正規化する。
func normalizeEmail(raw string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	return strings.ToLower(addr.Address), nil
}
