// Package featureflag は機能フラグの参照を提供する。
// データベースのfeature_flagsテーブルによる上書きを優先し、
// 未登録または参照に失敗した場合は起動時の環境変数による既定値を使用する。
package featureflag

import (
	"context"
	"log/slog"
)

// FlagMonetization は課金・利用制限機能を有効にするフラグ名。
const FlagMonetization = "monetization_enabled"

// Provider は機能フラグの参照インターフェース。
type Provider interface {
	IsEnabled(ctx context.Context, name string) bool
}

// Store はフラグ上書き値の永続化インターフェース。
type Store interface {
	Get(ctx context.Context, name string) (enabled bool, found bool, err error)
	Set(ctx context.Context, name string, enabled bool) error
}

// Service はStoreの上書き値と既定値を組み合わせて機能フラグを判定する。
type Service struct {
	store    Store
	defaults map[string]bool
}

// NewService はServiceを生成する。defaultsは起動時に確定した既定値で、以後変更しない。
func NewService(store Store, defaults map[string]bool) *Service {
	copied := make(map[string]bool, len(defaults))
	for k, v := range defaults {
		copied[k] = v
	}
	return &Service{store: store, defaults: copied}
}

// IsEnabled はフラグが有効かどうかを返す。
// Storeの参照に失敗した場合は警告ログを出力して既定値を返す。
func (s *Service) IsEnabled(ctx context.Context, name string) bool {
	enabled, found, err := s.store.Get(ctx, name)
	if err != nil {
		slog.Warn("機能フラグの取得に失敗したため既定値を使用します",
			slog.String("flag", name),
			slog.Bool("default", s.defaults[name]),
			slog.String("error", err.Error()),
		)
		return s.defaults[name]
	}
	if !found {
		return s.defaults[name]
	}
	return enabled
}

// Set はフラグの上書き値を保存する。
func (s *Service) Set(ctx context.Context, name string, enabled bool) error {
	return s.store.Set(ctx, name, enabled)
}

// Static は固定値を返すProvider。テストやデータベースを使わないコマンドで使用する。
type Static map[string]bool

// IsEnabled はフラグが有効かどうかを返す。未登録のフラグは無効とみなす。
func (s Static) IsEnabled(_ context.Context, name string) bool {
	return s[name]
}
