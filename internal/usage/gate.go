package usage

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/mailfeed/internal/featureflag"
	"github.com/hitoshi/mailfeed/internal/metrics"
	"github.com/hitoshi/mailfeed/internal/model"
)

// UserLookup はユーザーのプランを参照するためのインターフェース。
type UserLookup interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// Gate は機能フラグ・プラン・利用回数から操作の可否を判定する。
// CheckUsageは読み取り専用であり、利用回数の加算は操作成功後に呼び出し側がRecordUsageで行う。
type Gate struct {
	flags    featureflag.Provider
	users    UserLookup
	catalog  *Catalog
	counters CounterStore
	metrics  metrics.MetricsCollector
	now      func() time.Time
}

// NewGate はGateを生成する。
func NewGate(
	flags featureflag.Provider,
	users UserLookup,
	catalog *Catalog,
	counters CounterStore,
	m metrics.MetricsCollector,
) *Gate {
	return &Gate{
		flags:    flags,
		users:    users,
		catalog:  catalog,
		counters: counters,
		metrics:  m,
		now:      time.Now,
	}
}

// CheckUsage はユーザーが制限種別の操作を実行できるかを判定する。エラーは返さない。
// 課金機能が無効の場合はプランや利用回数を参照せずに常に許可する。
// 参照に失敗した場合は拒否側に倒し、理由をlookup_failedとする。
func (g *Gate) CheckUsage(ctx context.Context, userID string, limitType model.LimitType) model.UsageCheck {
	check := g.evaluate(ctx, userID, limitType)
	g.metrics.RecordUsageCheck(string(limitType), string(check.Reason))
	return check
}

func (g *Gate) evaluate(ctx context.Context, userID string, limitType model.LimitType) model.UsageCheck {
	if !g.flags.IsEnabled(ctx, featureflag.FlagMonetization) {
		return model.UsageCheck{
			CanProceed:       true,
			HasFeatureAccess: true,
			RequiresUpgrade:  false,
			Reason:           model.UsageReasonMonetizationDisabled,
			Limit:            Unlimited,
		}
	}

	user, err := g.users.FindByID(ctx, userID)
	if err != nil || user == nil {
		attrs := []any{slog.String("user_id", userID), slog.String("limit_type", string(limitType))}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		}
		slog.Error("利用可否判定のためのユーザー取得に失敗しました", attrs...)
		return denied(model.UsageReasonLookupFailed, false, 0, 0)
	}

	plan, ok := g.catalog.Plan(user.Plan)
	if !ok {
		slog.Error("ユーザーのプランが定義されていません",
			slog.String("user_id", userID),
			slog.String("plan", string(user.Plan)),
		)
		return denied(model.UsageReasonLookupFailed, false, 0, 0)
	}

	if !plan.HasFeature(limitType) {
		return denied(model.UsageReasonFeatureNotInPlan, false, 0, 0)
	}

	quota := plan.Quota(limitType)
	if quota == Unlimited {
		return model.UsageCheck{
			CanProceed:       true,
			HasFeatureAccess: true,
			Reason:           model.UsageReasonAllowed,
			Limit:            Unlimited,
		}
	}

	used, err := g.counters.Get(ctx, userID, limitType, WindowStart(g.now()))
	if err != nil {
		slog.Error("利用回数の取得に失敗しました",
			slog.String("user_id", userID),
			slog.String("limit_type", string(limitType)),
			slog.String("error", err.Error()),
		)
		return denied(model.UsageReasonLookupFailed, true, 0, quota)
	}

	if used >= quota {
		return denied(model.UsageReasonQuotaExceeded, true, used, quota)
	}
	return model.UsageCheck{
		CanProceed:       true,
		HasFeatureAccess: true,
		Reason:           model.UsageReasonAllowed,
		Used:             used,
		Limit:            quota,
	}
}

// denied は課金機能が有効な状態での拒否結果を組み立てる。
func denied(reason model.UsageReason, hasAccess bool, used, limit int) model.UsageCheck {
	return model.UsageCheck{
		CanProceed:       false,
		HasFeatureAccess: hasAccess,
		RequiresUpgrade:  true,
		Reason:           reason,
		Used:             used,
		Limit:            limit,
	}
}

// Require はCheckUsageで拒否された場合にアップグレード要求エラーを返す。
// errors.Is(err, model.ErrQuotaExceeded)で判定できる。
func (g *Gate) Require(ctx context.Context, userID string, limitType model.LimitType) error {
	if check := g.CheckUsage(ctx, userID, limitType); !check.CanProceed {
		return model.NewUpgradeRequiredError(limitType)
	}
	return nil
}

// RecordUsage は操作成功後に利用回数を加算する。課金機能が無効の場合は何もしない。
func (g *Gate) RecordUsage(ctx context.Context, userID string, limitType model.LimitType) error {
	if !g.flags.IsEnabled(ctx, featureflag.FlagMonetization) {
		return nil
	}
	if _, err := g.counters.Increment(ctx, userID, limitType, WindowStart(g.now())); err != nil {
		return err
	}
	return nil
}
