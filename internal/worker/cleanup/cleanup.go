// Package cleanup は処理済み受信メールの自動削除ジョブを提供する。
// 保持期間（デフォルト30日）を超えて処理済みのまま残っている受信メールを削除する。
// 未処理・失敗状態のメールは再処理のために残す。記事はメールとは独立して保持される。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DefaultRetentionDays は処理済み受信メールの既定の保持日数。
const DefaultRetentionDays = 30

// InboundEmailDeleter は処理済み受信メールの削除インターフェース。
// repository.InboundEmailRepositoryの部分集合。
type InboundEmailDeleter interface {
	DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
}

// CleanupJob は保持期間を超過した処理済み受信メールの削除ジョブ。
// 外部のスケジューラ（cron等）から起動されることを想定しており、冪等な削除処理を保証する。
type CleanupJob struct {
	emails        InboundEmailDeleter
	logger        *slog.Logger
	RetentionDays int // 処理済み受信メールの保持日数（デフォルト: 30）
	now           func() time.Time
}

// NewCleanupJob は新しいCleanupJobを生成する。
// retentionDaysが0以下の場合はDefaultRetentionDaysを使用する。
func NewCleanupJob(emails InboundEmailDeleter, logger *slog.Logger, retentionDays int) *CleanupJob {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	return &CleanupJob{
		emails:        emails,
		logger:        logger,
		RetentionDays: retentionDays,
		now:           time.Now,
	}
}

// Run は保持期間を超過した処理済み受信メールを削除し、削除件数を返す。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) (int64, error) {
	start := j.now()
	before := start.AddDate(0, 0, -j.RetentionDays)

	deletedCount, err := j.emails.DeleteProcessedBefore(ctx, before)
	if err != nil {
		j.logger.Error("受信メールクリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return 0, fmt.Errorf("受信メールクリーンアップの実行に失敗: %w", err)
	}

	j.logger.Info("受信メールクリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Int("retention_days", j.RetentionDays),
		slog.Time("before", before),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return deletedCount, nil
}
