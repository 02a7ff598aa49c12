package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/mailfeed/internal/model"
)

// PostgresUsageCounterRepo はusage_countersテーブルを使用した利用量カウンタ。
type PostgresUsageCounterRepo struct {
	db *sql.DB
}

// NewPostgresUsageCounterRepo はPostgresUsageCounterRepoを生成する。
func NewPostgresUsageCounterRepo(db *sql.DB) *PostgresUsageCounterRepo {
	return &PostgresUsageCounterRepo{db: db}
}

// Get は期間内の利用回数を返す。行が存在しない場合は0を返す。
func (r *PostgresUsageCounterRepo) Get(ctx context.Context, userID string, limitType model.LimitType, window time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT count FROM usage_counters
		 WHERE user_id = $1 AND limit_type = $2 AND window_start = $3`,
		userID, string(limitType), windowDate(window),
	).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("利用回数の取得に失敗しました: %w", err)
	}
	return count, nil
}

// Increment は利用回数を1増やし、増加後の値を返す。
func (r *PostgresUsageCounterRepo) Increment(ctx context.Context, userID string, limitType model.LimitType, window time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO usage_counters (user_id, limit_type, window_start, count)
		 VALUES ($1, $2, $3, 1)
		 ON CONFLICT (user_id, limit_type, window_start)
		 DO UPDATE SET count = usage_counters.count + 1
		 RETURNING count`,
		userID, string(limitType), windowDate(window),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("利用回数の更新に失敗しました: %w", err)
	}
	return count, nil
}

// windowDate はDATE列と比較するため期間開始をUTCの日付に丸める。
func windowDate(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// compile-time interface check
var _ UsageCounterRepository = (*PostgresUsageCounterRepo)(nil)
