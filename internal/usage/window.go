package usage

import (
	"context"
	"time"

	"github.com/hitoshi/mailfeed/internal/model"
)

// WindowStart は時刻tを含む集計期間（UTCの暦月）の開始時刻を返す。
func WindowStart(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// CounterStore は期間ごとの利用回数を保持するストア。
type CounterStore interface {
	// Get は期間内の利用回数を返す。未記録の場合は0を返す。
	Get(ctx context.Context, userID string, limitType model.LimitType, window time.Time) (int, error)
	// Increment は利用回数を1増やし、増加後の値を返す。
	Increment(ctx context.Context, userID string, limitType model.LimitType, window time.Time) (int, error)
}
