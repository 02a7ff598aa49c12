package usage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/mailfeed/internal/featureflag"
	"github.com/hitoshi/mailfeed/internal/metrics"
	"github.com/hitoshi/mailfeed/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockUsers はUserLookupのテスト用モック。
type mockUsers struct {
	users map[string]*model.User
	err   error
	calls int
}

func (m *mockUsers) FindByID(_ context.Context, id string) (*model.User, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.users[id], nil
}

// memoryCounters はCounterStoreのテスト用インメモリ実装。
type memoryCounters struct {
	counts  map[string]int
	getErr  error
	incrErr error
	gets    int
}

func newMemoryCounters() *memoryCounters {
	return &memoryCounters{counts: make(map[string]int)}
}

func (m *memoryCounters) Get(_ context.Context, userID string, l model.LimitType, w time.Time) (int, error) {
	m.gets++
	if m.getErr != nil {
		return 0, m.getErr
	}
	return m.counts[counterKey(userID, l, w)], nil
}

func (m *memoryCounters) Increment(_ context.Context, userID string, l model.LimitType, w time.Time) (int, error) {
	if m.incrErr != nil {
		return 0, m.incrErr
	}
	k := counterKey(userID, l, w)
	m.counts[k]++
	return m.counts[k], nil
}

func newTestGate(monetization bool, users *mockUsers, counters *memoryCounters) *Gate {
	g := NewGate(
		featureflag.Static{featureflag.FlagMonetization: monetization},
		users,
		DefaultCatalog(),
		counters,
		metrics.Nop{},
	)
	g.now = func() time.Time { return time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC) }
	return g
}

func usersWith(plan model.PlanTier) *mockUsers {
	return &mockUsers{users: map[string]*model.User{"u-1": {ID: "u-1", Plan: plan}}}
}

func TestCheckUsage_MonetizationDisabled_AlwaysAllows(t *testing.T) {
	users := &mockUsers{err: errors.New("must not be called")}
	counters := newMemoryCounters()
	counters.counts[counterKey("u-1", model.LimitSavedArticles, WindowStart(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)))] = 1_000_000
	g := newTestGate(false, users, counters)

	for _, l := range append(model.KnownLimitTypes, "anything") {
		check := g.CheckUsage(context.Background(), "u-1", l)

		assert.True(t, check.CanProceed, l)
		assert.True(t, check.HasFeatureAccess, l)
		assert.False(t, check.RequiresUpgrade, l)
		assert.Equal(t, model.UsageReasonMonetizationDisabled, check.Reason)
	}
	assert.Zero(t, users.calls, "user lookup must be skipped when monetization is off")
	assert.Zero(t, counters.gets, "counter lookup must be skipped when monetization is off")
}

func TestCheckUsage_MonetizationEnabled(t *testing.T) {
	window := WindowStart(time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC))

	tests := []struct {
		name      string
		plan      model.PlanTier
		limitType model.LimitType
		used      int
		want      model.UsageCheck
	}{
		{
			name:      "上限未満なら許可",
			plan:      model.PlanFree,
			limitType: model.LimitSavedArticles,
			used:      49,
			want:      model.UsageCheck{CanProceed: true, HasFeatureAccess: true, Reason: model.UsageReasonAllowed, Used: 49, Limit: 50},
		},
		{
			name:      "上限到達で拒否",
			plan:      model.PlanFree,
			limitType: model.LimitSavedArticles,
			used:      50,
			want:      model.UsageCheck{HasFeatureAccess: true, RequiresUpgrade: true, Reason: model.UsageReasonQuotaExceeded, Used: 50, Limit: 50},
		},
		{
			name:      "プラン外の機能",
			plan:      model.PlanFree,
			limitType: model.LimitAISummaries,
			want:      model.UsageCheck{RequiresUpgrade: true, Reason: model.UsageReasonFeatureNotInPlan},
		},
		{
			name:      "無制限プラン",
			plan:      model.PlanPremium,
			limitType: model.LimitAISummaries,
			used:      99999,
			want:      model.UsageCheck{CanProceed: true, HasFeatureAccess: true, Reason: model.UsageReasonAllowed, Limit: Unlimited},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			counters := newMemoryCounters()
			counters.counts[counterKey("u-1", tt.limitType, window)] = tt.used
			g := newTestGate(true, usersWith(tt.plan), counters)

			got := g.CheckUsage(context.Background(), "u-1", tt.limitType)

			assert.Equal(t, tt.want, got)
			assert.Equal(t, !got.CanProceed, got.RequiresUpgrade)
		})
	}
}

func TestCheckUsage_PreviousWindowDoesNotCount(t *testing.T) {
	counters := newMemoryCounters()
	may := WindowStart(time.Date(2025, 5, 20, 0, 0, 0, 0, time.UTC))
	counters.counts[counterKey("u-1", model.LimitSavedArticles, may)] = 50
	g := newTestGate(true, usersWith(model.PlanFree), counters)

	check := g.CheckUsage(context.Background(), "u-1", model.LimitSavedArticles)

	assert.True(t, check.CanProceed)
	assert.Equal(t, 0, check.Used)
}

func TestCheckUsage_FailsClosed(t *testing.T) {
	t.Run("ユーザー取得エラー", func(t *testing.T) {
		g := newTestGate(true, &mockUsers{err: errors.New("db down")}, newMemoryCounters())
		check := g.CheckUsage(context.Background(), "u-1", model.LimitSavedArticles)
		assert.False(t, check.CanProceed)
		assert.True(t, check.RequiresUpgrade)
		assert.Equal(t, model.UsageReasonLookupFailed, check.Reason)
	})

	t.Run("ユーザー不在", func(t *testing.T) {
		g := newTestGate(true, &mockUsers{}, newMemoryCounters())
		check := g.CheckUsage(context.Background(), "ghost", model.LimitSavedArticles)
		assert.False(t, check.CanProceed)
		assert.Equal(t, model.UsageReasonLookupFailed, check.Reason)
	})

	t.Run("未定義のプラン", func(t *testing.T) {
		g := newTestGate(true, usersWith("legacy"), newMemoryCounters())
		check := g.CheckUsage(context.Background(), "u-1", model.LimitSavedArticles)
		assert.False(t, check.CanProceed)
		assert.Equal(t, model.UsageReasonLookupFailed, check.Reason)
	})

	t.Run("カウンタ取得エラー", func(t *testing.T) {
		counters := newMemoryCounters()
		counters.getErr = errors.New("redis down")
		g := newTestGate(true, usersWith(model.PlanFree), counters)
		check := g.CheckUsage(context.Background(), "u-1", model.LimitSavedArticles)
		assert.False(t, check.CanProceed)
		assert.True(t, check.HasFeatureAccess)
		assert.Equal(t, model.UsageReasonLookupFailed, check.Reason)
	})
}

func TestCheckUsage_DoesNotMutateCounters(t *testing.T) {
	counters := newMemoryCounters()
	g := newTestGate(true, usersWith(model.PlanFree), counters)

	for i := 0; i < 5; i++ {
		g.CheckUsage(context.Background(), "u-1", model.LimitSavedArticles)
	}

	for k, v := range counters.counts {
		assert.Zero(t, v, k)
	}
}

func TestRecordUsage(t *testing.T) {
	t.Run("有効時は加算され上限で拒否される", func(t *testing.T) {
		counters := newMemoryCounters()
		g := newTestGate(true, usersWith(model.PlanFree), counters)
		ctx := context.Background()

		for i := 0; i < 10; i++ {
			require.NoError(t, g.Require(ctx, "u-1", model.LimitNewsletterSubscriptions))
			require.NoError(t, g.RecordUsage(ctx, "u-1", model.LimitNewsletterSubscriptions))
		}

		err := g.Require(ctx, "u-1", model.LimitNewsletterSubscriptions)
		require.Error(t, err)
		assert.ErrorIs(t, err, model.ErrQuotaExceeded)
		var apiErr *model.APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, model.ErrCodeUpgradeRequired, apiErr.Code)
	})

	t.Run("無効時は加算しない", func(t *testing.T) {
		counters := newMemoryCounters()
		g := newTestGate(false, usersWith(model.PlanFree), counters)

		require.NoError(t, g.RecordUsage(context.Background(), "u-1", model.LimitSavedArticles))
		assert.Empty(t, counters.counts)
	})

	t.Run("加算エラーを返す", func(t *testing.T) {
		counters := newMemoryCounters()
		counters.incrErr = errors.New("redis down")
		g := newTestGate(true, usersWith(model.PlanFree), counters)

		assert.Error(t, g.RecordUsage(context.Background(), "u-1", model.LimitSavedArticles))
	})
}

func TestWindowStart(t *testing.T) {
	jst := time.FixedZone("JST", 9*60*60)

	assert.Equal(t,
		time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		WindowStart(time.Date(2025, 6, 30, 23, 59, 59, 0, time.UTC)))
	// JSTの7月1日午前はUTCではまだ6月
	assert.Equal(t,
		time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		WindowStart(time.Date(2025, 7, 1, 8, 0, 0, 0, jst)))
}
