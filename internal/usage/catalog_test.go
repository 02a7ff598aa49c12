package usage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hitoshi/mailfeed/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog(t *testing.T) {
	c := DefaultCatalog()

	free, ok := c.Plan(model.PlanFree)
	require.True(t, ok)
	assert.True(t, free.HasFeature(model.LimitSavedArticles))
	assert.False(t, free.HasFeature(model.LimitAISummaries))
	assert.Equal(t, 50, free.Quota(model.LimitSavedArticles))

	premium, ok := c.Plan(model.PlanPremium)
	require.True(t, ok)
	for _, l := range model.KnownLimitTypes {
		assert.True(t, premium.HasFeature(l), l)
		assert.Equal(t, Unlimited, premium.Quota(l), l)
	}

	_, ok = c.Plan("enterprise")
	assert.False(t, ok)
}

const validCatalogYAML = `
plans:
  - tier: free
    features: [saved_articles]
    quotas:
      saved_articles: 5
  - tier: pro
    features: [saved_articles, ai_summaries]
    quotas:
      saved_articles: -1
      ai_summaries: 20
  - tier: premium
    features: [saved_articles, ai_summaries, ai_categorization, newsletter_subscriptions]
`

func TestParseCatalog_Valid(t *testing.T) {
	c, err := ParseCatalog([]byte(validCatalogYAML))
	require.NoError(t, err)

	free, _ := c.Plan(model.PlanFree)
	assert.Equal(t, 5, free.Quota(model.LimitSavedArticles))
	assert.False(t, free.HasFeature(model.LimitNewsletterSubscriptions))

	pro, _ := c.Plan(model.PlanPro)
	assert.Equal(t, Unlimited, pro.Quota(model.LimitSavedArticles))
	assert.Equal(t, 20, pro.Quota(model.LimitAISummaries))
}

func TestParseCatalog_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{name: "YAML構文エラー", yaml: "plans: [tier: free"},
		{name: "未知のプラン", yaml: "plans:\n  - tier: gold\n"},
		{name: "未知の機能", yaml: "plans:\n  - tier: free\n    features: [teleport]\n  - tier: pro\n  - tier: premium\n"},
		{name: "不正な上限", yaml: "plans:\n  - tier: free\n    quotas:\n      saved_articles: -5\n  - tier: pro\n  - tier: premium\n"},
		{name: "プラン不足", yaml: "plans:\n  - tier: free\n  - tier: pro\n"},
		{name: "プラン重複", yaml: "plans:\n  - tier: free\n  - tier: free\n  - tier: pro\n  - tier: premium\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCatalog([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plans.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validCatalogYAML), 0o600))

	c, err := LoadCatalog(path)
	require.NoError(t, err)
	_, ok := c.Plan(model.PlanPro)
	assert.True(t, ok)

	_, err = LoadCatalog(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
