// Package usage はプランごとの機能・利用上限に基づく利用可否判定を提供する。
package usage

import (
	"fmt"
	"os"

	"github.com/hitoshi/mailfeed/internal/model"
	"gopkg.in/yaml.v3"
)

// Unlimited は上限なしを表すクォータ値。
const Unlimited = -1

// Plan はプランで利用できる機能と、機能ごとの期間内上限を表す。
type Plan struct {
	Tier     model.PlanTier          `yaml:"tier"`
	Features []model.LimitType       `yaml:"features"`
	Quotas   map[model.LimitType]int `yaml:"quotas"`
}

// HasFeature はプランの許可リストに制限種別が含まれるかを返す。
func (p Plan) HasFeature(limitType model.LimitType) bool {
	for _, f := range p.Features {
		if f == limitType {
			return true
		}
	}
	return false
}

// Quota は制限種別の期間内上限を返す。上限が定義されていない機能は無制限とする。
func (p Plan) Quota(limitType model.LimitType) int {
	q, ok := p.Quotas[limitType]
	if !ok {
		return Unlimited
	}
	return q
}

// Catalog はプランの一覧。起動時に構築し、以後変更しない。
type Catalog struct {
	plans map[model.PlanTier]Plan
}

type catalogFile struct {
	Plans []Plan `yaml:"plans"`
}

// DefaultCatalog は組み込みのプラン定義を返す。
func DefaultCatalog() *Catalog {
	c, err := newCatalog([]Plan{
		{
			Tier:     model.PlanFree,
			Features: []model.LimitType{model.LimitSavedArticles, model.LimitNewsletterSubscriptions},
			Quotas: map[model.LimitType]int{
				model.LimitSavedArticles:           50,
				model.LimitNewsletterSubscriptions: 10,
			},
		},
		{
			Tier:     model.PlanPro,
			Features: model.KnownLimitTypes,
			Quotas: map[model.LimitType]int{
				model.LimitSavedArticles:           1000,
				model.LimitAISummaries:             300,
				model.LimitAICategorization:        300,
				model.LimitNewsletterSubscriptions: 100,
			},
		},
		{
			Tier:     model.PlanPremium,
			Features: model.KnownLimitTypes,
		},
	})
	if err != nil {
		panic(fmt.Sprintf("組み込みプラン定義が不正です: %v", err))
	}
	return c
}

// LoadCatalog はYAMLファイルからプラン定義を読み込む。
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("プラン定義ファイルの読み込みに失敗しました: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog はYAMLのプラン定義を解析・検証する。
func ParseCatalog(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("プラン定義の解析に失敗しました: %w", err)
	}
	return newCatalog(f.Plans)
}

func newCatalog(plans []Plan) (*Catalog, error) {
	c := &Catalog{plans: make(map[model.PlanTier]Plan, len(plans))}
	for _, p := range plans {
		switch p.Tier {
		case model.PlanFree, model.PlanPro, model.PlanPremium:
		default:
			return nil, fmt.Errorf("未知のプランです: %q", p.Tier)
		}
		if _, dup := c.plans[p.Tier]; dup {
			return nil, fmt.Errorf("プランが重複しています: %q", p.Tier)
		}
		for _, f := range p.Features {
			if !f.IsValid() {
				return nil, fmt.Errorf("プラン %q に未知の機能があります: %q", p.Tier, f)
			}
		}
		for l, q := range p.Quotas {
			if !l.IsValid() {
				return nil, fmt.Errorf("プラン %q に未知の上限があります: %q", p.Tier, l)
			}
			if q < Unlimited {
				return nil, fmt.Errorf("プラン %q の上限 %q が不正です: %d", p.Tier, l, q)
			}
		}
		c.plans[p.Tier] = p
	}
	for _, tier := range []model.PlanTier{model.PlanFree, model.PlanPro, model.PlanPremium} {
		if _, ok := c.plans[tier]; !ok {
			return nil, fmt.Errorf("プラン %q が定義されていません", tier)
		}
	}
	return c, nil
}

// Plan は指定プランの定義を返す。
func (c *Catalog) Plan(tier model.PlanTier) (Plan, bool) {
	p, ok := c.plans[tier]
	return p, ok
}
