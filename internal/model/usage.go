// Package model はドメインモデルを定義する。
package model

// LimitType は利用制限の対象となる機能・数量の種別を表す。
type LimitType string

const (
	LimitSavedArticles           LimitType = "saved_articles"
	LimitAISummaries             LimitType = "ai_summaries"
	LimitAICategorization        LimitType = "ai_categorization"
	LimitNewsletterSubscriptions LimitType = "newsletter_subscriptions"
)

// KnownLimitTypes は定義済みの制限種別の一覧。
var KnownLimitTypes = []LimitType{
	LimitSavedArticles,
	LimitAISummaries,
	LimitAICategorization,
	LimitNewsletterSubscriptions,
}

// IsValid は定義済みの制限種別かどうかを返す。
func (l LimitType) IsValid() bool {
	for _, known := range KnownLimitTypes {
		if l == known {
			return true
		}
	}
	return false
}

// UsageReason は利用可否判定の理由を表す。
type UsageReason string

const (
	UsageReasonMonetizationDisabled UsageReason = "monetization_disabled"
	UsageReasonAllowed              UsageReason = "allowed"
	UsageReasonFeatureNotInPlan     UsageReason = "feature_not_in_plan"
	UsageReasonQuotaExceeded        UsageReason = "quota_exceeded"
	UsageReasonLookupFailed         UsageReason = "lookup_failed"
)

// UsageCheck はリクエストごとに算出される利用可否の判定結果。永続化しない。
type UsageCheck struct {
	CanProceed       bool        `json:"canProceed"`
	HasFeatureAccess bool        `json:"hasFeatureAccess"`
	RequiresUpgrade  bool        `json:"requiresUpgrade"`
	Reason           UsageReason `json:"reason"`
	Used             int         `json:"used"`
	Limit            int         `json:"limit"` // -1は無制限
}
