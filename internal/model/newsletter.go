// Package model はドメインモデルを定義する。
package model

import "time"

// Frequency はニュースレターの配信頻度を表す。
type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

// DefaultFrequency は配信頻度が不明な場合に用いる値。
const DefaultFrequency = FrequencyWeekly

// Newsletter はニュースレター（配信元）を表す。
// 送信元メールアドレスを第一キー、名前を第二キーとして同一性を判定する。
type Newsletter struct {
	ID           string
	Name         string
	SenderEmail  string
	SenderDomain string
	Frequency    Frequency
	IsActive     bool
	IsPredefined bool // true: システム側で用意したもの / false: 受信メールから発見したもの
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Subscription はユーザーとニュースレターの購読関係を表す。
// 購読解除は論理的な状態遷移（IsActive=false + UnsubscribedAt）であり、行は削除しない。
type Subscription struct {
	ID                    string
	UserID                string
	NewsletterID          string
	SummaryEnabled        bool
	CategorizationEnabled bool
	IsActive              bool
	SubscribedAt          time.Time
	UnsubscribedAt        *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// NewsletterStat は管理画面向けのニュースレター集計値。
type NewsletterStat struct {
	Newsletter
	ArticleCount    int
	SubscriberCount int
}
