// Package model はドメインモデルを定義する。
package model

import "time"

// 興味度スコアの範囲と未指定時の既定値。
const (
	MinInterestScore     = 0
	MaxInterestScore     = 100
	DefaultInterestScore = 50
)

// Article はニュースレターメールから生成された記事を表す。
// 1つのArticleは必ず1つのNewsletterに属する。
type Article struct {
	ID            string
	NewsletterID  string
	UserID        string // ユーザーごとの派生コピーの場合に設定される
	SourceKey     string // 取り込み元メールの識別キー
	DedupeKey     string // (newsletter, user, source, url-or-title) のハッシュ
	Title         string
	Content       string // サニタイズ済みHTML
	URL           string
	AISummary     string
	AICategory    string
	InterestScore int
	ProcessedAt   time.Time
	IsRead        bool
	IsSaved       bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// FeedArticle はフィード表示用の記事とニュースレター情報の結合モデル。
type FeedArticle struct {
	Article
	NewsletterName string
}

// ArticleFilter はフィードのフィルタ種別を表す。
type ArticleFilter string

const (
	// ArticleFilterAll は全記事を表示するフィルタ。
	ArticleFilterAll ArticleFilter = "all"
	// ArticleFilterUnread は未読記事のみを表示するフィルタ。
	ArticleFilterUnread ArticleFilter = "unread"
	// ArticleFilterSaved は保存済み記事のみを表示するフィルタ。
	ArticleFilterSaved ArticleFilter = "saved"
)

// SavedArticle はユーザーが保存した記事を表す。
// 保存で作成され、移動・注釈で更新され、保存解除で削除される。
type SavedArticle struct {
	ID        string
	UserID    string
	ArticleID string
	Folder    string
	Notes     string
	Tags      []string
	SavedAt   time.Time
	UpdatedAt time.Time
}

// SavedArticleWithArticle は保存記事一覧の表示用モデル。
type SavedArticleWithArticle struct {
	SavedArticle
	Title          string
	URL            string
	NewsletterName string
}

// ExtractedArticle は外部の抽出処理から渡される未保存の記事候補。
// 全フィールドが任意であり、欠損値は取り込み時に補完される。
type ExtractedArticle struct {
	Title         string `json:"title,omitempty"`
	Content       string `json:"content,omitempty"`
	URL           string `json:"url,omitempty"`
	Summary       string `json:"summary,omitempty"`
	Category      string `json:"category,omitempty"`
	InterestScore *int   `json:"interestScore,omitempty"`
}

// ClampInterestScore は興味度スコアを[0,100]に丸める。未指定の場合は既定値を返す。
func ClampInterestScore(score *int) int {
	if score == nil {
		return DefaultInterestScore
	}
	switch {
	case *score < MinInterestScore:
		return MinInterestScore
	case *score > MaxInterestScore:
		return MaxInterestScore
	default:
		return *score
	}
}

// FeedCursor はフィードのページネーション位置を表す。
// (processed_at, id)の降順で、この位置より後ろの記事を取得する。
type FeedCursor struct {
	ProcessedAt time.Time
	ID          string
}

// IsZero はカーソルが未指定かどうかを返す。
func (c FeedCursor) IsZero() bool {
	return c.ProcessedAt.IsZero() && c.ID == ""
}
