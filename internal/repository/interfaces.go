// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/mailfeed/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレス（大文字小文字を区別しない）でユーザーを検索する。
	// 見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はユーザーを作成する。メールアドレスが重複する場合はErrDuplicateを返す。
	Create(ctx context.Context, user *model.User) error

	// SetSystemEmailIfEmpty はシステムメールアドレスが未設定の場合のみ設定し、
	// 設定後（または既存）の値を返す。ユーザーが存在しない場合は空文字列を返す。
	SetSystemEmailIfEmpty(ctx context.Context, id, systemEmail string) (string, error)

	// Withdraw は保存記事・購読・ユーザーを同一トランザクションで削除する。
	// 記事とニュースレターは残る。ユーザーが存在しない場合はfalseを返す。
	Withdraw(ctx context.Context, id string) (bool, error)
}

// NewsletterRepository はニュースレターデータの永続化インターフェース。
type NewsletterRepository interface {
	// FindByID は指定IDのニュースレターを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Newsletter, error)

	// FindBySenderEmail は送信元アドレス（大文字小文字を区別しない）で検索する。
	// 見つからない場合はnilを返す。
	FindBySenderEmail(ctx context.Context, senderEmail string) (*model.Newsletter, error)

	// FindByName は名前（大文字小文字を区別しない）で検索する。
	// 複数該当する場合は最も古いものを返す。見つからない場合はnilを返す。
	FindByName(ctx context.Context, name string) (*model.Newsletter, error)

	// Create はニュースレターを作成する。一意制約違反の場合はErrDuplicateを返す。
	Create(ctx context.Context, newsletter *model.Newsletter) error

	// ListPredefined はシステム側で用意した有効なニュースレターを名前順に返す。
	ListPredefined(ctx context.Context) ([]*model.Newsletter, error)

	// TopByArticleCount は記事数の多い順にニュースレターの集計値を返す。
	TopByArticleCount(ctx context.Context, limit int) ([]model.NewsletterStat, error)
}

// SubscriptionRepository はユーザーとニュースレターの購読関係の永続化インターフェース。
type SubscriptionRepository interface {
	// FindByID は指定IDの購読を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Subscription, error)

	// FindByUserAndNewsletter はユーザーIDとニュースレターIDで購読を検索する。
	// 見つからない場合はnilを返す。
	FindByUserAndNewsletter(ctx context.Context, userID, newsletterID string) (*model.Subscription, error)

	// CreateIfNotExists は購読が存在しない場合のみ作成する。
	// 作成した場合はtrue、既存の購読を返した場合はfalseを返す。
	// 既存の購読の状態（有効/解除）は変更しない。
	CreateIfNotExists(ctx context.Context, sub *model.Subscription) (*model.Subscription, bool, error)

	// ListByUserID はユーザーの購読一覧をニュースレター情報付きで返す。
	ListByUserID(ctx context.Context, userID string) ([]SubscriptionWithNewsletter, error)

	// SetActive は購読の有効/解除を切り替える。解除時はunsubscribed_atを記録する。
	SetActive(ctx context.Context, id string, active bool, at time.Time) error

	// UpdateAIToggles はAI要約・AI分類の有効フラグを更新する。
	UpdateAIToggles(ctx context.Context, id string, summaryEnabled, categorizationEnabled bool) error
}

// ArticleRepository は記事データの永続化インターフェース。
type ArticleRepository interface {
	// InsertIfAbsent はdedupe_keyが未登録の場合のみ記事を作成する。
	// 作成した場合はtrue、重複により作成しなかった場合はfalseを返す。
	InsertIfAbsent(ctx context.Context, article *model.Article) (bool, error)

	// FindForUser はユーザーが所有する記事を取得する。見つからない場合はnilを返す。
	FindForUser(ctx context.Context, userID, articleID string) (*model.FeedArticle, error)

	// ListFeed は有効な購読に属する記事をprocessed_at降順で取得する。
	// cursorがゼロ値の場合は先頭から取得する。
	ListFeed(ctx context.Context, userID string, filter model.ArticleFilter, cursor model.FeedCursor, limit int) ([]model.FeedArticle, error)

	// MarkRead は記事の既読状態を更新する。記事が存在しない場合はfalseを返す。
	MarkRead(ctx context.Context, userID, articleID string, read bool) (bool, error)

	// DeleteByIDs は指定IDの記事を一括削除し、削除件数を返す。
	DeleteByIDs(ctx context.Context, ids []string) (int64, error)
}

// SavedArticleRepository は保存記事の永続化インターフェース。
type SavedArticleRepository interface {
	// Save は記事を保存する。既に保存済みの場合は既存の保存記事とfalseを返す。
	Save(ctx context.Context, saved *model.SavedArticle) (*model.SavedArticle, bool, error)

	// FindByID はユーザーの保存記事を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, userID, id string) (*model.SavedArticle, error)

	// Update はフォルダ・メモ・タグを更新する。見つからない場合はfalseを返す。
	Update(ctx context.Context, saved *model.SavedArticle) (bool, error)

	// Delete は保存記事を削除する。見つからない場合はfalseを返す。
	Delete(ctx context.Context, userID, id string) (bool, error)

	// ListByUserID は保存記事を保存日時の降順で返す。folderが空の場合は全件を返す。
	ListByUserID(ctx context.Context, userID, folder string, limit, offset int) ([]model.SavedArticleWithArticle, error)
}

// InboundEmailRepository は受信メールの永続化インターフェース。
type InboundEmailRepository interface {
	// Record は受信メールをsource_keyで冪等に記録する。
	// 新規作成時はtrue、既存行を返した場合はfalseを返す。
	Record(ctx context.Context, email *model.InboundEmail) (*model.InboundEmail, bool, error)

	// FindByID は指定IDの受信メールを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.InboundEmail, error)

	// UpdateStatus は処理状態と紐付くユーザー・ニュースレターを更新する。
	UpdateStatus(ctx context.Context, id string, status model.InboundStatus, errorMessage, userID, newsletterID string) error

	// ListByStatus は指定状態の受信メールを受信順に返す。
	ListByStatus(ctx context.Context, statuses []model.InboundStatus, limit int) ([]*model.InboundEmail, error)

	// DeleteProcessedBefore は指定時刻より前に処理済みになった受信メールを削除し、削除件数を返す。
	DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
}

// FeatureFlagRepository は機能フラグの永続化インターフェース。
type FeatureFlagRepository interface {
	// Get はフラグの値を返す。行が存在しない場合はfound=falseを返す。
	Get(ctx context.Context, name string) (enabled bool, found bool, err error)

	// Set はフラグの値をUPSERTする。
	Set(ctx context.Context, name string, enabled bool) error
}

// SubscriptionWithNewsletter は購読とニュースレター情報を結合した構造体。
type SubscriptionWithNewsletter struct {
	model.Subscription
	NewsletterName string
	SenderEmail    string
	Frequency      model.Frequency
}

// UsageCounterRepository は利用量カウンタの永続化インターフェース。
// windowは集計期間の開始日（UTCの月初）を表す。
type UsageCounterRepository interface {
	// Get は期間内の利用回数を返す。行が存在しない場合は0を返す。
	Get(ctx context.Context, userID string, limitType model.LimitType, window time.Time) (int, error)

	// Increment は利用回数を1増やし、増加後の値を返す。
	Increment(ctx context.Context, userID string, limitType model.LimitType, window time.Time) (int, error)
}
