package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/mailfeed/internal/model"
)

// PostgresSubscriptionRepo はPostgreSQLを使用した購読リポジトリ。
type PostgresSubscriptionRepo struct {
	db *sql.DB
}

// NewPostgresSubscriptionRepo はPostgresSubscriptionRepoを生成する。
func NewPostgresSubscriptionRepo(db *sql.DB) *PostgresSubscriptionRepo {
	return &PostgresSubscriptionRepo{db: db}
}

const subscriptionColumns = `id, user_id, newsletter_id, summary_enabled, categorization_enabled,
	is_active, subscribed_at, unsubscribed_at, created_at, updated_at`

func scanSubscription(row interface{ Scan(...any) error }, extra ...any) (*model.Subscription, error) {
	sub := &model.Subscription{}
	var unsubscribedAt sql.NullTime
	dest := []any{
		&sub.ID, &sub.UserID, &sub.NewsletterID, &sub.SummaryEnabled, &sub.CategorizationEnabled,
		&sub.IsActive, &sub.SubscribedAt, &unsubscribedAt, &sub.CreatedAt, &sub.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	if unsubscribedAt.Valid {
		sub.UnsubscribedAt = &unsubscribedAt.Time
	}
	return sub, nil
}

// FindByID は指定IDの購読を取得する。見つからない場合はnilを返す。
func (r *PostgresSubscriptionRepo) FindByID(ctx context.Context, id string) (*model.Subscription, error) {
	sub, err := scanSubscription(r.db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM user_newsletter_subscriptions WHERE id = $1`,
		id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("購読の取得に失敗しました: %w", err)
	}
	return sub, nil
}

// FindByUserAndNewsletter はユーザーIDとニュースレターIDで購読を検索する。見つからない場合はnilを返す。
func (r *PostgresSubscriptionRepo) FindByUserAndNewsletter(ctx context.Context, userID, newsletterID string) (*model.Subscription, error) {
	sub, err := scanSubscription(r.db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM user_newsletter_subscriptions
		 WHERE user_id = $1 AND newsletter_id = $2`,
		userID, newsletterID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ユーザーとニュースレターによる購読の検索に失敗しました: %w", err)
	}
	return sub, nil
}

// CreateIfNotExists は購読が存在しない場合のみ作成する。
// UNIQUE(user_id, newsletter_id)制約を利用したINSERT ON CONFLICT DO NOTHINGで実装し、
// 並行実行時も既存行の状態を変更しない。
func (r *PostgresSubscriptionRepo) CreateIfNotExists(ctx context.Context, sub *model.Subscription) (*model.Subscription, bool, error) {
	var id string
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO user_newsletter_subscriptions
		     (id, user_id, newsletter_id, summary_enabled, categorization_enabled,
		      is_active, subscribed_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (user_id, newsletter_id) DO NOTHING
		 RETURNING id`,
		sub.ID, sub.UserID, sub.NewsletterID, sub.SummaryEnabled, sub.CategorizationEnabled,
		sub.IsActive, sub.SubscribedAt, sub.CreatedAt, sub.UpdatedAt,
	).Scan(&id)
	if err == nil {
		return sub, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("購読の作成に失敗しました: %w", err)
	}

	existing, err := r.FindByUserAndNewsletter(ctx, sub.UserID, sub.NewsletterID)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, fmt.Errorf("競合した購読が見つかりません: user=%s newsletter=%s", sub.UserID, sub.NewsletterID)
	}
	return existing, false, nil
}

// ListByUserID はユーザーの購読一覧をニュースレター情報付きで返す。
func (r *PostgresSubscriptionRepo) ListByUserID(ctx context.Context, userID string) ([]SubscriptionWithNewsletter, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT s.id, s.user_id, s.newsletter_id, s.summary_enabled, s.categorization_enabled,
		        s.is_active, s.subscribed_at, s.unsubscribed_at, s.created_at, s.updated_at,
		        n.name, COALESCE(n.sender_email, ''), n.frequency
		 FROM user_newsletter_subscriptions s
		 INNER JOIN newsletters n ON n.id = s.newsletter_id
		 WHERE s.user_id = $1
		 ORDER BY s.is_active DESC, n.name ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("購読一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var result []SubscriptionWithNewsletter
	for rows.Next() {
		var swn SubscriptionWithNewsletter
		var frequency string
		sub, err := scanSubscription(rows, &swn.NewsletterName, &swn.SenderEmail, &frequency)
		if err != nil {
			return nil, fmt.Errorf("購読行の読み取りに失敗しました: %w", err)
		}
		swn.Subscription = *sub
		swn.Frequency = model.Frequency(frequency)
		result = append(result, swn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("購読一覧の走査に失敗しました: %w", err)
	}
	return result, nil
}

// SetActive は購読の有効/解除を切り替える。
// 解除時はunsubscribed_atを記録し、再開時はsubscribed_atを更新してunsubscribed_atをクリアする。
func (r *PostgresSubscriptionRepo) SetActive(ctx context.Context, id string, active bool, at time.Time) error {
	var query string
	if active {
		query = `UPDATE user_newsletter_subscriptions
		         SET is_active = true, subscribed_at = $2, unsubscribed_at = NULL, updated_at = $2
		         WHERE id = $1`
	} else {
		query = `UPDATE user_newsletter_subscriptions
		         SET is_active = false, unsubscribed_at = $2, updated_at = $2
		         WHERE id = $1`
	}

	result, err := r.db.ExecContext(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("購読状態の更新に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新結果の取得に失敗しました: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("購読が見つかりません: %s", id)
	}
	return nil
}

// UpdateAIToggles はAI要約・AI分類の有効フラグを更新する。
func (r *PostgresSubscriptionRepo) UpdateAIToggles(ctx context.Context, id string, summaryEnabled, categorizationEnabled bool) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE user_newsletter_subscriptions
		 SET summary_enabled = $2, categorization_enabled = $3, updated_at = NOW()
		 WHERE id = $1`,
		id, summaryEnabled, categorizationEnabled,
	)
	if err != nil {
		return fmt.Errorf("AI設定の更新に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新結果の取得に失敗しました: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("購読が見つかりません: %s", id)
	}
	return nil
}

// compile-time interface check
var _ SubscriptionRepository = (*PostgresSubscriptionRepo)(nil)
