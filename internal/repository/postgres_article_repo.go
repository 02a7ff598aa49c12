package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/mailfeed/internal/model"
	"github.com/lib/pq"
)

// PostgresArticleRepo はPostgreSQLを使用した記事リポジトリ。
type PostgresArticleRepo struct {
	db *sql.DB
}

// NewPostgresArticleRepo はPostgresArticleRepoを生成する。
func NewPostgresArticleRepo(db *sql.DB) *PostgresArticleRepo {
	return &PostgresArticleRepo{db: db}
}

const feedArticleColumns = `a.id, a.newsletter_id, a.user_id, a.source_key, a.dedupe_key, a.title,
	a.content, a.url, a.ai_summary, a.ai_category, a.interest_score, a.processed_at,
	a.is_read, a.is_saved, a.created_at, a.updated_at, n.name`

func scanFeedArticle(row interface{ Scan(...any) error }) (model.FeedArticle, error) {
	var fa model.FeedArticle
	var userID sql.NullString
	err := row.Scan(
		&fa.ID, &fa.NewsletterID, &userID, &fa.SourceKey, &fa.DedupeKey, &fa.Title,
		&fa.Content, &fa.URL, &fa.AISummary, &fa.AICategory, &fa.InterestScore, &fa.ProcessedAt,
		&fa.IsRead, &fa.IsSaved, &fa.CreatedAt, &fa.UpdatedAt, &fa.NewsletterName,
	)
	fa.UserID = nullStringValue(userID)
	return fa, err
}

// InsertIfAbsent はdedupe_keyが未登録の場合のみ記事を作成する。
// ON CONFLICT DO NOTHINGにより、同一メールの並行取り込みでも記事は1件しか作られない。
func (r *PostgresArticleRepo) InsertIfAbsent(ctx context.Context, a *model.Article) (bool, error) {
	var id string
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO articles (id, newsletter_id, user_id, source_key, dedupe_key, title, content, url,
		                       ai_summary, ai_category, interest_score, processed_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		 ON CONFLICT (dedupe_key) DO NOTHING
		 RETURNING id`,
		a.ID, a.NewsletterID, nullString(a.UserID), a.SourceKey, a.DedupeKey, a.Title, a.Content, a.URL,
		a.AISummary, a.AICategory, a.InterestScore, a.ProcessedAt, a.CreatedAt, a.UpdatedAt,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("記事の作成に失敗しました: %w", err)
	}
	return true, nil
}

// FindForUser はユーザーが所有する記事をニュースレター名付きで取得する。見つからない場合はnilを返す。
func (r *PostgresArticleRepo) FindForUser(ctx context.Context, userID, articleID string) (*model.FeedArticle, error) {
	fa, err := scanFeedArticle(r.db.QueryRowContext(ctx,
		`SELECT `+feedArticleColumns+`
		 FROM articles a
		 INNER JOIN newsletters n ON n.id = a.newsletter_id
		 WHERE a.id = $1 AND a.user_id = $2`,
		articleID, userID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("記事の取得に失敗しました: %w", err)
	}
	return &fa, nil
}

// ListFeed は有効な購読に属する記事をprocessed_at降順で取得する。
// 購読解除中のニュースレターの記事は含めない。
// filter: "all"=全件, "unread"=未読のみ, "saved"=保存済みのみ
func (r *PostgresArticleRepo) ListFeed(
	ctx context.Context,
	userID string,
	filter model.ArticleFilter,
	cursor model.FeedCursor,
	limit int,
) ([]model.FeedArticle, error) {
	baseQuery := `
		SELECT ` + feedArticleColumns + `
		FROM articles a
		INNER JOIN newsletters n ON n.id = a.newsletter_id
		INNER JOIN user_newsletter_subscriptions s
		        ON s.newsletter_id = a.newsletter_id AND s.user_id = $1 AND s.is_active = true
		WHERE a.user_id = $1`

	args := []interface{}{userID}
	argIndex := 2

	// カーソルベースページネーション。同じメールの記事はprocessed_atが等しいためidで順序を確定させる。
	if !cursor.IsZero() {
		baseQuery += fmt.Sprintf(" AND (a.processed_at, a.id) < ($%d, $%d)", argIndex, argIndex+1)
		args = append(args, cursor.ProcessedAt, cursor.ID)
		argIndex += 2
	}

	switch filter {
	case model.ArticleFilterUnread:
		baseQuery += " AND a.is_read = false"
	case model.ArticleFilterSaved:
		baseQuery += " AND a.is_saved = true"
	case model.ArticleFilterAll:
	}

	baseQuery += fmt.Sprintf(" ORDER BY a.processed_at DESC, a.id DESC LIMIT $%d", argIndex)
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, baseQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("記事一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var articles []model.FeedArticle
	for rows.Next() {
		fa, err := scanFeedArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("記事行の読み取りに失敗しました: %w", err)
		}
		articles = append(articles, fa)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("記事一覧の走査に失敗しました: %w", err)
	}
	return articles, nil
}

// MarkRead は記事の既読状態を更新する。記事が存在しない場合はfalseを返す。
func (r *PostgresArticleRepo) MarkRead(ctx context.Context, userID, articleID string, read bool) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE articles SET is_read = $3, updated_at = now() WHERE id = $1 AND user_id = $2`,
		articleID, userID, read,
	)
	if err != nil {
		return false, fmt.Errorf("既読状態の更新に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("更新結果の取得に失敗しました: %w", err)
	}
	return rowsAffected > 0, nil
}

// DeleteByIDs は指定IDの記事を一括削除し、削除件数を返す。
// 保存記事はCASCADE削除される。
func (r *PostgresArticleRepo) DeleteByIDs(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM articles WHERE id = ANY($1::uuid[])`,
		pq.Array(ids),
	)
	if err != nil {
		return 0, fmt.Errorf("記事の一括削除に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("削除結果の取得に失敗しました: %w", err)
	}
	return rowsAffected, nil
}

// compile-time interface check
var _ ArticleRepository = (*PostgresArticleRepo)(nil)
