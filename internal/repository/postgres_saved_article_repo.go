package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/mailfeed/internal/database"
	"github.com/hitoshi/mailfeed/internal/model"
	"github.com/lib/pq"
)

// PostgresSavedArticleRepo はPostgreSQLを使用した保存記事リポジトリ。
// 保存状態はsaved_articlesとarticles.is_savedの両方に反映する。
type PostgresSavedArticleRepo struct {
	db *sql.DB
}

// NewPostgresSavedArticleRepo はPostgresSavedArticleRepoを生成する。
func NewPostgresSavedArticleRepo(db *sql.DB) *PostgresSavedArticleRepo {
	return &PostgresSavedArticleRepo{db: db}
}

const savedArticleColumns = `id, user_id, article_id, folder, notes, tags, saved_at, updated_at`

func scanSavedArticle(row interface{ Scan(...any) error }) (*model.SavedArticle, error) {
	saved := &model.SavedArticle{}
	if err := row.Scan(
		&saved.ID, &saved.UserID, &saved.ArticleID, &saved.Folder, &saved.Notes,
		pq.Array(&saved.Tags), &saved.SavedAt, &saved.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return saved, nil
}

// Save は記事を保存する。既に保存済みの場合は既存の保存記事とfalseを返す。
// saved_articlesへの挿入とarticles.is_savedの更新を同一トランザクションで行う。
func (r *PostgresSavedArticleRepo) Save(ctx context.Context, saved *model.SavedArticle) (*model.SavedArticle, bool, error) {
	var result *model.SavedArticle
	var created bool

	err := database.WithTx(ctx, r.db, nil, func(ctx context.Context, tx database.DBTX) error {
		var id string
		err := tx.QueryRowContext(ctx,
			`INSERT INTO saved_articles (id, user_id, article_id, folder, notes, tags, saved_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 ON CONFLICT (user_id, article_id) DO NOTHING
			 RETURNING id`,
			saved.ID, saved.UserID, saved.ArticleID, saved.Folder, saved.Notes,
			pq.Array(nonNilTags(saved.Tags)), saved.SavedAt, saved.UpdatedAt,
		).Scan(&id)
		switch {
		case err == nil:
			created = true
			result = saved
		case errors.Is(err, sql.ErrNoRows):
			existing, err := scanSavedArticle(tx.QueryRowContext(ctx,
				`SELECT `+savedArticleColumns+` FROM saved_articles WHERE user_id = $1 AND article_id = $2`,
				saved.UserID, saved.ArticleID,
			))
			if err != nil {
				return fmt.Errorf("既存の保存記事の取得に失敗しました: %w", err)
			}
			result = existing
		default:
			return fmt.Errorf("保存記事の作成に失敗しました: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE articles SET is_saved = true, updated_at = now() WHERE id = $1`,
			saved.ArticleID,
		); err != nil {
			return fmt.Errorf("記事の保存状態の更新に失敗しました: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return result, created, nil
}

// FindByID はユーザーの保存記事を取得する。見つからない場合はnilを返す。
func (r *PostgresSavedArticleRepo) FindByID(ctx context.Context, userID, id string) (*model.SavedArticle, error) {
	saved, err := scanSavedArticle(r.db.QueryRowContext(ctx,
		`SELECT `+savedArticleColumns+` FROM saved_articles WHERE id = $1 AND user_id = $2`,
		id, userID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("保存記事の取得に失敗しました: %w", err)
	}
	return saved, nil
}

// Update はフォルダ・メモ・タグを更新する。見つからない場合はfalseを返す。
func (r *PostgresSavedArticleRepo) Update(ctx context.Context, saved *model.SavedArticle) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE saved_articles SET folder = $3, notes = $4, tags = $5, updated_at = $6
		 WHERE id = $1 AND user_id = $2`,
		saved.ID, saved.UserID, saved.Folder, saved.Notes, pq.Array(nonNilTags(saved.Tags)), saved.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("保存記事の更新に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("更新結果の取得に失敗しました: %w", err)
	}
	return rowsAffected > 0, nil
}

// Delete は保存記事を削除し、articles.is_savedを戻す。見つからない場合はfalseを返す。
func (r *PostgresSavedArticleRepo) Delete(ctx context.Context, userID, id string) (bool, error) {
	var deleted bool
	err := database.WithTx(ctx, r.db, nil, func(ctx context.Context, tx database.DBTX) error {
		var articleID string
		err := tx.QueryRowContext(ctx,
			`DELETE FROM saved_articles WHERE id = $1 AND user_id = $2 RETURNING article_id`,
			id, userID,
		).Scan(&articleID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("保存記事の削除に失敗しました: %w", err)
		}
		deleted = true

		if _, err := tx.ExecContext(ctx,
			`UPDATE articles SET is_saved = false, updated_at = now() WHERE id = $1`,
			articleID,
		); err != nil {
			return fmt.Errorf("記事の保存状態の更新に失敗しました: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return deleted, nil
}

// ListByUserID は保存記事を保存日時の降順で返す。folderが空の場合は全件を返す。
func (r *PostgresSavedArticleRepo) ListByUserID(ctx context.Context, userID, folder string, limit, offset int) ([]model.SavedArticleWithArticle, error) {
	query := `
		SELECT sa.id, sa.user_id, sa.article_id, sa.folder, sa.notes, sa.tags, sa.saved_at, sa.updated_at,
		       a.title, a.url, n.name
		FROM saved_articles sa
		INNER JOIN articles a ON a.id = sa.article_id
		INNER JOIN newsletters n ON n.id = a.newsletter_id
		WHERE sa.user_id = $1`
	args := []interface{}{userID}

	if folder != "" {
		query += " AND sa.folder = $2"
		args = append(args, folder)
	}
	query += fmt.Sprintf(" ORDER BY sa.saved_at DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("保存記事一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var result []model.SavedArticleWithArticle
	for rows.Next() {
		var s model.SavedArticleWithArticle
		if err := rows.Scan(
			&s.ID, &s.UserID, &s.ArticleID, &s.Folder, &s.Notes, pq.Array(&s.Tags), &s.SavedAt, &s.UpdatedAt,
			&s.Title, &s.URL, &s.NewsletterName,
		); err != nil {
			return nil, fmt.Errorf("保存記事行の読み取りに失敗しました: %w", err)
		}
		result = append(result, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("保存記事一覧の走査に失敗しました: %w", err)
	}
	return result, nil
}

func nonNilTags(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

// compile-time interface check
var _ SavedArticleRepository = (*PostgresSavedArticleRepo)(nil)
