package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/mailfeed/internal/model"
)

// PostgresNewsletterRepo はPostgreSQLを使用したニュースレターリポジトリ。
type PostgresNewsletterRepo struct {
	db *sql.DB
}

// NewPostgresNewsletterRepo はPostgresNewsletterRepoを生成する。
func NewPostgresNewsletterRepo(db *sql.DB) *PostgresNewsletterRepo {
	return &PostgresNewsletterRepo{db: db}
}

const newsletterColumns = `id, name, sender_email, sender_domain, frequency, is_active, is_predefined, created_at, updated_at`

func scanNewsletter(row interface{ Scan(...any) error }) (*model.Newsletter, error) {
	nl := &model.Newsletter{}
	var senderEmail, senderDomain sql.NullString
	var frequency string
	if err := row.Scan(
		&nl.ID, &nl.Name, &senderEmail, &senderDomain, &frequency,
		&nl.IsActive, &nl.IsPredefined, &nl.CreatedAt, &nl.UpdatedAt,
	); err != nil {
		return nil, err
	}
	nl.SenderEmail = nullStringValue(senderEmail)
	nl.SenderDomain = nullStringValue(senderDomain)
	nl.Frequency = model.Frequency(frequency)
	return nl, nil
}

func (r *PostgresNewsletterRepo) findOne(ctx context.Context, where string, arg any) (*model.Newsletter, error) {
	nl, err := scanNewsletter(r.db.QueryRowContext(ctx,
		`SELECT `+newsletterColumns+` FROM newsletters WHERE `+where+` ORDER BY created_at ASC LIMIT 1`,
		arg,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return nl, err
}

// FindByID は指定IDのニュースレターを取得する。見つからない場合はnilを返す。
func (r *PostgresNewsletterRepo) FindByID(ctx context.Context, id string) (*model.Newsletter, error) {
	nl, err := r.findOne(ctx, `id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("ニュースレターの取得に失敗しました: %w", err)
	}
	return nl, nil
}

// FindBySenderEmail は送信元アドレスでニュースレターを検索する。見つからない場合はnilを返す。
func (r *PostgresNewsletterRepo) FindBySenderEmail(ctx context.Context, senderEmail string) (*model.Newsletter, error) {
	nl, err := r.findOne(ctx, `lower(sender_email) = lower($1)`, senderEmail)
	if err != nil {
		return nil, fmt.Errorf("送信元アドレスによるニュースレターの検索に失敗しました: %w", err)
	}
	return nl, nil
}

// FindByName は名前でニュースレターを検索する。見つからない場合はnilを返す。
func (r *PostgresNewsletterRepo) FindByName(ctx context.Context, name string) (*model.Newsletter, error) {
	nl, err := r.findOne(ctx, `lower(name) = lower($1)`, name)
	if err != nil {
		return nil, fmt.Errorf("名前によるニュースレターの検索に失敗しました: %w", err)
	}
	return nl, nil
}

// Create はニュースレターを作成する。一意制約違反の場合はErrDuplicateを返す。
func (r *PostgresNewsletterRepo) Create(ctx context.Context, nl *model.Newsletter) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO newsletters (id, name, sender_email, sender_domain, frequency, is_active, is_predefined, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		nl.ID, nl.Name, nullString(nl.SenderEmail), nullString(nl.SenderDomain), string(nl.Frequency),
		nl.IsActive, nl.IsPredefined, nl.CreatedAt, nl.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("ニュースレターの作成に失敗しました: %w", err)
	}
	return nil
}

// ListPredefined はシステム側で用意した有効なニュースレターを名前順に返す。
func (r *PostgresNewsletterRepo) ListPredefined(ctx context.Context) ([]*model.Newsletter, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+newsletterColumns+` FROM newsletters
		 WHERE is_predefined = true AND is_active = true
		 ORDER BY name ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("ニュースレター一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var newsletters []*model.Newsletter
	for rows.Next() {
		nl, err := scanNewsletter(rows)
		if err != nil {
			return nil, fmt.Errorf("ニュースレター行の読み取りに失敗しました: %w", err)
		}
		newsletters = append(newsletters, nl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ニュースレター一覧の走査に失敗しました: %w", err)
	}
	return newsletters, nil
}

// TopByArticleCount は記事数の多い順にニュースレターの集計値を返す。
func (r *PostgresNewsletterRepo) TopByArticleCount(ctx context.Context, limit int) ([]model.NewsletterStat, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT n.id, n.name, n.sender_email, n.sender_domain, n.frequency, n.is_active,
		        n.is_predefined, n.created_at, n.updated_at,
		        (SELECT COUNT(*) FROM articles a WHERE a.newsletter_id = n.id) AS article_count,
		        (SELECT COUNT(*) FROM user_newsletter_subscriptions s
		          WHERE s.newsletter_id = n.id AND s.is_active = true) AS subscriber_count
		 FROM newsletters n
		 ORDER BY article_count DESC, n.name ASC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("ニュースレター集計の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var stats []model.NewsletterStat
	for rows.Next() {
		var stat model.NewsletterStat
		var senderEmail, senderDomain sql.NullString
		var frequency string
		if err := rows.Scan(
			&stat.ID, &stat.Name, &senderEmail, &senderDomain, &frequency,
			&stat.IsActive, &stat.IsPredefined, &stat.CreatedAt, &stat.UpdatedAt,
			&stat.ArticleCount, &stat.SubscriberCount,
		); err != nil {
			return nil, fmt.Errorf("ニュースレター集計行の読み取りに失敗しました: %w", err)
		}
		stat.SenderEmail = nullStringValue(senderEmail)
		stat.SenderDomain = nullStringValue(senderDomain)
		stat.Frequency = model.Frequency(frequency)
		stats = append(stats, stat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ニュースレター集計の走査に失敗しました: %w", err)
	}
	return stats, nil
}

// compile-time interface check
var _ NewsletterRepository = (*PostgresNewsletterRepo)(nil)
