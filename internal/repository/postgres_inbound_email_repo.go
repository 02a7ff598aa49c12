package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/mailfeed/internal/model"
	"github.com/lib/pq"
)

// PostgresInboundEmailRepo はPostgreSQLを使用した受信メールリポジトリ。
type PostgresInboundEmailRepo struct {
	db *sql.DB
}

// NewPostgresInboundEmailRepo はPostgresInboundEmailRepoを生成する。
func NewPostgresInboundEmailRepo(db *sql.DB) *PostgresInboundEmailRepo {
	return &PostgresInboundEmailRepo{db: db}
}

const inboundEmailColumns = `id, source_key, message_id, recipient, sender, sender_name, newsletter_name,
	subject, frequency, received_at, raw_content, articles, status, error_message,
	user_id, newsletter_id, created_at, processed_at`

func scanInboundEmail(row interface{ Scan(...any) error }) (*model.InboundEmail, error) {
	e := &model.InboundEmail{}
	var frequency, status string
	var receivedAt, processedAt sql.NullTime
	var userID, newsletterID sql.NullString
	var articlesJSON []byte

	if err := row.Scan(
		&e.ID, &e.SourceKey, &e.MessageID, &e.Recipient, &e.Sender, &e.SenderName, &e.NewsletterName,
		&e.Subject, &frequency, &receivedAt, &e.RawContent, &articlesJSON, &status, &e.ErrorMessage,
		&userID, &newsletterID, &e.CreatedAt, &processedAt,
	); err != nil {
		return nil, err
	}

	e.Frequency = model.Frequency(frequency)
	e.Status = model.InboundStatus(status)
	e.UserID = nullStringValue(userID)
	e.NewsletterID = nullStringValue(newsletterID)
	if receivedAt.Valid {
		e.ReceivedAt = &receivedAt.Time
	}
	if processedAt.Valid {
		e.ProcessedAt = &processedAt.Time
	}
	if len(articlesJSON) > 0 {
		if err := json.Unmarshal(articlesJSON, &e.Articles); err != nil {
			return nil, fmt.Errorf("記事JSONの解析に失敗しました: %w", err)
		}
	}
	return e, nil
}

// Record は受信メールをsource_keyで冪等に記録する。
// 同じメールの再配送では既存行を返し、新規作成しない。
func (r *PostgresInboundEmailRepo) Record(ctx context.Context, e *model.InboundEmail) (*model.InboundEmail, bool, error) {
	articles := e.Articles
	if articles == nil {
		articles = []model.ExtractedArticle{}
	}
	articlesJSON, err := json.Marshal(articles)
	if err != nil {
		return nil, false, fmt.Errorf("記事JSONの生成に失敗しました: %w", err)
	}

	var id string
	var createdAt time.Time
	err = r.db.QueryRowContext(ctx,
		`INSERT INTO inbound_emails (id, source_key, message_id, recipient, sender, sender_name,
		                             newsletter_name, subject, frequency, received_at, raw_content,
		                             articles, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		 ON CONFLICT (source_key) DO NOTHING
		 RETURNING id, created_at`,
		e.ID, e.SourceKey, e.MessageID, e.Recipient, e.Sender, e.SenderName,
		e.NewsletterName, e.Subject, string(e.Frequency), e.ReceivedAt, e.RawContent,
		articlesJSON, string(model.InboundStatusPending), e.CreatedAt,
	).Scan(&id, &createdAt)
	if err == nil {
		recorded := *e
		recorded.ID = id
		recorded.CreatedAt = createdAt
		recorded.Status = model.InboundStatusPending
		return &recorded, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("受信メールの記録に失敗しました: %w", err)
	}

	existing, err := scanInboundEmail(r.db.QueryRowContext(ctx,
		`SELECT `+inboundEmailColumns+` FROM inbound_emails WHERE source_key = $1`,
		e.SourceKey,
	))
	if err != nil {
		return nil, false, fmt.Errorf("既存の受信メールの取得に失敗しました: %w", err)
	}
	return existing, false, nil
}

// FindByID は指定IDの受信メールを取得する。見つからない場合はnilを返す。
func (r *PostgresInboundEmailRepo) FindByID(ctx context.Context, id string) (*model.InboundEmail, error) {
	e, err := scanInboundEmail(r.db.QueryRowContext(ctx,
		`SELECT `+inboundEmailColumns+` FROM inbound_emails WHERE id = $1`,
		id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("受信メールの取得に失敗しました: %w", err)
	}
	return e, nil
}

// UpdateStatus は処理状態と紐付くユーザー・ニュースレターを更新する。
// pending以外に遷移した時点をprocessed_atとして記録する。
func (r *PostgresInboundEmailRepo) UpdateStatus(
	ctx context.Context,
	id string,
	status model.InboundStatus,
	errorMessage, userID, newsletterID string,
) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE inbound_emails
		 SET status = $2, error_message = $3,
		     user_id = COALESCE($4, user_id), newsletter_id = COALESCE($5, newsletter_id),
		     processed_at = CASE WHEN $2 = 'pending' THEN NULL ELSE now() END
		 WHERE id = $1`,
		id, string(status), errorMessage, nullString(userID), nullString(newsletterID),
	)
	if err != nil {
		return fmt.Errorf("受信メールの状態更新に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新結果の取得に失敗しました: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("受信メールが見つかりません: %s", id)
	}
	return nil
}

// ListByStatus は指定状態の受信メールを受信順に返す。
func (r *PostgresInboundEmailRepo) ListByStatus(ctx context.Context, statuses []model.InboundStatus, limit int) ([]*model.InboundEmail, error) {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+inboundEmailColumns+` FROM inbound_emails
		 WHERE status = ANY($1)
		 ORDER BY created_at ASC
		 LIMIT $2`,
		pq.Array(names), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("受信メール一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var emails []*model.InboundEmail
	for rows.Next() {
		e, err := scanInboundEmail(rows)
		if err != nil {
			return nil, fmt.Errorf("受信メール行の読み取りに失敗しました: %w", err)
		}
		emails = append(emails, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("受信メール一覧の走査に失敗しました: %w", err)
	}
	return emails, nil
}

// DeleteProcessedBefore は指定時刻より前に処理済みになった受信メールを削除する。
// 失敗・未処理のメールは再処理のために保持する。
func (r *PostgresInboundEmailRepo) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM inbound_emails WHERE status = 'processed' AND processed_at < $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("処理済み受信メールの削除に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("削除結果の取得に失敗しました: %w", err)
	}
	return rowsAffected, nil
}

// compile-time interface check
var _ InboundEmailRepository = (*PostgresInboundEmailRepo)(nil)
