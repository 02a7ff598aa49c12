package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/mailfeed/internal/database"
	"github.com/hitoshi/mailfeed/internal/model"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

const userColumns = `id, email, system_email, plan, is_verified, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*model.User, error) {
	user := &model.User{}
	var systemEmail sql.NullString
	var plan string
	if err := row.Scan(&user.ID, &user.Email, &systemEmail, &plan, &user.IsVerified, &user.CreatedAt, &user.UpdatedAt); err != nil {
		return nil, err
	}
	user.SystemEmail = nullStringValue(systemEmail)
	user.Plan = model.PlanTier(plan)
	return user, nil
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`,
		id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`,
		email,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	return user, nil
}

// Create はユーザーを作成する。メールアドレスが重複する場合はErrDuplicateを返す。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, email, system_email, plan, is_verified, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		user.ID, user.Email, nullString(user.SystemEmail), string(user.Plan), user.IsVerified,
		user.CreatedAt, user.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// SetSystemEmailIfEmpty はシステムメールアドレスが未設定の場合のみ設定する。
// 設定済みの値は上書きしない。
func (r *PostgresUserRepo) SetSystemEmailIfEmpty(ctx context.Context, id, systemEmail string) (string, error) {
	var current string
	err := r.db.QueryRowContext(ctx,
		`UPDATE users
		 SET system_email = COALESCE(system_email, $2),
		     updated_at = CASE WHEN system_email IS NULL THEN now() ELSE updated_at END
		 WHERE id = $1
		 RETURNING system_email`,
		id, systemEmail,
	).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if isUniqueViolation(err) {
		return "", ErrDuplicate
	}
	if err != nil {
		return "", fmt.Errorf("failed to set system email: %w", err)
	}
	return current, nil
}

// Withdraw は保存記事・購読・ユーザーを同一トランザクションで削除する。
func (r *PostgresUserRepo) Withdraw(ctx context.Context, id string) (bool, error) {
	var deleted bool
	err := database.WithTx(ctx, r.db, nil, func(ctx context.Context, tx database.DBTX) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM saved_articles WHERE user_id = $1`, id); err != nil {
			return fmt.Errorf("failed to delete saved articles: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM user_newsletter_subscriptions WHERE user_id = $1`, id); err != nil {
			return fmt.Errorf("failed to delete subscriptions: %w", err)
		}
		result, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("failed to delete user: %w", err)
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		deleted = rowsAffected > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	return deleted, nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
