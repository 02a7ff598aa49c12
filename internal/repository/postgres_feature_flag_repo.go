package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PostgresFeatureFlagRepo はfeature_flagsテーブルを使用した機能フラグリポジトリ。
type PostgresFeatureFlagRepo struct {
	db *sql.DB
}

// NewPostgresFeatureFlagRepo はPostgresFeatureFlagRepoを生成する。
func NewPostgresFeatureFlagRepo(db *sql.DB) *PostgresFeatureFlagRepo {
	return &PostgresFeatureFlagRepo{db: db}
}

// Get はフラグの値を返す。行が存在しない場合はfound=falseを返す。
func (r *PostgresFeatureFlagRepo) Get(ctx context.Context, name string) (bool, bool, error) {
	var enabled bool
	err := r.db.QueryRowContext(ctx,
		`SELECT enabled FROM feature_flags WHERE name = $1`,
		name,
	).Scan(&enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("機能フラグの取得に失敗しました: %w", err)
	}
	return enabled, true, nil
}

// Set はフラグの値をUPSERTする。
func (r *PostgresFeatureFlagRepo) Set(ctx context.Context, name string, enabled bool) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO feature_flags (name, enabled, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (name) DO UPDATE SET enabled = EXCLUDED.enabled, updated_at = now()`,
		name, enabled,
	)
	if err != nil {
		return fmt.Errorf("機能フラグの更新に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ FeatureFlagRepository = (*PostgresFeatureFlagRepo)(nil)
