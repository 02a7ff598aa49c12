// Package model はドメインモデルを定義する。
package model

import "time"

// PlanTier はユーザーの契約プランを表す。
type PlanTier string

const (
	// PlanFree は無料プラン。
	PlanFree PlanTier = "free"
	// PlanPro は有料の標準プラン。
	PlanPro PlanTier = "pro"
	// PlanPremium は上位プラン。
	PlanPremium PlanTier = "premium"
)

// User はサービス利用ユーザーを表す。
// SystemEmailはユーザーIDから一度だけ導出され、以後変更されない。
type User struct {
	ID          string
	Email       string
	SystemEmail string
	Plan        PlanTier
	IsVerified  bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
