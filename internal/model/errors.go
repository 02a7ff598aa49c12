// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// 取り込み・永続化の分類エラー。errors.Isで判定する。
var (
	// ErrUnknownRecipient は宛先アドレスからユーザーを特定できないことを表す。
	ErrUnknownRecipient = errors.New("unknown recipient")
	// ErrExtractionFailed はメール本文から記事を抽出できないことを表す。
	ErrExtractionFailed = errors.New("extraction failed")
	// ErrPersistenceUnavailable は永続化層の失敗を表す。
	ErrPersistenceUnavailable = errors.New("persistence unavailable")
	// ErrQuotaExceeded はプランの利用上限に達したことを表す。
	ErrQuotaExceeded = errors.New("quota exceeded")
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, inbound, usage, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Is はアップグレード要求エラーをErrQuotaExceededとして判定できるようにする。
func (e *APIError) Is(target error) bool {
	return target == ErrQuotaExceeded && e.Code == ErrCodeUpgradeRequired
}

// 定義済みエラーコード
const (
	ErrCodeUnknownRecipient      = "UNKNOWN_RECIPIENT"
	ErrCodeExtractionFailed      = "EXTRACTION_FAILED"
	ErrCodeUpgradeRequired       = "UPGRADE_REQUIRED"
	ErrCodeArticleNotFound       = "ARTICLE_NOT_FOUND"
	ErrCodeSavedArticleNotFound  = "SAVED_ARTICLE_NOT_FOUND"
	ErrCodeSubscriptionNotFound  = "SUBSCRIPTION_NOT_FOUND"
	ErrCodeNewsletterNotFound    = "NEWSLETTER_NOT_FOUND"
	ErrCodeInboundEmailNotFound  = "INBOUND_EMAIL_NOT_FOUND"
	ErrCodeAlreadyProcessed      = "ALREADY_PROCESSED"
	ErrCodeInvalidFilter         = "INVALID_FILTER"
	ErrCodeInvalidLimitType      = "INVALID_LIMIT_TYPE"
	ErrCodeInvalidRequest        = "INVALID_REQUEST"
	ErrCodeUserNotFound          = "USER_NOT_FOUND"
	ErrCodeUnauthorized          = "UNAUTHORIZED"
	ErrCodeForbidden             = "FORBIDDEN"
	ErrCodeSubscriptionNotActive = "SUBSCRIPTION_NOT_ACTIVE"
)

// NewUnknownRecipientError は宛先不明エラーを生成する。
func NewUnknownRecipientError(recipient string) *APIError {
	return &APIError{
		Code:     ErrCodeUnknownRecipient,
		Message:  fmt.Sprintf("宛先アドレスに対応するユーザーが見つかりません: %s", recipient),
		Category: "inbound",
		Action:   "メールは保留状態で保存されました。管理画面から確認してください。",
	}
}

// NewExtractionFailedError は記事抽出失敗エラーを生成する。
func NewExtractionFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeExtractionFailed,
		Message:  "メール本文から記事を抽出できませんでした。",
		Category: "inbound",
		Action:   "メールは再処理のために保存されました。管理画面から再処理してください。",
	}
}

// NewUpgradeRequiredError はプラン上限到達エラーを生成する。
func NewUpgradeRequiredError(limitType LimitType) *APIError {
	return &APIError{
		Code:     ErrCodeUpgradeRequired,
		Message:  fmt.Sprintf("現在のプランでは利用上限に達しています: %s", limitType),
		Category: "usage",
		Action:   "プランをアップグレードするか、次の集計期間までお待ちください。",
	}
}

// NewArticleNotFoundError は記事未検出エラーを生成する。
func NewArticleNotFoundError(articleID string) *APIError {
	return &APIError{
		Code:     ErrCodeArticleNotFound,
		Message:  fmt.Sprintf("指定された記事が見つかりません: %s", articleID),
		Category: "validation",
		Action:   "記事IDを確認してください。",
	}
}

// NewSavedArticleNotFoundError は保存記事未検出エラーを生成する。
func NewSavedArticleNotFoundError(savedID string) *APIError {
	return &APIError{
		Code:     ErrCodeSavedArticleNotFound,
		Message:  fmt.Sprintf("指定された保存記事が見つかりません: %s", savedID),
		Category: "validation",
		Action:   "保存記事IDを確認してください。",
	}
}

// NewSubscriptionNotFoundError は購読が見つからない場合のエラーを生成する。
func NewSubscriptionNotFoundError(subscriptionID string) *APIError {
	return &APIError{
		Code:     ErrCodeSubscriptionNotFound,
		Message:  fmt.Sprintf("指定された購読が見つかりません: %s", subscriptionID),
		Category: "validation",
		Action:   "購読IDを確認してください。",
	}
}

// NewSubscriptionNotActiveError は購読解除中の購読に対する操作エラーを生成する。
func NewSubscriptionNotActiveError() *APIError {
	return &APIError{
		Code:     ErrCodeSubscriptionNotActive,
		Message:  "購読は解除されています。",
		Category: "validation",
		Action:   "再購読してから設定を変更してください。",
	}
}

// NewNewsletterNotFoundError はニュースレター未検出エラーを生成する。
func NewNewsletterNotFoundError(newsletterID string) *APIError {
	return &APIError{
		Code:     ErrCodeNewsletterNotFound,
		Message:  fmt.Sprintf("指定されたニュースレターが見つかりません: %s", newsletterID),
		Category: "validation",
		Action:   "ニュースレターIDを確認してください。",
	}
}

// NewInboundEmailNotFoundError は受信メール未検出エラーを生成する。
func NewInboundEmailNotFoundError(emailID string) *APIError {
	return &APIError{
		Code:     ErrCodeInboundEmailNotFound,
		Message:  fmt.Sprintf("指定された受信メールが見つかりません: %s", emailID),
		Category: "inbound",
		Action:   "受信メールIDを確認してください。",
	}
}

// NewAlreadyProcessedError は処理済みメールの再処理要求エラーを生成する。
func NewAlreadyProcessedError(emailID string) *APIError {
	return &APIError{
		Code:     ErrCodeAlreadyProcessed,
		Message:  fmt.Sprintf("受信メールは既に処理済みです: %s", emailID),
		Category: "inbound",
		Action:   "未処理または失敗状態のメールのみ再処理できます。",
	}
}

// NewInvalidFilterError は無効なフィルタエラーを生成する。
func NewInvalidFilterError(filter string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidFilter,
		Message:  fmt.Sprintf("無効なフィルタです: %s", filter),
		Category: "validation",
		Action:   "フィルタには all、unread、saved のいずれかを指定してください。",
	}
}

// NewInvalidLimitTypeError は無効な制限種別エラーを生成する。
func NewInvalidLimitTypeError(limitType string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidLimitType,
		Message:  fmt.Sprintf("無効な制限種別です: %s", limitType),
		Category: "validation",
		Action:   "saved_articles、ai_summaries、ai_categorization、newsletter_subscriptions のいずれかを指定してください。",
	}
}

// NewInvalidRequestError はリクエスト不正エラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "リクエスト内容を確認してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewUnauthorizedError は未認証リクエストのエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証されていません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewForbiddenError は権限不足エラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "この操作を実行する権限がありません。",
		Category: "auth",
		Action:   "管理者に問い合わせてください。",
	}
}
