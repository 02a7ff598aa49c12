// Package model はドメインモデルを定義する。
package model

import "time"

// InboundStatus は受信メールの処理状態を表す。
type InboundStatus string

const (
	// InboundStatusPending は未処理（または処理中に中断された）状態。
	InboundStatusPending InboundStatus = "pending"
	// InboundStatusProcessed は記事化が完了した状態。
	InboundStatusProcessed InboundStatus = "processed"
	// InboundStatusUnknownRecipient は宛先からユーザーを特定できなかった状態。
	InboundStatusUnknownRecipient InboundStatus = "unknown_recipient"
	// InboundStatusExtractionFailed は本文から記事を抽出できなかった状態。
	InboundStatusExtractionFailed InboundStatus = "extraction_failed"
	// InboundStatusFailed は永続化エラー等で全記事の保存に失敗した状態。
	InboundStatusFailed InboundStatus = "failed"
)

// InboundEmail は外部のメール受信基盤から渡された1通のメールを表す。
// 処理に失敗しても破棄せず、管理者による確認・再処理のために保持する。
type InboundEmail struct {
	ID             string
	SourceKey      string
	MessageID      string
	Recipient      string
	Sender         string
	SenderName     string
	NewsletterName string
	Subject        string
	Frequency      Frequency
	ReceivedAt     *time.Time
	RawContent     string
	Articles       []ExtractedArticle
	Status         InboundStatus
	ErrorMessage   string
	UserID         string
	NewsletterID   string
	CreatedAt      time.Time
	ProcessedAt    *time.Time
}
