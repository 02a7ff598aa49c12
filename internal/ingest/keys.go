package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/hitoshi/mailfeed/internal/model"
)

// SourceKey は受信メールの識別キーを返す。
// Message-IDがあれば宛先とMessage-IDのハッシュを用い、なければ送信元・宛先・件名・受信日時・本文のハッシュを用いる。
// メーリングリスト等で同じMessage-IDのメールが複数の宛先に届くため、キーは必ず宛先ごとに分ける。
func SourceKey(e *model.InboundEmail) string {
	recipient := strings.ToLower(strings.TrimSpace(e.Recipient))
	if id := strings.TrimSpace(e.MessageID); id != "" {
		return "mid:" + hashFields(recipient, id)
	}
	var receivedAt string
	if e.ReceivedAt != nil {
		receivedAt = e.ReceivedAt.UTC().Format(time.RFC3339Nano)
	}
	return "sha256:" + hashFields(
		strings.ToLower(strings.TrimSpace(e.Sender)),
		recipient,
		e.Subject,
		receivedAt,
		e.RawContent,
	)
}

// DedupeKey は記事の重複判定キーを返す。
// 同じメールから同じ記事を何度取り込んでも同じキーになる。
// 記事の識別にはURL、タイトル、本文ハッシュの順に最初に得られるものを用いる。
func DedupeKey(newsletterID, userID, sourceKey string, a model.ExtractedArticle) string {
	var token string
	switch {
	case strings.TrimSpace(a.URL) != "":
		token = "url:" + strings.TrimSpace(a.URL)
	case strings.TrimSpace(a.Title) != "":
		token = "title:" + strings.TrimSpace(a.Title)
	default:
		token = "content:" + hashFields(a.Content)
	}
	return hashFields(newsletterID, userID, sourceKey, token)
}

func hashFields(fields ...string) string {
	h := sha256.Sum256([]byte(strings.Join(fields, "|")))
	return hex.EncodeToString(h[:])
}
