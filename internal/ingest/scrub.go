package ingest

import (
	"strings"

	"github.com/hitoshi/mailfeed/internal/model"
)

// scrubText はPostgreSQLのTEXT/JSONBに保存できないNULバイトと不正なUTF-8を取り除く。
func scrubText(s string) string {
	if strings.IndexByte(s, 0) >= 0 {
		s = strings.ReplaceAll(s, "\x00", "")
	}
	return strings.ToValidUTF8(s, "\uFFFD")
}

// scrubEmail は受信メールと記事候補の文字列フィールドを保存可能な形に整える。
// 不正なバイトを含むメールでも記録できるようにし、抽出できなければextraction_failedとして保持する。
func scrubEmail(e *model.InboundEmail) {
	e.MessageID = scrubText(e.MessageID)
	e.Recipient = scrubText(e.Recipient)
	e.Sender = scrubText(e.Sender)
	e.SenderName = scrubText(e.SenderName)
	e.NewsletterName = scrubText(e.NewsletterName)
	e.Subject = scrubText(e.Subject)
	e.Frequency = model.Frequency(scrubText(string(e.Frequency)))
	e.RawContent = scrubText(e.RawContent)
}

func scrubArticles(articles []model.ExtractedArticle) []model.ExtractedArticle {
	if articles == nil {
		return nil
	}
	scrubbed := make([]model.ExtractedArticle, len(articles))
	for i, a := range articles {
		a.Title = scrubText(a.Title)
		a.Content = scrubText(a.Content)
		a.URL = scrubText(a.URL)
		a.Summary = scrubText(a.Summary)
		a.Category = scrubText(a.Category)
		scrubbed[i] = a
	}
	return scrubbed
}
