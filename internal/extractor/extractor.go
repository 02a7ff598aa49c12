// Package extractor はニュースレター本文（HTMLまたはテキスト）から
// タイトル・本文・要約・リンクを取り出す純粋関数を提供する。
// 外部の抽出処理が記事候補を渡さなかった場合の取り込み時フォールバックとして使用する。
package extractor

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"codeberg.org/readeck/go-readability/v2"
	"github.com/PuerkitoBio/goquery"
	"github.com/hitoshi/mailfeed/internal/model"
	"golang.org/x/net/html"
)

const (
	// SummaryMaxRunes は要約の最大文字数。
	SummaryMaxRunes = 200
	// minReadableRunes を下回るreadabilityの結果は本文抽出に失敗したとみなす。
	minReadableRunes = 200
	ellipsis         = "…"
)

// Content はHTMLから抽出した内容。
type Content struct {
	Title   string
	Content string
	Summary string
	Links   []string
}

var hrefPattern = regexp.MustCompile(`(?i)href\s*=\s*(?:"(https?://[^"]+)"|'(https?://[^']+)')`)

// 本文以外の要素。抽出前に除去する。
const noiseSelector = "head, script, style, noscript, template, iframe, object, embed, svg, form, nav, footer"

// テキスト連結時に区切りを入れるブロック要素。
const blockSelector = "p, div, br, li, tr, td, th, h1, h2, h3, h4, h5, h6, blockquote, pre, section, article, table"

// ExtractContent はHTMLからタイトル・本文・要約・リンクを抽出する。
// タイトルは<title>、なければ最初の<h1>を使用する。
// タグを含まない入力はプレーンテキストとして本文のみを返す。
func ExtractContent(raw string) Content {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Content{}
	}

	if !strings.Contains(trimmed, "<") {
		text := normalizeWhitespace(trimmed)
		return Content{Content: text, Summary: Summarize(text)}
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(trimmed))
	if err != nil {
		return Content{Links: ExtractLinks(trimmed)}
	}

	title := normalizeWhitespace(doc.Find("title").First().Text())
	if title == "" {
		title = normalizeWhitespace(doc.Find("h1").First().Text())
	}

	doc.Find(noiseSelector).Remove()
	text := readableText(doc)

	return Content{
		Title:   title,
		Content: text,
		Summary: Summarize(text),
		Links:   ExtractLinks(trimmed),
	}
}

// readableText はreadabilityで本文を抽出し、十分な長さが得られなければbody全体のテキストを返す。
func readableText(doc *goquery.Document) string {
	if cleaned, err := doc.Html(); err == nil && cleaned != "" {
		if article, err := readability.FromReader(strings.NewReader(cleaned), nil); err == nil {
			var buf strings.Builder
			if err := article.RenderText(&buf); err == nil {
				text := normalizeWhitespace(buf.String())
				if utf8.RuneCountInString(text) >= minReadableRunes {
					return text
				}
			}
		}
	}

	doc.Find(blockSelector).Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml(" ")
	})
	body := doc.Find("body")
	if body.Length() == 0 {
		return normalizeWhitespace(doc.Text())
	}
	return normalizeWhitespace(body.Text())
}

// ExtractLinks はhref属性のhttp(s) URLを出現順に重複なく返す。
// HTMLエンティティ（&amp;など）は復元する。
func ExtractLinks(raw string) []string {
	matches := hrefPattern.FindAllStringSubmatch(raw, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(matches))
	links := make([]string, 0, len(matches))
	for _, m := range matches {
		link := m[1]
		if link == "" {
			link = m[2]
		}
		link = strings.TrimSpace(html.UnescapeString(link))
		if link == "" {
			continue
		}
		if _, dup := seen[link]; dup {
			continue
		}
		seen[link] = struct{}{}
		links = append(links, link)
	}
	return links
}

// ExtractArticles は本文から記事候補を1件組み立てる。
// タイトルが取れない場合はfallbackTitle（通常はメール件名）を使用し、
// URLは最初のリンクとする。読み取れる本文がない場合はnilを返す。
func ExtractArticles(raw, fallbackTitle string) []model.ExtractedArticle {
	c := ExtractContent(raw)
	if c.Content == "" {
		return nil
	}

	title := c.Title
	if title == "" {
		title = strings.TrimSpace(fallbackTitle)
	}
	article := model.ExtractedArticle{
		Title:   title,
		Content: c.Content,
		Summary: c.Summary,
	}
	if len(c.Links) > 0 {
		article.URL = c.Links[0]
	}
	return []model.ExtractedArticle{article}
}

// Summarize は本文の先頭SummaryMaxRunes文字を単語境界で切り出す。
// 切り詰めた場合は末尾に"…"を付与する。
func Summarize(text string) string {
	text = normalizeWhitespace(text)
	runes := []rune(text)
	if len(runes) <= SummaryMaxRunes {
		return text
	}

	cut := SummaryMaxRunes
	for i := SummaryMaxRunes; i > SummaryMaxRunes/2; i-- {
		if unicode.IsSpace(runes[i]) {
			cut = i
			break
		}
	}
	return strings.TrimRightFunc(string(runes[:cut]), unicode.IsSpace) + ellipsis
}

func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
