// Package ingest は受信メールを記事に変換する取り込みパイプラインを提供する。
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/mailfeed/internal/extractor"
	"github.com/hitoshi/mailfeed/internal/identity"
	"github.com/hitoshi/mailfeed/internal/metrics"
	"github.com/hitoshi/mailfeed/internal/model"
	"github.com/hitoshi/mailfeed/internal/newsletter"
	"github.com/hitoshi/mailfeed/internal/repository"
	"github.com/hitoshi/mailfeed/internal/security"
)

// UserLookup は宛先から復元したユーザーIDの存在確認に使うインターフェース。
type UserLookup interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// NewsletterResolver は送信元からニュースレターを特定するインターフェース。
type NewsletterResolver interface {
	Resolve(ctx context.Context, obs newsletter.Observed) (*model.Newsletter, bool, error)
}

// SubscriptionEnsurer は取り込み時に購読の存在を保証するインターフェース。
type SubscriptionEnsurer interface {
	EnsureSubscribed(ctx context.Context, userID, newsletterID string) (*model.Subscription, bool, error)
}

// ItemError は1記事分の取り込み失敗を表す。他の記事の取り込みは継続する。
type ItemError struct {
	Index   int
	Title   string
	Message string
}

// Result は1通のメールの取り込み結果。
type Result struct {
	EmailID           string
	Status            model.InboundStatus
	UserID            string
	NewsletterID      string
	NewsletterCreated bool
	ArticlesCreated   int
	ArticlesSkipped   int
	ArticlesFailed    int
	ItemErrors        []ItemError
	// Success は永続化の失敗がなく、1件以上の記事が作成または重複スキップされたことを表す。
	Success bool
}

// Pipeline は受信メールの取り込みパイプライン。
// 宛先からのユーザー特定、ニュースレターの特定、購読の確保、記事の冪等な保存を行う。
// 処理できなかったメールは破棄せず、状態付きで保持する。
type Pipeline struct {
	emails        repository.InboundEmailRepository
	articles      repository.ArticleRepository
	users         UserLookup
	codec         *identity.Codec
	newsletters   NewsletterResolver
	subscriptions SubscriptionEnsurer
	sanitizer     security.ContentSanitizerService
	metrics       metrics.MetricsCollector
	now           func() time.Time
}

// NewPipeline はPipelineの新しいインスタンスを生成する。
func NewPipeline(
	emails repository.InboundEmailRepository,
	articles repository.ArticleRepository,
	users UserLookup,
	codec *identity.Codec,
	newsletters NewsletterResolver,
	subscriptions SubscriptionEnsurer,
	sanitizer security.ContentSanitizerService,
	m metrics.MetricsCollector,
) *Pipeline {
	return &Pipeline{
		emails:        emails,
		articles:      articles,
		users:         users,
		codec:         codec,
		newsletters:   newsletters,
		subscriptions: subscriptions,
		sanitizer:     sanitizer,
		metrics:       m,
		now:           time.Now,
	}
}

// Ingest は1通の受信メールを取り込む。
// メールはまず識別キーで冪等に記録され、同じメールの再配送では既存の行を再処理する。
// 宛先不明・抽出失敗・永続化失敗の場合は、記録済みであればResultとともに
// model.ErrUnknownRecipient / model.ErrExtractionFailed / model.ErrPersistenceUnavailable
// をラップしたエラーを返す。
func (p *Pipeline) Ingest(ctx context.Context, email model.InboundEmail, articles []model.ExtractedArticle) (*Result, error) {
	start := p.now()

	scrubEmail(&email)
	articles = scrubArticles(articles)
	email.SourceKey = SourceKey(&email)
	if email.ID == "" {
		email.ID = uuid.New().String()
	}
	if email.Frequency == "" {
		email.Frequency = model.DefaultFrequency
	}
	email.Articles = articles
	email.CreatedAt = start

	recorded, created, err := p.emails.Record(ctx, &email)
	if err != nil {
		p.metrics.RecordInboundEmail(string(model.InboundStatusFailed))
		slog.Error("受信メールの記録に失敗しました",
			slog.String("recipient", email.Recipient),
			slog.String("error", err.Error()),
		)
		return nil, persistenceError("受信メールの記録に失敗しました", err)
	}
	if !created {
		slog.Info("同じメールの再配送を検出しました",
			slog.String("email_id", recorded.ID),
			slog.String("status", string(recorded.Status)),
		)
	}

	return p.process(ctx, recorded, start)
}

// Reprocess は保存済みの受信メールを元の本文と記事候補から再処理する。
// 処理済みのメールは再処理できない。
func (p *Pipeline) Reprocess(ctx context.Context, emailID string) (*Result, error) {
	start := p.now()

	e, err := p.emails.FindByID(ctx, emailID)
	if err != nil {
		return nil, persistenceError("受信メールの取得に失敗しました", err)
	}
	if e == nil {
		return nil, model.NewInboundEmailNotFoundError(emailID)
	}
	if e.Status == model.InboundStatusProcessed {
		return nil, model.NewAlreadyProcessedError(emailID)
	}

	slog.Info("受信メールを再処理します",
		slog.String("email_id", e.ID),
		slog.String("previous_status", string(e.Status)),
	)
	return p.process(ctx, e, start)
}

// ReprocessSummary は一括再処理の集計結果。
type ReprocessSummary struct {
	Total     int
	Processed int
	Failed    int
}

// reprocessableStatuses は一括再処理の対象となる状態。
var reprocessableStatuses = []model.InboundStatus{
	model.InboundStatusPending,
	model.InboundStatusUnknownRecipient,
	model.InboundStatusExtractionFailed,
	model.InboundStatusFailed,
}

// ReprocessPending は未処理・失敗状態のメールを受信順に最大limit件再処理する。
// 1通の失敗で全体を中断せず、失敗件数として集計する。
func (p *Pipeline) ReprocessPending(ctx context.Context, limit int) (ReprocessSummary, error) {
	var summary ReprocessSummary

	emails, err := p.emails.ListByStatus(ctx, reprocessableStatuses, limit)
	if err != nil {
		return summary, persistenceError("再処理対象の取得に失敗しました", err)
	}

	for _, e := range emails {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.Total++
		result, err := p.process(ctx, e, p.now())
		if err != nil || result == nil || !result.Success {
			summary.Failed++
			continue
		}
		summary.Processed++
	}

	slog.Info("受信メールの一括再処理が完了しました",
		slog.Int("total", summary.Total),
		slog.Int("processed", summary.Processed),
		slog.Int("failed", summary.Failed),
	)
	return summary, nil
}

// process は記録済みの受信メールを記事化し、最終状態を保存する。
func (p *Pipeline) process(ctx context.Context, e *model.InboundEmail, start time.Time) (*Result, error) {
	result := &Result{EmailID: e.ID}
	defer func() {
		p.metrics.RecordIngestLatency(p.now().Sub(start))
	}()

	// 1. 宛先からユーザーを特定する。他のユーザーに帰属させることはない。
	user, err := p.resolveUser(ctx, e.Recipient)
	if err != nil {
		return result, p.fail(ctx, e, result, model.InboundStatusFailed, err)
	}
	if user == nil {
		slog.Warn("宛先に対応するユーザーが見つかりません",
			slog.String("email_id", e.ID),
			slog.String("recipient", e.Recipient),
		)
		return result, p.fail(ctx, e, result, model.InboundStatusUnknownRecipient,
			fmt.Errorf("%w: %s", model.ErrUnknownRecipient, e.Recipient))
	}
	result.UserID = user.ID

	// 2. 記事候補がなければ本文から抽出する。
	candidates := e.Articles
	if len(candidates) == 0 {
		candidates = extractor.ExtractArticles(e.RawContent, e.Subject)
	}
	if len(candidates) == 0 {
		slog.Warn("メール本文から記事を抽出できませんでした",
			slog.String("email_id", e.ID),
			slog.String("user_id", user.ID),
		)
		return result, p.fail(ctx, e, result, model.InboundStatusExtractionFailed,
			fmt.Errorf("%w: %s", model.ErrExtractionFailed, e.ID))
	}

	// 3. ニュースレターを特定する。
	nl, nlCreated, err := p.newsletters.Resolve(ctx, newsletter.Observed{
		SenderEmail: e.Sender,
		Name:        firstNonEmpty(e.NewsletterName, e.SenderName),
		Frequency:   e.Frequency,
	})
	if err != nil {
		if !errors.Is(err, newsletter.ErrUnidentifiableSender) {
			err = persistenceError("ニュースレターの特定に失敗しました", err)
		}
		return result, p.fail(ctx, e, result, model.InboundStatusFailed, err)
	}
	result.NewsletterID = nl.ID
	result.NewsletterCreated = nlCreated
	if nlCreated {
		p.metrics.RecordNewsletterCreated()
	}

	// 4. 購読を確保する。解除済みの購読は再開しない。
	if _, _, err := p.subscriptions.EnsureSubscribed(ctx, user.ID, nl.ID); err != nil {
		return result, p.fail(ctx, e, result, model.InboundStatusFailed,
			persistenceError("購読の確保に失敗しました", err))
	}

	// 5. 記事を冪等に保存する。1件の失敗で残りの記事の取り込みは止めない。
	processedAt := p.now()
	if e.ReceivedAt != nil {
		processedAt = *e.ReceivedAt
	}
	for i, candidate := range candidates {
		article := p.buildArticle(candidate, e, user.ID, nl.ID, processedAt)
		inserted, err := p.articles.InsertIfAbsent(ctx, article)
		switch {
		case err != nil:
			result.ArticlesFailed++
			result.ItemErrors = append(result.ItemErrors, ItemError{Index: i, Title: article.Title, Message: err.Error()})
			slog.Error("記事の保存に失敗しました",
				slog.String("email_id", e.ID),
				slog.Int("index", i),
				slog.String("error", err.Error()),
			)
		case inserted:
			result.ArticlesCreated++
		default:
			result.ArticlesSkipped++
		}
	}
	p.metrics.RecordArticles(metrics.ArticleCreated, result.ArticlesCreated)
	p.metrics.RecordArticles(metrics.ArticleSkipped, result.ArticlesSkipped)
	p.metrics.RecordArticles(metrics.ArticleFailed, result.ArticlesFailed)

	// 6. 最終状態を保存する。
	status := model.InboundStatusProcessed
	var errorMessage string
	if result.ArticlesCreated+result.ArticlesSkipped == 0 {
		status = model.InboundStatusFailed
		errorMessage = fmt.Sprintf("全%d件の記事の保存に失敗しました", result.ArticlesFailed)
	}
	if err := p.emails.UpdateStatus(ctx, e.ID, status, errorMessage, user.ID, nl.ID); err != nil {
		result.Status = e.Status
		p.metrics.RecordInboundEmail(string(model.InboundStatusFailed))
		return result, persistenceError("受信メールの状態更新に失敗しました", err)
	}
	result.Status = status
	result.Success = result.ArticlesFailed == 0 && result.ArticlesCreated+result.ArticlesSkipped > 0
	p.metrics.RecordInboundEmail(string(status))

	slog.Info("受信メールの取り込みが完了しました",
		slog.String("email_id", e.ID),
		slog.String("user_id", user.ID),
		slog.String("newsletter_id", nl.ID),
		slog.String("status", string(status)),
		slog.Int("created", result.ArticlesCreated),
		slog.Int("skipped", result.ArticlesSkipped),
		slog.Int("failed", result.ArticlesFailed),
	)
	return result, nil
}

// resolveUser は宛先アドレスからユーザーを特定する。
// システムアドレスでない場合や該当ユーザーがいない場合はnilを返す。
func (p *Pipeline) resolveUser(ctx context.Context, recipient string) (*model.User, error) {
	userID, ok := p.codec.RecoverUserID(recipient)
	if !ok {
		return nil, nil
	}
	user, err := p.users.FindByID(ctx, userID)
	if err != nil {
		return nil, persistenceError("ユーザーの取得に失敗しました", err)
	}
	return user, nil
}

// fail は受信メールを失敗状態で保存し、原因のエラーを返す。
// 状態の保存にも失敗した場合は永続化エラーを併せて返す。
func (p *Pipeline) fail(ctx context.Context, e *model.InboundEmail, result *Result, status model.InboundStatus, cause error) error {
	result.Status = status
	p.metrics.RecordInboundEmail(string(status))
	if err := p.emails.UpdateStatus(ctx, e.ID, status, cause.Error(), result.UserID, result.NewsletterID); err != nil {
		slog.Error("受信メールの状態更新に失敗しました",
			slog.String("email_id", e.ID),
			slog.String("status", string(status)),
			slog.String("error", err.Error()),
		)
		return errors.Join(cause, persistenceError("受信メールの状態更新に失敗しました", err))
	}
	return cause
}

// buildArticle は記事候補の欠損値を補完し、本文をサニタイズして記事を組み立てる。
func (p *Pipeline) buildArticle(
	candidate model.ExtractedArticle,
	e *model.InboundEmail,
	userID, newsletterID string,
	processedAt time.Time,
) *model.Article {
	now := p.now()
	title := strings.TrimSpace(candidate.Title)
	if title == "" {
		title = strings.TrimSpace(e.Subject)
	}
	return &model.Article{
		ID:            uuid.New().String(),
		NewsletterID:  newsletterID,
		UserID:        userID,
		SourceKey:     e.SourceKey,
		DedupeKey:     DedupeKey(newsletterID, userID, e.SourceKey, candidate),
		Title:         title,
		Content:       p.sanitizer.Sanitize(candidate.Content),
		URL:           normalizeURL(candidate.URL),
		AISummary:     p.sanitizer.StripTags(candidate.Summary),
		AICategory:    strings.TrimSpace(candidate.Category),
		InterestScore: model.ClampInterestScore(candidate.InterestScore),
		ProcessedAt:   processedAt,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// normalizeURL はhttp/httpsの絶対URLのみを残す。それ以外は空文字列にする。
func normalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return ""
	}
	return u.String()
}

func persistenceError(msg string, err error) error {
	return fmt.Errorf("%s: %w: %w", msg, model.ErrPersistenceUnavailable, err)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
