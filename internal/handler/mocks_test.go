package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/mailfeed/internal/article"
	"github.com/hitoshi/mailfeed/internal/ingest"
	"github.com/hitoshi/mailfeed/internal/middleware"
	"github.com/hitoshi/mailfeed/internal/model"
	"github.com/hitoshi/mailfeed/internal/subscription"
)

// --- Ingester ---

type mockIngester struct {
	ingestFn func(ctx context.Context, email model.InboundEmail, articles []model.ExtractedArticle) (*ingest.Result, error)
	calls    int
	last     model.InboundEmail
}

func (m *mockIngester) Ingest(ctx context.Context, email model.InboundEmail, articles []model.ExtractedArticle) (*ingest.Result, error) {
	m.calls++
	m.last = email
	if m.ingestFn != nil {
		return m.ingestFn(ctx, email, articles)
	}
	return &ingest.Result{EmailID: "e-1", Status: model.InboundStatusProcessed, Success: true}, nil
}

// --- ArticleService ---

type mockArticleService struct {
	listFeedFn    func(ctx context.Context, userID string, filter model.ArticleFilter, cursor string, limit int) (*article.FeedResult, error)
	getArticleFn  func(ctx context.Context, userID, articleID string) (*model.FeedArticle, error)
	markReadFn    func(ctx context.Context, userID, articleID string, read bool) error
	saveArticleFn func(ctx context.Context, userID, articleID string, in article.SaveInput) (*model.SavedArticle, bool, error)
	updateSavedFn func(ctx context.Context, userID, savedID string, in article.SaveInput) (*model.SavedArticle, error)
	unsaveFn      func(ctx context.Context, userID, savedID string) error
	listSavedFn   func(ctx context.Context, userID, folder string, limit, offset int) ([]model.SavedArticleWithArticle, error)
}

func (m *mockArticleService) ListFeed(ctx context.Context, userID string, filter model.ArticleFilter, cursor string, limit int) (*article.FeedResult, error) {
	if m.listFeedFn != nil {
		return m.listFeedFn(ctx, userID, filter, cursor, limit)
	}
	return &article.FeedResult{}, nil
}

func (m *mockArticleService) GetArticle(ctx context.Context, userID, articleID string) (*model.FeedArticle, error) {
	if m.getArticleFn != nil {
		return m.getArticleFn(ctx, userID, articleID)
	}
	return nil, model.NewArticleNotFoundError(articleID)
}

func (m *mockArticleService) MarkRead(ctx context.Context, userID, articleID string, read bool) error {
	if m.markReadFn != nil {
		return m.markReadFn(ctx, userID, articleID, read)
	}
	return nil
}

func (m *mockArticleService) SaveArticle(ctx context.Context, userID, articleID string, in article.SaveInput) (*model.SavedArticle, bool, error) {
	if m.saveArticleFn != nil {
		return m.saveArticleFn(ctx, userID, articleID, in)
	}
	return &model.SavedArticle{ID: "s-1", UserID: userID, ArticleID: articleID}, true, nil
}

func (m *mockArticleService) UpdateSaved(ctx context.Context, userID, savedID string, in article.SaveInput) (*model.SavedArticle, error) {
	if m.updateSavedFn != nil {
		return m.updateSavedFn(ctx, userID, savedID, in)
	}
	return &model.SavedArticle{ID: savedID, Folder: in.Folder, Notes: in.Notes, Tags: in.Tags}, nil
}

func (m *mockArticleService) Unsave(ctx context.Context, userID, savedID string) error {
	if m.unsaveFn != nil {
		return m.unsaveFn(ctx, userID, savedID)
	}
	return nil
}

func (m *mockArticleService) ListSaved(ctx context.Context, userID, folder string, limit, offset int) ([]model.SavedArticleWithArticle, error) {
	if m.listSavedFn != nil {
		return m.listSavedFn(ctx, userID, folder, limit, offset)
	}
	return nil, nil
}

// --- SubscriptionService ---

type mockSubscriptionService struct {
	listFn        func(ctx context.Context, userID string) ([]subscription.SubscriptionInfo, error)
	subscribeFn   func(ctx context.Context, userID, newsletterID string) (*subscription.SubscriptionInfo, error)
	unsubscribeFn func(ctx context.Context, userID, subscriptionID string) error
	resubscribeFn func(ctx context.Context, userID, subscriptionID string) (*subscription.SubscriptionInfo, error)
	updateFn      func(ctx context.Context, userID, subscriptionID string, summary, categorization bool) (*subscription.SubscriptionInfo, error)
}

func (m *mockSubscriptionService) ListSubscriptions(ctx context.Context, userID string) ([]subscription.SubscriptionInfo, error) {
	if m.listFn != nil {
		return m.listFn(ctx, userID)
	}
	return nil, nil
}

func (m *mockSubscriptionService) Subscribe(ctx context.Context, userID, newsletterID string) (*subscription.SubscriptionInfo, error) {
	if m.subscribeFn != nil {
		return m.subscribeFn(ctx, userID, newsletterID)
	}
	return &subscription.SubscriptionInfo{ID: "sub-1", UserID: userID, NewsletterID: newsletterID, IsActive: true}, nil
}

func (m *mockSubscriptionService) Unsubscribe(ctx context.Context, userID, subscriptionID string) error {
	if m.unsubscribeFn != nil {
		return m.unsubscribeFn(ctx, userID, subscriptionID)
	}
	return nil
}

func (m *mockSubscriptionService) Resubscribe(ctx context.Context, userID, subscriptionID string) (*subscription.SubscriptionInfo, error) {
	if m.resubscribeFn != nil {
		return m.resubscribeFn(ctx, userID, subscriptionID)
	}
	return &subscription.SubscriptionInfo{ID: subscriptionID, IsActive: true}, nil
}

func (m *mockSubscriptionService) UpdateAIToggles(ctx context.Context, userID, subscriptionID string, summary, categorization bool) (*subscription.SubscriptionInfo, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, userID, subscriptionID, summary, categorization)
	}
	return &subscription.SubscriptionInfo{ID: subscriptionID, IsActive: true, SummaryEnabled: summary, CategorizationEnabled: categorization}, nil
}

// --- UserService ---

type mockUserService struct {
	registerFn    func(ctx context.Context, email string) (*model.User, bool, error)
	getFn         func(ctx context.Context, userID string) (*model.User, error)
	ensureFn      func(ctx context.Context, userID string) (string, error)
	withdrawFn    func(ctx context.Context, userID string) error
	ensureCalls   int
	withdrawCalls int
}

func (m *mockUserService) Register(ctx context.Context, email string) (*model.User, bool, error) {
	if m.registerFn != nil {
		return m.registerFn(ctx, email)
	}
	return &model.User{ID: testUserID, Email: email, Plan: model.PlanFree}, true, nil
}

func (m *mockUserService) Get(ctx context.Context, userID string) (*model.User, error) {
	if m.getFn != nil {
		return m.getFn(ctx, userID)
	}
	return &model.User{ID: userID, Email: "reader@example.com", SystemEmail: "abc@in.example.com", Plan: model.PlanFree}, nil
}

func (m *mockUserService) EnsureSystemEmail(ctx context.Context, userID string) (string, error) {
	m.ensureCalls++
	if m.ensureFn != nil {
		return m.ensureFn(ctx, userID)
	}
	return "derived@in.example.com", nil
}

func (m *mockUserService) Withdraw(ctx context.Context, userID string) error {
	m.withdrawCalls++
	if m.withdrawFn != nil {
		return m.withdrawFn(ctx, userID)
	}
	return nil
}

// --- UsageChecker ---

type mockUsageChecker struct {
	checkFn func(ctx context.Context, userID string, limitType model.LimitType) model.UsageCheck
}

func (m *mockUsageChecker) CheckUsage(ctx context.Context, userID string, limitType model.LimitType) model.UsageCheck {
	if m.checkFn != nil {
		return m.checkFn(ctx, userID, limitType)
	}
	return model.UsageCheck{CanProceed: true, HasFeatureAccess: true, Reason: model.UsageReasonMonetizationDisabled, Limit: -1}
}

// --- NewsletterService ---

type mockNewsletterService struct {
	listFn func(ctx context.Context) ([]*model.Newsletter, error)
}

func (m *mockNewsletterService) ListPredefined(ctx context.Context) ([]*model.Newsletter, error) {
	if m.listFn != nil {
		return m.listFn(ctx)
	}
	return nil, nil
}

// --- AdminService ---

type mockAdminService struct {
	listFn       func(ctx context.Context, status string, limit int) ([]*model.InboundEmail, error)
	reprocessFn  func(ctx context.Context, emailID string) (*ingest.Result, error)
	topFn        func(ctx context.Context, limit int) ([]model.NewsletterStat, error)
	bulkDeleteFn func(ctx context.Context, ids []string) (int64, error)
}

func (m *mockAdminService) ListPendingEmails(ctx context.Context, status string, limit int) ([]*model.InboundEmail, error) {
	if m.listFn != nil {
		return m.listFn(ctx, status, limit)
	}
	return nil, nil
}

func (m *mockAdminService) Reprocess(ctx context.Context, emailID string) (*ingest.Result, error) {
	if m.reprocessFn != nil {
		return m.reprocessFn(ctx, emailID)
	}
	return &ingest.Result{EmailID: emailID, Status: model.InboundStatusProcessed, Success: true}, nil
}

func (m *mockAdminService) TopNewsletters(ctx context.Context, limit int) ([]model.NewsletterStat, error) {
	if m.topFn != nil {
		return m.topFn(ctx, limit)
	}
	return nil, nil
}

func (m *mockAdminService) BulkDeleteArticles(ctx context.Context, ids []string) (int64, error) {
	if m.bulkDeleteFn != nil {
		return m.bulkDeleteFn(ctx, ids)
	}
	return int64(len(ids)), nil
}

// --- helpers ---

const testUserID = "3f2504e0-4f89-41d3-9a0c-0305e82c3301"

// withUser は認証ミドルウェアを通過した状態のリクエストを作る。
func withUser(r *http.Request) *http.Request {
	return r.WithContext(middleware.ContextWithUserID(r.Context(), testUserID))
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response body %q: %v", w.Body.String(), err)
	}
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body middleware.ErrorResponseBody
	decodeBody(t, w, &body)
	return body.Code
}
