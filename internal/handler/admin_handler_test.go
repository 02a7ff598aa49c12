package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/mailfeed/internal/ingest"
	"github.com/hitoshi/mailfeed/internal/model"
)

func newAdminRouter(svc AdminServiceInterface) http.Handler {
	h := NewAdminHandler(svc)
	r := chi.NewRouter()
	r.Get("/api/admin/inbound", h.ListInbound)
	r.Post("/api/admin/inbound/{id}/reprocess", h.Reprocess)
	r.Get("/api/admin/newsletters/top", h.TopNewsletters)
	r.Post("/api/admin/articles/bulk-delete", h.BulkDeleteArticles)
	return r
}

func serveAdmin(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestListInbound_OmitsRawContent(t *testing.T) {
	var gotStatus string
	var gotLimit int
	svc := &mockAdminService{
		listFn: func(ctx context.Context, status string, limit int) ([]*model.InboundEmail, error) {
			gotStatus, gotLimit = status, limit
			return []*model.InboundEmail{{
				ID:         "e-1",
				Recipient:  "zzz@in.example.com",
				Sender:     "news@foo.example",
				Status:     model.InboundStatusUnknownRecipient,
				RawContent: "<p>secret body</p>",
				Articles:   []model.ExtractedArticle{{Title: "a"}, {Title: "b"}},
				CreatedAt:  time.Now(),
			}}, nil
		},
	}

	w := serveAdmin(newAdminRouter(svc), http.MethodGet, "/api/admin/inbound?status=unknown_recipient&limit=20", "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if gotStatus != "unknown_recipient" || gotLimit != 20 {
		t.Errorf("args = %q %d", gotStatus, gotLimit)
	}
	if strings.Contains(w.Body.String(), "secret body") {
		t.Error("raw content must not be exposed")
	}
	var resp []inboundEmailResponse
	decodeBody(t, w, &resp)
	if len(resp) != 1 || resp[0].ArticleCount != 2 || resp[0].Status != "unknown_recipient" {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestListInbound_InvalidStatus(t *testing.T) {
	svc := &mockAdminService{
		listFn: func(ctx context.Context, status string, limit int) ([]*model.InboundEmail, error) {
			return nil, model.NewInvalidRequestError("無効なステータスです: " + status)
		},
	}

	w := serveAdmin(newAdminRouter(svc), http.MethodGet, "/api/admin/inbound?status=bogus", "")

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestAdminReprocess(t *testing.T) {
	tests := []struct {
		name       string
		result     *ingest.Result
		err        error
		wantStatus int
	}{
		{"processed", &ingest.Result{EmailID: "e-1", Status: model.InboundStatusProcessed, Success: true}, nil, http.StatusOK},
		{"still unknown recipient", &ingest.Result{EmailID: "e-1", Status: model.InboundStatusUnknownRecipient}, model.ErrUnknownRecipient, http.StatusAccepted},
		{"already processed", nil, model.NewAlreadyProcessedError("e-1"), http.StatusConflict},
		{"not found", nil, model.NewInboundEmailNotFoundError("e-1"), http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotID string
			svc := &mockAdminService{
				reprocessFn: func(ctx context.Context, emailID string) (*ingest.Result, error) {
					gotID = emailID
					return tt.result, tt.err
				},
			}

			w := serveAdmin(newAdminRouter(svc), http.MethodPost, "/api/admin/inbound/e-1/reprocess", "")

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if gotID != "e-1" {
				t.Errorf("emailID = %q", gotID)
			}
		})
	}
}

func TestAdminTopNewsletters(t *testing.T) {
	svc := &mockAdminService{
		topFn: func(ctx context.Context, limit int) ([]model.NewsletterStat, error) {
			if limit != 5 {
				t.Errorf("limit = %d, want 5", limit)
			}
			return []model.NewsletterStat{{
				Newsletter:      model.Newsletter{ID: "n-1", Name: "Foo Weekly", Frequency: model.FrequencyWeekly},
				ArticleCount:    42,
				SubscriberCount: 3,
			}}, nil
		},
	}

	w := serveAdmin(newAdminRouter(svc), http.MethodGet, "/api/admin/newsletters/top?limit=5", "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp []newsletterStatResponse
	decodeBody(t, w, &resp)
	if len(resp) != 1 || resp[0].Name != "Foo Weekly" || resp[0].ArticleCount != 42 || resp[0].SubscriberCount != 3 {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestAdminBulkDeleteArticles(t *testing.T) {
	var gotIDs []string
	svc := &mockAdminService{
		bulkDeleteFn: func(ctx context.Context, ids []string) (int64, error) {
			gotIDs = ids
			return 2, nil
		},
	}

	w := serveAdmin(newAdminRouter(svc), http.MethodPost, "/api/admin/articles/bulk-delete", `{"ids": ["a-1", "a-2", "a-3"]}`)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if len(gotIDs) != 3 {
		t.Errorf("ids = %v", gotIDs)
	}
	var resp map[string]int64
	decodeBody(t, w, &resp)
	if resp["deleted"] != 2 {
		t.Errorf("deleted = %d, want 2", resp["deleted"])
	}
}

func TestAdminBulkDeleteArticles_MalformedBody(t *testing.T) {
	w := serveAdmin(newAdminRouter(&mockAdminService{}), http.MethodPost, "/api/admin/articles/bulk-delete", `{"ids": "a-1"}`)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}
