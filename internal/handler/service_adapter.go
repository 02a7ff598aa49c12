package handler

import (
	"github.com/hitoshi/mailfeed/internal/admin"
	"github.com/hitoshi/mailfeed/internal/article"
	"github.com/hitoshi/mailfeed/internal/ingest"
	"github.com/hitoshi/mailfeed/internal/newsletter"
	"github.com/hitoshi/mailfeed/internal/subscription"
	"github.com/hitoshi/mailfeed/internal/usage"
	"github.com/hitoshi/mailfeed/internal/user"
)

// ドメインサービスはハンドラーのインターフェースをそのまま満たすため、アダプタは不要。
// 署名の食い違いはここでコンパイルエラーとして検出する。

// --- compile-time interface checks ---

var _ Ingester = (*ingest.Pipeline)(nil)
var _ ArticleServiceInterface = (*article.Service)(nil)
var _ SubscriptionServiceInterface = (*subscription.Service)(nil)
var _ UserServiceInterface = (*user.Service)(nil)
var _ UsageChecker = (*usage.Gate)(nil)
var _ NewsletterServiceInterface = (*newsletter.Service)(nil)
var _ AdminServiceInterface = (*admin.Service)(nil)
