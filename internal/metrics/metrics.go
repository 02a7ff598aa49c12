// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 記事の取り込み結果ラベル。
const (
	ArticleCreated = "created"
	ArticleSkipped = "skipped"
	ArticleFailed  = "failed"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 取り込みパイプライン・利用制限ゲート・HTTPミドルウェアから利用する。
type MetricsCollector interface {
	RecordInboundEmail(status string)
	RecordArticles(result string, count int)
	RecordNewsletterCreated()
	RecordUsageCheck(limitType, decision string)
	RecordIngestLatency(duration time.Duration)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	inboundEmails      *prometheus.CounterVec
	articles           *prometheus.CounterVec
	newslettersCreated prometheus.Counter
	usageChecks        *prometheus.CounterVec
	ingestLatency      prometheus.Histogram
	httpStatus         *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		inboundEmails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailfeed_inbound_emails_total",
			Help: "処理結果別の受信メール数",
		}, []string{"status"}),
		articles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailfeed_articles_total",
			Help: "取り込み結果別の記事数",
		}, []string{"result"}),
		newslettersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mailfeed_newsletters_created_total",
			Help: "受信メールから新たに発見されたニュースレター数",
		}),
		usageChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailfeed_usage_checks_total",
			Help: "制限種別・判定結果別の利用可否判定数",
		}, []string{"limit_type", "decision"}),
		ingestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mailfeed_ingest_latency_seconds",
			Help:    "受信メール1通の取り込みレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailfeed_http_responses_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.inboundEmails,
		c.articles,
		c.newslettersCreated,
		c.usageChecks,
		c.ingestLatency,
		c.httpStatus,
	)

	return c
}

// RecordInboundEmail は受信メールの処理結果を記録する。
func (c *Collector) RecordInboundEmail(status string) {
	c.inboundEmails.WithLabelValues(status).Inc()
}

// RecordArticles は取り込み結果別の記事数を記録する。0件の場合は何もしない。
func (c *Collector) RecordArticles(result string, count int) {
	if count <= 0 {
		return
	}
	c.articles.WithLabelValues(result).Add(float64(count))
}

// RecordNewsletterCreated はニュースレターの新規作成を記録する。
func (c *Collector) RecordNewsletterCreated() {
	c.newslettersCreated.Inc()
}

// RecordUsageCheck は利用可否判定の結果を記録する。
func (c *Collector) RecordUsageCheck(limitType, decision string) {
	c.usageChecks.WithLabelValues(limitType, decision).Inc()
}

// RecordIngestLatency は取り込みのレイテンシを記録する。
func (c *Collector) RecordIngestLatency(duration time.Duration) {
	c.ingestLatency.Observe(duration.Seconds())
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Nop は何も記録しないMetricsCollector。CLIコマンドなどメトリクスを公開しない経路で使用する。
type Nop struct{}

func (Nop) RecordInboundEmail(string) {}
func (Nop) RecordArticles(string, int) {}
func (Nop) RecordNewsletterCreated() {}
func (Nop) RecordUsageCheck(string, string) {}
func (Nop) RecordIngestLatency(time.Duration) {}
func (Nop) RecordHTTPStatus(int) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
