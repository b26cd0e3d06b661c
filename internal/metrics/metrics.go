// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector はPrometheusメトリクスを収集する実装。
// 認証フロー、ハンドオフストア、CRMレコード取得の各層から利用する。
type Collector struct {
	callbacks     *prometheus.CounterVec
	exchanges     *prometheus.CounterVec
	exchangeTime  prometheus.Histogram
	handoffs      *prometheus.CounterVec
	entityFetches *prometheus.CounterVec
	fetchLatency  *prometheus.HistogramVec
	itemsFetched  *prometheus.CounterVec
	cleanupPurged prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		callbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crmlink_oauth_callbacks_total",
			Help: "OAuthコールバックの結果別件数",
		}, []string{"result"}),
		exchanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crmlink_token_exchanges_total",
			Help: "トークン交換の結果別件数",
		}, []string{"result"}),
		exchangeTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "crmlink_token_exchange_latency_seconds",
			Help:    "トークン交換のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		handoffs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crmlink_handoff_operations_total",
			Help: "ハンドオフストア操作の操作・結果別件数",
		}, []string{"op", "result"}),
		entityFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crmlink_entity_fetches_total",
			Help: "CRMレコード取得の種別・結果別件数",
		}, []string{"type", "result"}),
		fetchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crmlink_entity_fetch_latency_seconds",
			Help:    "CRMレコード取得のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"type"}),
		itemsFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crmlink_items_fetched_total",
			Help: "取得したアイテムの種別別合計数",
		}, []string{"type"}),
		cleanupPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crmlink_handoff_purged_total",
			Help: "クリーンアップで削除した期限切れ資格情報の合計数",
		}),
	}

	reg.MustRegister(
		c.callbacks,
		c.exchanges,
		c.exchangeTime,
		c.handoffs,
		c.entityFetches,
		c.fetchLatency,
		c.itemsFetched,
		c.cleanupPurged,
	)

	return c
}

// RecordCallback はコールバックの結果を記録する。
func (c *Collector) RecordCallback(result string) {
	c.callbacks.WithLabelValues(result).Inc()
}

// RecordTokenExchange はトークン交換の結果とレイテンシを記録する。
func (c *Collector) RecordTokenExchange(result string, duration time.Duration) {
	c.exchanges.WithLabelValues(result).Inc()
	c.exchangeTime.Observe(duration.Seconds())
}

// RecordHandoff はハンドオフストア操作を記録する。
func (c *Collector) RecordHandoff(op, result string) {
	c.handoffs.WithLabelValues(op, result).Inc()
}

// RecordEntityFetch は種別ごとの取得結果とレイテンシを記録する。
func (c *Collector) RecordEntityFetch(itemType, result string, duration time.Duration) {
	c.entityFetches.WithLabelValues(itemType, result).Inc()
	c.fetchLatency.WithLabelValues(itemType).Observe(duration.Seconds())
}

// RecordItemsFetched は取得したアイテム数を記録する。
func (c *Collector) RecordItemsFetched(itemType string, count int) {
	c.itemsFetched.WithLabelValues(itemType).Add(float64(count))
}

// RecordPurged はクリーンアップで削除した件数を記録する。
func (c *Collector) RecordPurged(count int64) {
	c.cleanupPurged.Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
