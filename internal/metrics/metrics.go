// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層・ミドルウェア・ワーカーから利用する。
type MetricsCollector interface {
	RecordPostCreated()
	RecordPostShared()
	RecordEngagementToggle(kind string)
	RecordFollowOp(op string)
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
	RecordReconcileRepaired(count int)
}

// エンゲージメント種別のラベル値
const (
	KindLike    = "like"
	KindDeslike = "deslike"
)

// フォロー操作のラベル値
const (
	OpFollow   = "follow"
	OpUnfollow = "unfollow"
)

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	postsCreated      prometheus.Counter
	postsShared       prometheus.Counter
	engagementToggles *prometheus.CounterVec
	followOps         *prometheus.CounterVec
	httpStatus        *prometheus.CounterVec
	requestLatency    prometheus.Histogram
	reconcileRepaired prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		postsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tweetbox_posts_created_total",
			Help: "作成された投稿の合計数",
		}),
		postsShared: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tweetbox_posts_shared_total",
			Help: "シェアによって作成された投稿の合計数",
		}),
		engagementToggles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tweetbox_engagement_toggles_total",
			Help: "like/deslikeトグルの合計数",
		}, []string{"kind"}),
		followOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tweetbox_follow_ops_total",
			Help: "成功したフォロー/フォロー解除の合計数",
		}, []string{"op"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tweetbox_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tweetbox_http_request_duration_seconds",
			Help:    "APIリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		reconcileRepaired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tweetbox_reconcile_repaired_total",
			Help: "カウンタ整合ジョブで修復された行の合計数",
		}),
	}

	reg.MustRegister(
		c.postsCreated,
		c.postsShared,
		c.engagementToggles,
		c.followOps,
		c.httpStatus,
		c.requestLatency,
		c.reconcileRepaired,
	)

	return c
}

// RecordPostCreated は投稿作成を記録する。
func (c *Collector) RecordPostCreated() {
	c.postsCreated.Inc()
}

// RecordPostShared はシェアを記録する。
func (c *Collector) RecordPostShared() {
	c.postsShared.Inc()
}

// RecordEngagementToggle はlike/deslikeのトグルを記録する。
func (c *Collector) RecordEngagementToggle(kind string) {
	c.engagementToggles.WithLabelValues(kind).Inc()
}

// RecordFollowOp はフォロー操作を記録する。
func (c *Collector) RecordFollowOp(op string) {
	c.followOps.WithLabelValues(op).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はリクエストの処理時間を記録する。
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

// RecordReconcileRepaired は修復された行数を記録する。
func (c *Collector) RecordReconcileRepaired(count int) {
	c.reconcileRepaired.Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// ワーカーのコンテナヘルスチェック用に/healthも応答する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, `{"status":"ok"}`)
	})
	return mux
}

// Nop は何も記録しないMetricsCollector。
type Nop struct{}

func (Nop) RecordPostCreated()                 {}
func (Nop) RecordPostShared()                  {}
func (Nop) RecordEngagementToggle(string)      {}
func (Nop) RecordFollowOp(string)              {}
func (Nop) RecordHTTPStatus(int)               {}
func (Nop) RecordRequestLatency(time.Duration) {}
func (Nop) RecordReconcileRepaired(int)        {}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
