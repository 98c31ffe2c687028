// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 結果ラベルの値
const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeConflict = "conflict"
	OutcomeInvalid  = "invalid"
	OutcomeError    = "error"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 認証サービス、ミドルウェア、ワーカーから利用する。
type MetricsCollector interface {
	RecordLogin(kind, outcome string)
	RecordRegistration(kind, outcome string)
	RecordSessionCreated(kind string)
	RecordFederatedLogin(provider, outcome string)
	RecordAuthRejection(cause string)
	RecordSessionsPurged(count int64)
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	logins          *prometheus.CounterVec
	registrations   *prometheus.CounterVec
	sessionsCreated *prometheus.CounterVec
	federated       *prometheus.CounterVec
	authRejections  *prometheus.CounterVec
	sessionsPurged  prometheus.Counter
	httpStatus      *prometheus.CounterVec
	requestLatency  prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "holaholidays_login_total",
			Help: "ローカルログイン試行の合計数",
		}, []string{"kind", "outcome"}),
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "holaholidays_registration_total",
			Help: "アカウント登録試行の合計数",
		}, []string{"kind", "outcome"}),
		sessionsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "holaholidays_session_created_total",
			Help: "発行したセッションの合計数",
		}, []string{"kind"}),
		federated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "holaholidays_federated_login_total",
			Help: "外部IdPログインの合計数",
		}, []string{"provider", "outcome"}),
		authRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "holaholidays_auth_rejection_total",
			Help: "認証ミドルウェアが拒否したリクエストの合計数",
		}, []string{"cause"}),
		sessionsPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "holaholidays_sessions_purged_total",
			Help: "cleanupワーカーが削除した期限切れセッションの合計数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "holaholidays_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "holaholidays_request_latency_seconds",
			Help:    "HTTPリクエストのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.logins,
		c.registrations,
		c.sessionsCreated,
		c.federated,
		c.authRejections,
		c.sessionsPurged,
		c.httpStatus,
		c.requestLatency,
	)

	return c
}

// RecordLogin はローカルログインの結果を記録する。
func (c *Collector) RecordLogin(kind, outcome string) {
	c.logins.WithLabelValues(kind, outcome).Inc()
}

// RecordRegistration は登録の結果を記録する。
func (c *Collector) RecordRegistration(kind, outcome string) {
	c.registrations.WithLabelValues(kind, outcome).Inc()
}

// RecordSessionCreated はセッション発行を記録する。
func (c *Collector) RecordSessionCreated(kind string) {
	c.sessionsCreated.WithLabelValues(kind).Inc()
}

// RecordFederatedLogin は外部IdPログインの結果を記録する。
func (c *Collector) RecordFederatedLogin(provider, outcome string) {
	c.federated.WithLabelValues(provider, outcome).Inc()
}

// RecordAuthRejection は認証拒否を原因別に記録する。
func (c *Collector) RecordAuthRejection(cause string) {
	c.authRejections.WithLabelValues(cause).Inc()
}

// RecordSessionsPurged は削除した期限切れセッション数を記録する。
func (c *Collector) RecordSessionsPurged(count int64) {
	c.sessionsPurged.Add(float64(count))
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はリクエストのレイテンシを記録する。
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
