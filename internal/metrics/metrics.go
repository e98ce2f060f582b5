// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 貸出サービスとHTTPミドルウェアから利用する。
type MetricsCollector interface {
	RecordBorrow()
	RecordReturn()
	RecordLoanRejected(reason string)
	RecordLoanTxDuration(op string, duration time.Duration)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	borrowed   prometheus.Counter
	returned   prometheus.Counter
	rejected   *prometheus.CounterVec
	txDuration *prometheus.HistogramVec
	httpStatus *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		borrowed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "perpus_loans_borrowed_total",
			Help: "貸出成功の合計数",
		}),
		returned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "perpus_loans_returned_total",
			Help: "返却成功の合計数",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "perpus_loan_rejected_total",
			Help: "拒否された貸出・返却の数（理由別）",
		}, []string{"reason"}),
		txDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "perpus_loan_tx_duration_seconds",
			Help:    "貸出・返却トランザクションの所要時間（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "perpus_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.borrowed,
		c.returned,
		c.rejected,
		c.txDuration,
		c.httpStatus,
	)

	return c
}

// RecordBorrow は貸出成功を記録する。
func (c *Collector) RecordBorrow() {
	c.borrowed.Inc()
}

// RecordReturn は返却成功を記録する。
func (c *Collector) RecordReturn() {
	c.returned.Inc()
}

// RecordLoanRejected は拒否理由（エラーコード）ごとに件数を記録する。
func (c *Collector) RecordLoanRejected(reason string) {
	c.rejected.WithLabelValues(reason).Inc()
}

// RecordLoanTxDuration はトランザクションの所要時間を記録する。opは borrow / return。
func (c *Collector) RecordLoanTxDuration(op string, duration time.Duration) {
	c.txDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Noop は何も記録しないMetricsCollector。
type Noop struct{}

func (Noop) RecordBorrow() {}
func (Noop) RecordReturn() {}
func (Noop) RecordLoanRejected(string) {}
func (Noop) RecordLoanTxDuration(string, time.Duration) {}
func (Noop) RecordHTTPStatus(int) {}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Noop{}
)
