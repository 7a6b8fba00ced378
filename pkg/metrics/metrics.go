package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector 计费核心指标收集器
type Collector struct {
	// 回调对账指标
	webhookEventsTotal *prometheus.CounterVec
	unmatchedTotal     *prometheus.CounterVec
	conflictsTotal     prometheus.Counter

	// 积分账本指标
	ledgerOpsTotal   *prometheus.CounterVec
	debitRejectTotal prometheus.Counter

	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// NewCollector 创建指标收集器
func NewCollector() *Collector {
	return &Collector{
		webhookEventsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_webhook_events_total",
				Help: "Total number of normalized gateway webhook events by outcome",
			},
			[]string{"channel", "kind", "outcome"},
		),
		unmatchedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_webhook_unmatched_total",
				Help: "Gateway notifications that could not be matched to an order",
			},
			[]string{"channel"},
		),
		conflictsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "billing_reconcile_conflicts_total",
				Help: "Reconcile transactions aborted by serialization conflicts",
			},
		),
		ledgerOpsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_ledger_operations_total",
				Help: "Credit ledger operations by type",
			},
			[]string{"type", "purpose"},
		),
		debitRejectTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "billing_ledger_debit_rejects_total",
				Help: "Debits rejected for insufficient balance",
			},
		),
		httpRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		httpRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
	}
}

// ObserveWebhook 记录一次回调对账结果
func (c *Collector) ObserveWebhook(channel, kind, outcome string) {
	c.webhookEventsTotal.WithLabelValues(channel, kind, outcome).Inc()
}

// ObserveUnmatched 记录一次无法关联订单的回调
func (c *Collector) ObserveUnmatched(channel string) {
	c.unmatchedTotal.WithLabelValues(channel).Inc()
}

// ObserveConflict 记录一次事务冲突
func (c *Collector) ObserveConflict() {
	c.conflictsTotal.Inc()
}

// ObserveLedgerOp 记录一次账本操作
func (c *Collector) ObserveLedgerOp(opType, purpose string) {
	c.ledgerOpsTotal.WithLabelValues(opType, purpose).Inc()
}

// ObserveDebitReject 记录一次余额不足拒绝
func (c *Collector) ObserveDebitReject() {
	c.debitRejectTotal.Inc()
}

// ObserveHTTP 记录一次 HTTP 请求
func (c *Collector) ObserveHTTP(method, endpoint, status string, seconds float64) {
	c.httpRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	c.httpRequestDuration.WithLabelValues(method, endpoint).Observe(seconds)
}

// Default 全局默认收集器
var Default = NewCollector()
