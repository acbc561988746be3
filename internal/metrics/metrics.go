// Package metrics 定义服务暴露的 prometheus 指标
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "moovie"

// Metrics 指标集合，所有字段在 New 之后即可使用
type Metrics struct {
	HTTPRequests        *prometheus.CounterVec
	HTTPDuration        *prometheus.HistogramVec
	SideEffectFailures  *prometheus.CounterVec
	RatingRecomputes    prometheus.Counter
	EventsCreated       *prometheus.CounterVec
	ReconcileLastRun    prometheus.Gauge
	ReconcileCorrected  prometheus.Counter
	RateLimitRejections prometheus.Counter
}

// New 创建并注册指标，reg 为 nil 时只创建不注册（测试用）
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP 请求数",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP 请求耗时",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		SideEffectFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "side_effect_failures_total",
			Help:      "附带操作（评分重算、事件创建等）失败次数",
		}, []string{"effect"}),
		RatingRecomputes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rating_recomputes_total",
			Help:      "评分重算次数",
		}),
		EventsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_created_total",
			Help:      "创建的通知事件数",
		}, []string{"type"}),
		ReconcileLastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reconcile_last_run_timestamp_seconds",
			Help:      "最近一次评分对账完成时间",
		}),
		ReconcileCorrected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_corrected_total",
			Help:      "对账时修正的电影数",
		}),
		RateLimitRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_rejections_total",
			Help:      "被限流拒绝的请求数",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.HTTPRequests,
			m.HTTPDuration,
			m.SideEffectFailures,
			m.RatingRecomputes,
			m.EventsCreated,
			m.ReconcileLastRun,
			m.ReconcileCorrected,
			m.RateLimitRejections,
		)
	}
	return m
}
