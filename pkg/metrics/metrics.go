// Package metrics 提供基于Prometheus的指标收集
//
// 核心指标围绕两条关键路径：
// - 库存调整：成功/库存不足/锁超时/降级次数、调整耗时分布
// - 事件调度：各终态计数（SUCCEEDED/SKIPPED/DEAD_LETTERED）、
//   重试与重放计数、调度耗时分布
//
// 使用方式：
//
//	// 1. 启动时初始化
//	metrics.InitMetrics()
//
//	// 2. 暴露/metrics端点
//	http.Handle("/metrics", promhttp.Handler())
//
//	// 3. 业务代码记录（未初始化时helper静默跳过，单元测试无需初始化）
//	metrics.IncCounter(metrics.LockTimeoutsTotal)
//
// 命名规范：Counter以_total结尾，Histogram以单位结尾（_seconds）
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// initialized 标记是否已初始化（防止重复注册panic）
	initialized bool

	// 库存调整指标

	// StockAdjustmentsTotal 库存调整总数
	// 标签：reason（order_purchase/...）、result（success/insufficient/error）
	StockAdjustmentsTotal *prometheus.CounterVec

	// StockAdjustDuration 单次调整耗时（含锁等待）
	StockAdjustDuration prometheus.Histogram

	// LockTimeoutsTotal 分布式锁等待超时总数
	LockTimeoutsTotal prometheus.Counter

	// LockDegradationsTotal 锁服务不可用导致的降级总数
	// 降级必须留痕：行锁兜底了正确性，但运维需要看到它在发生
	LockDegradationsTotal prometheus.Counter

	// 事件调度指标

	// EventsDispatchedTotal 事件调度终态总数
	// 标签：outcome（SUCCEEDED/SKIPPED/DEAD_LETTERED）
	EventsDispatchedTotal *prometheus.CounterVec

	// EventRetriesTotal 处理器重试总数
	EventRetriesTotal prometheus.Counter

	// EventsReplayedTotal 重放结果总数
	// 标签：result（replayed/skipped/filtered/failed）
	EventsReplayedTotal *prometheus.CounterVec

	// DispatchDuration 单条事件调度耗时（含重试退避）
	DispatchDuration prometheus.Histogram
)

// InitMetrics 初始化并注册所有指标
func InitMetrics() {
	if initialized {
		return
	}
	initialized = true

	StockAdjustmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_adjustments_total",
		Help: "库存调整总数（按原因与结果分类）",
	}, []string{"reason", "result"})

	StockAdjustDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stock_adjust_duration_seconds",
		Help:    "单次库存调整耗时（含锁等待）",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
	})

	LockTimeoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inventory_lock_timeouts_total",
		Help: "分布式锁等待超时总数",
	})

	LockDegradationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inventory_lock_degradations_total",
		Help: "锁服务不可用导致的行锁降级总数",
	})

	EventsDispatchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "events_dispatched_total",
		Help: "事件调度终态总数",
	}, []string{"outcome"})

	EventRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "event_retries_total",
		Help: "事件处理器重试总数",
	})

	EventsReplayedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "events_replayed_total",
		Help: "事件重放结果总数",
	}, []string{"result"})

	DispatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "event_dispatch_duration_seconds",
		Help:    "单条事件调度耗时（含重试退避）",
		Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10},
	})
}

// IncCounter 递增Counter（未初始化时静默跳过）
func IncCounter(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}

// IncCounterVec 递增带标签的Counter
func IncCounterVec(c *prometheus.CounterVec, labels map[string]string) {
	if c != nil {
		c.With(labels).Inc()
	}
}

// ObserveHistogram 记录Histogram观测值
func ObserveHistogram(h prometheus.Histogram, value float64) {
	if h != nil {
		h.Observe(value)
	}
}
