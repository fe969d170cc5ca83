package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// getCounterValue 读取Counter当前值
func getCounterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()

	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("读取指标失败: %v", err)
	}
	return m.GetCounter().GetValue()
}

// TestInitMetrics 测试指标初始化
func TestInitMetrics(t *testing.T) {
	InitMetrics()

	if StockAdjustmentsTotal == nil {
		t.Error("StockAdjustmentsTotal未初始化")
	}
	if EventsDispatchedTotal == nil {
		t.Error("EventsDispatchedTotal未初始化")
	}
	if LockTimeoutsTotal == nil {
		t.Error("LockTimeoutsTotal未初始化")
	}

	// 重复初始化不应panic（promauto重复注册会panic）
	InitMetrics()

	t.Log("✅ 指标初始化成功")
}

// TestIncCounter 测试Counter递增
func TestIncCounter(t *testing.T) {
	InitMetrics()

	before := getCounterValue(t, LockTimeoutsTotal)

	IncCounter(LockTimeoutsTotal)
	IncCounter(LockTimeoutsTotal)

	after := getCounterValue(t, LockTimeoutsTotal)
	if after-before != 2 {
		t.Errorf("Counter值错误: expected=+2, got=+%f", after-before)
	}
}

// TestNilSafe 未初始化的指标helper静默跳过
func TestNilSafe(t *testing.T) {
	IncCounter(nil)
	IncCounterVec(nil, map[string]string{"outcome": "SUCCEEDED"})
	ObserveHistogram(nil, 0.5)
}

// TestIncCounterVec 测试带标签的Counter
func TestIncCounterVec(t *testing.T) {
	InitMetrics()

	IncCounterVec(EventsDispatchedTotal, map[string]string{"outcome": "SUCCEEDED"})
	IncCounterVec(EventsDispatchedTotal, map[string]string{"outcome": "SKIPPED"})
	IncCounterVec(EventsDispatchedTotal, map[string]string{"outcome": "SUCCEEDED"})

	counter, err := EventsDispatchedTotal.GetMetricWith(map[string]string{"outcome": "SUCCEEDED"})
	if err != nil {
		t.Fatalf("获取标签指标失败: %v", err)
	}

	if got := getCounterValue(t, counter); got < 2 {
		t.Errorf("CounterVec值错误: expected>=2, got=%f", got)
	}
}
