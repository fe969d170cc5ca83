package event

import (
	"errors"
	"testing"
)

// TestRoute 测试主题路由
func TestRoute(t *testing.T) {
	router := NewTopicRouter(DefaultRegistry())

	topic, err := router.Route("order", "order", "paid")
	if err != nil {
		t.Fatalf("路由失败: %v", err)
	}
	if topic != "order.order.paid" {
		t.Errorf("topic名错误: %s", topic)
	}
}

// TestRouteUnknown 闭集校验：未注册的domain/entity/action一律拒绝
func TestRouteUnknown(t *testing.T) {
	router := NewTopicRouter(DefaultRegistry())

	tests := []struct {
		name                    string
		domain, entity, action  string
	}{
		{"未知domain", "warehouse", "order", "paid"},
		{"未知entity", "order", "cart", "paid"},
		{"未知action", "order", "order", "exploded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := router.Route(tt.domain, tt.entity, tt.action); !errors.Is(err, ErrUnknownTopic) {
				t.Errorf("expected ErrUnknownTopic, got %v", err)
			}
		})
	}
}

// TestRouteEventType 测试事件类型格式校验
func TestRouteEventType(t *testing.T) {
	router := NewTopicRouter(DefaultRegistry())

	topic, err := router.RouteEventType("inventory.stock.adjusted")
	if err != nil {
		t.Fatalf("路由失败: %v", err)
	}
	if topic != "inventory.stock.adjusted" {
		t.Errorf("topic名错误: %s", topic)
	}

	for _, bad := range []string{"", "order", "order.paid", "order..paid", "a.b.c.d"} {
		if _, err := router.RouteEventType(bad); !errors.Is(err, ErrInvalidEventType) {
			t.Errorf("%q: expected ErrInvalidEventType, got %v", bad, err)
		}
	}
}

// TestDerivedTopics 测试死信/重放topic派生
func TestDerivedTopics(t *testing.T) {
	router := NewTopicRouter(DefaultRegistry())

	if got := router.DeadLetterTopic("order.order.paid"); got != "order.order.paid.dead_letter" {
		t.Errorf("死信topic错误: %s", got)
	}
	if got := router.ReplayTopic("order.order.paid"); got != "order.order.paid.replay" {
		t.Errorf("重放topic错误: %s", got)
	}
}

// TestAlternateRegistry 注入替代注册表（测试友好性）
func TestAlternateRegistry(t *testing.T) {
	router := NewTopicRouter(NewRegistry(
		[]string{"test"}, []string{"widget"}, []string{"made"},
	))

	if _, err := router.Route("test", "widget", "made"); err != nil {
		t.Fatalf("路由失败: %v", err)
	}
	if _, err := router.Route("order", "order", "paid"); !errors.Is(err, ErrUnknownTopic) {
		t.Errorf("替代注册表未生效: %v", err)
	}
}
