package event

import (
	"fmt"
	"strings"
)

// 派生topic后缀
const (
	DeadLetterSuffix = ".dead_letter"
	ReplaySuffix     = ".replay"
)

// Registry 主题注册表（不可变配置对象）
//
// 教学要点：
// 1. 闭集校验：domain/entity/action必须在注册表内，
//    防止手误拼错的topic悄悄割裂事件流
//
//  2. 显式构造后注入路由器与调度器，替代进程级可变全局注册表——
//     隐式初始化顺序是一类隐蔽bug的来源，注入式注册表也便于
//     测试时换用替代配置
type Registry struct {
	domains  map[string]struct{}
	entities map[string]struct{}
	actions  map[string]struct{}
}

// NewRegistry 构造注册表
func NewRegistry(domains, entities, actions []string) *Registry {
	r := &Registry{
		domains:  make(map[string]struct{}, len(domains)),
		entities: make(map[string]struct{}, len(entities)),
		actions:  make(map[string]struct{}, len(actions)),
	}

	for _, d := range domains {
		r.domains[d] = struct{}{}
	}
	for _, e := range entities {
		r.entities[e] = struct{}{}
	}
	for _, a := range actions {
		r.actions[a] = struct{}{}
	}

	return r
}

// DefaultRegistry 默认注册表（电商域的已知domain/entity/action闭集）
func DefaultRegistry() *Registry {
	return NewRegistry(
		[]string{"order", "inventory", "payment", "notification", "customer"},
		[]string{"order", "stock", "payment", "email", "account"},
		[]string{"created", "paid", "cancelled", "refunded", "adjusted", "reserved", "released", "low_stock", "sent"},
	)
}

// TopicRouter 主题路由器（纯映射，无可变状态）
// topic名 = "{domain}.{entity}.{action}"，
// 死信与重放topic由主topic确定性派生
type TopicRouter struct {
	registry *Registry
}

// NewTopicRouter 创建主题路由器
func NewTopicRouter(registry *Registry) *TopicRouter {
	return &TopicRouter{registry: registry}
}

// Route 根据(domain, entity, action)计算topic名
func (r *TopicRouter) Route(domain, entity, action string) (string, error) {
	if _, ok := r.registry.domains[domain]; !ok {
		return "", fmt.Errorf("%w: 未知domain %q", ErrUnknownTopic, domain)
	}
	if _, ok := r.registry.entities[entity]; !ok {
		return "", fmt.Errorf("%w: 未知entity %q", ErrUnknownTopic, entity)
	}
	if _, ok := r.registry.actions[action]; !ok {
		return "", fmt.Errorf("%w: 未知action %q", ErrUnknownTopic, action)
	}

	return domain + "." + entity + "." + action, nil
}

// RouteEventType 校验并路由"domain.entity.action"格式的事件类型
func (r *TopicRouter) RouteEventType(eventType string) (string, error) {
	parts := strings.Split(eventType, ".")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidEventType, eventType)
	}

	return r.Route(parts[0], parts[1], parts[2])
}

// DeadLetterTopic 派生死信topic名
func (r *TopicRouter) DeadLetterTopic(topic string) string {
	return topic + DeadLetterSuffix
}

// ReplayTopic 派生重放topic名
func (r *TopicRouter) ReplayTopic(topic string) string {
	return topic + ReplaySuffix
}
