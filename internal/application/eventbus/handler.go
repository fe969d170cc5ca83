package eventbus

import (
	"context"

	"github.com/zhwei/shopcore/internal/domain/event"
)

// Handler 事件处理器
//
// 教学要点：Idempotent()是能力声明——处理器承诺同一事件
// 重复处理产生与处理一次相同的终态。幂等门只能保证"已记录
// 的事件不再分发"，崩溃窗口内的重投递仍可能让处理器被调用
// 第二次，所以非幂等处理器会破坏整个at-most-once契约，
// 注册时直接拒绝（fail fast），调度前再防御性复查一次
type Handler interface {
	// Handle 处理事件；返回error表示本次尝试失败（可重试）
	Handle(ctx context.Context, env *event.Envelope) error

	// Idempotent 声明幂等能力
	Idempotent() bool
}

// HandlerFunc 函数适配器
type HandlerFunc struct {
	fn         func(ctx context.Context, env *event.Envelope) error
	idempotent bool
}

// NewHandlerFunc 用函数构造处理器，幂等能力必须显式声明
func NewHandlerFunc(idempotent bool, fn func(ctx context.Context, env *event.Envelope) error) *HandlerFunc {
	return &HandlerFunc{fn: fn, idempotent: idempotent}
}

func (h *HandlerFunc) Handle(ctx context.Context, env *event.Envelope) error {
	return h.fn(ctx, env)
}

func (h *HandlerFunc) Idempotent() bool {
	return h.idempotent
}
