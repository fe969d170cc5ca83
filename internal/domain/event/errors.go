package event

import "errors"

var (
	// ErrUnknownTopic 闭集校验失败：domain/entity/action不在注册表内
	// 配置/编程错误，发布时立即失败，绝不悄悄路由到猜测的topic
	ErrUnknownTopic = errors.New("未注册的主题")

	// ErrInvalidEventType 事件类型不满足domain.entity.action格式
	ErrInvalidEventType = errors.New("非法的事件类型格式")

	// ErrMalformedEnvelope 信封反序列化失败或缺少必填字段
	ErrMalformedEnvelope = errors.New("非法的事件信封")
)
