package event

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Envelope 事件信封（领域模型）
//
// 教学要点：
// 1. EventID全局唯一（UUID），是幂等去重的唯一依据
//
//  2. CorrelationID串起同一业务流程的所有事件，
//     CausationID指向直接引起本事件的事件，构成因果链
//
//  3. 信封构造后只读：处理器不得修改传入的信封，
//     衍生场景（死信安置、重放）一律生成副本——
//     Metadata/Data是map，副本必须深拷贝，否则只读承诺是假的
type Envelope struct {
	// 事件ID（全局唯一）
	EventID string `json:"event_id"`

	// 事件类型，格式：domain.entity.action
	EventType string `json:"event_type"`

	// 业务载荷（每种event_type隐含一个schema，见payloads.go）
	Data map[string]any `json:"data"`

	// 载荷schema版本
	Version int `json:"version"`

	// 事件时间（UTC）
	Timestamp time.Time `json:"timestamp"`

	// 业务流程关联ID
	CorrelationID string `json:"correlation_id,omitempty"`

	// 因果链：引起本事件的事件ID
	CausationID string `json:"causation_id,omitempty"`

	// 自由元数据（死信原因、重试计数等）
	Metadata map[string]string `json:"metadata,omitempty"`
}

// 死信/重放元数据Key
const (
	MetaFailureReason = "failure_reason"
	MetaOriginalTopic = "original_topic"
	MetaRetryCount    = "retry_count"
	MetaReplayOf      = "replay_of"
)

// Option 信封构造选项
type Option func(*Envelope)

// WithEventID 指定事件ID（默认自动生成UUID）
func WithEventID(id string) Option {
	return func(e *Envelope) { e.EventID = id }
}

// WithCorrelationID 指定业务流程关联ID
func WithCorrelationID(id string) Option {
	return func(e *Envelope) { e.CorrelationID = id }
}

// WithCausationID 指定因果事件ID
func WithCausationID(id string) Option {
	return func(e *Envelope) { e.CausationID = id }
}

// WithVersion 指定载荷schema版本
func WithVersion(v int) Option {
	return func(e *Envelope) { e.Version = v }
}

// WithMetadata 追加一条元数据
func WithMetadata(key, value string) Option {
	return func(e *Envelope) { e.Metadata[key] = value }
}

// NewEnvelope 创建事件信封
// EventID缺省时自动生成；时间统一UTC
func NewEnvelope(eventType string, data map[string]any, opts ...Option) *Envelope {
	e := &Envelope{
		EventType: eventType,
		Data:      data,
		Version:   1,
		Timestamp: time.Now().UTC(),
		Metadata:  make(map[string]string),
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.EventID == "" {
		e.EventID = uuid.NewString()
	}

	return e
}

// Marshal 序列化信封
func (e *Envelope) Marshal() ([]byte, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("序列化事件信封失败: %w", err)
	}
	return body, nil
}

// Unmarshal 反序列化信封
func Unmarshal(body []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(body, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}

	if e.EventID == "" || e.EventType == "" {
		return nil, ErrMalformedEnvelope
	}

	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}

	return &e, nil
}

// DeadLetter 生成死信副本
// 保留原EventID（同一事件，只是被安置），追加失败原因与原topic。
// 重试计数首次安置时种子为0；重放后再次失败的事件保留已有计数，
// 否则死信重放的重试上限形同虚设
func (e *Envelope) DeadLetter(reason, originalTopic string) *Envelope {
	clone := e.clone()
	clone.Metadata[MetaFailureReason] = reason
	clone.Metadata[MetaOriginalTopic] = originalTopic
	if _, ok := clone.Metadata[MetaRetryCount]; !ok {
		clone.Metadata[MetaRetryCount] = "0"
	}
	return clone
}

// DeriveReplay 生成重放副本
// 新EventID，CausationID指向原事件，时间取重放时刻
func (e *Envelope) DeriveReplay() *Envelope {
	clone := e.clone()
	clone.EventID = uuid.NewString()
	clone.CausationID = e.EventID
	clone.Timestamp = time.Now().UTC()
	clone.Metadata[MetaReplayOf] = e.EventID
	return clone
}

// RetryCount 读取死信重试计数（缺失或非法视为0）
func (e *Envelope) RetryCount() int {
	raw, ok := e.Metadata[MetaRetryCount]
	if !ok {
		return 0
	}

	count, err := strconv.Atoi(raw)
	if err != nil || count < 0 {
		return 0
	}
	return count
}

// IncrementRetry 生成重试计数+1的副本（死信重放时使用）
func (e *Envelope) IncrementRetry() *Envelope {
	clone := e.clone()
	clone.Metadata[MetaRetryCount] = strconv.Itoa(e.RetryCount() + 1)
	return clone
}

// clone 深拷贝信封（Data和Metadata的map也必须拷贝）
func (e *Envelope) clone() *Envelope {
	clone := *e

	clone.Metadata = make(map[string]string, len(e.Metadata)+3)
	for k, v := range e.Metadata {
		clone.Metadata[k] = v
	}

	if e.Data != nil {
		clone.Data = make(map[string]any, len(e.Data))
		for k, v := range e.Data {
			clone.Data[k] = v
		}
	}

	return &clone
}
