package eventbus

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/zhwei/shopcore/internal/domain/event"
	"github.com/zhwei/shopcore/pkg/metrics"
)

// Source 重放数据源：按创建顺序读取一个topic的历史事件
// 实现方：内存broker（保留全量历史）、MySQL事件归档
type Source interface {
	Read(ctx context.Context, topic string) ([]*event.Envelope, error)
}

// Filter 重放过滤条件（零值字段表示不过滤）
// 过滤顺序：时间范围 → 类型白名单 → 关联ID白名单，
// 事件必须通过所有给定条件才有资格重放
type Filter struct {
	From           time.Time
	To             time.Time
	EventTypes     []string
	CorrelationIDs []string
}

func (f Filter) match(env *event.Envelope) bool {
	if !f.From.IsZero() && env.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && env.Timestamp.After(f.To) {
		return false
	}

	if len(f.EventTypes) > 0 && !contains(f.EventTypes, env.EventType) {
		return false
	}

	if len(f.CorrelationIDs) > 0 && !contains(f.CorrelationIDs, env.CorrelationID) {
		return false
	}

	return true
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// Stats 重放统计
type Stats struct {
	Total            int `json:"total"`              // 数据源内事件总数
	Filtered         int `json:"filtered"`           // 被过滤条件排除
	Replayed         int `json:"replayed"`           // 成功重放（dry-run时为"将会重放"）
	Skipped          int `json:"skipped"`            // 幂等门命中，跳过
	Failed           int `json:"failed"`             // 重放失败（含死信安置）
	MaxRetryExceeded int `json:"max_retry_exceeded"` // 超过重试上限被排除（仅死信重放）
}

// Options 重放选项
type Options struct {
	// TargetTopic 非空时把衍生副本发布到该topic，
	// 而不是在本进程内走处理器路径
	TargetTopic string

	// Filter 过滤条件
	Filter Filter

	// DryRun 只统计，不产生任何副作用
	DryRun bool
}

// Engine 重放引擎
//
// 教学要点：重放之所以可以反复执行，是因为每个事件在分发前
// 都要过同一道幂等门——已成功处理过的事件第二次重放只会被计入
// skipped，副作用不会翻倍
type Engine struct {
	source     Source
	store      Store
	dispatcher *Dispatcher
	publisher  Publisher
}

// NewEngine 创建重放引擎
func NewEngine(source Source, store Store, dispatcher *Dispatcher, publisher Publisher) *Engine {
	return &Engine{
		source:     source,
		store:      store,
		dispatcher: dispatcher,
		publisher:  publisher,
	}
}

// Replay 重放一个topic的历史事件
func (e *Engine) Replay(ctx context.Context, sourceTopic string, opts Options) (*Stats, error) {
	envs, err := e.source.Read(ctx, sourceTopic)
	if err != nil {
		return nil, fmt.Errorf("读取重放源失败: %w", err)
	}

	stats := &Stats{}

	for _, env := range envs {
		stats.Total++

		if !opts.Filter.match(env) {
			stats.Filtered++
			metrics.IncCounterVec(metrics.EventsReplayedTotal, map[string]string{"result": "filtered"})
			continue
		}

		seen, err := e.store.Seen(ctx, env.EventID)
		if err != nil {
			return stats, fmt.Errorf("幂等检查失败: %w", err)
		}
		if seen {
			stats.Skipped++
			metrics.IncCounterVec(metrics.EventsReplayedTotal, map[string]string{"result": "skipped"})
			continue
		}

		if opts.DryRun {
			// 只统计"将会重放"，不动任何状态
			stats.Replayed++
			continue
		}

		if opts.TargetTopic != "" {
			// 重新发布：新EventID + causation指向原事件
			derived := env.DeriveReplay()
			if err := e.publisher.Publish(ctx, opts.TargetTopic, derived); err != nil {
				stats.Failed++
				log.Printf("⚠️ 重放发布失败: event_id=%s err=%v", env.EventID, err)
				metrics.IncCounterVec(metrics.EventsReplayedTotal, map[string]string{"result": "failed"})
				continue
			}

			// 原事件已被重新驱动，落幂等标记：重放跑第二遍时命中
			// 幂等门计入skipped，而不是每跑一次就多发布一份副本。
			// 衍生副本带自己的EventID，下游去重由它自己负责
			if err := e.store.Mark(ctx, env.EventID); err != nil {
				return stats, fmt.Errorf("写入幂等标记失败: %w", err)
			}

			stats.Replayed++
			metrics.IncCounterVec(metrics.EventsReplayedTotal, map[string]string{"result": "replayed"})
			continue
		}

		// 本地分发：走与正常消费完全相同的幂等门+处理器路径
		outcome, err := e.dispatcher.Dispatch(ctx, env)
		switch {
		case err != nil:
			stats.Failed++
			log.Printf("⚠️ 重放分发失败: event_id=%s err=%v", env.EventID, err)
			metrics.IncCounterVec(metrics.EventsReplayedTotal, map[string]string{"result": "failed"})
		case outcome == OutcomeSucceeded:
			stats.Replayed++
			metrics.IncCounterVec(metrics.EventsReplayedTotal, map[string]string{"result": "replayed"})
		case outcome == OutcomeSkipped:
			stats.Skipped++
			metrics.IncCounterVec(metrics.EventsReplayedTotal, map[string]string{"result": "skipped"})
		default:
			// DEAD_LETTERED：重放中的失败同样被安置，计为失败
			stats.Failed++
			metrics.IncCounterVec(metrics.EventsReplayedTotal, map[string]string{"result": "failed"})
		}
	}

	return stats, nil
}

// ReplayDeadLetter 死信重放
//
// 读取死信topic，排除重试计数已达上限的事件（单独计数——
// 死信不会被无限重试），其余重试计数+1后发布到targetTopic。
// 与普通重放不同，这里保留原EventID：重放死信是重试同一个事件
// 而非产生新事件，保留ID才能让幂等门在它终于成功后挡住后续重放
func (e *Engine) ReplayDeadLetter(ctx context.Context, deadLetterTopic, targetTopic string, maxRetryCount int, dryRun bool) (*Stats, error) {
	envs, err := e.source.Read(ctx, deadLetterTopic)
	if err != nil {
		return nil, fmt.Errorf("读取死信topic失败: %w", err)
	}

	stats := &Stats{}

	for _, env := range envs {
		stats.Total++

		if env.RetryCount() >= maxRetryCount {
			stats.MaxRetryExceeded++
			continue
		}

		seen, err := e.store.Seen(ctx, env.EventID)
		if err != nil {
			return stats, fmt.Errorf("幂等检查失败: %w", err)
		}
		if seen {
			stats.Skipped++
			continue
		}

		if dryRun {
			stats.Replayed++
			continue
		}

		derived := env.IncrementRetry()
		if err := e.publisher.Publish(ctx, targetTopic, derived); err != nil {
			stats.Failed++
			log.Printf("⚠️ 死信重放发布失败: event_id=%s err=%v", env.EventID, err)
			continue
		}

		stats.Replayed++
		metrics.IncCounterVec(metrics.EventsReplayedTotal, map[string]string{"result": "replayed"})
	}

	return stats, nil
}
