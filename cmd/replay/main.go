package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/zhwei/shopcore/internal/application/eventbus"
	"github.com/zhwei/shopcore/internal/domain/event"
	"github.com/zhwei/shopcore/internal/infrastructure/config"
	"github.com/zhwei/shopcore/internal/infrastructure/mq"
	"github.com/zhwei/shopcore/internal/infrastructure/persistence/mysql"
)

// main 事件重放运维工具
//
// 从MySQL事件归档读取历史事件并重新发布。两种模式：
//
//	普通重放：  replay -topic order.order.paid -target order.order.paid.replay
//	死信重放：  replay -dead-letter -topic order.order.paid.dead_letter -target order.order.paid
//
// 所有重放都先过幂等门：已成功处理的事件只计入skipped，
// 先用-dry-run预览受影响的数量再实际执行
func main() {
	var (
		topic       = flag.String("topic", "", "重放源topic（必填）")
		target      = flag.String("target", "", "目标topic（必填）")
		deadLetter  = flag.Bool("dead-letter", false, "死信重放模式（检查重试计数上限）")
		dryRun      = flag.Bool("dry-run", false, "只统计，不产生副作用")
		from        = flag.String("from", "", "起始时间（RFC3339，如2026-08-01T00:00:00Z）")
		to          = flag.String("to", "", "截止时间（RFC3339）")
		eventTypes  = flag.String("event-types", "", "事件类型白名单（逗号分隔）")
		correlation = flag.String("correlation-ids", "", "关联ID白名单（逗号分隔）")
	)
	flag.Parse()

	if *topic == "" || *target == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	db, err := mysql.NewDB(&cfg.Database)
	if err != nil {
		log.Fatalf("初始化数据库失败: %v", err)
	}
	sqlDB, _ := db.DB()
	defer sqlDB.Close()

	archiveRepo := mysql.NewEventArchiveRepository(db)
	processedRepo := mysql.NewProcessedEventRepository(db)
	store := eventbus.NewCachedStore(processedRepo)

	// 发布侧：dry-run时不需要broker；实际执行时走归档发布器，
	// 重放产生的副本同样进入归档
	var publisher eventbus.Publisher
	if !*dryRun {
		if !cfg.MQ.Enabled {
			log.Fatal("重放工具需要启用RabbitMQ（mq.enabled=true）")
		}
		broker, err := mq.NewBroker(cfg.MQ.URL, cfg.MQ.Exchange)
		if err != nil {
			log.Fatalf("初始化RabbitMQ失败: %v", err)
		}
		defer broker.Close()
		publisher = eventbus.NewArchivingPublisher(archiveRepo, broker)
	}

	// 重放工具只做重新发布，不在本进程内跑处理器
	router := event.NewTopicRouter(event.DefaultRegistry())
	dispatcher := eventbus.NewDispatcher(router, store, publisher, eventbus.Config{})
	engine := eventbus.NewEngine(archiveRepo, store, dispatcher, publisher)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	var stats *eventbus.Stats
	if *deadLetter {
		stats, err = engine.ReplayDeadLetter(ctx, *topic, *target, cfg.Consumer.DeadLetterRetryCap, *dryRun)
	} else {
		filter, ferr := buildFilter(*from, *to, *eventTypes, *correlation)
		if ferr != nil {
			log.Fatalf("解析过滤条件失败: %v", ferr)
		}
		stats, err = engine.Replay(ctx, *topic, eventbus.Options{
			TargetTopic: *target,
			Filter:      filter,
			DryRun:      *dryRun,
		})
	}
	if err != nil {
		log.Fatalf("重放失败: %v", err)
	}

	mode := "重放"
	if *dryRun {
		mode = "重放预览(dry-run)"
	}
	fmt.Printf("✅ %s完成: total=%d filtered=%d replayed=%d skipped=%d failed=%d max_retry_exceeded=%d\n",
		mode, stats.Total, stats.Filtered, stats.Replayed, stats.Skipped, stats.Failed, stats.MaxRetryExceeded)
}

// buildFilter 解析命令行过滤条件
func buildFilter(from, to, eventTypes, correlation string) (eventbus.Filter, error) {
	var f eventbus.Filter

	if from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return f, fmt.Errorf("无效的from时间: %w", err)
		}
		f.From = t
	}

	if to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			return f, fmt.Errorf("无效的to时间: %w", err)
		}
		f.To = t
	}

	if eventTypes != "" {
		f.EventTypes = strings.Split(eventTypes, ",")
	}
	if correlation != "" {
		f.CorrelationIDs = strings.Split(correlation, ",")
	}

	return f, nil
}
