package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zhwei/shopcore/internal/application/eventbus"
	appinventory "github.com/zhwei/shopcore/internal/application/inventory"
	"github.com/zhwei/shopcore/internal/domain/event"
	"github.com/zhwei/shopcore/internal/infrastructure/config"
	"github.com/zhwei/shopcore/internal/infrastructure/mq"
	"github.com/zhwei/shopcore/internal/infrastructure/persistence/mysql"
	redisstore "github.com/zhwei/shopcore/internal/infrastructure/persistence/redis"
	"github.com/zhwei/shopcore/pkg/lock"
	"github.com/zhwei/shopcore/pkg/metrics"
)

// main 库存/事件核心服务主程序
//
// 教学要点：
// 1. 启动顺序：配置 → 存储 → 锁 → broker → 调度器 → 消费循环
//    依赖在前，使用者在后，任何一步失败立即退出
//
// 2. 降级开关
//   - redis.enabled=false：分布式锁退化为进程内锁，缓存同步关闭
//   - mq.enabled=false：使用进程内broker（本地开发/单机部署）
//     两种模式下数据库行锁都在，核心正确性不变
//
// 3. 优雅关闭
//   - 取消消费循环（当前消息处理到终态后退出）
//   - 关闭指标端点与各连接
func main() {
	// 步骤1：加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	// 步骤2：初始化指标
	metrics.InitMetrics()

	// 步骤3：初始化MySQL连接
	db, err := mysql.NewDB(&cfg.Database)
	if err != nil {
		log.Fatalf("初始化数据库失败: %v", err)
	}

	sqlDB, _ := db.DB()
	defer sqlDB.Close()

	log.Println("✅ 数据库连接成功")

	// 步骤4：初始化分布式锁与可售缓存
	var (
		locker          lock.Locker
		coordinatorOpts []appinventory.Option
	)

	if cfg.Redis.Enabled {
		redisClient, err := redisstore.NewClient(&cfg.Redis)
		if err != nil {
			log.Fatalf("初始化Redis失败: %v", err)
		}
		defer redisClient.Close()

		locker = lock.NewRedisLocker(redisClient, cfg.Lock.WaitTimeout)
		coordinatorOpts = append(coordinatorOpts,
			appinventory.WithAvailabilitySyncer(redisstore.NewAvailabilityStore(redisClient)))
		log.Println("✅ Redis连接成功（分布式锁 + 可售缓存）")
	} else {
		locker = lock.NewLocalLocker(cfg.Lock.WaitTimeout)
		log.Println("⚠️ Redis未启用，使用进程内锁")
	}

	coordinatorOpts = append(coordinatorOpts,
		appinventory.WithLockTTL(cfg.Lock.TTL),
		appinventory.WithSyncTimeout(cfg.Inventory.SyncTimeout))

	// 步骤5：创建仓储实例
	inventoryRepo := mysql.NewInventoryRepository(db)
	ledgerRepo := mysql.NewLedgerRepository(db)
	processedRepo := mysql.NewProcessedEventRepository(db)
	archiveRepo := mysql.NewEventArchiveRepository(db)

	// 步骤6：初始化broker与发布器（发布一律先过归档层）
	var (
		broker       eventbus.Publisher
		memoryBroker *mq.MemoryBroker
	)

	if cfg.MQ.Enabled {
		amqpBroker, err := mq.NewBroker(cfg.MQ.URL, cfg.MQ.Exchange)
		if err != nil {
			log.Fatalf("初始化RabbitMQ失败: %v", err)
		}
		defer amqpBroker.Close()
		broker = amqpBroker
	} else {
		memoryBroker = mq.NewMemoryBroker()
		broker = memoryBroker
		log.Println("⚠️ RabbitMQ未启用，使用进程内broker")
	}

	publisher := eventbus.NewArchivingPublisher(archiveRepo, broker)

	// 步骤7：创建调度器并注册处理器
	router := event.NewTopicRouter(event.DefaultRegistry())
	store := eventbus.NewCachedStore(processedRepo)
	dispatcher := eventbus.NewDispatcher(router, store, publisher, eventbus.Config{
		MaxAttempts: cfg.Consumer.MaxAttempts,
		BaseBackoff: cfg.Consumer.BaseBackoff,
	})

	coordinator := appinventory.NewCoordinator(inventoryRepo, ledgerRepo, locker, coordinatorOpts...)
	orderHandler := appinventory.NewOrderEventHandler(coordinator)
	for _, eventType := range orderHandler.EventTypes() {
		if err := dispatcher.Register(eventType, orderHandler); err != nil {
			log.Fatalf("注册事件处理器失败: %v", err)
		}
	}

	// 步骤8：按已注册事件类型绑定消费队列
	topics := make([]string, 0, len(dispatcher.EventTypes()))
	for _, eventType := range dispatcher.EventTypes() {
		topic, err := router.RouteEventType(eventType)
		if err != nil {
			log.Fatalf("解析事件topic失败: %v", err)
		}
		topics = append(topics, topic)
	}

	var consumer eventbus.Consumer
	if cfg.MQ.Enabled {
		queueConsumer, err := mq.NewQueueConsumer(cfg.MQ.URL, cfg.MQ.Exchange, cfg.MQ.Queue, topics)
		if err != nil {
			log.Fatalf("初始化消费者失败: %v", err)
		}
		defer queueConsumer.Close()
		consumer = queueConsumer
	} else {
		consumer = memoryBroker.Subscribe(topics...)
	}

	// 步骤9：启动消费循环
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErr := make(chan error, 1)
	go func() {
		log.Printf("🚀 事件消费循环已启动: topics=%v", topics)
		runErr <- dispatcher.Run(ctx, consumer)
	}()

	// 步骤10：暴露Prometheus指标端点
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		Handler: metricsMux,
	}

	go func() {
		log.Printf("📊 指标端点已启动: :%d/metrics", cfg.Server.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("指标端点启动失败: %v", err)
		}
	}()

	// 步骤11：优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Println("📴 收到关闭信号，开始优雅关闭...")
	case err := <-runErr:
		if err != nil {
			log.Printf("⚠️ 消费循环异常退出: %v", err)
		}
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️ 关闭指标端点失败: %v", err)
	}

	log.Println("✅ 服务已安全关闭")
}
