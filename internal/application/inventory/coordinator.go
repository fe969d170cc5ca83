package inventory

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/zhwei/shopcore/internal/domain/inventory"
	"github.com/zhwei/shopcore/pkg/circuitbreaker"
	apperrors "github.com/zhwei/shopcore/pkg/errors"
	"github.com/zhwei/shopcore/pkg/lock"
	"github.com/zhwei/shopcore/pkg/metrics"
)

// AvailabilitySyncer 可售库存缓存同步接口（Redis实现）
// 同步失败只影响读缓存新鲜度，不影响数据库事实，所以是异步尽力而为
type AvailabilitySyncer interface {
	SetAvailable(ctx context.Context, variantID, locationID uint, available int) error
}

// Coordinator 库存协调器
//
// 所有库存数量变更的唯一入口。并发控制分两层：
//
//	第一层：分布式锁（粒度=SKU变体），跨服务器串行化同一变体的调整，
//	        把锁竞争挡在数据库连接池之外
//	第二层：数据库行锁（SELECT ... FOR UPDATE），事务内锁定目标行，
//	        基于锁定后的最新值校验与变更
//
// 教学要点：
// 1. 行锁才是正确性的底线。分布式锁挂了可以降级（熔断器包住，
//    快速失败转行锁模式），行锁绝不能省
// 2. 锁竞争超时（ErrLockTimeout）是瞬时状态，原样返回给调用方
//    退避重试，不喂给熔断器——竞争激烈不等于服务故障
// 3. 变更函数拿到的是锁内最新记录，锁外读到的快照只做展示
type Coordinator struct {
	repo         inventory.Repository
	logs         inventory.LogRepository
	locker       lock.Locker
	breaker      *circuitbreaker.CircuitBreaker
	availability AvailabilitySyncer
	lockTTL      time.Duration
	syncTimeout  time.Duration
}

// Option 协调器可选配置
type Option func(*Coordinator)

// WithAvailabilitySyncer 启用可售库存缓存异步同步
func WithAvailabilitySyncer(s AvailabilitySyncer) Option {
	return func(c *Coordinator) { c.availability = s }
}

// WithLockTTL 指定分布式锁自动过期时间（默认10s）
func WithLockTTL(ttl time.Duration) Option {
	return func(c *Coordinator) { c.lockTTL = ttl }
}

// WithSyncTimeout 指定缓存同步超时（默认3s）
func WithSyncTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.syncTimeout = d }
}

// NewCoordinator 创建库存协调器
// locker为nil时直接走行锁模式（单机部署无需Redis）
func NewCoordinator(repo inventory.Repository, logs inventory.LogRepository, locker lock.Locker, opts ...Option) *Coordinator {
	c := &Coordinator{
		repo:        repo,
		logs:        logs,
		locker:      locker,
		lockTTL:     10 * time.Second,
		syncTimeout: 3 * time.Second,
	}

	for _, opt := range opts {
		opt(c)
	}

	if locker != nil {
		c.breaker = circuitbreaker.New("inventory-lock", circuitbreaker.Config{
			MaxRequests: 3,
			Timeout:     30 * time.Second,
		})
		c.breaker.SetStateChangeCallback(func(name string, from, to circuitbreaker.State) {
			log.Printf("⚠️ 熔断器状态变化: %s %s -> %s", name, from, to)
		})
	}

	return c
}

// AdjustRequest 库存调整请求
type AdjustRequest struct {
	VariantID  uint             // SKU变体ID（必填）
	LocationID uint             // 仓库ID（0=默认仓库）
	Delta      int              // 有符号变化量（非零）
	Reason     inventory.Reason // 变更原因（必填）
	ActorID    *uint            // 操作人（空=系统操作）
	OrderID    *uint            // 关联订单（可选）
	Remark     string           // 备注
}

func (r *AdjustRequest) normalize() error {
	if r.VariantID == 0 {
		return inventory.ErrInvalidVariantID
	}
	if r.LocationID == 0 {
		r.LocationID = inventory.DefaultLocationID
	}
	if r.Delta == 0 {
		return inventory.ErrInvalidQuantity
	}
	if r.Reason == "" {
		return inventory.ErrInvalidQuantity
	}
	return nil
}

// AvailabilityResult 可售查询结果
type AvailabilityResult struct {
	Available        bool             `json:"available"`         // 请求数量是否可满足
	CurrentAvailable int              `json:"current_available"` // 当前可售数量
	Status           inventory.Status `json:"status"`            // 库存状态
	LowStock         bool             `json:"low_stock"`         // 是否低于告警阈值
}

// lockKey 分布式锁的key
// 粒度=变体级：同一变体所有仓库的调整共享一把锁。比(variant, location)
// 粗一档，换来跨仓库转移时天然无死锁（只需一把锁，无需排序加锁）
func lockKey(variantID uint) string {
	return fmt.Sprintf("inventory:variant:%d", variantID)
}

// acquireLock 经熔断器获取分布式锁
//
// 返回的release在所有路径上都可安全调用。降级路径（锁服务不可用
// 或熔断器打开）返回no-op release，调整落到纯行锁模式继续执行。
//
// 教学要点：锁竞争超时在熔断器看来是"成功调用"——服务好好的，
// 只是别人先拿到了锁。在req内捕获超时、对外返回nil，失败计数
// 只留给真正的服务故障
func (c *Coordinator) acquireLock(ctx context.Context, key string) (func(), error) {
	if c.locker == nil {
		return func() {}, nil
	}

	var (
		held       lock.Lock
		timeoutErr error
	)

	err := c.breaker.Execute(func() error {
		l, err := c.locker.Acquire(ctx, key, c.lockTTL)
		if errors.Is(err, lock.ErrLockTimeout) {
			timeoutErr = err
			return nil
		}
		if err != nil {
			return err
		}
		held = l
		return nil
	})

	if timeoutErr != nil {
		metrics.IncCounter(metrics.LockTimeoutsTotal)
		return nil, timeoutErr
	}

	if err != nil {
		// 锁服务故障或熔断器打开：降级为行锁模式，留痕但不阻断业务
		log.Printf("⚠️ 分布式锁服务不可用，降级为行锁模式: key=%s err=%v", key, err)
		metrics.IncCounter(metrics.LockDegradationsTotal)
		return func() {}, nil
	}

	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := held.Release(releaseCtx); err != nil {
			log.Printf("⚠️ 释放分布式锁失败: key=%s err=%v", key, err)
		}
	}, nil
}

// withVariantLock 在"分布式锁→行锁事务"双层保护下执行变更
func (c *Coordinator) withVariantLock(ctx context.Context, variantID, locationID uint, fn inventory.AdjustFunc) (*inventory.Inventory, error) {
	release, err := c.acquireLock(ctx, lockKey(variantID))
	if err != nil {
		return nil, err
	}
	defer release()

	inv, err := c.repo.AdjustInTx(ctx, variantID, locationID, fn)
	if err != nil {
		return nil, err
	}

	c.scheduleAvailabilitySync(inv)
	return inv, nil
}

// AdjustStock 原子调整在库数量
//
// 完整路径：参数校验 → 分布式锁 → 行锁事务（锁内重读→校验→
// 变更→落流水）→ 提交 → 异步刷新可售缓存
func (c *Coordinator) AdjustStock(ctx context.Context, req AdjustRequest) (*inventory.Inventory, error) {
	start := time.Now()
	defer func() {
		metrics.ObserveHistogram(metrics.StockAdjustDuration, time.Since(start).Seconds())
	}()

	if err := req.normalize(); err != nil {
		c.countAdjust(req.Reason, "error")
		return nil, err
	}

	inv, err := c.withVariantLock(ctx, req.VariantID, req.LocationID, func(inv *inventory.Inventory) (*inventory.AdjustmentLog, error) {
		before := inv.QuantityOnHand
		if err := inv.ApplyDelta(req.Delta); err != nil {
			return nil, err
		}

		return &inventory.AdjustmentLog{
			VariantID:     req.VariantID,
			LocationID:    req.LocationID,
			Reason:        req.Reason,
			QuantityDelta: req.Delta,
			BeforeOnHand:  before,
			AfterOnHand:   inv.QuantityOnHand,
			ActorID:       req.ActorID,
			OrderID:       req.OrderID,
			Remark:        req.Remark,
		}, nil
	})

	if err != nil {
		c.countAdjust(req.Reason, adjustResult(err))
		return nil, err
	}

	c.countAdjust(req.Reason, "success")

	if inv.IsLowStock() {
		log.Printf("⚠️ 低库存告警: variant=%d location=%d available=%d threshold=%d",
			inv.VariantID, inv.LocationID, inv.QuantityAvailable(), inv.LowStockThreshold)
	}

	return inv, nil
}

// CheckAvailability 查询可售库存
// 纯读路径，不加任何锁——结果是瞬时快照，下单时刻以锁内校验为准
func (c *Coordinator) CheckAvailability(ctx context.Context, variantID, locationID uint, quantity int) (*AvailabilityResult, error) {
	if variantID == 0 {
		return nil, inventory.ErrInvalidVariantID
	}
	if locationID == 0 {
		locationID = inventory.DefaultLocationID
	}
	if quantity <= 0 {
		return nil, inventory.ErrInvalidQuantity
	}

	inv, err := c.repo.GetByVariantLocation(ctx, variantID, locationID)
	if err != nil {
		return nil, err
	}

	available := inv.QuantityAvailable()
	return &AvailabilityResult{
		Available:        inv.Status != inventory.StatusDiscontinued && available >= quantity,
		CurrentAvailable: available,
		Status:           inv.Status,
		LowStock:         inv.IsLowStock(),
	}, nil
}

// DecrementForPurchase 订单购买扣减
// 库存不足时映射为面向用户的"已售罄"错误
func (c *Coordinator) DecrementForPurchase(ctx context.Context, variantID, locationID uint, quantity int, orderID uint) (*inventory.Inventory, error) {
	if quantity <= 0 {
		return nil, inventory.ErrInvalidQuantity
	}

	inv, err := c.AdjustStock(ctx, AdjustRequest{
		VariantID:  variantID,
		LocationID: locationID,
		Delta:      -quantity,
		Reason:     inventory.ReasonOrderPurchase,
		OrderID:    &orderID,
	})
	if errors.Is(err, inventory.ErrInsufficientStock) {
		return nil, fmt.Errorf("%w: %v", inventory.ErrOutOfStock, err)
	}
	return inv, err
}

// IncrementForCancellation 订单取消回补
func (c *Coordinator) IncrementForCancellation(ctx context.Context, variantID, locationID uint, quantity int, orderID uint) (*inventory.Inventory, error) {
	if quantity <= 0 {
		return nil, inventory.ErrInvalidQuantity
	}

	return c.AdjustStock(ctx, AdjustRequest{
		VariantID:  variantID,
		LocationID: locationID,
		Delta:      quantity,
		Reason:     inventory.ReasonOrderCancelled,
		OrderID:    &orderID,
	})
}

// Reserve 下单预留（占用可售额度，不动在库数量）
func (c *Coordinator) Reserve(ctx context.Context, variantID, locationID uint, quantity int, orderID uint) (*inventory.Inventory, error) {
	return c.adjustReserved(ctx, variantID, locationID, quantity, orderID, inventory.ReasonOrderReserved)
}

// ReleaseReservation 释放预留（订单超时/取消未支付）
func (c *Coordinator) ReleaseReservation(ctx context.Context, variantID, locationID uint, quantity int, orderID uint) (*inventory.Inventory, error) {
	return c.adjustReserved(ctx, variantID, locationID, -quantity, orderID, inventory.ReasonReservationRelease)
}

func (c *Coordinator) adjustReserved(ctx context.Context, variantID, locationID uint, delta int, orderID uint, reason inventory.Reason) (*inventory.Inventory, error) {
	if variantID == 0 {
		return nil, inventory.ErrInvalidVariantID
	}
	if locationID == 0 {
		locationID = inventory.DefaultLocationID
	}
	if delta == 0 {
		return nil, inventory.ErrInvalidQuantity
	}

	inv, err := c.withVariantLock(ctx, variantID, locationID, func(inv *inventory.Inventory) (*inventory.AdjustmentLog, error) {
		before := inv.QuantityOnHand
		if err := inv.ApplyReservedDelta(delta); err != nil {
			return nil, err
		}

		return &inventory.AdjustmentLog{
			VariantID:     variantID,
			LocationID:    locationID,
			Reason:        reason,
			ReservedDelta: delta,
			BeforeOnHand:  before,
			AfterOnHand:   inv.QuantityOnHand,
			OrderID:       &orderID,
		}, nil
	})

	if err != nil {
		c.countAdjust(reason, adjustResult(err))
		return nil, err
	}

	c.countAdjust(reason, "success")
	return inv, nil
}

// CommitReservation 预留转扣减（支付成功）
// on_hand与reserved同步减少，流水同时记录两个delta
func (c *Coordinator) CommitReservation(ctx context.Context, variantID, locationID uint, quantity int, orderID uint) (*inventory.Inventory, error) {
	if variantID == 0 {
		return nil, inventory.ErrInvalidVariantID
	}
	if locationID == 0 {
		locationID = inventory.DefaultLocationID
	}
	if quantity <= 0 {
		return nil, inventory.ErrInvalidQuantity
	}

	inv, err := c.withVariantLock(ctx, variantID, locationID, func(inv *inventory.Inventory) (*inventory.AdjustmentLog, error) {
		before := inv.QuantityOnHand
		if err := inv.CommitReservation(quantity); err != nil {
			return nil, err
		}

		return &inventory.AdjustmentLog{
			VariantID:     variantID,
			LocationID:    locationID,
			Reason:        inventory.ReasonOrderPurchase,
			QuantityDelta: -quantity,
			ReservedDelta: -quantity,
			BeforeOnHand:  before,
			AfterOnHand:   inv.QuantityOnHand,
			OrderID:       &orderID,
		}, nil
	})

	if err != nil {
		c.countAdjust(inventory.ReasonOrderPurchase, adjustResult(err))
		return nil, err
	}

	c.countAdjust(inventory.ReasonOrderPurchase, "success")
	return inv, nil
}

// BulkResult 批量调整结果
type BulkResult struct {
	UpdatedCount int              `json:"updated_count"`
	Items        []BulkItemResult `json:"items"`
}

// BulkItemResult 批量调整单项结果
type BulkItemResult struct {
	VariantID  uint                `json:"variant_id"`
	LocationID uint                `json:"location_id"`
	Err        *apperrors.AppError `json:"error,omitempty"`
}

// BulkAdjust 批量调整（仓库同步场景）
//
// 教学要点：逐项独立提交而不是一个大事务。一个大事务要按固定顺序
// 锁几百行、全程持锁，任何一项失败全部回滚——同步作业会因为单个
// 脏数据反复整批失败。逐项提交下失败项不阻塞其余项，失败清单
// 返回给调用方补偿
func (c *Coordinator) BulkAdjust(ctx context.Context, reqs []AdjustRequest) *BulkResult {
	result := &BulkResult{Items: make([]BulkItemResult, 0, len(reqs))}

	for _, req := range reqs {
		if req.LocationID == 0 {
			req.LocationID = inventory.DefaultLocationID
		}
		item := BulkItemResult{VariantID: req.VariantID, LocationID: req.LocationID}

		if _, err := c.AdjustStock(ctx, req); err != nil {
			item.Err = c.toAppError(err)
			log.Printf("⚠️ 批量调整单项失败: variant=%d location=%d err=%v",
				req.VariantID, req.LocationID, err)
		} else {
			result.UpdatedCount++
		}

		result.Items = append(result.Items, item)
	}

	return result
}

// InitializeStock 变体首次入库
func (c *Coordinator) InitializeStock(ctx context.Context, variantID, locationID uint, initial, lowStockThreshold int) (*inventory.Inventory, error) {
	if locationID == 0 {
		locationID = inventory.DefaultLocationID
	}

	inv := &inventory.Inventory{
		VariantID:         variantID,
		LocationID:        locationID,
		QuantityOnHand:    initial,
		LowStockThreshold: lowStockThreshold,
		Status:            inventory.StatusActive,
	}
	if inv.QuantityAvailable() <= 0 {
		inv.Status = inventory.StatusOutOfStock
	}

	if err := inv.Validate(); err != nil {
		return nil, err
	}

	if err := c.repo.Create(ctx, inv); err != nil {
		return nil, err
	}

	log.Printf("✅ 库存记录已创建: variant=%d location=%d initial=%d", variantID, locationID, initial)
	c.scheduleAvailabilitySync(inv)
	return inv, nil
}

// ListAdjustments 查询变体的调整流水
func (c *Coordinator) ListAdjustments(ctx context.Context, variantID, locationID uint, page, pageSize int) ([]*inventory.AdjustmentLog, int64, error) {
	if variantID == 0 {
		return nil, 0, inventory.ErrInvalidVariantID
	}
	if locationID == 0 {
		locationID = inventory.DefaultLocationID
	}
	return c.logs.ListByVariant(ctx, variantID, locationID, page, pageSize)
}

// OrderAdjustments 查询订单关联的调整流水
func (c *Coordinator) OrderAdjustments(ctx context.Context, orderID uint) ([]*inventory.AdjustmentLog, error) {
	return c.logs.ListByOrder(ctx, orderID)
}

// scheduleAvailabilitySync 异步刷新可售库存缓存
// 数据库事务已提交，缓存同步失败只记日志，绝不反向影响调整结果
func (c *Coordinator) scheduleAvailabilitySync(inv *inventory.Inventory) {
	if c.availability == nil || inv == nil {
		return
	}

	variantID, locationID, available := inv.VariantID, inv.LocationID, inv.QuantityAvailable()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.syncTimeout)
		defer cancel()

		if err := c.availability.SetAvailable(ctx, variantID, locationID, available); err != nil {
			log.Printf("⚠️ 可售库存缓存同步失败: variant=%d location=%d err=%v", variantID, locationID, err)
		}
	}()
}

// countAdjust 记录调整结果指标
func (c *Coordinator) countAdjust(reason inventory.Reason, result string) {
	metrics.IncCounterVec(metrics.StockAdjustmentsTotal, map[string]string{
		"reason": string(reason),
		"result": result,
	})
}

// adjustResult 把调整失败归类为指标result标签
// 库存/预留不足是业务拒绝，与基础设施错误分开统计，
// 所有调整路径（在库、预留、预留转扣减）共用同一套归类
func adjustResult(err error) string {
	if errors.Is(err, inventory.ErrInsufficientStock) || errors.Is(err, inventory.ErrInsufficientReserved) {
		return "insufficient"
	}
	return "error"
}

// toAppError 把领域错误翻译为带错误码的应用错误
func (c *Coordinator) toAppError(err error) *apperrors.AppError {
	switch {
	case errors.Is(err, lock.ErrLockTimeout):
		return apperrors.WithCode(err, apperrors.ErrCodeLockTimeout, "库存调整竞争超时，请稍后重试")
	case errors.Is(err, inventory.ErrOutOfStock):
		return apperrors.WithCode(err, apperrors.ErrCodeOutOfStock, "商品已售罄")
	case errors.Is(err, inventory.ErrInsufficientStock):
		return apperrors.WithCode(err, apperrors.ErrCodeInsufficientStock, "库存不足")
	case errors.Is(err, inventory.ErrInventoryNotFound):
		return apperrors.WithCode(err, apperrors.ErrCodeInventoryNotFound, "库存记录不存在")
	case errors.Is(err, inventory.ErrInvalidVariantID),
		errors.Is(err, inventory.ErrInvalidLocationID),
		errors.Is(err, inventory.ErrInvalidQuantity):
		return apperrors.WithCode(err, apperrors.ErrCodeInvalidParam, "无效的调整参数")
	default:
		return apperrors.Wrap(err, "库存调整失败")
	}
}
