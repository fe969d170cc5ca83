package inventory

import "errors"

// 领域错误定义
//
// 教学要点：错误按调用方的处理策略分类
// - 业务规则错误（库存不足/售罄）：不自动重试，直接反馈给用户
// - 参数错误：编程/调用错误，立即失败
// - 锁超时属于瞬时竞争，在pkg/lock定义，调用方可退避重试

var (
	// 参数错误
	ErrInvalidVariantID  = errors.New("无效的SKU变体ID")
	ErrInvalidLocationID = errors.New("无效的仓库ID")
	ErrInvalidQuantity   = errors.New("无效的变更数量")
	ErrNegativeStock     = errors.New("在库数量不能为负数")
	ErrNegativeReserved  = errors.New("预留数量不能为负数")

	// 业务错误
	ErrInsufficientStock    = errors.New("库存不足")
	ErrOutOfStock           = errors.New("商品已售罄")
	ErrInsufficientReserved = errors.New("预留库存不足")
	ErrInventoryNotFound    = errors.New("库存记录不存在")
	ErrInventoryExists      = errors.New("库存记录已存在")
	ErrDiscontinued         = errors.New("商品已停售")
)
