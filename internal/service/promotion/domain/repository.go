package domain

import (
	"context"
	"time"
)

// PromotionRepository 提供特卖活动的只读访问。
type PromotionRepository interface {
	// FindRunnable 返回已启用且尚未结束的活动（含未开始的），用于预热和对账。
	FindRunnable(ctx context.Context, now time.Time) ([]*FlashSalePromotion, error)

	// FindCurrentOrUpcoming 返回进行中的活动；没有时返回最近一场未开始的活动。
	// 两者都没有时返回 ErrNoActiveSession。
	FindCurrentOrUpcoming(ctx context.Context, now time.Time) (*FlashSalePromotion, error)
}

// SkuRepository 是权威库存台账的访问接口。
// 所有库存变更都必须是带守卫条件的单条原子语句。
type SkuRepository interface {
	FindByPromotionAndVariant(ctx context.Context, promotionID, variantID int64) (*FlashSaleSku, error)
	FindByPromotion(ctx context.Context, promotionID int64) ([]*FlashSaleSku, error)

	// Create 新增特卖 SKU，(promotion_id, variant_id) 冲突时静默跳过。
	// 只有目录同步会调用。
	Create(ctx context.Context, sku *FlashSaleSku) error

	// SettleStock 执行 remaining -= qty, sold += qty WHERE remaining >= qty。
	// 守卫不满足（0 行受影响）时返回 ErrInsufficientStock。
	SettleStock(ctx context.Context, skuID int64, qty int) error

	// ReleaseStock 执行 remaining += qty, sold -= qty WHERE sold >= qty。
	// 守卫不满足时返回 false（说明没有可退的销量），不报错。
	ReleaseStock(ctx context.Context, skuID int64, qty int) (bool, error)
}

// DeductionLogRepository 维护幂等台账。
type DeductionLogRepository interface {
	// Exists 判断 (orderSn, skuID) 是否已经扣减过。
	Exists(ctx context.Context, orderSn string, skuID int64) (bool, error)

	Create(ctx context.Context, entry *DeductionLogEntry) error

	FindByOrderSn(ctx context.Context, orderSn string) ([]*DeductionLogEntry, error)

	// DeleteByID 原子删除一条扣减记录，返回是否真的删掉了。
	// 并发退回时只有删除成功的一方有资格继续执行补偿。
	DeleteByID(ctx context.Context, id int64) (bool, error)
}

// QuotaRepository 负责每人限购的检查与登记。
type QuotaRepository interface {
	// CheckAndReserve 在一个行锁临界区内完成「读已购量 → 校验 → 累加」。
	// 超限返回 ErrQuotaExceeded，且不产生任何变更。
	CheckAndReserve(ctx context.Context, promotionID, skuID, userID int64, qty, limitPerUser int) error

	// Release 回退已购量，下限为零。扣减失败补偿和订单取消都会走这里。
	Release(ctx context.Context, promotionID, skuID, userID int64, qty int) error
}
