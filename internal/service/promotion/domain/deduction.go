package domain

import "time"

// DeductionRequest 是一次库存扣减（或退回）的输入。
// (OrderSn, SkuID) 是幂等键：同一组合的重复请求不会二次扣减。
type DeductionRequest struct {
	PromotionID int64
	SkuID       int64 // 即商品规格 variant_id
	UserID      int64
	OrderSn     string
	Quantity    int
}

// DeductionLogEntry 记录一次已经成交的扣减，充当幂等台账。
// 退回库存时整行被原子删除，删除成功者获得执行退还的资格。
type DeductionLogEntry struct {
	ID          int64
	PromotionID int64
	SkuID       int64
	UserID      int64
	OrderSn     string
	Quantity    int
	DeductedAt  time.Time
}

// UserQuotaRecord 记录某用户在某场活动某个 SKU 上的累计购买量。
// 行本身在数据库里由行锁串行化，同一用户的并发请求严格排队。
type UserQuotaRecord struct {
	ID             int64
	PromotionID    int64
	SkuID          int64
	UserID         int64
	PurchasedCount int
	UpdatedAt      time.Time
}
