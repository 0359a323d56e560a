package domain

import "time"

// PromotionStatus 定义了特卖活动的生命周期状态。
// 状态只是管理侧的标记，真正的开闭判断以活动的起止时间为准。
type PromotionStatus int

const (
	PromotionDisabled PromotionStatus = 0 // 已停用
	PromotionActive   PromotionStatus = 1 // 进行中（管理侧启用）
	PromotionExpired  PromotionStatus = 2 // 已结束
)

// FlashSalePromotion 代表一场限时特卖活动。
// 对库存核心来说它是只读的：创建和编辑由管理后台负责。
type FlashSalePromotion struct {
	ID        int64
	Name      string
	StartTime time.Time
	EndTime   time.Time
	Status    PromotionStatus
}

// IsRunning 判断活动在给定时刻是否正在进行。
// 必须同时满足：管理侧启用 + 当前时间落在窗口内。
func (p *FlashSalePromotion) IsRunning(now time.Time) bool {
	return p.Status == PromotionActive &&
		!now.Before(p.StartTime) &&
		!now.After(p.EndTime)
}

// IsUpcoming 判断活动是否尚未开始（用于场次预告）。
func (p *FlashSalePromotion) IsUpcoming(now time.Time) bool {
	return p.Status == PromotionActive && now.Before(p.StartTime)
}

// FlashSaleSku 是某场活动里的一个特卖商品规格。
// 库存字段只允许通过带守卫条件的原子更新修改，禁止先读后写。
type FlashSaleSku struct {
	ID             int64
	PromotionID    int64
	ProductID      int64
	VariantID      int64
	OriginalPrice  float64
	FlashSalePrice float64
	FlashSaleLimit int // 本场总投放量
	FlashSaleStock int // 剩余库存
	LimitPerUser   int // 每人限购；<=0 表示不限购
	SoldCount      int
}

// HasUserLimit 返回该 SKU 是否配置了每人限购。
func (s *FlashSaleSku) HasUserLimit() bool {
	return s.LimitPerUser > 0
}
