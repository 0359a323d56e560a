package infrastructure

import (
	"time"
)

// FlashSalePromotionModel 对应数据库中的 flash_sale_promotion 表
type FlashSalePromotionModel struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	Name      string    `gorm:"column:name"`
	StartTime time.Time `gorm:"column:start_time"`
	EndTime   time.Time `gorm:"column:end_time"`
	Status    int       `gorm:"column:status;type:tinyint;default:0"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName 指定 GORM 应该使用的表名
func (FlashSalePromotionModel) TableName() string {
	return "flash_sale_promotion"
}

// FlashSaleSkuModel 对应数据库中的 flash_sale_sku 表。
// 库存字段只通过带守卫条件的 UPDATE 修改，模型上不做任何业务计算。
type FlashSaleSkuModel struct {
	ID             int64     `gorm:"column:id;primaryKey;autoIncrement"`
	PromotionID    int64     `gorm:"column:promotion_id;uniqueIndex:uk_promo_variant"`
	ProductID      int64     `gorm:"column:product_id;index"`
	VariantID      int64     `gorm:"column:variant_id;uniqueIndex:uk_promo_variant"`
	OriginalPrice  float64   `gorm:"column:original_price;type:decimal(10,2)"`
	FlashSalePrice float64   `gorm:"column:flash_sale_price;type:decimal(10,2)"`
	FlashSaleLimit int       `gorm:"column:flash_sale_limit"`
	FlashSaleStock int       `gorm:"column:flash_sale_stock"`
	LimitPerUser   int       `gorm:"column:limit_per_user"`
	SoldCount      int       `gorm:"column:sold_count;default:0"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (FlashSaleSkuModel) TableName() string {
	return "flash_sale_sku"
}

// FlashSaleLogModel 对应数据库中的 flash_sale_log 表。
// (order_sn, sku_id) 唯一索引就是幂等键；退还时整行被物理删除。
type FlashSaleLogModel struct {
	ID          int64     `gorm:"column:id;primaryKey;autoIncrement"`
	PromotionID int64     `gorm:"column:promotion_id"`
	SkuID       int64     `gorm:"column:sku_id;uniqueIndex:uk_order_sku"`
	UserID      int64     `gorm:"column:user_id;index"`
	OrderSn     string    `gorm:"column:order_sn;size:64;uniqueIndex:uk_order_sku;index"`
	Quantity    int       `gorm:"column:quantity"`
	DeductedAt  time.Time `gorm:"column:deducted_at"`
}

func (FlashSaleLogModel) TableName() string {
	return "flash_sale_log"
}

// FlashSaleUserQuotaModel 对应数据库中的 flash_sale_user_quota 表。
// 一行一个 (活动, SKU, 用户)，SELECT ... FOR UPDATE 把同一用户串行化。
type FlashSaleUserQuotaModel struct {
	ID             int64     `gorm:"column:id;primaryKey;autoIncrement"`
	PromotionID    int64     `gorm:"column:promotion_id;uniqueIndex:uk_promo_sku_user"`
	SkuID          int64     `gorm:"column:sku_id;uniqueIndex:uk_promo_sku_user"`
	UserID         int64     `gorm:"column:user_id;uniqueIndex:uk_promo_sku_user"`
	PurchasedCount int       `gorm:"column:purchased_count;default:0"`
	UpdatedAt      time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (FlashSaleUserQuotaModel) TableName() string {
	return "flash_sale_user_quota"
}
