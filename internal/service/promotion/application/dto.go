package application

// DeductStockRequest 是扣减接口的请求体。
type DeductStockRequest struct {
	PromotionID int64  `json:"promotion_id"`
	SkuID       int64  `json:"sku_id"`
	UserID      int64  `json:"user_id"`
	OrderSn     string `json:"order_sn"`
	Quantity    int    `json:"quantity"`
}

// DeductBatchRequest 是批量扣减（一张订单多个 SKU）的请求体。
type DeductBatchRequest struct {
	Items []DeductStockRequest `json:"items"`
}

// RecoverStockRequest 是手动补偿接口的请求体。
type RecoverStockRequest struct {
	OrderSn string `json:"order_sn"`
}

// FlashSaleSkuVO 是场次接口里单个 SKU 的视图。
type FlashSaleSkuVO struct {
	SkuID          int64   `json:"sku_id"`
	ProductID      int64   `json:"product_id"`
	OriginalPrice  float64 `json:"original_price"`
	FlashSalePrice float64 `json:"flash_sale_price"`
	RemainingStock int64   `json:"remaining_stock"`
	LimitPerUser   int     `json:"limit_per_user"`
	SoldCount      int     `json:"sold_count"`
}

// FlashSaleSessionVO 是当前特卖场次的视图。
type FlashSaleSessionVO struct {
	PromotionID   int64            `json:"promotion_id"`
	Name          string           `json:"name"`
	Status        string           `json:"status"` // running / upcoming
	StartTime     int64            `json:"start_time"`
	EndTime       int64            `json:"end_time"`
	CountdownSecs int64            `json:"countdown_secs"`
	Skus          []FlashSaleSkuVO `json:"skus"`
}
