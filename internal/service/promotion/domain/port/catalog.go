package port

import "context"

// CatalogVariant 是商品服务返回的规格信息（只取库存核心需要的字段）。
type CatalogVariant struct {
	ID        int64   `json:"id"`
	ProductID int64   `json:"product_id"`
	Price     float64 `json:"price"`
}

// CatalogService 是商品目录协作方的出站端口。
// 预热器用它拉取最新规格，把尚未配置进特卖的规格补建成 SKU 行。
type CatalogService interface {
	GetVariantsByProductIDs(ctx context.Context, productIDs []int64) ([]CatalogVariant, error)
}

// NopCatalogService 在没有接入商品服务时使用，永远返回空列表。
type NopCatalogService struct{}

func (NopCatalogService) GetVariantsByProductIDs(ctx context.Context, productIDs []int64) ([]CatalogVariant, error) {
	return nil, nil
}
