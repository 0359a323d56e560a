package infrastructure

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"mall/internal/pkg/httpclient"
	"mall/internal/service/promotion/domain/port"
)

const (
	productServiceName  = "product-service"
	productVariantsPath = "/variants/by_products"
)

// CatalogHTTPAdapter 是 port.CatalogService 接口的 HTTP 实现。
// 商品服务通过 Nacos 发现，目录同步用它拉取最新规格。
type CatalogHTTPAdapter struct {
	client *httpclient.Client
}

func NewCatalogHTTPAdapter(client *httpclient.Client) *CatalogHTTPAdapter {
	return &CatalogHTTPAdapter{client: client}
}

// variantsResponse 是商品服务的统一响应包装。
type variantsResponse struct {
	Code int                   `json:"code"`
	Data []port.CatalogVariant `json:"data"`
}

func (a *CatalogHTTPAdapter) GetVariantsByProductIDs(ctx context.Context, productIDs []int64) ([]port.CatalogVariant, error) {
	if len(productIDs) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(productIDs))
	for _, id := range productIDs {
		ids = append(ids, strconv.FormatInt(id, 10))
	}
	params := url.Values{}
	params.Set("product_ids", strings.Join(ids, ","))

	var resp variantsResponse
	if err := a.client.GetJSON(ctx, productServiceName, productVariantsPath, params, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch variants from product service: %w", err)
	}
	if resp.Code != 0 {
		return nil, fmt.Errorf("product service returned business code %d", resp.Code)
	}
	return resp.Data, nil
}
