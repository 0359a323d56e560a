package interfaces

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"mall/internal/service/promotion/application"
	"mall/internal/service/promotion/domain"
	"mall/internal/service/promotion/domain/port"
)

// 单 SKU 的内存后端，足够驱动 HTTP 层的状态码和 JSON 行为。
// 并发语义在应用层的测试里覆盖，这里不再重复。

type memBackend struct {
	promo    *domain.FlashSalePromotion
	sku      *domain.FlashSaleSku
	counter  int64
	hasKey   bool
	logs     map[string]*domain.DeductionLogEntry // orderSn -> entry
	nextID   int64
	quota    map[int64]int // userID -> purchased
}

func newMemBackend(stock, limitPerUser int) *memBackend {
	now := time.Now()
	return &memBackend{
		promo: &domain.FlashSalePromotion{
			ID:        1,
			Name:      "lunch rush sale",
			StartTime: now.Add(-time.Hour),
			EndTime:   now.Add(time.Hour),
			Status:    domain.PromotionActive,
		},
		sku: &domain.FlashSaleSku{
			ID:             1,
			PromotionID:    1,
			ProductID:      11,
			VariantID:      101,
			FlashSaleStock: stock,
			LimitPerUser:   limitPerUser,
		},
		counter: int64(stock),
		hasKey:  true,
		logs:    make(map[string]*domain.DeductionLogEntry),
		quota:   make(map[int64]int),
	}
}

func (b *memBackend) FindRunnable(ctx context.Context, now time.Time) ([]*domain.FlashSalePromotion, error) {
	return []*domain.FlashSalePromotion{b.promo}, nil
}

func (b *memBackend) FindCurrentOrUpcoming(ctx context.Context, now time.Time) (*domain.FlashSalePromotion, error) {
	if b.promo.IsRunning(now) || b.promo.IsUpcoming(now) {
		return b.promo, nil
	}
	return nil, domain.ErrNoActiveSession
}

func (b *memBackend) FindByPromotionAndVariant(ctx context.Context, promotionID, variantID int64) (*domain.FlashSaleSku, error) {
	if promotionID == b.sku.PromotionID && variantID == b.sku.VariantID {
		cp := *b.sku
		return &cp, nil
	}
	return nil, domain.ErrSkuNotFound
}

func (b *memBackend) FindByPromotion(ctx context.Context, promotionID int64) ([]*domain.FlashSaleSku, error) {
	cp := *b.sku
	return []*domain.FlashSaleSku{&cp}, nil
}

func (b *memBackend) Create(ctx context.Context, sku *domain.FlashSaleSku) error { return nil }

func (b *memBackend) SettleStock(ctx context.Context, skuID int64, qty int) error {
	if b.sku.FlashSaleStock < qty {
		return domain.ErrInsufficientStock
	}
	b.sku.FlashSaleStock -= qty
	b.sku.SoldCount += qty
	return nil
}

func (b *memBackend) ReleaseStock(ctx context.Context, skuID int64, qty int) (bool, error) {
	if b.sku.SoldCount < qty {
		return false, nil
	}
	b.sku.SoldCount -= qty
	b.sku.FlashSaleStock += qty
	return true, nil
}

func (b *memBackend) Exists(ctx context.Context, orderSn string, skuID int64) (bool, error) {
	_, ok := b.logs[orderSn]
	return ok, nil
}

func (b *memBackend) CreateLog(ctx context.Context, entry *domain.DeductionLogEntry) error {
	b.nextID++
	entry.ID = b.nextID
	cp := *entry
	b.logs[entry.OrderSn] = &cp
	return nil
}

func (b *memBackend) FindByOrderSn(ctx context.Context, orderSn string) ([]*domain.DeductionLogEntry, error) {
	if e, ok := b.logs[orderSn]; ok {
		cp := *e
		return []*domain.DeductionLogEntry{&cp}, nil
	}
	return nil, nil
}

func (b *memBackend) DeleteByID(ctx context.Context, id int64) (bool, error) {
	for sn, e := range b.logs {
		if e.ID == id {
			delete(b.logs, sn)
			return true, nil
		}
	}
	return false, nil
}

func (b *memBackend) CheckAndReserve(ctx context.Context, promotionID, skuID, userID int64, qty, limitPerUser int) error {
	if b.quota[userID]+qty > limitPerUser {
		return domain.ErrQuotaExceeded
	}
	b.quota[userID] += qty
	return nil
}

func (b *memBackend) Release(ctx context.Context, promotionID, skuID, userID int64, qty int) error {
	b.quota[userID] -= qty
	if b.quota[userID] < 0 {
		b.quota[userID] = 0
	}
	return nil
}

func (b *memBackend) TryDecrement(ctx context.Context, promotionID, skuID int64, qty int) (int64, error) {
	if !b.hasKey {
		return 0, port.ErrCacheMiss
	}
	if b.counter < int64(qty) {
		return 0, port.ErrCacheInsufficient
	}
	b.counter -= int64(qty)
	return b.counter, nil
}

func (b *memBackend) Increment(ctx context.Context, promotionID, skuID int64, qty int) error {
	b.counter += int64(qty)
	return nil
}

func (b *memBackend) Prepare(ctx context.Context, promotionID, skuID int64, stock int) error {
	b.counter = int64(stock)
	b.hasKey = true
	return nil
}

func (b *memBackend) GetStock(ctx context.Context, promotionID, skuID int64) (int64, error) {
	if !b.hasKey {
		return 0, port.ErrCacheMiss
	}
	return b.counter, nil
}

func (b *memBackend) HasStockKeys(ctx context.Context) (bool, error) {
	return b.hasKey, nil
}

// logAdapter 把 memBackend 的两个同名方法拆开，满足台账接口。
type logAdapter struct{ *memBackend }

func (a logAdapter) Create(ctx context.Context, entry *domain.DeductionLogEntry) error {
	return a.CreateLog(ctx, entry)
}

func newTestMux(stock, limitPerUser int) (*http.ServeMux, *memBackend) {
	backend := newMemBackend(stock, limitPerUser)
	svc := application.NewStockService(
		backend, backend, logAdapter{backend}, backend, backend, nil,
		noop.NewTracerProvider().Tracer("test"))
	mux := http.NewServeMux()
	NewFlashSaleHandler(svc).RegisterRoutes(mux)
	return mux, backend
}

func postJSON(t *testing.T, mux *http.ServeMux, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func deductBody(orderSn string, userID int64, qty int) application.DeductStockRequest {
	return application.DeductStockRequest{
		PromotionID: 1,
		SkuID:       101,
		UserID:      userID,
		OrderSn:     orderSn,
		Quantity:    qty,
	}
}

func TestHandleDeduct_OK(t *testing.T) {
	mux, backend := newTestMux(10, 2)

	rec := postJSON(t, mux, "/flash_sale/deduct", deductBody("order-1", 7, 1))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())
	assert.Equal(t, 9, backend.sku.FlashSaleStock)
}

func TestHandleDeduct_BadBody(t *testing.T) {
	mux, _ := newTestMux(10, 2)

	req := httptest.NewRequest(http.MethodPost, "/flash_sale/deduct", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleDeduct_StatusMapping(t *testing.T) {
	t.Run("insufficient stock is 409", func(t *testing.T) {
		mux, _ := newTestMux(0, 0)
		rec := postJSON(t, mux, "/flash_sale/deduct", deductBody("order-1", 7, 1))
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("quota exceeded is 403", func(t *testing.T) {
		mux, _ := newTestMux(10, 1)
		postJSON(t, mux, "/flash_sale/deduct", deductBody("order-1", 7, 1))
		rec := postJSON(t, mux, "/flash_sale/deduct", deductBody("order-2", 7, 1))
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("unknown sku is 404", func(t *testing.T) {
		mux, _ := newTestMux(10, 2)
		body := deductBody("order-1", 7, 1)
		body.SkuID = 999
		rec := postJSON(t, mux, "/flash_sale/deduct", body)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("drift fails closed with 503", func(t *testing.T) {
		mux, backend := newTestMux(0, 0)
		// 缓存声称还有货而台账已经清零
		backend.counter = 5
		rec := postJSON(t, mux, "/flash_sale/deduct", deductBody("order-1", 7, 1))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestHandleDeduct_ReplayReturnsOK(t *testing.T) {
	mux, backend := newTestMux(10, 2)

	first := postJSON(t, mux, "/flash_sale/deduct", deductBody("order-1", 7, 1))
	second := postJSON(t, mux, "/flash_sale/deduct", deductBody("order-1", 7, 1))

	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, http.StatusOK, second.Code, "replays report the prior success")
	assert.Equal(t, 9, backend.sku.FlashSaleStock)
}

func TestHandleDeductBatch(t *testing.T) {
	mux, backend := newTestMux(10, 0)

	rec := postJSON(t, mux, "/flash_sale/deduct_batch", application.DeductBatchRequest{
		Items: []application.DeductStockRequest{deductBody("order-1", 7, 2)},
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 8, backend.sku.FlashSaleStock)
}

func TestHandleCurrentSession(t *testing.T) {
	mux, _ := newTestMux(10, 2)

	req := httptest.NewRequest(http.MethodGet, "/flash_sale/current_session", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var vo application.FlashSaleSessionVO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &vo))
	assert.Equal(t, "running", vo.Status)
	require.Len(t, vo.Skus, 1)
	assert.Equal(t, int64(10), vo.Skus[0].RemainingStock)
}

func TestHandleCurrentSession_NoSession(t *testing.T) {
	mux, backend := newTestMux(10, 2)
	backend.promo.Status = domain.PromotionDisabled

	req := httptest.NewRequest(http.MethodGet, "/flash_sale/current_session", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleRecoverStock(t *testing.T) {
	mux, backend := newTestMux(10, 2)
	postJSON(t, mux, "/flash_sale/deduct", deductBody("order-1", 7, 1))

	rec := postJSON(t, mux, "/flash_sale/recover_stock", application.RecoverStockRequest{OrderSn: "order-1"})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 10, backend.sku.FlashSaleStock)
}

func TestHandleRecoverStock_EmptyOrderSn(t *testing.T) {
	mux, _ := newTestMux(10, 2)

	rec := postJSON(t, mux, "/flash_sale/recover_stock", application.RecoverStockRequest{})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleSyncStock(t *testing.T) {
	mux, backend := newTestMux(10, 2)
	backend.hasKey = false
	backend.counter = 0

	rec := postJSON(t, mux, "/flash_sale/sync_stock", struct{}{})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, backend.hasKey)
	assert.Equal(t, int64(10), backend.counter)
}
