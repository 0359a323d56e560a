package application

import (
	"context"
	"sync"
	"time"

	"mall/internal/service/promotion/domain"
	"mall/internal/service/promotion/domain/port"
)

// 应用层测试共用的内存假实现。
// 所有假实现都带互斥锁，行为上等价于数据库的原子语句，可以直接用于并发测试。

type fakePromoRepo struct {
	mu      sync.Mutex
	promos  []*domain.FlashSalePromotion
	findErr error
}

func (r *fakePromoRepo) FindRunnable(ctx context.Context, now time.Time) ([]*domain.FlashSalePromotion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return nil, r.findErr
	}
	var out []*domain.FlashSalePromotion
	for _, p := range r.promos {
		if p.Status == domain.PromotionActive && !now.After(p.EndTime) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *fakePromoRepo) FindCurrentOrUpcoming(ctx context.Context, now time.Time) (*domain.FlashSalePromotion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return nil, r.findErr
	}
	var upcoming *domain.FlashSalePromotion
	for _, p := range r.promos {
		if p.IsRunning(now) {
			return p, nil
		}
		if p.IsUpcoming(now) && (upcoming == nil || p.StartTime.Before(upcoming.StartTime)) {
			upcoming = p
		}
	}
	if upcoming != nil {
		return upcoming, nil
	}
	return nil, domain.ErrNoActiveSession
}

type fakeSkuRepo struct {
	mu         sync.Mutex
	skus       map[int64]*domain.FlashSaleSku // 按内部主键
	nextID     int64
	settleErr  error // 注入非库存不足的结算失败
	releaseErr error
}

func newFakeSkuRepo() *fakeSkuRepo {
	return &fakeSkuRepo{skus: make(map[int64]*domain.FlashSaleSku)}
}

func (r *fakeSkuRepo) add(sku *domain.FlashSaleSku) *domain.FlashSaleSku {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	sku.ID = r.nextID
	r.skus[sku.ID] = sku
	return sku
}

func (r *fakeSkuRepo) get(id int64) domain.FlashSaleSku {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.skus[id]
}

func (r *fakeSkuRepo) FindByPromotionAndVariant(ctx context.Context, promotionID, variantID int64) (*domain.FlashSaleSku, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sku := range r.skus {
		if sku.PromotionID == promotionID && sku.VariantID == variantID {
			cp := *sku
			return &cp, nil
		}
	}
	return nil, domain.ErrSkuNotFound
}

func (r *fakeSkuRepo) FindByPromotion(ctx context.Context, promotionID int64) ([]*domain.FlashSaleSku, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.FlashSaleSku
	for _, sku := range r.skus {
		if sku.PromotionID == promotionID {
			cp := *sku
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeSkuRepo) Create(ctx context.Context, sku *domain.FlashSaleSku) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.skus {
		if existing.PromotionID == sku.PromotionID && existing.VariantID == sku.VariantID {
			return nil
		}
	}
	r.nextID++
	sku.ID = r.nextID
	cp := *sku
	r.skus[sku.ID] = &cp
	return nil
}

func (r *fakeSkuRepo) SettleStock(ctx context.Context, skuID int64, qty int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.settleErr != nil {
		return r.settleErr
	}
	sku, ok := r.skus[skuID]
	if !ok || sku.FlashSaleStock < qty {
		return domain.ErrInsufficientStock
	}
	sku.FlashSaleStock -= qty
	sku.SoldCount += qty
	return nil
}

func (r *fakeSkuRepo) ReleaseStock(ctx context.Context, skuID int64, qty int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.releaseErr != nil {
		return false, r.releaseErr
	}
	sku, ok := r.skus[skuID]
	if !ok || sku.SoldCount < qty {
		return false, nil
	}
	sku.SoldCount -= qty
	sku.FlashSaleStock += qty
	return true, nil
}

type fakeLogRepo struct {
	mu        sync.Mutex
	entries   map[int64]*domain.DeductionLogEntry
	nextID    int64
	createErr error
}

func newFakeLogRepo() *fakeLogRepo {
	return &fakeLogRepo{entries: make(map[int64]*domain.DeductionLogEntry)}
}

func (r *fakeLogRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *fakeLogRepo) Exists(ctx context.Context, orderSn string, skuID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.OrderSn == orderSn && e.SkuID == skuID {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeLogRepo) Create(ctx context.Context, entry *domain.DeductionLogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	r.nextID++
	entry.ID = r.nextID
	cp := *entry
	r.entries[entry.ID] = &cp
	return nil
}

func (r *fakeLogRepo) FindByOrderSn(ctx context.Context, orderSn string) ([]*domain.DeductionLogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.DeductionLogEntry
	for _, e := range r.entries {
		if e.OrderSn == orderSn {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeLogRepo) DeleteByID(ctx context.Context, id int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; !ok {
		return false, nil
	}
	delete(r.entries, id)
	return true, nil
}

type quotaKey struct {
	promotionID, skuID, userID int64
}

type fakeQuotaRepo struct {
	mu        sync.Mutex
	purchased map[quotaKey]int
}

func newFakeQuotaRepo() *fakeQuotaRepo {
	return &fakeQuotaRepo{purchased: make(map[quotaKey]int)}
}

func (r *fakeQuotaRepo) get(promotionID, skuID, userID int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.purchased[quotaKey{promotionID, skuID, userID}]
}

func (r *fakeQuotaRepo) CheckAndReserve(ctx context.Context, promotionID, skuID, userID int64, qty, limitPerUser int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := quotaKey{promotionID, skuID, userID}
	if r.purchased[key]+qty > limitPerUser {
		return domain.ErrQuotaExceeded
	}
	r.purchased[key] += qty
	return nil
}

func (r *fakeQuotaRepo) Release(ctx context.Context, promotionID, skuID, userID int64, qty int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := quotaKey{promotionID, skuID, userID}
	r.purchased[key] -= qty
	if r.purchased[key] < 0 {
		r.purchased[key] = 0
	}
	return nil
}

type cacheKey struct {
	promotionID, skuID int64
}

type fakeStockCache struct {
	mu       sync.Mutex
	counters map[cacheKey]int64
	decErr   error // 注入缓存不可达
	probeErr error
}

func newFakeStockCache() *fakeStockCache {
	return &fakeStockCache{counters: make(map[cacheKey]int64)}
}

func (c *fakeStockCache) set(promotionID, skuID, stock int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters[cacheKey{promotionID, skuID}] = stock
}

func (c *fakeStockCache) get(promotionID, skuID int64) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.counters[cacheKey{promotionID, skuID}]
	return v, ok
}

func (c *fakeStockCache) wipe() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters = make(map[cacheKey]int64)
}

func (c *fakeStockCache) TryDecrement(ctx context.Context, promotionID, skuID int64, qty int) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.decErr != nil {
		return 0, c.decErr
	}
	key := cacheKey{promotionID, skuID}
	v, ok := c.counters[key]
	if !ok {
		return 0, port.ErrCacheMiss
	}
	if v < int64(qty) {
		return 0, port.ErrCacheInsufficient
	}
	c.counters[key] = v - int64(qty)
	return c.counters[key], nil
}

func (c *fakeStockCache) Increment(ctx context.Context, promotionID, skuID int64, qty int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters[cacheKey{promotionID, skuID}] += int64(qty)
	return nil
}

func (c *fakeStockCache) Prepare(ctx context.Context, promotionID, skuID int64, stock int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters[cacheKey{promotionID, skuID}] = int64(stock)
	return nil
}

func (c *fakeStockCache) GetStock(ctx context.Context, promotionID, skuID int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.counters[cacheKey{promotionID, skuID}]
	if !ok {
		return 0, port.ErrCacheMiss
	}
	return v, nil
}

func (c *fakeStockCache) HasStockKeys(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.probeErr != nil {
		return false, c.probeErr
	}
	return len(c.counters) > 0, nil
}

type fakeCatalog struct {
	mu       sync.Mutex
	variants []port.CatalogVariant
	err      error
	calls    int
}

func (c *fakeCatalog) GetVariantsByProductIDs(ctx context.Context, productIDs []int64) ([]port.CatalogVariant, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return c.variants, nil
}
