package application

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"mall/internal/pkg/logger"
	"mall/internal/pkg/metrics"
	"mall/internal/service/promotion/domain"
	"mall/internal/service/promotion/domain/port"
)

// StockService 是特卖库存核心的应用服务。
// 扣减走「幂等台账 → 限购行锁 → 缓存原子预扣 → 台账条件结算 → 落扣减日志」，
// 任何一步失败都会补偿掉之前的预留，不留半完成状态。
type StockService struct {
	promoRepo domain.PromotionRepository
	skuRepo   domain.SkuRepository
	logRepo   domain.DeductionLogRepository
	quotaRepo domain.QuotaRepository
	cache     port.StockCache
	catalog   port.CatalogService
	tracer    trace.Tracer

	// 对账去重：多个并发的漂移事件只触发一次全量重建
	resyncGroup singleflight.Group
}

// NewStockService 创建库存应用服务实例。
func NewStockService(
	promoRepo domain.PromotionRepository,
	skuRepo domain.SkuRepository,
	logRepo domain.DeductionLogRepository,
	quotaRepo domain.QuotaRepository,
	cache port.StockCache,
	catalog port.CatalogService,
	tracer trace.Tracer,
) *StockService {
	if catalog == nil {
		catalog = port.NopCatalogService{}
	}
	return &StockService{
		promoRepo: promoRepo,
		skuRepo:   skuRepo,
		logRepo:   logRepo,
		quotaRepo: quotaRepo,
		cache:     cache,
		catalog:   catalog,
		tracer:    tracer,
	}
}

// Deduct 执行一次原子库存扣减。
// 各个门槛严格按顺序执行，重复请求（同 orderSn+skuID）是安全的。
func (s *StockService) Deduct(ctx context.Context, req *domain.DeductionRequest) error {
	ctx, span := s.tracer.Start(ctx, "service.DeductStock")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("promotion.id", req.PromotionID),
		attribute.Int64("sku.id", req.SkuID),
		attribute.Int64("user.id", req.UserID),
		attribute.String("order.sn", req.OrderSn),
		attribute.Int("quantity", req.Quantity),
	)

	if req.Quantity <= 0 || req.OrderSn == "" {
		return fmt.Errorf("invalid deduction request: qty=%d orderSn=%q", req.Quantity, req.OrderSn)
	}

	// 1. 幂等检查：同一订单同一 SKU 只扣一次
	exists, err := s.logRepo.Exists(ctx, req.OrderSn, req.SkuID)
	if err != nil {
		return unavailable("check deduction log", err)
	}
	if exists {
		span.AddEvent("duplicate deduction, returning prior outcome")
		logger.Ctx(ctx).Debug().Str("order_sn", req.OrderSn).Msg("deduction already applied, skipping")
		return nil
	}

	// 2. 查询特卖 SKU（拿内部主键和限购配置）
	sku, err := s.skuRepo.FindByPromotionAndVariant(ctx, req.PromotionID, req.SkuID)
	if err != nil {
		if errors.Is(err, domain.ErrSkuNotFound) {
			return err
		}
		return unavailable("load flash sale sku", err)
	}

	// 3. 限购预留：同一用户的并发请求在这里被行锁串行化
	reserved := false
	if sku.HasUserLimit() {
		if err := s.quotaRepo.CheckAndReserve(ctx, req.PromotionID, req.SkuID, req.UserID, req.Quantity, sku.LimitPerUser); err != nil {
			if errors.Is(err, domain.ErrQuotaExceeded) {
				metrics.DeductionTotal.WithLabelValues("quota_exceeded").Inc()
				return err
			}
			return unavailable("reserve user quota", err)
		}
		reserved = true
	}

	// 4. 缓存原子预扣；key 缺失时回退到台账慢路径
	cacheDebited, err := s.decrementAndSettle(ctx, req, sku, reserved)
	if err != nil {
		return err
	}

	// 5. 落扣减日志——这是提交点，写入之后本次扣减对重试幂等
	entry := &domain.DeductionLogEntry{
		PromotionID: req.PromotionID,
		SkuID:       req.SkuID,
		UserID:      req.UserID,
		OrderSn:     req.OrderSn,
		Quantity:    req.Quantity,
		DeductedAt:  time.Now(),
	}
	if err := s.logRepo.Create(ctx, entry); err != nil {
		// 日志写失败：结算和预留全部退回，让调用方安全重试
		s.compensateSettled(ctx, req, sku, reserved, cacheDebited)
		return unavailable("write deduction log", err)
	}

	metrics.DeductionTotal.WithLabelValues("success").Inc()
	logger.Ctx(ctx).Info().
		Str("order_sn", req.OrderSn).
		Int64("sku_id", req.SkuID).
		Int("quantity", req.Quantity).
		Msg("flash sale stock deducted")
	return nil
}

// decrementAndSettle 完成「缓存预扣 + 台账结算」。
// 第一个返回值说明缓存计数是否真的被扣过：只有快路径会扣缓存，
// 慢路径（key 缺失）全程不碰缓存，补偿时也绝不能去回补它——
// INCRBY 会把缺失的 key 凭空造出来，留下一个远小于台账的假计数。
func (s *StockService) decrementAndSettle(ctx context.Context, req *domain.DeductionRequest, sku *domain.FlashSaleSku, reserved bool) (bool, error) {
	remaining, err := s.cache.TryDecrement(ctx, req.PromotionID, req.SkuID, req.Quantity)

	switch {
	case err == nil:
		// 快路径：缓存放行，执行台账条件结算
		if err := s.skuRepo.SettleStock(ctx, sku.ID, req.Quantity); err != nil {
			if errors.Is(err, domain.ErrInsufficientStock) {
				// 缓存说有、台账说没有：出现漂移。
				// 不回补缓存（它本来就超前于台账），触发立即对账，本次请求关闭失败。
				metrics.DriftTotal.Inc()
				metrics.DeductionTotal.WithLabelValues("drift").Inc()
				logger.Ctx(ctx).Error().
					Int64("promotion_id", req.PromotionID).
					Int64("sku_id", req.SkuID).
					Msg("ALERT: cache approved but ledger rejected, scheduling resync")
				s.TriggerResync("drift")
				s.releaseQuota(ctx, req, reserved)
				return false, fmt.Errorf("settle after cache approval: %w", domain.ErrStockDrift)
			}
			// 台账暂时不可用：退回缓存和预留
			s.incrementCache(ctx, req)
			s.releaseQuota(ctx, req, reserved)
			return false, unavailable("settle ledger stock", err)
		}
		metrics.StockLevel.WithLabelValues(
			strconv.FormatInt(req.PromotionID, 10),
			strconv.FormatInt(req.SkuID, 10),
		).Set(float64(remaining))
		return true, nil

	case errors.Is(err, port.ErrCacheInsufficient):
		metrics.DeductionTotal.WithLabelValues("insufficient_stock").Inc()
		s.releaseQuota(ctx, req, reserved)
		return false, domain.ErrInsufficientStock

	case errors.Is(err, port.ErrCacheMiss):
		// 慢路径：缓存未预热，直接在台账上做条件结算。
		// 牺牲一点延迟换正确性；0 行受影响等价于库存不足。
		logger.Ctx(ctx).Warn().
			Int64("promotion_id", req.PromotionID).
			Int64("sku_id", req.SkuID).
			Msg("stock counter missing in cache, falling back to ledger")
		if err := s.skuRepo.SettleStock(ctx, sku.ID, req.Quantity); err != nil {
			s.releaseQuota(ctx, req, reserved)
			if errors.Is(err, domain.ErrInsufficientStock) {
				metrics.DeductionTotal.WithLabelValues("insufficient_stock").Inc()
				return false, err
			}
			return false, unavailable("settle ledger stock (cold path)", err)
		}
		return false, nil

	default:
		// 缓存不可达
		metrics.DeductionTotal.WithLabelValues("error").Inc()
		s.releaseQuota(ctx, req, reserved)
		return false, unavailable("decrement stock counter", err)
	}
}

// compensateSettled 回滚一次已经结算的扣减（日志尚未写入的场景）。
// cacheDebited 为假说明本次走的是慢路径，缓存没扣过，自然也不回补。
func (s *StockService) compensateSettled(ctx context.Context, req *domain.DeductionRequest, sku *domain.FlashSaleSku, reserved, cacheDebited bool) {
	if _, err := s.skuRepo.ReleaseStock(ctx, sku.ID, req.Quantity); err != nil {
		logger.Ctx(ctx).Error().Err(err).
			Int64("sku_id", req.SkuID).
			Msg("failed to release ledger stock during compensation")
	}
	if cacheDebited {
		s.incrementCache(ctx, req)
	}
	s.releaseQuota(ctx, req, reserved)
}

func (s *StockService) incrementCache(ctx context.Context, req *domain.DeductionRequest) {
	if err := s.cache.Increment(ctx, req.PromotionID, req.SkuID, req.Quantity); err != nil {
		logger.Ctx(ctx).Error().Err(err).
			Int64("sku_id", req.SkuID).
			Msg("failed to restore stock counter during compensation")
	}
}

func (s *StockService) releaseQuota(ctx context.Context, req *domain.DeductionRequest, reserved bool) {
	if !reserved {
		return
	}
	if err := s.quotaRepo.Release(ctx, req.PromotionID, req.SkuID, req.UserID, req.Quantity); err != nil {
		logger.Ctx(ctx).Error().Err(err).
			Int64("user_id", req.UserID).
			Int64("sku_id", req.SkuID).
			Msg("failed to release user quota during compensation")
	}
}

// DeductBatch 对一张订单的多行 SKU 做全量成功或全量回退的扣减。
// 按 SKU 排序以避免数据库死锁；任何一行失败，已成交的行会被整单退回。
func (s *StockService) DeductBatch(ctx context.Context, reqs []*domain.DeductionRequest) error {
	ctx, span := s.tracer.Start(ctx, "service.DeductStockBatch")
	defer span.End()

	if len(reqs) == 0 {
		return nil
	}

	sorted := make([]*domain.DeductionRequest, len(reqs))
	copy(sorted, reqs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].SkuID < sorted[j].SkuID })

	var succeeded []*domain.DeductionRequest
	for _, req := range sorted {
		if err := s.Deduct(ctx, req); err != nil {
			logger.Ctx(ctx).Warn().Err(err).
				Str("order_sn", req.OrderSn).
				Msg("batch deduction failed, reversing settled lines")
			for _, done := range succeeded {
				if revErr := s.reverseOne(ctx, done.OrderSn, done.SkuID); revErr != nil {
					logger.Ctx(ctx).Error().Err(revErr).
						Str("order_sn", done.OrderSn).
						Int64("sku_id", done.SkuID).
						Msg("failed to reverse batch line, manual recovery required")
				}
			}
			return err
		}
		succeeded = append(succeeded, req)
	}
	return nil
}

// RecoverStock 把一张已取消订单占用的库存全部退回。
// 事件至少一次投递，重复调用是无害的：退还资格通过原子删除扣减日志来抢占。
func (s *StockService) RecoverStock(ctx context.Context, orderSn string) error {
	ctx, span := s.tracer.Start(ctx, "service.RecoverStock")
	defer span.End()
	span.SetAttributes(attribute.String("order.sn", orderSn))

	entries, err := s.logRepo.FindByOrderSn(ctx, orderSn)
	if err != nil {
		return unavailable("load deduction log", err)
	}
	if len(entries) == 0 {
		span.AddEvent("no deduction log for order, nothing to recover")
		return nil
	}

	var firstErr error
	for _, entry := range entries {
		if err := s.reverseEntry(ctx, entry); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// reverseOne 按 (orderSn, skuID) 退回单行扣减，批量补偿用。
func (s *StockService) reverseOne(ctx context.Context, orderSn string, skuID int64) error {
	entries, err := s.logRepo.FindByOrderSn(ctx, orderSn)
	if err != nil {
		return unavailable("load deduction log", err)
	}
	for _, entry := range entries {
		if entry.SkuID == skuID {
			return s.reverseEntry(ctx, entry)
		}
	}
	return nil
}

// reverseEntry 退回一条扣减记录。
// 先原子删除日志行抢占资格：删除失败说明别的消费者已经处理过，直接跳过；
// 后续任何一步失败都会把日志行补插回去，让下一次重试能继续。
func (s *StockService) reverseEntry(ctx context.Context, entry *domain.DeductionLogEntry) error {
	claimed, err := s.logRepo.DeleteByID(ctx, entry.ID)
	if err != nil {
		return unavailable("claim deduction log", err)
	}
	if !claimed {
		logger.Ctx(ctx).Info().
			Str("order_sn", entry.OrderSn).
			Int64("sku_id", entry.SkuID).
			Msg("deduction already reversed by a concurrent consumer, skipping")
		return nil
	}

	if err := s.applyReversal(ctx, entry); err != nil {
		// 补偿失败：把日志行放回去，保证重试还有机会完成退还
		if restoreErr := s.logRepo.Create(ctx, entry); restoreErr != nil {
			logger.Ctx(ctx).Error().Err(restoreErr).
				Str("order_sn", entry.OrderSn).
				Msg("failed to restore deduction log after partial reversal, manual fix required")
		}
		return err
	}

	metrics.RecoveryTotal.Inc()
	logger.Ctx(ctx).Info().
		Str("order_sn", entry.OrderSn).
		Int64("sku_id", entry.SkuID).
		Int("quantity", entry.Quantity).
		Msg("flash sale stock recovered")
	return nil
}

// applyReversal 执行退还的三项变更：台账、缓存计数、用户限购。
func (s *StockService) applyReversal(ctx context.Context, entry *domain.DeductionLogEntry) error {
	sku, err := s.skuRepo.FindByPromotionAndVariant(ctx, entry.PromotionID, entry.SkuID)
	if err != nil {
		return unavailable("load flash sale sku", err)
	}

	released, err := s.skuRepo.ReleaseStock(ctx, sku.ID, entry.Quantity)
	if err != nil {
		return unavailable("release ledger stock", err)
	}
	if !released {
		// sold_count 已经对不上了，说明台账被别的路径动过；记录但不中断
		logger.Ctx(ctx).Warn().
			Int64("sku_id", entry.SkuID).
			Msg("ledger release guard not satisfied, skipping ledger restore")
	}

	if err := s.cache.Increment(ctx, entry.PromotionID, entry.SkuID, entry.Quantity); err != nil {
		logger.Ctx(ctx).Error().Err(err).
			Int64("sku_id", entry.SkuID).
			Msg("failed to restore stock counter, reconciler will repair")
	}

	if err := s.quotaRepo.Release(ctx, entry.PromotionID, entry.SkuID, entry.UserID, entry.Quantity); err != nil {
		logger.Ctx(ctx).Error().Err(err).
			Int64("user_id", entry.UserID).
			Msg("failed to release user quota on recovery")
	}
	return nil
}

// GetCurrentSession 返回进行中（或最近一场即将开始）的特卖场次和实时余量。
// 余量优先读缓存，缓存缺 key 时回退台账值。
func (s *StockService) GetCurrentSession(ctx context.Context) (*FlashSaleSessionVO, error) {
	ctx, span := s.tracer.Start(ctx, "service.GetCurrentSession")
	defer span.End()

	now := time.Now()
	promo, err := s.promoRepo.FindCurrentOrUpcoming(ctx, now)
	if err != nil {
		return nil, err
	}

	skus, err := s.skuRepo.FindByPromotion(ctx, promo.ID)
	if err != nil {
		return nil, unavailable("load flash sale skus", err)
	}

	vo := &FlashSaleSessionVO{
		PromotionID: promo.ID,
		Name:        promo.Name,
		StartTime:   promo.StartTime.Unix(),
		EndTime:     promo.EndTime.Unix(),
	}
	if promo.IsRunning(now) {
		vo.Status = "running"
		vo.CountdownSecs = int64(promo.EndTime.Sub(now).Seconds())
	} else {
		vo.Status = "upcoming"
		vo.CountdownSecs = int64(promo.StartTime.Sub(now).Seconds())
	}

	for _, sku := range skus {
		remaining := int64(sku.FlashSaleStock)
		if cached, err := s.cache.GetStock(ctx, sku.PromotionID, sku.VariantID); err == nil {
			remaining = cached
		}
		vo.Skus = append(vo.Skus, FlashSaleSkuVO{
			SkuID:          sku.VariantID,
			ProductID:      sku.ProductID,
			OriginalPrice:  sku.OriginalPrice,
			FlashSalePrice: sku.FlashSalePrice,
			RemainingStock: remaining,
			LimitPerUser:   sku.LimitPerUser,
			SoldCount:      sku.SoldCount,
		})
	}
	return vo, nil
}

// SyncPromotionStock 全量重建缓存：目录同步 + 把台账余量覆盖写入缓存。
// 只有预热器、对账器和管理接口允许调用，resync 的数据源永远是台账。
func (s *StockService) SyncPromotionStock(ctx context.Context, reason string) error {
	ctx, span := s.tracer.Start(ctx, "service.SyncPromotionStock")
	defer span.End()
	span.SetAttributes(attribute.String("resync.reason", reason))

	promos, err := s.promoRepo.FindRunnable(ctx, time.Now())
	if err != nil {
		return unavailable("load runnable promotions", err)
	}

	metrics.ResyncTotal.WithLabelValues(reason).Inc()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, promo := range promos {
		promo := promo
		g.Go(func() error {
			// 单场失败不拖垮整体，记录后继续
			if err := s.syncOnePromotion(gctx, promo); err != nil {
				logger.Ctx(gctx).Error().Err(err).
					Int64("promotion_id", promo.ID).
					Msg("failed to sync promotion stock")
			}
			return nil
		})
	}
	return g.Wait()
}

func (s *StockService) syncOnePromotion(ctx context.Context, promo *domain.FlashSalePromotion) error {
	// 1. 目录同步：把商品服务里新增的规格补建成特卖 SKU
	if err := s.syncCatalog(ctx, promo); err != nil {
		logger.Ctx(ctx).Warn().Err(err).
			Int64("promotion_id", promo.ID).
			Msg("catalog sync failed, continuing with existing skus")
	}

	// 2. 库存预热：台账余量覆盖写入缓存
	skus, err := s.skuRepo.FindByPromotion(ctx, promo.ID)
	if err != nil {
		return fmt.Errorf("load skus: %w", err)
	}
	for _, sku := range skus {
		if err := s.cache.Prepare(ctx, sku.PromotionID, sku.VariantID, sku.FlashSaleStock); err != nil {
			return fmt.Errorf("prepare counter for sku %d: %w", sku.VariantID, err)
		}
	}
	logger.Ctx(ctx).Info().
		Int64("promotion_id", promo.ID).
		Int("sku_count", len(skus)).
		Msg("stock counters rebuilt from ledger")
	return nil
}

// syncCatalog 对应目录协作方的增量同步：拉最新规格，补建缺失的特卖 SKU。
func (s *StockService) syncCatalog(ctx context.Context, promo *domain.FlashSalePromotion) error {
	existing, err := s.skuRepo.FindByPromotion(ctx, promo.ID)
	if err != nil {
		return err
	}
	if len(existing) == 0 {
		return nil
	}

	productIDs := make([]int64, 0, len(existing))
	seen := make(map[int64]bool)
	haveVariant := make(map[int64]bool)
	for _, sku := range existing {
		haveVariant[sku.VariantID] = true
		if !seen[sku.ProductID] {
			seen[sku.ProductID] = true
			productIDs = append(productIDs, sku.ProductID)
		}
	}

	variants, err := s.catalog.GetVariantsByProductIDs(ctx, productIDs)
	if err != nil {
		return err
	}

	rate := discountRate(existing[0])
	for _, v := range variants {
		if haveVariant[v.ID] {
			continue
		}
		sku := &domain.FlashSaleSku{
			PromotionID:    promo.ID,
			ProductID:      v.ProductID,
			VariantID:      v.ID,
			OriginalPrice:  v.Price,
			FlashSalePrice: round2(v.Price * rate),
			FlashSaleLimit: 100,
			FlashSaleStock: 100,
			LimitPerUser:   2,
		}
		if err := s.skuRepo.Create(ctx, sku); err != nil {
			logger.Ctx(ctx).Warn().Err(err).
				Int64("variant_id", v.ID).
				Msg("failed to add new flash sale sku")
		}
	}
	return nil
}

// TriggerResync 异步触发一次全量对账，并发触发会被合并成一次执行。
func (s *StockService) TriggerResync(reason string) {
	go func() {
		_, _, _ = s.resyncGroup.Do("resync", func() (interface{}, error) {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return nil, s.SyncPromotionStock(ctx, reason)
		})
	}()
}

// unavailable 把基础设施错误统一包装成可重试的服务不可用。
func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %v: %w", op, err, domain.ErrServiceUnavailable)
}

func discountRate(template *domain.FlashSaleSku) float64 {
	if template.OriginalPrice <= 0 {
		return 0.85
	}
	return template.FlashSalePrice / template.OriginalPrice
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
