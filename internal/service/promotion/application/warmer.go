package application

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"mall/internal/pkg/logger"
	"mall/internal/service/promotion/domain"
)

// Warmer 在进程启动时预热缓存并校验特卖配置。
// 全部是尽力而为：预热失败只记日志，绝不阻塞服务启动。
type Warmer struct {
	promoRepo domain.PromotionRepository
	skuRepo   domain.SkuRepository
	stockSvc  *StockService
}

func NewWarmer(promoRepo domain.PromotionRepository, skuRepo domain.SkuRepository, stockSvc *StockService) *Warmer {
	return &Warmer{
		promoRepo: promoRepo,
		skuRepo:   skuRepo,
		stockSvc:  stockSvc,
	}
}

// WarmUp 无条件做一次全量预热，然后校验每场已启用活动都配置了台账 SKU 行。
func (w *Warmer) WarmUp(ctx context.Context) {
	logger.L().Info().Msg("warming flash sale stock counters...")

	if err := w.stockSvc.SyncPromotionStock(ctx, "startup"); err != nil {
		logger.L().Error().Err(err).Msg("startup stock warm-up failed (non-fatal)")
	} else {
		logger.L().Info().Msg("startup stock warm-up completed")
	}

	w.verifyLedgerRows(ctx)
}

// verifyLedgerRows 检查每场可运行活动是否真的有台账 SKU 行，缺配置只告警。
func (w *Warmer) verifyLedgerRows(ctx context.Context) {
	promos, err := w.promoRepo.FindRunnable(ctx, time.Now())
	if err != nil {
		logger.L().Error().Err(err).Msg("failed to load promotions for ledger verification")
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, promo := range promos {
		promo := promo
		g.Go(func() error {
			skus, err := w.skuRepo.FindByPromotion(gctx, promo.ID)
			if err != nil {
				logger.L().Error().Err(err).
					Int64("promotion_id", promo.ID).
					Msg("failed to verify ledger rows")
				return nil
			}
			if len(skus) == 0 {
				logger.L().Warn().
					Int64("promotion_id", promo.ID).
					Str("promotion_name", promo.Name).
					Msg("active promotion has no flash sale sku rows in ledger")
			}
			return nil
		})
	}
	_ = g.Wait()
}
