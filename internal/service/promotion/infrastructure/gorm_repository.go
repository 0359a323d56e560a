package infrastructure

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"mall/internal/service/promotion/domain"
)

// GormPromotionRepository 是 PromotionRepository 的 GORM 实现
type GormPromotionRepository struct {
	db *gorm.DB
}

func NewGormPromotionRepository(db *gorm.DB) *GormPromotionRepository {
	return &GormPromotionRepository{db: db}
}

// FindRunnable 返回已启用且尚未结束的活动（含未开始的）。
func (r *GormPromotionRepository) FindRunnable(ctx context.Context, now time.Time) ([]*domain.FlashSalePromotion, error) {
	var models []FlashSalePromotionModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND end_time >= ?", int(domain.PromotionActive), now).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	promos := make([]*domain.FlashSalePromotion, 0, len(models))
	for i := range models {
		promos = append(promos, ToDomainPromotion(&models[i]))
	}
	return promos, nil
}

// FindCurrentOrUpcoming 优先返回进行中的活动，其次是最近一场未开始的。
func (r *GormPromotionRepository) FindCurrentOrUpcoming(ctx context.Context, now time.Time) (*domain.FlashSalePromotion, error) {
	var model FlashSalePromotionModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND start_time <= ? AND end_time >= ?", int(domain.PromotionActive), now, now).
		Order("start_time").
		First(&model).Error
	if err == nil {
		return ToDomainPromotion(&model), nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	err = r.db.WithContext(ctx).
		Where("status = ? AND start_time > ?", int(domain.PromotionActive), now).
		Order("start_time").
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNoActiveSession
		}
		return nil, err
	}
	return ToDomainPromotion(&model), nil
}

// GormSkuRepository 是权威库存台账 SkuRepository 的 GORM 实现。
// 所有库存变更都是单条带守卫条件的 UPDATE，靠数据库原子性保证并发安全。
type GormSkuRepository struct {
	db *gorm.DB
}

func NewGormSkuRepository(db *gorm.DB) *GormSkuRepository {
	return &GormSkuRepository{db: db}
}

func (r *GormSkuRepository) FindByPromotionAndVariant(ctx context.Context, promotionID, variantID int64) (*domain.FlashSaleSku, error) {
	var model FlashSaleSkuModel
	err := r.db.WithContext(ctx).
		Where("promotion_id = ? AND variant_id = ?", promotionID, variantID).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrSkuNotFound
		}
		return nil, err
	}
	return ToDomainSku(&model), nil
}

func (r *GormSkuRepository) FindByPromotion(ctx context.Context, promotionID int64) ([]*domain.FlashSaleSku, error) {
	var models []FlashSaleSkuModel
	err := r.db.WithContext(ctx).Where("promotion_id = ?", promotionID).Find(&models).Error
	if err != nil {
		return nil, err
	}
	skus := make([]*domain.FlashSaleSku, 0, len(models))
	for i := range models {
		skus = append(skus, ToDomainSku(&models[i]))
	}
	return skus, nil
}

// Create 插入新特卖 SKU，(promotion_id, variant_id) 冲突时静默跳过。
func (r *GormSkuRepository) Create(ctx context.Context, sku *domain.FlashSaleSku) error {
	model := FromDomainSku(sku)
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(model).Error
}

// SettleStock 执行 remaining -= qty, sold += qty WHERE remaining >= qty。
// 0 行受影响即守卫不满足，翻译为 ErrInsufficientStock。
func (r *GormSkuRepository) SettleStock(ctx context.Context, skuID int64, qty int) error {
	result := r.db.WithContext(ctx).
		Model(&FlashSaleSkuModel{}).
		Where("id = ? AND flash_sale_stock >= ?", skuID, qty).
		Updates(map[string]interface{}{
			"flash_sale_stock": gorm.Expr("flash_sale_stock - ?", qty),
			"sold_count":       gorm.Expr("sold_count + ?", qty),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrInsufficientStock
	}
	return nil
}

// ReleaseStock 执行 remaining += qty, sold -= qty WHERE sold >= qty。
// 守卫不满足时返回 false（没有可退的销量），不作为错误。
func (r *GormSkuRepository) ReleaseStock(ctx context.Context, skuID int64, qty int) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&FlashSaleSkuModel{}).
		Where("id = ? AND sold_count >= ?", skuID, qty).
		Updates(map[string]interface{}{
			"flash_sale_stock": gorm.Expr("flash_sale_stock + ?", qty),
			"sold_count":       gorm.Expr("sold_count - ?", qty),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// GormDeductionLogRepository 是幂等台账 DeductionLogRepository 的 GORM 实现
type GormDeductionLogRepository struct {
	db *gorm.DB
}

func NewGormDeductionLogRepository(db *gorm.DB) *GormDeductionLogRepository {
	return &GormDeductionLogRepository{db: db}
}

func (r *GormDeductionLogRepository) Exists(ctx context.Context, orderSn string, skuID int64) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&FlashSaleLogModel{}).
		Where("order_sn = ? AND sku_id = ?", orderSn, skuID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *GormDeductionLogRepository) Create(ctx context.Context, entry *domain.DeductionLogEntry) error {
	model := FromDomainLogEntry(entry)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	entry.ID = model.ID
	return nil
}

func (r *GormDeductionLogRepository) FindByOrderSn(ctx context.Context, orderSn string) ([]*domain.DeductionLogEntry, error) {
	var models []FlashSaleLogModel
	err := r.db.WithContext(ctx).Where("order_sn = ?", orderSn).Find(&models).Error
	if err != nil {
		return nil, err
	}
	entries := make([]*domain.DeductionLogEntry, 0, len(models))
	for i := range models {
		entries = append(entries, ToDomainLogEntry(&models[i]))
	}
	return entries, nil
}

// DeleteByID 原子删除一条扣减记录。并发退还时只有删除成功
// （RowsAffected > 0）的一方才有资格执行后续补偿。
func (r *GormDeductionLogRepository) DeleteByID(ctx context.Context, id int64) (bool, error) {
	result := r.db.WithContext(ctx).Delete(&FlashSaleLogModel{}, id)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// GormQuotaRepository 是每人限购 QuotaRepository 的 GORM 实现。
// 临界区用 SELECT ... FOR UPDATE 行锁保护，锁的范围只有一个
// (活动, SKU, 用户)，不会成为跨用户的瓶颈。
type GormQuotaRepository struct {
	db *gorm.DB
}

func NewGormQuotaRepository(db *gorm.DB) *GormQuotaRepository {
	return &GormQuotaRepository{db: db}
}

// CheckAndReserve 在一个事务里完成「锁行 → 校验 → 累加」。
func (r *GormQuotaRepository) CheckAndReserve(ctx context.Context, promotionID, skuID, userID int64, qty, limitPerUser int) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model FlashSaleUserQuotaModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("promotion_id = ? AND sku_id = ? AND user_id = ?", promotionID, skuID, userID).
			First(&model).Error

		if errors.Is(err, gorm.ErrRecordNotFound) {
			if qty > limitPerUser {
				return domain.ErrQuotaExceeded
			}
			model = FlashSaleUserQuotaModel{
				PromotionID:    promotionID,
				SkuID:          skuID,
				UserID:         userID,
				PurchasedCount: qty,
			}
			if createErr := tx.Create(&model).Error; createErr != nil {
				// 两个「首购」请求同时落到不存在的行上时，晚到的 INSERT 会撞
				// 唯一索引。改走锁行更新路径，保持串行语义。
				if errors.Is(createErr, gorm.ErrDuplicatedKey) {
					return r.reserveExisting(tx, promotionID, skuID, userID, qty, limitPerUser)
				}
				return createErr
			}
			return nil
		}
		if err != nil {
			return err
		}

		if model.PurchasedCount+qty > limitPerUser {
			return domain.ErrQuotaExceeded
		}
		return tx.Model(&FlashSaleUserQuotaModel{}).
			Where("id = ?", model.ID).
			Update("purchased_count", model.PurchasedCount+qty).Error
	})
}

func (r *GormQuotaRepository) reserveExisting(tx *gorm.DB, promotionID, skuID, userID int64, qty, limitPerUser int) error {
	var model FlashSaleUserQuotaModel
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("promotion_id = ? AND sku_id = ? AND user_id = ?", promotionID, skuID, userID).
		First(&model).Error; err != nil {
		return err
	}
	if model.PurchasedCount+qty > limitPerUser {
		return domain.ErrQuotaExceeded
	}
	return tx.Model(&FlashSaleUserQuotaModel{}).
		Where("id = ?", model.ID).
		Update("purchased_count", model.PurchasedCount+qty).Error
}

// Release 回退已购数量，下限为零。行不存在时是无害的空操作。
func (r *GormQuotaRepository) Release(ctx context.Context, promotionID, skuID, userID int64, qty int) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model FlashSaleUserQuotaModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("promotion_id = ? AND sku_id = ? AND user_id = ?", promotionID, skuID, userID).
			First(&model).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		newCount := model.PurchasedCount - qty
		if newCount < 0 {
			newCount = 0
		}
		return tx.Model(&FlashSaleUserQuotaModel{}).
			Where("id = ?", model.ID).
			Update("purchased_count", newCount).Error
	})
}
