package infrastructure

import (
	"mall/internal/service/promotion/domain"
)

// ToDomainPromotion 将数据库模型转换为领域模型
func ToDomainPromotion(model *FlashSalePromotionModel) *domain.FlashSalePromotion {
	if model == nil {
		return nil
	}
	return &domain.FlashSalePromotion{
		ID:        model.ID,
		Name:      model.Name,
		StartTime: model.StartTime,
		EndTime:   model.EndTime,
		Status:    domain.PromotionStatus(model.Status),
	}
}

// ToDomainSku 将数据库模型转换为领域模型
func ToDomainSku(model *FlashSaleSkuModel) *domain.FlashSaleSku {
	if model == nil {
		return nil
	}
	return &domain.FlashSaleSku{
		ID:             model.ID,
		PromotionID:    model.PromotionID,
		ProductID:      model.ProductID,
		VariantID:      model.VariantID,
		OriginalPrice:  model.OriginalPrice,
		FlashSalePrice: model.FlashSalePrice,
		FlashSaleLimit: model.FlashSaleLimit,
		FlashSaleStock: model.FlashSaleStock,
		LimitPerUser:   model.LimitPerUser,
		SoldCount:      model.SoldCount,
	}
}

// FromDomainSku 将领域模型转换为数据库模型（用于目录同步的插入）
func FromDomainSku(dmn *domain.FlashSaleSku) *FlashSaleSkuModel {
	if dmn == nil {
		return nil
	}
	return &FlashSaleSkuModel{
		ID:             dmn.ID,
		PromotionID:    dmn.PromotionID,
		ProductID:      dmn.ProductID,
		VariantID:      dmn.VariantID,
		OriginalPrice:  dmn.OriginalPrice,
		FlashSalePrice: dmn.FlashSalePrice,
		FlashSaleLimit: dmn.FlashSaleLimit,
		FlashSaleStock: dmn.FlashSaleStock,
		LimitPerUser:   dmn.LimitPerUser,
		SoldCount:      dmn.SoldCount,
	}
}

// ToDomainLogEntry 将数据库模型转换为领域模型
func ToDomainLogEntry(model *FlashSaleLogModel) *domain.DeductionLogEntry {
	if model == nil {
		return nil
	}
	return &domain.DeductionLogEntry{
		ID:          model.ID,
		PromotionID: model.PromotionID,
		SkuID:       model.SkuID,
		UserID:      model.UserID,
		OrderSn:     model.OrderSn,
		Quantity:    model.Quantity,
		DeductedAt:  model.DeductedAt,
	}
}

// FromDomainLogEntry 将领域模型转换为数据库模型
func FromDomainLogEntry(dmn *domain.DeductionLogEntry) *FlashSaleLogModel {
	if dmn == nil {
		return nil
	}
	return &FlashSaleLogModel{
		ID:          dmn.ID,
		PromotionID: dmn.PromotionID,
		SkuID:       dmn.SkuID,
		UserID:      dmn.UserID,
		OrderSn:     dmn.OrderSn,
		Quantity:    dmn.Quantity,
		DeductedAt:  dmn.DeductedAt,
	}
}
