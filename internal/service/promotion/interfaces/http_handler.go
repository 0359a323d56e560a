package interfaces

import (
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"mall/internal/service/promotion/application"
	"mall/internal/service/promotion/domain"
)

// FlashSaleHandler 封装了特卖库存核心的 HTTP 处理器
type FlashSaleHandler struct {
	service *application.StockService
}

// NewFlashSaleHandler 创建一个新的 HTTP 处理器实例
func NewFlashSaleHandler(service *application.StockService) *FlashSaleHandler {
	return &FlashSaleHandler{service: service}
}

// RegisterRoutes 在 ServeMux 上注册所有路由
func (h *FlashSaleHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/flash_sale/deduct", h.handleDeduct)
	mux.HandleFunc("/flash_sale/deduct_batch", h.handleDeductBatch)
	mux.HandleFunc("/flash_sale/current_session", h.handleCurrentSession)
	mux.HandleFunc("/flash_sale/recover_stock", h.handleRecoverStock)
	mux.HandleFunc("/flash_sale/sync_stock", h.handleSyncStock)
}

func (h *FlashSaleHandler) handleDeduct(w http.ResponseWriter, r *http.Request) {
	propagator := otel.GetTextMapPropagator()
	ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	var req application.DeductStockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	err := h.service.Deduct(ctx, &domain.DeductionRequest{
		PromotionID: req.PromotionID,
		SkuID:       req.SkuID,
		UserID:      req.UserID,
		OrderSn:     req.OrderSn,
		Quantity:    req.Quantity,
	})
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	writeJSON(w, map[string]interface{}{"success": true})
}

func (h *FlashSaleHandler) handleDeductBatch(w http.ResponseWriter, r *http.Request) {
	propagator := otel.GetTextMapPropagator()
	ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	var req application.DeductBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	items := make([]*domain.DeductionRequest, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, &domain.DeductionRequest{
			PromotionID: item.PromotionID,
			SkuID:       item.SkuID,
			UserID:      item.UserID,
			OrderSn:     item.OrderSn,
			Quantity:    item.Quantity,
		})
	}

	if err := h.service.DeductBatch(ctx, items); err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, map[string]interface{}{"success": true})
}

func (h *FlashSaleHandler) handleCurrentSession(w http.ResponseWriter, r *http.Request) {
	propagator := otel.GetTextMapPropagator()
	ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	session, err := h.service.GetCurrentSession(ctx)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, session)
}

// handleRecoverStock 是人工补偿入口，和事件消费走同一条幂等退还链路。
func (h *FlashSaleHandler) handleRecoverStock(w http.ResponseWriter, r *http.Request) {
	propagator := otel.GetTextMapPropagator()
	ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	var req application.RecoverStockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OrderSn == "" {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.service.RecoverStock(ctx, req.OrderSn); err != nil {
		// 补偿失败是一个严重问题，应该返回 500
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]interface{}{"success": true})
}

// handleSyncStock 手动触发一次预热/全量重建。
func (h *FlashSaleHandler) handleSyncStock(w http.ResponseWriter, r *http.Request) {
	propagator := otel.GetTextMapPropagator()
	ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	if err := h.service.SyncPromotionStock(ctx, "manual"); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]interface{}{"success": true})
}

// statusFor 根据错误类型返回不同的 HTTP 状态码
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInsufficientStock):
		return http.StatusConflict
	case errors.Is(err, domain.ErrQuotaExceeded):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrSkuNotFound),
		errors.Is(err, domain.ErrNoActiveSession):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrServiceUnavailable),
		errors.Is(err, domain.ErrStockDrift):
		// 调用方可以带退避重试；绝不返回假成功
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
