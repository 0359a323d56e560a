package domain

import "errors"

// 库存核心对外暴露的业务错误。
// HTTP 层通过 errors.Is 将它们映射为不同的状态码。
var (
	// ErrInsufficientStock 库存不足，属预期失败，不应自动重试。
	ErrInsufficientStock = errors.New("flash sale stock insufficient")

	// ErrQuotaExceeded 超过每人限购上限。
	ErrQuotaExceeded = errors.New("per-user purchase limit exceeded")

	// ErrServiceUnavailable 缓存或台账暂时不可用，调用方可退避重试。
	ErrServiceUnavailable = errors.New("flash sale service temporarily unavailable")

	// ErrStockDrift 缓存放行但台账拒绝，二者出现偏差。
	// 触发告警与立即对账，当前请求关闭失败。
	ErrStockDrift = errors.New("stock drift between cache and ledger")

	// ErrSkuNotFound 特卖 SKU 不存在。
	ErrSkuNotFound = errors.New("flash sale sku not found")

	// ErrNoActiveSession 当前没有进行中或即将开始的特卖场次。
	ErrNoActiveSession = errors.New("no active flash sale session")
)
