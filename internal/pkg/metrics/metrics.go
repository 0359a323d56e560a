package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 特卖库存核心的业务指标。
var (
	// DeductionTotal 按结果维度统计扣减请求。
	// result ∈ {success, insufficient_stock, quota_exceeded, drift, error}
	DeductionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flash_sale_deduction_total",
		Help: "Flash sale stock deduction attempts by result.",
	}, []string{"result"})

	// RecoveryTotal 统计库存退回（订单取消补偿）的执行次数。
	RecoveryTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flash_sale_recovery_total",
		Help: "Flash sale stock recoveries applied (idempotent duplicates excluded).",
	})

	// StockLevel 记录最近一次缓存扣减后观察到的剩余库存。
	StockLevel = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "flash_sale_stock_level",
		Help: "Last observed remaining stock per flash sale sku.",
	}, []string{"promotion_id", "sku_id"})

	// ResyncTotal 统计全量缓存重建的触发次数。
	// reason ∈ {startup, key_loss, drift, manual}
	ResyncTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flash_sale_cache_resync_total",
		Help: "Full cache resyncs from the ledger by trigger reason.",
	}, []string{"reason"})

	// DriftTotal 统计缓存放行但台账拒绝的偏差事件，应接告警。
	DriftTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flash_sale_stock_drift_total",
		Help: "Detected cache/ledger stock drift events.",
	})
)
