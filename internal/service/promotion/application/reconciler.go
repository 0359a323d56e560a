package application

import (
	"context"
	"sync"
	"time"

	"mall/internal/pkg/logger"
	"mall/internal/service/promotion/domain/port"
)

// Locker 是对账时使用的互斥原语：多实例部署下只允许一个实例做全量重建。
// 生产上由 ZooKeeper 分布式锁实现；单实例或测试里传 nil 即可跳过。
type Locker interface {
	Lock() error
	Unlock() error
}

// Reconciler 周期性探测缓存里的特卖库存 key 是否全部丢失，
// 丢失（通常是缓存重启或被清空）时从台账全量重建。
// 它永远不会写台账，也永远不会让进程崩溃。
type Reconciler struct {
	cache        port.StockCache
	stockSvc     *StockService
	locker       Locker
	interval     time.Duration
	initialDelay time.Duration

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// NewReconciler 创建对账器。interval 不为正时取默认 5 分钟；
// initialDelay 为负时取默认 1 分钟，显式传 0 表示启动后立刻做第一次探测。
func NewReconciler(cache port.StockCache, stockSvc *StockService, locker Locker, interval, initialDelay time.Duration) *Reconciler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if initialDelay < 0 {
		initialDelay = time.Minute
	}
	return &Reconciler{
		cache:        cache,
		stockSvc:     stockSvc,
		locker:       locker,
		interval:     interval,
		initialDelay: initialDelay,
		stop:         make(chan struct{}),
	}
}

// Start 启动后台对账循环。
func (r *Reconciler) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		select {
		case <-time.After(r.initialDelay):
		case <-r.stop:
			return
		case <-ctx.Done():
			return
		}

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			r.runOnce(ctx)
			select {
			case <-ticker.C:
			case <-r.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop 停止对账循环并等待正在进行的一轮结束。
func (r *Reconciler) Stop() {
	r.once.Do(func() { close(r.stop) })
	r.wg.Wait()
}

// runOnce 执行一轮探测。内部错误只记日志，绝不向外抛。
func (r *Reconciler) runOnce(ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.L().Error().Interface("panic", rec).Msg("reconciler run panicked")
		}
	}()

	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	// SCAN 一把探测即可：售罄的 SKU 仍然持有值为 0 的 key，
	// 所以「一个 key 都没有」只可能是缓存整体丢失，而不是卖光了。
	found, err := r.cache.HasStockKeys(probeCtx)
	if err != nil {
		logger.L().Error().Err(err).Msg("stock key probe failed")
		return
	}
	if found {
		logger.L().Debug().Msg("stock counters present, no resync needed")
		return
	}

	logger.L().Warn().Msg("all stock counter keys lost, rebuilding cache from ledger")

	if r.locker != nil {
		if err := r.locker.Lock(); err != nil {
			logger.L().Error().Err(err).Msg("failed to acquire resync leader lock")
			return
		}
		defer func() {
			if err := r.locker.Unlock(); err != nil {
				logger.L().Error().Err(err).Msg("failed to release resync leader lock")
			}
		}()
	}

	syncCtx, cancelSync := context.WithTimeout(ctx, time.Minute)
	defer cancelSync()
	if err := r.stockSvc.SyncPromotionStock(syncCtx, "key_loss"); err != nil {
		logger.L().Error().Err(err).Msg("cache resync failed")
		return
	}
	logger.L().Info().Msg("cache resync completed")
}
