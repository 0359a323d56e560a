package port

import (
	"context"
	"errors"
)

var (
	// ErrCacheMiss 表示库存 key 不存在。与「库存为 0」是两种不同的情况：
	// key 缺失说明缓存未预热或已丢失，调用方应回退到台账；
	// key 存在且为 0 才是确定的售罄。
	ErrCacheMiss = errors.New("stock counter key not found in cache")

	// ErrCacheInsufficient 表示缓存中的剩余量不足，本次扣减未发生。
	ErrCacheInsufficient = errors.New("stock counter below requested quantity")
)

// StockCache 是快速库存计数器的出站端口。
// 所有操作都必须是服务端单次原子原语，禁止客户端读-改-写两步组合。
type StockCache interface {
	// TryDecrement 原子执行「扣 qty 且结果不为负」，成功返回扣减后的剩余量。
	// key 缺失返回 ErrCacheMiss，余量不足返回 ErrCacheInsufficient，均不产生变更。
	TryDecrement(ctx context.Context, promotionID, skuID int64, qty int) (int64, error)

	// Increment 无条件回补计数器，用于补偿和订单取消。
	Increment(ctx context.Context, promotionID, skuID int64, qty int) error

	// Prepare 以台账值整体覆盖计数器。只有预热器和对账器允许调用。
	Prepare(ctx context.Context, promotionID, skuID int64, stock int) error

	// GetStock 读取当前计数，key 缺失返回 ErrCacheMiss。
	GetStock(ctx context.Context, promotionID, skuID int64) (int64, error)

	// HasStockKeys 非阻塞地探测特卖命名空间下是否还有任何库存 key。
	// 必须使用游标式扫描，不允许一次性枚举全键空间。
	HasStockKeys(ctx context.Context) (bool, error)
}
