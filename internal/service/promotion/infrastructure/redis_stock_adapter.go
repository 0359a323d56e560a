package infrastructure

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"mall/internal/pkg/redis"
	"mall/internal/service/promotion/domain/port"
)

const (
	stockKeyPrefix  = "flash_sale:stock:"
	stockKeyPattern = stockKeyPrefix + "*"

	deductScriptName = "flash_sale_deduct"
)

// RedisStockAdapter 是 port.StockCache 接口的 Redis 实现。
// 扣减走 Lua 脚本，整个「读 → 判断 → 扣」在服务端一次完成，
// 多进程并发下不存在丢更新。
type RedisStockAdapter struct {
	redisClient *redis.Client
}

// NewRedisStockAdapter 创建库存缓存适配器。它在创建时会加载所需的 Lua 脚本。
func NewRedisStockAdapter(redisClient *redis.Client) (*RedisStockAdapter, error) {
	if err := redisClient.LoadScriptFromContent(deductScriptName, deductScript); err != nil {
		return nil, fmt.Errorf("failed to load critical stock deduct script: %w", err)
	}
	return &RedisStockAdapter{redisClient: redisClient}, nil
}

// TryDecrement 原子执行「扣 qty 且结果不为负」。
// 脚本返回 -2 表示 key 不存在，-1 表示余量不足，其余为扣减后的剩余量。
func (a *RedisStockAdapter) TryDecrement(ctx context.Context, promotionID, skuID int64, qty int) (int64, error) {
	key := stockKey(promotionID, skuID)

	result, err := a.redisClient.RunScript(ctx, deductScriptName, []string{key}, qty)
	if err != nil {
		return 0, fmt.Errorf("stock adapter failed to run deduct script: %w", err)
	}

	code, ok := result.(int64)
	if !ok {
		return 0, fmt.Errorf("unexpected result type from Lua script: %T", result)
	}

	switch {
	case code == -2:
		return 0, port.ErrCacheMiss
	case code == -1:
		return 0, port.ErrCacheInsufficient
	default:
		return code, nil
	}
}

// Increment 无条件回补计数器，用于补偿和订单取消。
func (a *RedisStockAdapter) Increment(ctx context.Context, promotionID, skuID int64, qty int) error {
	return a.redisClient.GetClient().IncrBy(ctx, stockKey(promotionID, skuID), int64(qty)).Err()
}

// Prepare 以台账值整体覆盖计数器。只有预热器和对账器调用。
func (a *RedisStockAdapter) Prepare(ctx context.Context, promotionID, skuID int64, stock int) error {
	return a.redisClient.GetClient().Set(ctx, stockKey(promotionID, skuID), stock, 0).Err()
}

// GetStock 读取当前计数，key 缺失返回 ErrCacheMiss。
func (a *RedisStockAdapter) GetStock(ctx context.Context, promotionID, skuID int64) (int64, error) {
	val, err := a.redisClient.GetClient().Get(ctx, stockKey(promotionID, skuID)).Int64()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return 0, port.ErrCacheMiss
		}
		return 0, err
	}
	return val, nil
}

// HasStockKeys 用 SCAN 游标探测特卖命名空间下是否还有库存 key。
// 不用 KEYS，避免在大键空间下阻塞 Redis 主线程。
func (a *RedisStockAdapter) HasStockKeys(ctx context.Context) (bool, error) {
	var cursor uint64
	for {
		keys, next, err := a.redisClient.GetClient().
			Scan(ctx, cursor, stockKeyPattern, 100).Result()
		if err != nil {
			return false, fmt.Errorf("failed to scan stock keys: %w", err)
		}
		if len(keys) > 0 {
			return true, nil
		}
		if next == 0 {
			return false, nil
		}
		cursor = next
	}
}

func stockKey(promotionID, skuID int64) string {
	return fmt.Sprintf("%s%d:%d", stockKeyPrefix, promotionID, skuID)
}

var deductScript = `
-- KEYS[1]: 库存计数器的 Key, 例如: flash_sale:stock:1:1001
-- ARGV[1]: 本次要扣减的数量

-- 1. 读取当前库存；key 不存在说明未预热或已丢失
local stock = redis.call('get', KEYS[1])
if not stock then
    return -2
end

-- 2. 余量不足，原样返回，不产生任何变更
stock = tonumber(stock)
local qty = tonumber(ARGV[1])
if stock < qty then
    return -1
end

-- 3. 扣减并返回剩余量
return redis.call('decrby', KEYS[1], qty)
`
