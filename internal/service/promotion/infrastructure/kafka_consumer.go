package infrastructure

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"

	"mall/internal/pkg/logger"
	"mall/internal/pkg/mq"
)

// OrderCancelledEvent 是订单服务发布的取消事件。至少一次投递，可能重复。
type OrderCancelledEvent struct {
	OrderSn string `json:"order_sn"`
}

// StockRecoverer 是消费者对应用层的最小依赖。
type StockRecoverer interface {
	RecoverStock(ctx context.Context, orderSn string) error
}

// DeadLetterSink 接收无法处理的消息。
type DeadLetterSink interface {
	Publish(ctx context.Context, reason string, key, payload []byte) error
}

// StockReleaseConsumer 是一个驱动适配器：监听订单取消事件并驱动库存退还。
// 重复投递靠应用层的「删日志抢占」保证无害。
type StockReleaseConsumer struct {
	reader   *kafka.Reader
	stockSvc StockRecoverer
	dlq      DeadLetterSink
	wg       sync.WaitGroup
	stopped  atomic.Bool
}

// NewStockReleaseConsumer 创建一个新的取消事件消费者。
func NewStockReleaseConsumer(reader *kafka.Reader, stockSvc StockRecoverer, dlq DeadLetterSink) *StockReleaseConsumer {
	return &StockReleaseConsumer{
		reader:   reader,
		stockSvc: stockSvc,
		dlq:      dlq,
	}
}

// Start 开始监听取消事件。这是一个长期运行的方法。
func (c *StockReleaseConsumer) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		logger.L().Info().
			Str("topic", c.reader.Config().Topic).
			Msg("stock release consumer started")
		for {
			if c.stopped.Load() {
				return
			}
			// 用 FetchMessage 而不是 ReadMessage，以便自己控制 Offset 提交时机
			msg, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					logger.L().Info().Msg("stock release consumer shutting down")
					return
				}
				logger.L().Error().Err(err).Msg("could not read message, retrying")
				time.Sleep(time.Second)
				continue
			}

			c.processMessage(ctx, msg)

			if err := c.reader.CommitMessages(ctx, msg); err != nil {
				logger.L().Error().Err(err).Msg("failed to commit messages")
			}
		}
	}()
}

// Stop 优雅地停止消费者。可以在 Start 之前或多次调用。
func (c *StockReleaseConsumer) Stop() {
	c.stopped.Store(true)
	if c.reader != nil {
		c.reader.Close()
	}
	c.wg.Wait()
	logger.L().Info().Msg("stock release consumer stopped")
}

// processMessage 反序列化取消事件并调用应用服务退库存。
// 无法解析或重试耗尽的消息转入死信队列，不阻塞后续消费。
func (c *StockReleaseConsumer) processMessage(parentCtx context.Context, msg kafka.Message) {
	propagator := otel.GetTextMapPropagator()
	headerCarrier := mq.KafkaHeaderCarrier(msg.Headers)
	ctx := propagator.Extract(parentCtx, &headerCarrier)

	var event OrderCancelledEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil || event.OrderSn == "" {
		logger.Ctx(ctx).Error().Err(err).
			Str("payload", string(msg.Value)).
			Msg("undecodable order cancel event, moving to DLQ")
		c.toDLQ(ctx, msg, "unmarshal_failed")
		return
	}

	logger.Ctx(ctx).Info().
		Str("order_sn", event.OrderSn).
		Msg("order cancelled, releasing flash sale stock")

	// 投递语义是至少一次，所以这里可以放心地有限重试
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if lastErr = c.stockSvc.RecoverStock(ctx, event.OrderSn); lastErr == nil {
			return
		}
		logger.Ctx(ctx).Warn().Err(lastErr).
			Str("order_sn", event.OrderSn).
			Int("attempt", attempt+1).
			Msg("stock recovery failed, retrying")
		time.Sleep(time.Duration(attempt+1) * 500 * time.Millisecond)
	}

	logger.Ctx(ctx).Error().Err(lastErr).
		Str("order_sn", event.OrderSn).
		Msg("stock recovery retries exhausted, moving to DLQ")
	c.toDLQ(ctx, msg, "recovery_failed")
}

func (c *StockReleaseConsumer) toDLQ(ctx context.Context, msg kafka.Message, reason string) {
	if c.dlq == nil {
		return
	}
	if err := c.dlq.Publish(ctx, reason, msg.Key, msg.Value); err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("failed to publish message to DLQ")
	}
}
