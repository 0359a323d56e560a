package infrastructure

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"mall/internal/pkg/logger"
	"mall/internal/pkg/mq"
)

// DLQEnvelope 包裹一条无法处理的原始消息，连同失败原因送入死信队列。
// Payload 按 base64 存放，毒消息本身往往就不是合法 JSON。
type DLQEnvelope struct {
	ID         string    `json:"id"`
	Reason     string    `json:"reason"`
	Payload    []byte    `json:"payload"`
	FailedAt   time.Time `json:"failed_at"`
	SourceKey  string    `json:"source_key"`
	SourceName string    `json:"source_name"`
}

// DLQProducer 把毒消息写入死信 topic，供人工排查或离线重放。
type DLQProducer struct {
	writer *kafka.Writer
	source string
}

func NewDLQProducer(writer *kafka.Writer, source string) *DLQProducer {
	return &DLQProducer{writer: writer, source: source}
}

// Publish 发送一条死信，追踪上下文随消息头一起带过去。
func (p *DLQProducer) Publish(ctx context.Context, reason string, key, payload []byte) error {
	envelope := DLQEnvelope{
		ID:         uuid.NewString(),
		Reason:     reason,
		Payload:    payload,
		FailedAt:   time.Now(),
		SourceKey:  string(key),
		SourceName: p.source,
	}

	value, err := json.Marshal(envelope)
	if err != nil {
		return err
	}

	if err := mq.ProduceMessage(ctx, p.writer, key, value); err != nil {
		return err
	}
	logger.Ctx(ctx).Warn().
		Str("dlq_id", envelope.ID).
		Str("reason", reason).
		Msg("message moved to dead letter queue")
	return nil
}
