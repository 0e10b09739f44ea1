package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	ChannelLedgerEvents = "credit_ledger_events"
)

// 事件类型
const (
	EventLedgerEntry = "ledger_entry"
)

// LedgerEvent 已提交的账本流水事件
type LedgerEvent struct {
	Type               string    `json:"type"`
	TransactionID      int64     `json:"transaction_id"`
	OrganizationID     int64     `json:"organization_id"`
	Amount             int64     `json:"amount"`
	Kind               string    `json:"kind"`
	RelatedPromotionID *int64    `json:"related_promotion_id,omitempty"`
	BalanceAfter       int64     `json:"balance_after"`
	OccurredAt         time.Time `json:"occurred_at"`
}

// Publisher Redis 发布者，nil 接收者不发布
type Publisher struct {
	client  *redis.Client
	channel string
}

// NewPublisher 创建发布者
func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client, channel: ChannelLedgerEvents}
}

// PublishLedgerEvent 发布账本事件
func (p *Publisher) PublishLedgerEvent(ctx context.Context, event *LedgerEvent) error {
	if p == nil || p.client == nil {
		return nil
	}
	if event.Type == "" {
		event.Type = EventLedgerEntry
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal ledger event: %w", err)
	}

	return p.client.Publish(ctx, p.channel, data).Err()
}

// Subscriber Redis 订阅者
type Subscriber struct {
	client  *redis.Client
	channel string
}

// NewSubscriber 创建订阅者
func NewSubscriber(client *redis.Client) *Subscriber {
	return &Subscriber{client: client, channel: ChannelLedgerEvents}
}

// Subscribe 订阅账本事件，阻塞直到 ctx 结束
func (s *Subscriber) Subscribe(ctx context.Context, handler func(*LedgerEvent)) error {
	ps := s.client.Subscribe(ctx, s.channel)
	defer ps.Close()

	// 确认订阅成功后再开始消费
	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe %s: %w", s.channel, err)
	}

	ch := ps.Channel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}

			var event LedgerEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				continue // 忽略解析错误
			}

			handler(&event)
		}
	}
}
