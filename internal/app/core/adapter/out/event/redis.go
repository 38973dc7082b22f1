package event

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
)

// redisClient RedisPublisher 只需要 Publish
// redis.UniversalClient (單機或叢集) 都滿足
type redisClient interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisPublisher 以 Redis Pub/Sub 發佈事件
// 頻道為 "<prefix>.<event type>"，例如 ledger.transfer.completed
type RedisPublisher struct {
	client redisClient
	prefix string
}

func NewRedisPublisher(client redis.UniversalClient, prefix string) *RedisPublisher {
	return newRedisPublisher(client, prefix)
}

func newRedisPublisher(client redisClient, prefix string) *RedisPublisher {
	if prefix == "" {
		prefix = "ledger"
	}
	return &RedisPublisher{client: client, prefix: prefix}
}

func (p *RedisPublisher) Channel(typ domain.EventType) string {
	return p.prefix + "." + string(typ)
}

func (p *RedisPublisher) Publish(ctx context.Context, e domain.Event) error {
	body, err := encode(e)
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, p.Channel(e.Type), body).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", e.Type, err)
	}
	return nil
}
