package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"aichatroom/internal/metrics"
	"aichatroom/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Publisher 在写入成功后发布行级变更通知。
type Publisher interface {
	Publish(ctx context.Context, change models.Change) error
}

// NewChange 把行序列化为通知，oldRow 为 nil 时省略 old 字段。
func NewChange(table string, typ models.ChangeType, newRow, oldRow any) (models.Change, error) {
	change := models.Change{Table: table, EventType: typ}
	if newRow != nil {
		b, err := json.Marshal(newRow)
		if err != nil {
			return change, fmt.Errorf("marshal new row: %w", err)
		}
		change.New = b
	}
	if oldRow != nil {
		b, err := json.Marshal(oldRow)
		if err != nil {
			return change, fmt.Errorf("marshal old row: %w", err)
		}
		change.Old = b
	}
	return change, nil
}

// LocalPublisher 直接投递到本进程的 Hub。
type LocalPublisher struct {
	hub *Hub
}

func NewLocalPublisher(hub *Hub) *LocalPublisher { return &LocalPublisher{hub: hub} }

func (p *LocalPublisher) Publish(_ context.Context, change models.Change) error {
	metrics.ChangeEventsTotal.WithLabelValues(change.Table, string(change.EventType)).Inc()
	p.hub.Broadcast(change)
	return nil
}

// envelope 保留 VisibleTo，它在对外 JSON 中被省略。
type envelope struct {
	Change    models.Change `json:"change"`
	VisibleTo string        `json:"visible_to,omitempty"`
}

// RedisPublisher 通过 Redis pub/sub 在多个实例之间扇出变更，
// 每个实例的 Run 把收到的通知转交给本地 Hub。
type RedisPublisher struct {
	client  *redis.Client
	hub     *Hub
	channel string
}

// NewRedisClient 接受 redis:// URL 或 host:port。
func NewRedisClient(addr string) (*redis.Client, error) {
	if strings.Contains(addr, "://") {
		opts, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opts), nil
	}
	return redis.NewClient(&redis.Options{Addr: addr}), nil
}

func NewRedisPublisher(client *redis.Client, hub *Hub, channel string) *RedisPublisher {
	if channel == "" {
		channel = "aichatroom:changes"
	}
	return &RedisPublisher{client: client, hub: hub, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, change models.Change) error {
	b, err := json.Marshal(envelope{Change: change, VisibleTo: change.VisibleTo})
	if err != nil {
		return err
	}
	metrics.ChangeEventsTotal.WithLabelValues(change.Table, string(change.EventType)).Inc()
	return p.client.Publish(ctx, p.channel, b).Err()
}

// Run 订阅频道直到 ctx 结束。
func (p *RedisPublisher) Run(ctx context.Context) error {
	sub := p.client.Subscribe(ctx, p.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe: %w", err)
	}
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			change, err := decodeEnvelope([]byte(msg.Payload))
			if err != nil {
				log.Warn().Err(err).Msg("decode redis change")
				continue
			}
			p.hub.Broadcast(change)
		}
	}
}

func decodeEnvelope(b []byte) (models.Change, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return models.Change{}, err
	}
	env.Change.VisibleTo = env.VisibleTo
	return env.Change, nil
}
