package events

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	xerrors "VaultChain/internal/errors"
)

// RedisConfig describes the Redis event sink.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	List     string
}

// RedisProducer pushes encoded events onto a Redis list.
type RedisProducer struct {
	client *redis.Client
	list   string
}

// NewRedisProducer connects to Redis and verifies the connection.
func NewRedisProducer(cfg RedisConfig) (*RedisProducer, error) {
	if cfg.Address == "" {
		return nil, errors.New("redis address cannot be empty")
	}
	list := cfg.List
	if list == "" {
		list = "vaultchain:events"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "connect to redis")
	}
	return &RedisProducer{client: client, list: list}, nil
}

// Publish implements Producer.
func (p *RedisProducer) Publish(ctx context.Context, event Event) error {
	body, err := event.Encode()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "encode event")
	}
	if err := p.client.LPush(ctx, p.list, body).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "publish event to redis")
	}
	return nil
}

// Close releases the connection.
func (p *RedisProducer) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}
