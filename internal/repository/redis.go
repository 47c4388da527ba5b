package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jhomra21/canvaschat/internal/domain"
	"github.com/redis/go-redis/v9"
)

// RedisMessageLog keeps each namespace in a sorted set scored by the
// message timestamp, so "newest N" is a tail range and pruning is a
// rank-based trim.
type RedisMessageLog struct {
	client *redis.Client
	prefix string
}

func NewRedisMessageLog(addr, password, prefix string) (*RedisMessageLog, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    password,
		DB:          0,
		DialTimeout: 5 * time.Second,
	})

	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisMessageLog{client: rdb, prefix: prefix}, nil
}

func (l *RedisMessageLog) Close() error {
	return l.client.Close()
}

func (l *RedisMessageLog) Put(ctx context.Context, namespace string, msg *domain.ChatMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	return l.client.ZAdd(ctx, l.key(namespace), redis.Z{
		Score:  float64(msg.Timestamp),
		Member: payload,
	}).Err()
}

func (l *RedisMessageLog) Newest(ctx context.Context, namespace string, limit int) ([]*domain.ChatMessage, error) {
	members, err := l.client.ZRange(ctx, l.key(namespace), int64(-limit), -1).Result()
	if err != nil {
		return nil, err
	}

	result := make([]*domain.ChatMessage, 0, len(members))
	for _, member := range members {
		var msg domain.ChatMessage
		if err := json.Unmarshal([]byte(member), &msg); err != nil {
			return nil, fmt.Errorf("failed to decode message: %w", err)
		}
		result = append(result, &msg)
	}
	return result, nil
}

func (l *RedisMessageLog) Prune(ctx context.Context, namespace string, keep int) (int, error) {
	deleted, err := l.client.ZRemRangeByRank(ctx, l.key(namespace), 0, int64(-keep-1)).Result()
	if err != nil {
		return 0, err
	}
	return int(deleted), nil
}

func (l *RedisMessageLog) NewestTimestamp(ctx context.Context) (int64, error) {
	var newest int64
	found := false
	for _, namespace := range Namespaces {
		scores, err := l.client.ZRangeWithScores(ctx, l.key(namespace), -1, -1).Result()
		if err != nil {
			return 0, err
		}
		if len(scores) == 0 {
			continue
		}
		ts := int64(scores[0].Score)
		if !found || ts > newest {
			newest = ts
			found = true
		}
	}
	if !found {
		return 0, ErrNoMessages
	}
	return newest, nil
}

func (l *RedisMessageLog) key(namespace string) string {
	return l.prefix + namespace
}
