package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisArchive stores invocation records in Redis: each record is a
// JSON string under its own key, indexed by archive time in one sorted
// set for all records and one per service, all written in a single
// pipeline.
type RedisArchive struct {
	client    *redis.Client
	keyPrefix string
}

func NewRedisArchive(addr, password string, db int, keyPrefix string) (*RedisArchive, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	if keyPrefix == "" {
		keyPrefix = "durableflow:"
	}
	return &RedisArchive{client: client, keyPrefix: keyPrefix + "archive:"}, nil
}

func (a *RedisArchive) recordKey(invocationID string) string {
	return a.keyPrefix + "data:" + invocationID
}

func (a *RedisArchive) serviceIndexKey(serviceName string) string {
	return a.keyPrefix + "service:" + serviceName
}

func (a *RedisArchive) allIndexKey() string {
	return a.keyPrefix + "all"
}

func (a *RedisArchive) Save(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	score := float64(rec.ArchivedAt.UnixNano())
	pipe := a.client.Pipeline()
	pipe.Set(ctx, a.recordKey(rec.InvocationID), data, 0)
	pipe.ZAdd(ctx, a.allIndexKey(), redis.Z{Score: score, Member: rec.InvocationID})
	if rec.ServiceName != "" {
		pipe.ZAdd(ctx, a.serviceIndexKey(rec.ServiceName), redis.Z{Score: score, Member: rec.InvocationID})
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (a *RedisArchive) Get(ctx context.Context, invocationID string) (Record, error) {
	data, err := a.client.Get(ctx, a.recordKey(invocationID)).Bytes()
	if err == redis.Nil {
		return Record{}, &ErrNotFound{InvocationID: invocationID}
	}
	if err != nil {
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("unmarshal record: %w", err)
	}
	return rec, nil
}

func (a *RedisArchive) List(ctx context.Context, opts ListOptions) ([]Record, error) {
	indexKey := a.allIndexKey()
	if opts.ServiceName != "" {
		indexKey = a.serviceIndexKey(opts.ServiceName)
	}

	min, max := "-inf", "+inf"
	if !opts.From.IsZero() {
		min = fmt.Sprintf("%d", opts.From.UnixNano())
	}
	if !opts.To.IsZero() {
		max = fmt.Sprintf("%d", opts.To.UnixNano())
	}

	rangeOpt := &redis.ZRangeBy{Min: min, Max: max}
	if opts.Limit > 0 {
		rangeOpt.Count = int64(opts.Limit)
	}
	ids, err := a.client.ZRangeByScore(ctx, indexKey, rangeOpt).Result()
	if err != nil {
		return nil, err
	}

	out := make([]Record, 0, len(ids))
	for _, id := range ids {
		rec, err := a.Get(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (a *RedisArchive) Delete(ctx context.Context, invocationID string) error {
	rec, err := a.Get(ctx, invocationID)
	if err != nil {
		return err
	}
	pipe := a.client.Pipeline()
	pipe.Del(ctx, a.recordKey(invocationID))
	pipe.ZRem(ctx, a.allIndexKey(), invocationID)
	if rec.ServiceName != "" {
		pipe.ZRem(ctx, a.serviceIndexKey(rec.ServiceName), invocationID)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (a *RedisArchive) Close() error {
	return a.client.Close()
}

var _ Archive = (*RedisArchive)(nil)
