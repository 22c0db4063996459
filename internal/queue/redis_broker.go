package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// scoreEpoch anchors enqueue timestamps so scores stay small enough for exact
// float64 integer arithmetic.
var scoreEpoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// priorityBand separates priority bands in the sorted-set score. Milliseconds
// since scoreEpoch stay far below it for decades.
const priorityBand = 1e12

// RedisBroker stores each queue class as a sorted set. Lower score pops first:
// score = (9 - priority) * band + enqueue-millis, so higher priority wins and
// FIFO holds within a band.
type RedisBroker struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisBroker creates a broker with the given key prefix
// (e.g. "surface:queue:").
func NewRedisBroker(rdb *redis.Client, prefix string) *RedisBroker {
	if prefix == "" {
		prefix = "surface:queue:"
	}
	return &RedisBroker{rdb: rdb, prefix: prefix}
}

func (b *RedisBroker) key(class string) string {
	return b.prefix + class
}

func (b *RedisBroker) Push(ctx context.Context, class string, task *Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task %s: %w", task.ID, err)
	}
	score := float64(9-task.Priority)*priorityBand + float64(time.Since(scoreEpoch).Milliseconds())
	return b.rdb.ZAdd(ctx, b.key(class), redis.Z{Score: score, Member: string(data)}).Err()
}

func (b *RedisBroker) Pull(ctx context.Context, classes []string, timeout time.Duration) (*Task, error) {
	keys := make([]string, len(classes))
	for i, c := range classes {
		keys[i] = b.key(c)
	}

	res, err := b.rdb.BZPopMin(ctx, timeout, keys...).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("bzpopmin: %w", err)
	}

	member, ok := res.Member.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected member type %T", res.Member)
	}
	var task Task
	if err := json.Unmarshal([]byte(member), &task); err != nil {
		return nil, fmt.Errorf("unmarshal task: %w", err)
	}
	return &task, nil
}

// Depth returns the number of pending tasks in a class queue.
func (b *RedisBroker) Depth(ctx context.Context, class string) (int64, error) {
	return b.rdb.ZCard(ctx, b.key(class)).Result()
}
