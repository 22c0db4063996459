// Package events carries domain events (asset_created, scan_completed,
// vuln_found, risk_scored) between the API, workers, and the trigger router.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"

	"github.com/surfacehq/surface/internal/store"
)

// Event types produced by the platform.
const (
	TypeAssetCreated  = "asset_created"
	TypeScanCompleted = "scan_completed"
	TypeScanFailed    = "scan_failed"
	TypeVulnFound     = "vuln_found"
	TypeRiskScored    = "risk_scored"
)

// Event is one domain fact. Data is schemaless; consumers whitelist what
// they forward.
type Event struct {
	ProjectID string        `json:"project_id"`
	Type      string        `json:"type"`
	Data      store.JSONMap `json:"data"`
}

// Bus publishes events to interested subscribers across processes.
type Bus interface {
	Publish(ctx context.Context, ev Event) error
}

const busChannel = "surface:events"

// RedisBus fans events out over a Redis pub/sub channel.
type RedisBus struct {
	client *redis.Client
	logger *log.Logger
}

// NewRedisBus wraps a connected client.
func NewRedisBus(client *redis.Client) *RedisBus {
	return &RedisBus{
		client: client,
		logger: log.New(log.Writer(), "[EVENTS] ", log.LstdFlags),
	}
}

// Publish serializes the event onto the shared channel.
func (b *RedisBus) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.client.Publish(ctx, busChannel, data).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Subscribe delivers events until ctx is cancelled. Malformed payloads are
// logged and dropped.
func (b *RedisBus) Subscribe(ctx context.Context) (<-chan Event, error) {
	sub := b.client.Subscribe(ctx, busChannel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	out := make(chan Event, 64)
	go func() {
		defer close(out)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					b.logger.Printf("dropping malformed event: %v", err)
					continue
				}
				out <- ev
			}
		}
	}()
	return out, nil
}
