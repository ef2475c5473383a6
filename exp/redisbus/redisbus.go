// Package redisbus publishes livepatch broadcast events on a Redis channel,
// for listeners outside the patched process.
//
// This package is EXPERIMENTAL and its API may change before v1.
package redisbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chenyanchen/livepatch"
)

// DefaultChannel is used when no channel is given.
const DefaultChannel = "livepatch:events"

// Message is the JSON payload of one published event.
type Message struct {
	Event string    `json:"event"`
	Types []string  `json:"types"`
	At    time.Time `json:"at"`
}

// Client is the subset of redis.UniversalClient a Publisher needs.
type Client interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Publisher is a livepatch.Broadcaster backed by Redis PUBLISH.
type Publisher struct {
	client  Client
	channel string
	now     func() time.Time
}

func New(client Client, channel string) (*Publisher, error) {
	if client == nil {
		return nil, fmt.Errorf("new redis publisher: client is nil")
	}
	if channel == "" {
		channel = DefaultChannel
	}
	return &Publisher{client: client, channel: channel, now: time.Now}, nil
}

func (p *Publisher) Channel() string {
	return p.channel
}

func (p *Publisher) Broadcast(ctx context.Context, event string, types []*livepatch.TypeHandle) error {
	msg := Message{
		Event: event,
		Types: make([]string, 0, len(types)),
		At:    p.now().UTC(),
	}
	for _, t := range types {
		if t != nil {
			msg.Types = append(msg.Types, t.Name())
		}
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event, err)
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s event on %s: %w", event, p.channel, err)
	}
	return nil
}

// Listen subscribes to channel and calls fn for every decodable message
// until ctx is done.
func Listen(ctx context.Context, client redis.UniversalClient, channel string, fn func(Message)) error {
	if channel == "" {
		channel = DefaultChannel
	}
	sub := client.Subscribe(ctx, channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", channel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var msg Message
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				continue
			}
			fn(msg)
		}
	}
}
