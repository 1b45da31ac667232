package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// PriceUpdateChannel carries ';'-separated symbols whose price changed
const PriceUpdateChannel = "px_update"

// Publisher announces price changes on redis pub/sub
type Publisher struct {
	client  *redis.Client
	channel string
}

func NewPublisher(addr, pw string) *Publisher {
	return &Publisher{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: pw,
			DB:       0,
		}),
		channel: PriceUpdateChannel,
	}
}

func (p *Publisher) Publish(ctx context.Context, symbols []string) error {
	if len(symbols) == 0 {
		return nil
	}
	if err := p.client.Publish(ctx, p.channel, strings.Join(symbols, ";")).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", p.channel, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.client.Close()
}
