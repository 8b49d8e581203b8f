package sink

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrPublisherChannelRequired = errors.New("sink: publisher channel required")

// PublisherConfig configures a Redis mirror of one output stream.
type PublisherConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
	Channel  string
	// ListKey, when set, also keeps the newest ListCap lines in a Redis list.
	ListKey string
	ListCap int64
	Timeout time.Duration
}

func (c PublisherConfig) withDefaults() PublisherConfig {
	if c.PoolSize <= 0 {
		c.PoolSize = 4
	}
	if c.ListCap <= 0 {
		c.ListCap = 1000
	}
	if c.Timeout <= 0 {
		c.Timeout = 2 * time.Second
	}
	return c
}

// Publisher mirrors lines to Redis pub/sub. Lines are buffered by WriteLine
// and sent in one pipeline on Flush.
type Publisher struct {
	client  *redis.Client
	cfg     PublisherConfig
	pending []string
}

// NewPublisher connects and pings Redis.
func NewPublisher(ctx context.Context, cfg PublisherConfig) (*Publisher, error) {
	cfg = cfg.withDefaults()
	if strings.TrimSpace(cfg.Channel) == "" {
		return nil, ErrPublisherChannelRequired
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	pingCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("sink: redis ping %s: %w", cfg.Addr, err)
	}
	return &Publisher{client: client, cfg: cfg}, nil
}

func (p *Publisher) WriteLine(line string) error {
	if p.client == nil {
		return ErrClosed
	}
	p.pending = append(p.pending, line)
	return nil
}

func (p *Publisher) Flush() error {
	if p.client == nil {
		return ErrClosed
	}
	if len(p.pending) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.Timeout)
	defer cancel()

	pipe := p.client.Pipeline()
	for _, line := range p.pending {
		pipe.Publish(ctx, p.cfg.Channel, line)
		if p.cfg.ListKey != "" {
			pipe.LPush(ctx, p.cfg.ListKey, line)
		}
	}
	if p.cfg.ListKey != "" {
		pipe.LTrim(ctx, p.cfg.ListKey, 0, p.cfg.ListCap-1)
	}
	_, err := pipe.Exec(ctx)
	// A failed batch is dropped; the mirror is live-only.
	p.pending = p.pending[:0]
	if err != nil {
		return fmt.Errorf("sink: redis publish %s: %w", p.cfg.Channel, err)
	}
	return nil
}

// Close sends anything still pending and closes the client.
func (p *Publisher) Close() error {
	if p.client == nil {
		return nil
	}
	flushErr := p.Flush()
	closeErr := p.client.Close()
	p.client = nil
	return errors.Join(flushErr, closeErr)
}
