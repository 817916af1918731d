package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"greasetrack/config"
)

var ErrNotConnected = errors.New("messaging: not connected")

// Publisher is one broker backend.
type Publisher interface {
	Publish(ctx context.Context, topic string, data []byte) error
	IsConnected() bool
	Close() error
}

// Client owns the configured backend and can be reconfigured live.
type Client struct {
	mu  sync.RWMutex
	cfg config.MessagingConfig
	pub Publisher
	log *zap.Logger
}

func NewClient(cfg *config.MessagingConfig, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{cfg: *cfg, log: log}
}

// NewClientWithPublisher wires an already built backend.
func NewClientWithPublisher(cfg *config.MessagingConfig, pub Publisher, log *zap.Logger) *Client {
	c := NewClient(cfg, log)
	c.pub = pub
	return c
}

func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	pub, err := newPublisher(&c.cfg, c.log)
	if err != nil {
		return err
	}
	c.pub = pub
	return nil
}

func newPublisher(cfg *config.MessagingConfig, log *zap.Logger) (Publisher, error) {
	switch cfg.Backend {
	case "", "none":
		return nil, nil
	case "mqtt":
		p, err := NewMQTTPublisher(&cfg.MQTT, log)
		if err != nil {
			return nil, err
		}
		return p, nil
	case "kafka":
		p, err := NewKafkaPublisher(&cfg.Kafka, log)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	return nil, fmt.Errorf("messaging: unknown backend %q", cfg.Backend)
}

// Reconfigure swaps the backend for one built from cfg.
func (c *Client) Reconfigure(cfg *config.MessagingConfig) error {
	pub, err := newPublisher(cfg, c.log)
	if err != nil {
		return err
	}
	c.mu.Lock()
	old := c.pub
	c.pub = pub
	c.cfg = *cfg
	c.mu.Unlock()
	if old != nil {
		if err := old.Close(); err != nil {
			c.log.Warn("messaging: close previous backend", zap.Error(err))
		}
	}
	return nil
}

// Enabled reports whether a backend is configured at all.
func (c *Client) Enabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pub != nil
}

func (c *Client) Backend() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.cfg.Backend == "" {
		return "none"
	}
	return c.cfg.Backend
}

func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pub != nil && c.pub.IsConnected()
}

func (c *Client) Publish(ctx context.Context, topic string, data []byte) error {
	c.mu.RLock()
	pub := c.pub
	c.mu.RUnlock()
	if pub == nil {
		return ErrNotConnected
	}
	return pub.Publish(ctx, topic, data)
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pub != nil {
		if err := c.pub.Close(); err != nil {
			c.log.Warn("messaging: close", zap.Error(err))
		}
		c.pub = nil
	}
}
