package messaging

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"greasetrack/store"
)

const maxOutboxRetries = 10

// OutboxStore is the durable queue the drainer reads from.
type OutboxStore interface {
	ListPendingOutbox(ctx context.Context, limit, maxRetries int) ([]*store.OutboxMessage, error)
	MarkOutboxSent(ctx context.Context, id int64) error
	IncrementOutboxRetries(ctx context.Context, id int64) error
}

type Sender interface {
	Enabled() bool
	Publish(ctx context.Context, topic string, data []byte) error
}

// OutboxDrainer periodically publishes pending outbox rows.
type OutboxDrainer struct {
	db       OutboxStore
	sender   Sender
	interval time.Duration
	batch    int
	log      *zap.Logger
	stop     chan struct{}
	done     chan struct{}
	once     sync.Once
}

func NewOutboxDrainer(db OutboxStore, sender Sender, interval time.Duration, batch int, log *zap.Logger) *OutboxDrainer {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if batch <= 0 {
		batch = 50
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &OutboxDrainer{
		db:       db,
		sender:   sender,
		interval: interval,
		batch:    batch,
		log:      log,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (d *OutboxDrainer) Start() {
	go d.run()
}

func (d *OutboxDrainer) Stop() {
	d.once.Do(func() { close(d.stop) })
	<-d.done
}

func (d *OutboxDrainer) run() {
	defer close(d.done)
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-d.stop:
			return
		case <-ticker.C:
			d.Drain(context.Background())
		}
	}
}

// Drain publishes one batch and returns how many rows were sent. Rows stay
// queued while no backend is configured.
func (d *OutboxDrainer) Drain(ctx context.Context) int {
	if !d.sender.Enabled() {
		return 0
	}
	msgs, err := d.db.ListPendingOutbox(ctx, d.batch, maxOutboxRetries)
	if err != nil {
		d.log.Error("outbox: list pending", zap.Error(err))
		return 0
	}
	sent := 0
	for _, msg := range msgs {
		if err := d.sender.Publish(ctx, msg.Topic, msg.Payload); err != nil {
			d.log.Warn("outbox: publish failed", zap.Int64("outbox_id", msg.ID), zap.String("topic", msg.Topic),
				zap.Int("retries", msg.Retries+1), zap.Error(err))
			if err := d.db.IncrementOutboxRetries(ctx, msg.ID); err != nil {
				d.log.Error("outbox: increment retries", zap.Int64("outbox_id", msg.ID), zap.Error(err))
			}
			continue
		}
		if err := d.db.MarkOutboxSent(ctx, msg.ID); err != nil {
			d.log.Error("outbox: mark sent", zap.Int64("outbox_id", msg.ID), zap.Error(err))
			continue
		}
		sent++
	}
	if sent > 0 {
		d.log.Debug("outbox: drained", zap.Int("sent", sent))
	}
	return sent
}
