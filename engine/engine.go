package engine

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"greasetrack/config"
	"greasetrack/messaging"
	"greasetrack/movement"
	"greasetrack/projection"
	"greasetrack/store"
	"greasetrack/tankstate"
	"greasetrack/topology"
)

const healthInterval = 30 * time.Second

type Config struct {
	AppConfig *config.Config
	DB        *store.DB
	// Cache is optional; without it the projection is read from SQL.
	Cache     *tankstate.RedisCache
	MsgClient *messaging.Client
	Log       *zap.Logger
}

type Engine struct {
	cfg       *config.Config
	db        *store.DB
	cache     *tankstate.RedisCache
	msgClient *messaging.Client
	log       *zap.Logger
	topology  *topology.Service
	tankState *tankstate.Manager
	executor  *movement.Executor
	metrics   *Metrics
	Events    *EventBus

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu             sync.Mutex
	redisConnected bool
	msgConnected   bool
}

func New(c Config) *Engine {
	log := c.Log
	if log == nil {
		log = zap.NewNop()
	}
	msgClient := c.MsgClient
	if msgClient == nil {
		msgClient = messaging.NewClient(&c.AppConfig.Messaging, log)
	}
	var cache tankstate.Cache
	if c.Cache != nil {
		cache = c.Cache
	}
	e := &Engine{
		cfg:       c.AppConfig,
		db:        c.DB,
		cache:     c.Cache,
		msgClient: msgClient,
		log:       log,
		topology:  topology.NewService(c.DB),
		tankState: tankstate.NewManager(c.DB, cache, log),
		metrics:   NewMetrics(),
		Events:    NewEventBus(),
		stopChan:  make(chan struct{}),
	}
	e.executor = movement.NewExecutor(
		movement.NewStoreLedger(c.DB),
		e.topology,
		&movementEmitter{bus: e.Events},
		log,
		c.AppConfig.Executor.Timeout,
	)
	e.wireEventHandlers()
	return e
}

// Start builds the initial projection and starts the background loops.
func (e *Engine) Start(ctx context.Context) error {
	if _, err := e.tankState.Rebuild(ctx); err != nil {
		return err
	}
	e.checkConnectionStatus(ctx)

	e.wg.Add(1)
	go e.connectionHealthLoop()
	if e.cfg.Reconcile.Interval > 0 {
		e.wg.Add(1)
		go e.reconcileLoop(e.cfg.Reconcile.Interval)
	}
	e.log.Info("engine: started")
	return nil
}

func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopChan) })
	e.wg.Wait()
	e.log.Info("engine: stopped")
}

// Accessors
func (e *Engine) DB() *store.DB                 { return e.db }
func (e *Engine) AppConfig() *config.Config     { return e.cfg }
func (e *Engine) TankState() *tankstate.Manager { return e.tankState }
func (e *Engine) Metrics() *Metrics             { return e.metrics }
func (e *Engine) MsgClient() *messaging.Client  { return e.msgClient }
func (e *Engine) Topology() *topology.Service   { return e.topology }
func (e *Engine) Executor() *movement.Executor  { return e.executor }
func (e *Engine) Logger() *zap.Logger           { return e.log }

// Move runs one movement intent through the executor.
func (e *Engine) Move(ctx context.Context, in movement.Intent) (*movement.Summary, error) {
	timer := prometheus.NewTimer(e.metrics.ExecuteDuration)
	defer timer.ObserveDuration()
	return e.executor.Execute(ctx, in)
}

func (e *Engine) Tanks(ctx context.Context) ([]projection.TankWithLocation, error) {
	return e.tankState.Tanks(ctx)
}

func (e *Engine) Consumers(ctx context.Context) ([]projection.ConsumerWithTank, error) {
	return e.tankState.Consumers(ctx)
}

// Reconcile resyncs derived state with the ledger and announces each repair.
func (e *Engine) Reconcile(ctx context.Context, actor string) ([]tankstate.Warning, error) {
	warnings, err := e.tankState.Reconcile(ctx, actor)
	for _, w := range warnings {
		e.Events.Emit(Event{Type: EventTankReconciled, Payload: TankReconciledEvent{Warning: w, Actor: actor}})
	}
	if len(warnings) > 0 {
		e.Events.Emit(Event{Type: EventProjectionChanged, Payload: ProjectionChangedEvent{Reason: "reconciled"}})
	}
	return warnings, err
}

// Health reports the state of each dependency.
func (e *Engine) Health(ctx context.Context) map[string]any {
	h := map[string]any{
		"database":  e.db.PingContext(ctx) == nil,
		"driver":    e.db.Driver(),
		"messaging": e.msgClient.IsConnected(),
		"backend":   e.msgClient.Backend(),
	}
	if e.cache != nil {
		h["redis"] = e.cache.Ping(ctx) == nil
	}
	return h
}

func (e *Engine) checkConnectionStatus(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cache != nil {
		if err := e.cache.Ping(ctx); err == nil {
			if !e.redisConnected {
				e.redisConnected = true
				e.Events.Emit(Event{Type: EventRedisConnected, Payload: ConnectionEvent{Detail: "redis connected"}})
			}
		} else if e.redisConnected {
			e.redisConnected = false
			e.Events.Emit(Event{Type: EventRedisDisconnected, Payload: ConnectionEvent{Detail: err.Error()}})
		}
	}

	if e.msgClient.IsConnected() {
		if !e.msgConnected {
			e.msgConnected = true
			e.Events.Emit(Event{Type: EventMessagingConnected, Payload: ConnectionEvent{Detail: "messaging connected"}})
		}
	} else if e.msgConnected {
		e.msgConnected = false
		e.Events.Emit(Event{Type: EventMessagingDisconnected, Payload: ConnectionEvent{Detail: "messaging disconnected"}})
	}
}

func (e *Engine) connectionHealthLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopChan:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			e.checkConnectionStatus(ctx)
			cancel()
		}
	}
}

func (e *Engine) reconcileLoop(interval time.Duration) {
	defer e.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopChan:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			warnings, err := e.Reconcile(ctx, "system")
			cancel()
			if err != nil {
				e.log.Error("engine: reconcile", zap.Error(err))
			} else if len(warnings) > 0 {
				e.log.Warn("engine: reconcile repaired drift", zap.Int("warnings", len(warnings)))
			}
		}
	}
}

// ReconfigureMessaging rebuilds the messaging backend from the current
// config. On failure the previous backend stays in place.
func (e *Engine) ReconfigureMessaging(ctx context.Context) error {
	err := e.msgClient.Reconfigure(&e.cfg.Messaging)
	if err != nil {
		e.log.Error("engine: messaging reconfigure", zap.Error(err))
	} else {
		e.log.Info("engine: messaging reconfigured", zap.String("backend", e.cfg.Messaging.Backend))
	}
	e.checkConnectionStatus(ctx)
	return err
}
