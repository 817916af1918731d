package tankstate

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"greasetrack/projection"
	"greasetrack/store"
)

// Manager provides write-through projection state: SQL first, then the cache.
type Manager struct {
	src   Source
	cache Cache
	log   *zap.Logger
}

// NewManager accepts a nil cache; every read then goes to SQL.
func NewManager(src Source, cache Cache, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{src: src, cache: cache, log: log}
}

// Project computes the projection from SQL without touching the cache.
func (m *Manager) Project(ctx context.Context) (projection.Result, error) {
	var (
		tanks     []store.Tank
		latest    map[int64]store.Movement
		clusters  []store.Cluster
		consumers []store.Consumer
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		tanks, err = m.src.ListTanks(gctx)
		return wrap("list tanks", err)
	})
	g.Go(func() (err error) {
		latest, err = m.src.ListLatestMovements(gctx)
		return wrap("list latest movements", err)
	})
	g.Go(func() (err error) {
		clusters, err = m.src.ListClusters(gctx)
		return wrap("list clusters", err)
	})
	g.Go(func() (err error) {
		consumers, err = m.src.ListConsumers(gctx)
		return wrap("list consumers", err)
	})
	if err := g.Wait(); err != nil {
		return projection.Result{}, fmt.Errorf("tankstate: %w", err)
	}
	return projection.Project(tanks, latest, clusters, consumers), nil
}

// Rebuild recomputes the projection and replaces the cached copy. A cache
// failure is logged, not returned; readers fall back to SQL.
func (m *Manager) Rebuild(ctx context.Context) (projection.Result, error) {
	res, err := m.Project(ctx)
	if err != nil {
		return res, err
	}
	if m.cache != nil {
		if err := m.cache.SetProjection(ctx, res); err != nil {
			m.log.Warn("tankstate: cache write failed", zap.Error(err))
		} else {
			m.log.Debug("tankstate: cache rebuilt", zap.Int("tanks", len(res.Tanks)), zap.Int("consumers", len(res.Consumers)))
		}
	}
	return res, nil
}

// Tanks reads the cached projection, falling back to SQL.
func (m *Manager) Tanks(ctx context.Context) ([]projection.TankWithLocation, error) {
	if m.cache != nil {
		tanks, err := m.cache.Tanks(ctx)
		if err == nil && tanks != nil {
			return tanks, nil
		}
		if err != nil && !errors.Is(err, ErrCacheMiss) {
			m.log.Warn("tankstate: cache read failed", zap.Error(err))
		}
	}
	res, err := m.Rebuild(ctx)
	if err != nil {
		return nil, err
	}
	return res.Tanks, nil
}

// Consumers reads the cached projection, falling back to SQL.
func (m *Manager) Consumers(ctx context.Context) ([]projection.ConsumerWithTank, error) {
	if m.cache != nil {
		consumers, err := m.cache.Consumers(ctx)
		if err == nil && consumers != nil {
			return consumers, nil
		}
		if err != nil && !errors.Is(err, ErrCacheMiss) {
			m.log.Warn("tankstate: cache read failed", zap.Error(err))
		}
	}
	res, err := m.Rebuild(ctx)
	if err != nil {
		return nil, err
	}
	return res.Consumers, nil
}

// Invalidate drops the cached projection so the next read recomputes it.
func (m *Manager) Invalidate(ctx context.Context) {
	if m.cache == nil {
		return
	}
	if err := m.cache.Flush(ctx); err != nil {
		m.log.Warn("tankstate: cache flush failed", zap.Error(err))
	}
}

func wrap(op string, err error) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
