// Package topology loads the static shape of the site: storage clusters,
// their roles, and the consumer units tanks are deployed to.
package topology

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"greasetrack/config"
	"greasetrack/store"
)

type Store interface {
	ListClusters(ctx context.Context) ([]store.Cluster, error)
	ListConsumers(ctx context.Context) ([]store.Consumer, error)
}

// Roles holds the clusters with a non-standard role. Either may be nil when
// no cluster carries the role; only operations that need it fail.
type Roles struct {
	Warehouse *store.Cluster
	Hub       *store.Cluster
}

type Topology struct {
	Clusters  []store.Cluster
	Consumers []store.Consumer
	Roles     Roles

	clusterByID  map[int64]store.Cluster
	consumerByID map[int64]store.Consumer
}

func New(clusters []store.Cluster, consumers []store.Consumer) (*Topology, error) {
	roles, err := ResolveRoles(clusters)
	if err != nil {
		return nil, err
	}
	t := &Topology{
		Clusters:     clusters,
		Consumers:    consumers,
		Roles:        roles,
		clusterByID:  make(map[int64]store.Cluster, len(clusters)),
		consumerByID: make(map[int64]store.Consumer, len(consumers)),
	}
	for _, c := range clusters {
		t.clusterByID[c.ID] = c
	}
	for _, c := range consumers {
		t.consumerByID[c.ID] = c
	}
	return t, nil
}

func (t *Topology) Cluster(id int64) (store.Cluster, bool) {
	c, ok := t.clusterByID[id]
	return c, ok
}

func (t *Topology) Consumer(id int64) (store.Consumer, bool) {
	c, ok := t.consumerByID[id]
	return c, ok
}

func (t *Topology) ClusterMap() map[int64]store.Cluster   { return t.clusterByID }
func (t *Topology) ConsumerMap() map[int64]store.Consumer { return t.consumerByID }

// ResolveRoles picks out the warehouse and hub. More than one cluster with
// the same non-standard role is a configuration error.
func ResolveRoles(clusters []store.Cluster) (Roles, error) {
	var r Roles
	for i := range clusters {
		c := clusters[i]
		switch c.Role {
		case store.RoleMainWarehouse:
			if r.Warehouse != nil {
				return Roles{}, fmt.Errorf("topology: clusters %q and %q both have role %s", r.Warehouse.Name, c.Name, c.Role)
			}
			r.Warehouse = &c
		case store.RoleExternalHub:
			if r.Hub != nil {
				return Roles{}, fmt.Errorf("topology: clusters %q and %q both have role %s", r.Hub.Name, c.Name, c.Role)
			}
			r.Hub = &c
		}
	}
	return r, nil
}

type Service struct {
	src Store
}

func NewService(src Store) *Service {
	return &Service{src: src}
}

// Load reads clusters and consumers concurrently.
func (s *Service) Load(ctx context.Context) (*Topology, error) {
	var clusters []store.Cluster
	var consumers []store.Consumer
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		clusters, err = s.src.ListClusters(gctx)
		if err != nil {
			return fmt.Errorf("list clusters: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		consumers, err = s.src.ListConsumers(gctx)
		if err != nil {
			return fmt.Errorf("list consumers: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("topology: %w", err)
	}
	return New(clusters, consumers)
}

type RoleWriter interface {
	ListClusters(ctx context.Context) ([]store.Cluster, error)
	SetClusterRole(ctx context.Context, id int64, role store.Role) error
}

// AssignRoles sets each cluster's role from the configured names. Names match
// case-insensitively after trimming; every other cluster becomes STANDARD.
func AssignRoles(ctx context.Context, w RoleWriter, names config.RoleNames, log *zap.Logger) (Roles, error) {
	clusters, err := w.ListClusters(ctx)
	if err != nil {
		return Roles{}, fmt.Errorf("assign roles: %w", err)
	}
	for i := range clusters {
		c := &clusters[i]
		want := roleFor(c.Name, names)
		if want == c.Role {
			continue
		}
		if err := w.SetClusterRole(ctx, c.ID, want); err != nil {
			return Roles{}, fmt.Errorf("assign role %s to %q: %w", want, c.Name, err)
		}
		log.Info("topology: cluster role changed",
			zap.Int64("cluster_id", c.ID), zap.String("cluster", c.Name),
			zap.String("from", string(c.Role)), zap.String("to", string(want)))
		c.Role = want
	}
	roles, err := ResolveRoles(clusters)
	if err != nil {
		return Roles{}, err
	}
	if roles.Warehouse == nil {
		log.Warn("topology: no cluster matches the main warehouse name", zap.String("name", names.MainWarehouse))
	}
	if roles.Hub == nil {
		log.Warn("topology: no cluster matches the external hub name", zap.String("name", names.ExternalHub))
	}
	return roles, nil
}

func roleFor(name string, names config.RoleNames) store.Role {
	n := strings.TrimSpace(name)
	switch {
	case names.MainWarehouse != "" && strings.EqualFold(n, strings.TrimSpace(names.MainWarehouse)):
		return store.RoleMainWarehouse
	case names.ExternalHub != "" && strings.EqualFold(n, strings.TrimSpace(names.ExternalHub)):
		return store.RoleExternalHub
	}
	return store.RoleStandard
}
