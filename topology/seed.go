package topology

import (
	"context"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"greasetrack/store"
)

// Seed is the reference data file format.
type Seed struct {
	Clusters []struct {
		Name        string `yaml:"name"`
		IsIssuing   bool   `yaml:"is_issuing"`
		IsReceiving *bool  `yaml:"is_receiving"`
		ViewQueue   int    `yaml:"view_queue"`
	} `yaml:"clusters"`
	Consumers []struct {
		UnitID      string `yaml:"unit_id"`
		HomeCluster string `yaml:"home_cluster"`
	} `yaml:"consumers"`
	Tanks []struct {
		Serial string `yaml:"serial"`
		Kind   string `yaml:"kind"`
		Status string `yaml:"status"`
		Qty    string `yaml:"qty"`
	} `yaml:"tanks"`
}

type SeedWriter interface {
	UpsertCluster(ctx context.Context, c *store.Cluster) error
	UpsertConsumer(ctx context.Context, c *store.Consumer) error
	UpsertTank(ctx context.Context, t *store.Tank) error
}

// SeedCounts reports how many rows of each kind were upserted.
type SeedCounts struct {
	Clusters, Consumers, Tanks int
}

func LoadSeed(ctx context.Context, path string, w SeedWriter) (SeedCounts, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return SeedCounts{}, fmt.Errorf("read seed: %w", err)
	}
	var s Seed
	if err := yaml.Unmarshal(data, &s); err != nil {
		return SeedCounts{}, fmt.Errorf("parse seed: %w", err)
	}
	return ApplySeed(ctx, &s, w)
}

// ApplySeed upserts clusters first so consumers can reference them by name.
// Roles are left STANDARD; AssignRoles runs afterwards.
func ApplySeed(ctx context.Context, s *Seed, w SeedWriter) (SeedCounts, error) {
	var n SeedCounts
	ids := make(map[string]int64, len(s.Clusters))
	for _, sc := range s.Clusters {
		if sc.Name == "" {
			return n, fmt.Errorf("seed: cluster without name")
		}
		c := &store.Cluster{Name: sc.Name, IsIssuing: sc.IsIssuing, IsReceiving: true, ViewQueue: sc.ViewQueue}
		if sc.IsReceiving != nil {
			c.IsReceiving = *sc.IsReceiving
		}
		if err := w.UpsertCluster(ctx, c); err != nil {
			return n, fmt.Errorf("seed cluster %q: %w", sc.Name, err)
		}
		ids[sc.Name] = c.ID
		n.Clusters++
	}
	for _, sc := range s.Consumers {
		if sc.UnitID == "" {
			return n, fmt.Errorf("seed: consumer without unit_id")
		}
		c := &store.Consumer{UnitID: sc.UnitID}
		if sc.HomeCluster != "" {
			id, ok := ids[sc.HomeCluster]
			if !ok {
				return n, fmt.Errorf("seed consumer %q: unknown home cluster %q", sc.UnitID, sc.HomeCluster)
			}
			c.HomeClusterID = &id
		}
		if err := w.UpsertConsumer(ctx, c); err != nil {
			return n, fmt.Errorf("seed consumer %q: %w", sc.UnitID, err)
		}
		n.Consumers++
	}
	for _, st := range s.Tanks {
		if st.Serial == "" {
			return n, fmt.Errorf("seed: tank without serial")
		}
		t := &store.Tank{Serial: st.Serial, Kind: store.Kind(st.Kind), Status: store.Status(st.Status)}
		if st.Qty != "" {
			qty, err := decimal.NewFromString(st.Qty)
			if err != nil {
				return n, fmt.Errorf("seed tank %q: qty: %w", st.Serial, err)
			}
			if qty.IsNegative() {
				return n, fmt.Errorf("seed tank %q: negative qty", st.Serial)
			}
			t.Qty = qty
		}
		if err := w.UpsertTank(ctx, t); err != nil {
			return n, fmt.Errorf("seed tank %q: %w", st.Serial, err)
		}
		n.Tanks++
	}
	return n, nil
}
