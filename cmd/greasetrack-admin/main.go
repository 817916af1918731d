package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"

	"greasetrack/config"
	"greasetrack/logging"
	"greasetrack/projection"
	"greasetrack/store"
	"greasetrack/tankstate"
	"greasetrack/topology"
)

var Version = "dev"

const usage = `usage: greasetrack-admin [-config file] <command> [args]

commands:
  seed <file>          apply a topology seed file and assign cluster roles
  tanks                print every tank with its resolved location
  history <tank-id>    print a tank's ledger, newest first
  reconcile [-actor n] replay the ledger and repair derived state
  version              print version and exit
`

func main() {
	configPath := flag.String("config", "greasetrack.yaml", "path to config file")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}
	if flag.Arg(0) == "version" {
		fmt.Println("greasetrack-admin", Version)
		return
	}

	if err := run(*configPath, flag.Args(), os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "greasetrack-admin: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, args []string, out io.Writer) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log, err := logging.New(cfg.Logging.Level, "console", "greasetrack-admin")
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync()

	db, err := store.Open(&cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	switch args[0] {
	case "seed":
		if len(args) != 2 {
			return fmt.Errorf("seed: expected a file argument")
		}
		cache := openCache(ctx, &cfg.Redis, log)
		if cache != nil {
			defer cache.Close()
		}
		return seed(ctx, db, cfg, cache, args[1], log, out)
	case "tanks":
		return printTanks(ctx, db, log, out)
	case "history":
		if len(args) != 2 {
			return fmt.Errorf("history: expected a tank id")
		}
		id, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("history: invalid tank id %q", args[1])
		}
		return printHistory(ctx, db, id, out)
	case "reconcile":
		fs := flag.NewFlagSet("reconcile", flag.ContinueOnError)
		actor := fs.String("actor", "admin-cli", "name recorded on each repair")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		cache := openCache(ctx, &cfg.Redis, log)
		if cache != nil {
			defer cache.Close()
		}
		return reconcile(ctx, db, cache, *actor, log, out)
	}
	return fmt.Errorf("unknown command %q", args[0])
}

// openCache connects to the projection cache a running server reads, so a
// command that writes can refresh it. It returns nil when Redis is not
// configured or not reachable.
func openCache(ctx context.Context, cfg *config.RedisConfig, log *zap.Logger) *tankstate.RedisCache {
	cache := tankstate.DialRedis(cfg)
	if cache == nil {
		return nil
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := cache.Ping(pingCtx); err != nil {
		log.Warn("redis not available, projection cache left as is", zap.String("addr", cfg.Address), zap.Error(err))
		cache.Close()
		return nil
	}
	return cache
}

// refreshCache replaces the cached projection with one computed from SQL.
func refreshCache(ctx context.Context, db *store.DB, cache *tankstate.RedisCache, log *zap.Logger, out io.Writer) error {
	if cache == nil {
		return nil
	}
	res, err := tankstate.NewManager(db, nil, log).Project(ctx)
	if err != nil {
		return err
	}
	if err := cache.SetProjection(ctx, res); err != nil {
		return fmt.Errorf("refresh projection cache: %w", err)
	}
	fmt.Fprintln(out, "projection cache refreshed")
	return nil
}

func seed(ctx context.Context, db *store.DB, cfg *config.Config, cache *tankstate.RedisCache, path string, log *zap.Logger, out io.Writer) error {
	counts, err := topology.LoadSeed(ctx, path, db)
	if err != nil {
		return err
	}
	roles, err := topology.AssignRoles(ctx, db, cfg.Roles, log)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "seeded %d clusters, %d consumers, %d tanks\n", counts.Clusters, counts.Consumers, counts.Tanks)
	if roles.Warehouse != nil {
		fmt.Fprintf(out, "main warehouse: %s\n", roles.Warehouse.Name)
	}
	if roles.Hub != nil {
		fmt.Fprintf(out, "external hub:   %s\n", roles.Hub.Name)
	}
	return refreshCache(ctx, db, cache, log, out)
}

func printTanks(ctx context.Context, db *store.DB, log *zap.Logger, out io.Writer) error {
	res, err := tankstate.NewManager(db, nil, log).Project(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSERIAL\tKIND\tSTATUS\tQTY\tLOCATION")
	for _, t := range res.Tanks {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", t.ID, t.Serial, t.Kind, t.Status, t.Qty.String(), t.Location)
	}
	return tw.Flush()
}

func printHistory(ctx context.Context, db *store.DB, tankID int64, out io.Writer) error {
	tank, err := db.GetTank(ctx, tankID)
	if err != nil {
		return fmt.Errorf("tank %d: %w", tankID, err)
	}
	history, err := db.ListMovementsForTank(ctx, tankID)
	if err != nil {
		return err
	}
	clusters, err := db.ListClusters(ctx)
	if err != nil {
		return err
	}
	consumers, err := db.ListConsumers(ctx)
	if err != nil {
		return err
	}
	topo, err := topology.New(clusters, consumers)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "%s (%s)\n", tank.Serial, tank.Kind)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tOCCURRED\tFROM\tTO\tQTY\tSTATUS\tREF\tBY")
	for _, m := range history {
		from := endpointName(m.FromClusterID, m.FromConsumerID, topo)
		to := endpointName(m.ToClusterID, m.ToConsumerID, topo)
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s -> %s\t%s -> %s\t%s\t%s\n", m.ID, m.OccurredAt.Format(time.RFC3339),
			from, to, m.FromQty.String(), m.ToQty.String(), m.FromStatus, m.ToStatus, m.ReferenceNo, m.PerformedBy)
	}
	return tw.Flush()
}

func endpointName(clusterID, consumerID *int64, topo *topology.Topology) string {
	t := projection.TankWithLocation{CurrentClusterID: clusterID, CurrentConsumerID: consumerID}
	return projection.DisplayName(t, topo.ClusterMap(), topo.ConsumerMap())
}

func reconcile(ctx context.Context, db *store.DB, cache *tankstate.RedisCache, actor string, log *zap.Logger, out io.Writer) error {
	warnings, err := tankstate.NewManager(db, nil, log).Reconcile(ctx, actor)
	if err != nil {
		return err
	}
	if len(warnings) == 0 {
		fmt.Fprintln(out, "ledger and derived state agree")
		return nil
	}
	for _, w := range warnings {
		fmt.Fprintln(out, w.Error())
	}
	fmt.Fprintf(out, "%d repairs recorded\n", len(warnings))
	return refreshCache(ctx, db, cache, log, out)
}
