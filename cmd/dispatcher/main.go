// Package main implements the worldmesh dispatcher process: the stateless
// front door that routes every client RPC to the correct shard and runs
// the scaling controller that splits and merges shards as player density
// shifts.
//
// Configuration:
//   - DISPATCHER_LISTEN: listen address for the client-facing API (default: ":8080")
//   - SHARD_BINARY: path to the cmd/shard executable spawned for new shards
//   - SHARD_HOST: host new shard processes are reachable at (default: "127.0.0.1")
//   - SHARD_BASE_PORT: first port handed out to a spawned shard (default: 9090)
//   - SCALING_INTERVAL: overhead sweep period (default: "10s")
//   - MAX_PLAYERS / MIN_PLAYERS: split/merge thresholds (default: 1000 / 250)
//   - NUM_WORKERS: size of the per-player worker pool (default: 64)
//   - AOE_REWARD / WORLD_MIN / WORLD_MAX / GRID_SIZE / MAX_ZONE_DEPTH: forwarded
//     to every shard this dispatcher spawns.
package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/dreamware/worldmesh/internal/dispatcher"
	"github.com/dreamware/worldmesh/internal/geometry"
	"github.com/dreamware/worldmesh/internal/routing"
	"github.com/dreamware/worldmesh/internal/scaling"
)

func main() {
	_ = godotenv.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	log := logger.Sugar()

	listen := getenv("DISPATCHER_LISTEN", ":8080")
	world := worldFromEnv()
	aoeReward := getenvUint("AOE_REWARD", 1)
	numWorkers := int(getenvUint("NUM_WORKERS", 64))

	scalingCfg := scaling.Config{
		MaxPlayers: int(getenvUint("MAX_PLAYERS", 1000)),
		MinPlayers: int(getenvUint("MIN_PLAYERS", 250)),
	}
	if v := os.Getenv("SCALING_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			scalingCfg.Interval = d
		}
	}

	spawner := newSpawner(world, aoeReward, log)

	table := routing.New()
	root, err := spawner.SpawnShard(context.Background())
	if err != nil {
		log.Fatalw("failed to spawn initial shard", "error", err)
	}
	table.Bind(geometry.RootZone, routing.ZoneBinding{Serving: root})
	log.Infow("bootstrapped root shard", "shard_id", root.ShardID, "addr", root.Address)

	ctrl := scaling.NewController(world, table, spawner, scalingCfg, log)
	ctrlCtx, ctrlCancel := context.WithCancel(context.Background())
	go ctrl.Start(ctrlCtx)

	d := dispatcher.New(world, table, numWorkers, log)
	app := dispatcher.NewRouter(d)

	go func() {
		log.Infow("dispatcher listening", "addr", listen)
		if err := app.Listen(listen); err != nil {
			log.Fatalw("listen failed", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Infow("dispatcher stopping")
	ctrlCancel()
	ctrl.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Warnw("http server shutdown error", "error", err)
	}
	log.Infow("dispatcher stopped")
}

// newSpawner picks the out-of-process ProcessSpawner when SHARD_BINARY is
// configured (the real multi-process deployment), falling back to the
// in-process EmbeddedSpawner otherwise (single-binary / demo mode).
func newSpawner(world geometry.World, aoeReward uint64, log *zap.SugaredLogger) scaling.Spawner {
	binary := os.Getenv("SHARD_BINARY")
	if binary == "" {
		log.Infow("SHARD_BINARY not set, running shards in-process")
		return scaling.NewEmbeddedSpawner(world, aoeReward, log)
	}

	host := getenv("SHARD_HOST", "127.0.0.1")
	basePort := int(getenvUint("SHARD_BASE_PORT", 9090))
	env := []string{
		"AOE_REWARD=" + strconv.FormatUint(aoeReward, 10),
		"WORLD_MIN=" + strconv.FormatFloat(world.XMin, 'f', -1, 64),
		"WORLD_MAX=" + strconv.FormatFloat(world.XMax, 'f', -1, 64),
		"GRID_SIZE=" + strconv.FormatFloat(world.GridSize, 'f', -1, 64),
		"MAX_ZONE_DEPTH=" + strconv.Itoa(world.MaxDepth),
	}
	return scaling.NewProcessSpawner(binary, host, basePort, env)
}

func worldFromEnv() geometry.World {
	w := geometry.DefaultWorld()
	w.XMin = getenvFloat("WORLD_MIN", w.XMin)
	w.YMin = getenvFloat("WORLD_MIN", w.YMin)
	w.XMax = getenvFloat("WORLD_MAX", w.XMax)
	w.YMax = getenvFloat("WORLD_MAX", w.YMax)
	w.GridSize = getenvFloat("GRID_SIZE", w.GridSize)
	w.MaxDepth = int(getenvUint("MAX_ZONE_DEPTH", uint64(w.MaxDepth)))
	return w
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvFloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
	}
	return def
}

func getenvUint(k string, def uint64) uint64 {
	if v := os.Getenv(k); v != "" {
		if parsed, err := strconv.ParseUint(v, 10, 64); err == nil {
			return parsed
		}
	}
	return def
}
