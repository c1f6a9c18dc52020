// Package main implements the worldmesh shard process: a single stateful
// spatial-index map server holding the players and grid index for whatever
// zones the scaling controller has bound to it.
//
// A shard doesn't know its own zone assignment; it simply serves whatever
// RPCs the dispatcher and its sibling shards send it (internal/shard.Server).
// Zone ownership lives entirely in the dispatcher's routing table.
//
// Configuration:
//   - SHARD_ID: unique identifier for this shard (default: a generated uuid)
//   - SHARD_LISTEN: listen address (default: ":9090")
//   - AOE_REWARD: money credited per AOE hit (default: 1)
//   - WORLD_MIN / WORLD_MAX: world bounds on both axes (default: -1000000/1000000)
//   - GRID_SIZE: spatial index cell size (default: 100)
//   - MAX_ZONE_DEPTH: maximum quadtree depth (default: 10)
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/dreamware/worldmesh/internal/geometry"
	"github.com/dreamware/worldmesh/internal/shard"
)

func main() {
	_ = godotenv.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	log := logger.Sugar()

	id := getenv("SHARD_ID", uuid.NewString())
	listen := getenv("SHARD_LISTEN", ":9090")
	aoeReward := getenvUint("AOE_REWARD", 1)
	world := worldFromEnv()

	srv := shard.NewServer(id, world, aoeReward, log)

	mux := http.NewServeMux()
	srv.Routes(mux)

	httpSrv := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Infow("shard listening", "shard_id", id, "addr", listen)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("listen failed", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case <-stop:
		log.Infow("shard stopping on signal", "shard_id", id)
	case <-srv.ShutdownRequested():
		log.Infow("shard stopping on rpc shutdown request", "shard_id", id)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		log.Warnw("http server shutdown error", "error", err)
	}
	log.Infow("shard stopped", "shard_id", id)
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
