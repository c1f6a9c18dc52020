package scaling

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dreamware/worldmesh/internal/cluster"
	"github.com/dreamware/worldmesh/internal/geometry"
	"github.com/dreamware/worldmesh/internal/shard"
)

// EmbeddedSpawner runs every shard as an in-process *shard.Server behind an
// httptest.Server — the in-process half of the Spawner abstraction, used by
// tests and by a single-binary deployment mode. A real multi-machine
// deployment uses ProcessSpawner instead.
type EmbeddedSpawner struct {
	world     geometry.World
	aoeReward uint64
	log       *zap.SugaredLogger

	mu      sync.Mutex
	servers map[string]*httptest.Server
}

// NewEmbeddedSpawner creates a spawner whose shards share world and
// aoeReward but are otherwise independent stores.
func NewEmbeddedSpawner(world geometry.World, aoeReward uint64, log *zap.SugaredLogger) *EmbeddedSpawner {
	return &EmbeddedSpawner{
		world:     world,
		aoeReward: aoeReward,
		log:       log,
		servers:   make(map[string]*httptest.Server),
	}
}

func (e *EmbeddedSpawner) SpawnShard(_ context.Context) (cluster.ShardInfo, error) {
	id := uuid.NewString()
	srv := shard.NewServer(id, e.world, e.aoeReward, e.log)

	mux := http.NewServeMux()
	srv.Routes(mux)
	httpSrv := httptest.NewServer(mux)

	e.mu.Lock()
	e.servers[id] = httpSrv
	e.mu.Unlock()

	return cluster.ShardInfo{ShardID: id, Address: httpSrv.URL}, nil
}

func (e *EmbeddedSpawner) ShutdownShard(_ context.Context, s cluster.ShardInfo) error {
	e.mu.Lock()
	srv, ok := e.servers[s.ShardID]
	delete(e.servers, s.ShardID)
	e.mu.Unlock()
	if ok {
		srv.Close()
	}
	return nil
}

// ProcessSpawner spawns each shard as a separate OS process running a
// cmd/shard binary, assigning it the next port in an incrementing range
// and discovering readiness by polling /health — the out-of-process half
// of the Spawner abstraction (fixed-interval polling instead of
// push-registration, since here the controller is waiting on the shard
// rather than the reverse).
type ProcessSpawner struct {
	BinaryPath string
	Host       string
	Env        []string

	nextPort int32

	mu    sync.Mutex
	procs map[string]*exec.Cmd
}

// NewProcessSpawner creates a spawner that execs BinaryPath for every new
// shard, assigning listen ports starting at basePort.
func NewProcessSpawner(binaryPath, host string, basePort int, env []string) *ProcessSpawner {
	return &ProcessSpawner{
		BinaryPath: binaryPath,
		Host:       host,
		Env:        env,
		nextPort:   int32(basePort),
		procs:      make(map[string]*exec.Cmd),
	}
}

func (p *ProcessSpawner) SpawnShard(ctx context.Context) (cluster.ShardInfo, error) {
	id := uuid.NewString()
	port := atomic.AddInt32(&p.nextPort, 1) - 1
	listen := fmt.Sprintf(":%d", port)
	addr := fmt.Sprintf("http://%s:%d", p.Host, port)

	cmd := exec.Command(p.BinaryPath)
	cmd.Env = append(os.Environ(), p.Env...)
	cmd.Env = append(cmd.Env,
		"SHARD_ID="+id,
		"SHARD_LISTEN="+listen,
		"SHARD_ADDR="+addr,
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return cluster.ShardInfo{}, fmt.Errorf("spawn shard: %w", err)
	}

	if err := waitHealthy(ctx, addr); err != nil {
		_ = cmd.Process.Kill()
		return cluster.ShardInfo{}, err
	}

	p.mu.Lock()
	p.procs[id] = cmd
	p.mu.Unlock()

	return cluster.ShardInfo{ShardID: id, Address: addr}, nil
}

func (p *ProcessSpawner) ShutdownShard(ctx context.Context, s cluster.ShardInfo) error {
	if err := cluster.PostJSON(ctx, s.Address+"/rpc/shutdown", struct{}{}, nil); err != nil {
		return err
	}

	p.mu.Lock()
	cmd, ok := p.procs[s.ShardID]
	delete(p.procs, s.ShardID)
	p.mu.Unlock()
	if !ok {
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		_ = cmd.Process.Kill()
	}
	return nil
}

func waitHealthy(ctx context.Context, addr string) error {
	deadline := time.Now().Add(5 * time.Second)
	client := &http.Client{Timeout: time.Second}
	for time.Now().Before(deadline) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, addr+"/health", nil)
		if err == nil {
			if resp, derr := client.Do(req); derr == nil {
				resp.Body.Close()
				if resp.StatusCode == http.StatusOK {
					return nil
				}
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("shard at %s did not become healthy in time", addr)
}
