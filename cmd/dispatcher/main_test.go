package main

import (
	"os"
	"syscall"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/worldmesh/internal/geometry"
	"github.com/dreamware/worldmesh/internal/scaling"
)

func TestGetenv(t *testing.T) {
	t.Setenv("DISPATCHER_TEST_VAR", "set")
	if got := getenv("DISPATCHER_TEST_VAR", "default"); got != "set" {
		t.Errorf("expected %q, got %q", "set", got)
	}
	if got := getenv("DISPATCHER_TEST_UNSET", "default"); got != "default" {
		t.Errorf("expected %q, got %q", "default", got)
	}
}

func TestGetenvFloat(t *testing.T) {
	t.Setenv("DISPATCHER_TEST_FLOAT", "99.25")
	if got := getenvFloat("DISPATCHER_TEST_FLOAT", 0); got != 99.25 {
		t.Errorf("expected 99.25, got %v", got)
	}
	if got := getenvFloat("DISPATCHER_TEST_FLOAT_UNSET", 1.5); got != 1.5 {
		t.Errorf("expected fallback 1.5, got %v", got)
	}
}

func TestGetenvUint(t *testing.T) {
	t.Setenv("DISPATCHER_TEST_UINT", "7")
	if got := getenvUint("DISPATCHER_TEST_UINT", 0); got != 7 {
		t.Errorf("expected 7, got %v", got)
	}
	if got := getenvUint("DISPATCHER_TEST_UINT_UNSET", 3); got != 3 {
		t.Errorf("expected fallback 3, got %v", got)
	}
}

func TestWorldFromEnvDefaults(t *testing.T) {
	def := geometry.DefaultWorld()
	w := worldFromEnv()
	if w != def {
		t.Errorf("expected default world %+v, got %+v", def, w)
	}
}

func TestNewSpawnerDefaultsToEmbedded(t *testing.T) {
	os.Unsetenv("SHARD_BINARY")
	log := zap.NewNop().Sugar()
	spawner := newSpawner(geometry.DefaultWorld(), 1, log)
	if _, ok := spawner.(*scaling.EmbeddedSpawner); !ok {
		t.Errorf("expected an *scaling.EmbeddedSpawner when SHARD_BINARY is unset, got %T", spawner)
	}
}

func TestNewSpawnerUsesProcessSpawnerWhenBinarySet(t *testing.T) {
	t.Setenv("SHARD_BINARY", "/usr/bin/true")
	log := zap.NewNop().Sugar()
	spawner := newSpawner(geometry.DefaultWorld(), 1, log)
	if _, ok := spawner.(*scaling.ProcessSpawner); !ok {
		t.Errorf("expected a *scaling.ProcessSpawner when SHARD_BINARY is set, got %T", spawner)
	}
}

// TestMainGracefulShutdown starts the dispatcher process (which bootstraps
// one embedded shard since SHARD_BINARY is unset) and confirms it shuts
// down cleanly on SIGTERM.
func TestMainGracefulShutdown(t *testing.T) {
	t.Setenv("DISPATCHER_LISTEN", "127.0.0.1:0")
	os.Unsetenv("SHARD_BINARY")

	done := make(chan struct{})
	go func() {
		defer close(done)
		main()
	}()

	time.Sleep(150 * time.Millisecond)

	process, err := os.FindProcess(os.Getpid())
	if err != nil {
		t.Fatalf("failed to find self process: %v", err)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		t.Fatalf("failed to signal self: %v", err)
	}

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("main did not shut down within timeout")
	}
}
