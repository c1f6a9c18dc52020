package main

import (
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/dreamware/worldmesh/internal/geometry"
)

func TestGetenv(t *testing.T) {
	t.Setenv("SHARD_TEST_VAR", "set")
	if got := getenv("SHARD_TEST_VAR", "default"); got != "set" {
		t.Errorf("expected %q, got %q", "set", got)
	}
	if got := getenv("SHARD_TEST_UNSET", "default"); got != "default" {
		t.Errorf("expected %q, got %q", "default", got)
	}
}

func TestGetenvFloat(t *testing.T) {
	t.Setenv("SHARD_TEST_FLOAT", "12.5")
	if got := getenvFloat("SHARD_TEST_FLOAT", 0); got != 12.5 {
		t.Errorf("expected 12.5, got %v", got)
	}
	if got := getenvFloat("SHARD_TEST_FLOAT_UNSET", 3.5); got != 3.5 {
		t.Errorf("expected fallback 3.5, got %v", got)
	}
	t.Setenv("SHARD_TEST_FLOAT_BAD", "not-a-number")
	if got := getenvFloat("SHARD_TEST_FLOAT_BAD", 7); got != 7 {
		t.Errorf("expected fallback on parse error, got %v", got)
	}
}

func TestGetenvUint(t *testing.T) {
	t.Setenv("SHARD_TEST_UINT", "42")
	if got := getenvUint("SHARD_TEST_UINT", 0); got != 42 {
		t.Errorf("expected 42, got %v", got)
	}
	if got := getenvUint("SHARD_TEST_UINT_UNSET", 9); got != 9 {
		t.Errorf("expected fallback 9, got %v", got)
	}
}

func TestWorldFromEnvDefaults(t *testing.T) {
	def := geometry.DefaultWorld()
	w := worldFromEnv()
	if w != def {
		t.Errorf("expected default world %+v, got %+v", def, w)
	}
}

func TestWorldFromEnvOverrides(t *testing.T) {
	t.Setenv("WORLD_MIN", "-500")
	t.Setenv("WORLD_MAX", "500")
	t.Setenv("GRID_SIZE", "10")
	t.Setenv("MAX_ZONE_DEPTH", "3")

	w := worldFromEnv()
	if w.XMin != -500 || w.YMin != -500 || w.XMax != 500 || w.YMax != 500 {
		t.Errorf("world bounds not overridden: %+v", w)
	}
	if w.GridSize != 10 {
		t.Errorf("expected grid size 10, got %v", w.GridSize)
	}
	if w.MaxDepth != 3 {
		t.Errorf("expected max depth 3, got %v", w.MaxDepth)
	}
}

// TestMainGracefulShutdown starts the shard process on an OS-assigned port
// and confirms it exits cleanly on SIGTERM.
func TestMainGracefulShutdown(t *testing.T) {
	t.Setenv("SHARD_LISTEN", "127.0.0.1:0")
	t.Setenv("SHARD_ID", "test-shard")

	done := make(chan struct{})
	go func() {
		defer close(done)
		main()
	}()

	time.Sleep(100 * time.Millisecond)

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
