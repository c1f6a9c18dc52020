package dispatcher

import (
	"encoding/binary"
	"hash/fnv"
)

// workerPool is a sharded FIFO queue of work items keyed by
// hash(player_id) mod W, giving single-consumer serialisation per player
// while distinct players proceed fully in parallel. The FNV-hash-then-modulo
// selection is the same kind of consistent assignment a storage shard
// picker would use, generalised here to picking a worker instead.
type workerPool struct {
	queues []chan func()
}

func newWorkerPool(n int) *workerPool {
	if n < 1 {
		n = 1
	}
	wp := &workerPool{queues: make([]chan func(), n)}
	for i := range wp.queues {
		q := make(chan func(), 256)
		wp.queues[i] = q
		go drain(q)
	}
	return wp
}

func drain(q chan func()) {
	for fn := range q {
		fn()
	}
}

// run submits fn to the worker owning playerID and blocks until it
// completes, returning its error.
func (wp *workerPool) run(playerID uint64, fn func() error) error {
	done := make(chan error, 1)
	idx := hashPlayer(playerID) % uint64(len(wp.queues))
	wp.queues[idx] <- func() { done <- fn() }
	return <-done
}

func hashPlayer(id uint64) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], id)
	h := fnv.New64a()
	h.Write(buf[:])
	return h.Sum64()
}
