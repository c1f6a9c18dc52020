// Package routing implements the dispatcher's zone→shard routing table, the
// single source of truth every client RPC and the scaling controller reads
// and writes. A flat shard-id→node-id assignment under consistent hashing
// generalises here to a zone-keyed binding with split/merge migration
// support.
//
// # Concurrency
//
// Reads and writes are safe for concurrent use. The binding set is an
// xsync.MapOf: reads (the common case — every client RPC resolves a
// coordinate or a zone before it can be routed) never block each other or a
// concurrent write. There is exactly one writer (the scaling controller) at
// a time, so no compare-and-swap loop is needed on the write side either —
// entry-level atomicity from xsync.MapOf is sufficient, and no multi-entry
// transactions are required.
package routing

import (
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/dreamware/worldmesh/internal/cluster"
	"github.com/dreamware/worldmesh/internal/geometry"
)

// ZoneBinding pairs a zone with the shard currently serving it and, during a
// split or merge migration, the shard draining out of it.
type ZoneBinding struct {
	Serving   cluster.ShardInfo
	Exporting *cluster.ShardInfo
}

// Table is the dispatcher's zone_to_binding map.
type Table struct {
	bindings *xsync.MapOf[geometry.ZoneId, ZoneBinding]
}

// New creates an empty routing table. Callers bind the root zone before
// serving any traffic (a lookup always finds a shard once the root is
// bound, since every coordinate belongs to the root zone).
func New() *Table {
	return &Table{bindings: xsync.NewMapOf[geometry.ZoneId, ZoneBinding]()}
}

// Bind sets or replaces the binding for a single zone.
func (t *Table) Bind(zone geometry.ZoneId, b ZoneBinding) {
	t.bindings.Store(zone, b)
}

// Unbind removes a zone's entry entirely, used when a split subdivides a
// leaf (the old zone stops existing) or a merge collapses children into
// their parent.
func (t *Table) Unbind(zone geometry.ZoneId) {
	t.bindings.Delete(zone)
}

// Get returns the current binding for a zone, if any.
func (t *Table) Get(zone geometry.ZoneId) (ZoneBinding, bool) {
	return t.bindings.Load(zone)
}

// SetExporting marks source as draining out of zone, leaving Serving
// unchanged. Used when a split or merge registers its migration overlap.
func (t *Table) SetExporting(zone geometry.ZoneId, source cluster.ShardInfo) bool {
	b, ok := t.bindings.Load(zone)
	if !ok {
		return false
	}
	b.Exporting = &source
	t.bindings.Store(zone, b)
	return true
}

// ClearExporting removes the exporting shard from a zone's binding once its
// drain loop has emptied it. A no-op if the zone has no exporting shard.
func (t *Table) ClearExporting(zone geometry.ZoneId) {
	b, ok := t.bindings.Load(zone)
	if !ok || b.Exporting == nil {
		return
	}
	b.Exporting = nil
	t.bindings.Store(zone, b)
}

// LookupByCoord resolves a world coordinate to the zone and binding that
// currently serves it, descending depth 1..=MaxDepth and returning the
// deepest depth at which an entry exists. A shard is always found once the
// root zone has been bound.
func (t *Table) LookupByCoord(w geometry.World, x, y float64) (geometry.ZoneId, ZoneBinding, error) {
	var (
		zone    geometry.ZoneId
		binding ZoneBinding
		found   bool
	)
	for depth := 1; depth <= w.MaxDepth; depth++ {
		candidate, err := geometry.CoordToZone(w, x, y, depth)
		if err != nil {
			return 0, ZoneBinding{}, err
		}
		if b, ok := t.bindings.Load(candidate); ok {
			zone, binding, found = candidate, b, true
		}
	}
	if !found {
		return 0, ZoneBinding{}, cluster.NewError(cluster.KindUnavailable, "no shard serves this coordinate")
	}
	return zone, binding, nil
}

// Lookup resolves a zone directly, without any depth descent. Used when a
// caller already has a ZoneId (e.g. the scaling controller inspecting a
// specific zone's current binding).
func (t *Table) Lookup(zone geometry.ZoneId) (ZoneBinding, error) {
	b, ok := t.bindings.Load(zone)
	if !ok {
		return ZoneBinding{}, cluster.NewError(cluster.KindNotFound, "zone is not bound")
	}
	return b, nil
}

// AllShards returns every distinct ShardInfo referenced by any binding,
// serving or exporting, deduplicated by shard id.
func (t *Table) AllShards() []cluster.ShardInfo {
	seen := make(map[string]cluster.ShardInfo)
	t.bindings.Range(func(_ geometry.ZoneId, b ZoneBinding) bool {
		seen[b.Serving.ShardID] = b.Serving
		if b.Exporting != nil {
			seen[b.Exporting.ShardID] = *b.Exporting
		}
		return true
	})

	out := make([]cluster.ShardInfo, 0, len(seen))
	for _, info := range seen {
		out = append(out, info)
	}
	return out
}

// Zones returns the zones bound to a given shard id, i.e. the zones for
// which that shard is the Serving entry.
func (t *Table) Zones(shardID string) []geometry.ZoneId {
	var out []geometry.ZoneId
	t.bindings.Range(func(zone geometry.ZoneId, b ZoneBinding) bool {
		if b.Serving.ShardID == shardID {
			out = append(out, zone)
		}
		return true
	})
	return out
}

// Snapshot returns a copy of every zone and its binding, built by ranging
// over the map, for the dispatcher's query fan-out. Entries written during
// the range may or may not be reflected.
func (t *Table) Snapshot() map[geometry.ZoneId]ZoneBinding {
	out := make(map[geometry.ZoneId]ZoneBinding)
	t.bindings.Range(func(zone geometry.ZoneId, b ZoneBinding) bool {
		out[zone] = b
		return true
	})
	return out
}
