// Package scaling implements the dispatcher's single-writer scaling
// controller: a periodic overhead sweep that splits overloaded shards and
// merges idle ones. It is a ticking background goroutine with a
// Start/Stop/context.CancelFunc/sync.WaitGroup shutdown skeleton, the same
// shape a health-polling loop would take, repurposed here for shard
// population balancing instead of liveness checks.
package scaling

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/worldmesh/internal/cluster"
	"github.com/dreamware/worldmesh/internal/geometry"
	"github.com/dreamware/worldmesh/internal/routing"
)

// Spawner creates new shard processes for the controller and shuts them
// down once drained. Implementations may embed a shard server in-process
// (tests) or exec a separate binary discovering its port via environment
// variables (production), per spec.md §4.5.3.
type Spawner interface {
	SpawnShard(ctx context.Context) (cluster.ShardInfo, error)
	ShutdownShard(ctx context.Context, shard cluster.ShardInfo) error
}

// Config bundles the controller's tunable thresholds, every one of which
// is environment-overridable at the binary level (spec.md §6).
type Config struct {
	// Interval is how often the controller sweeps the fleet. Default 10s.
	Interval time.Duration
	// MaxPlayers is the overhead at or above which a shard is split. Default 1000.
	MaxPlayers int
	// MinPlayers is the overhead at or below which a shard is a merge candidate. Default 250.
	MinPlayers int
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 10 * time.Second
	}
	if c.MaxPlayers <= 0 {
		c.MaxPlayers = 1000
	}
	if c.MinPlayers <= 0 {
		c.MinPlayers = 250
	}
	return c
}

// Controller runs the periodic overhead sweep and the split/merge
// algorithms. It is the sole writer of the routing table (spec.md §5); all
// other goroutines in the system only read it.
type Controller struct {
	world   geometry.World
	table   *routing.Table
	spawner Spawner
	log     *zap.SugaredLogger
	cfg     Config

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewController creates a controller over an existing routing table. The
// table must already have its root zone bound before Start is called.
func NewController(world geometry.World, table *routing.Table, spawner Spawner, cfg Config, log *zap.SugaredLogger) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		world:   world,
		table:   table,
		spawner: spawner,
		log:     log,
		cfg:     cfg.withDefaults(),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start runs the sweep loop in the current goroutine until ctx (or the
// controller's own Stop) is cancelled. Intended to be invoked with `go`.
func (c *Controller) Start(ctx context.Context) {
	c.wg.Add(1)
	defer c.wg.Done()

	if ctx == nil {
		ctx = c.ctx
	}

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	c.tick(c.ctx)

	for {
		select {
		case <-ticker.C:
			c.tick(c.ctx)
		case <-ctx.Done():
			return
		case <-c.ctx.Done():
			return
		}
	}
}

// Stop cancels the sweep loop and waits for it to return.
func (c *Controller) Stop() {
	c.cancel()
	c.wg.Wait()
}

// tick performs one sweep: overhead snapshot, then split candidates, then
// merge candidates, exactly as spec.md §4.5 orders them. Only one
// split/merge runs at a time.
func (c *Controller) tick(ctx context.Context) {
	shards := c.table.AllShards()
	overheads := make(map[string]int, len(shards))
	for _, s := range shards {
		n, err := overheadOf(ctx, s)
		if err != nil {
			c.log.Warnw("scaling: overhead check failed", "shard_id", s.ShardID, "error", err)
			continue
		}
		overheads[s.ShardID] = n
	}

	for _, s := range shards {
		if n, ok := overheads[s.ShardID]; ok && n >= c.cfg.MaxPlayers {
			if _, err := c.split(ctx, s); err != nil {
				c.log.Warnw("scaling: split failed", "shard_id", s.ShardID, "error", err)
			}
		}
	}

	for _, s := range shards {
		if n, ok := overheads[s.ShardID]; ok && n <= c.cfg.MinPlayers {
			if _, err := c.merge(ctx, s, overheads); err != nil {
				c.log.Warnw("scaling: merge failed", "shard_id", s.ShardID, "error", err)
			}
		}
	}
}

// split implements spec.md §4.5.1: subdivide S's heaviest zone at the next
// depth (or peel one sibling off, if S already owns more than one zone)
// onto a freshly spawned shard, then drain the migration overlap.
func (c *Controller) split(ctx context.Context, s cluster.ShardInfo) (bool, error) {
	zones := c.table.Zones(s.ShardID)
	if len(zones) == 0 {
		return false, nil
	}
	sort.Slice(zones, func(i, j int) bool { return zones[i] < zones[j] })

	var depth int
	if len(zones) == 1 {
		if zones[0].Depth() >= c.world.MaxDepth {
			return false, nil
		}
		depth = zones[0].Depth() + 1
	} else {
		depth = zones[0].Depth()
	}

	newZone, playerIDs, err := heaviestZoneOf(ctx, s, depth)
	if err != nil {
		return false, err
	}

	newShard, err := c.spawner.SpawnShard(ctx)
	if err != nil {
		return false, err
	}

	if len(zones) == 1 {
		parent := zones[0]
		c.table.Unbind(parent)

		var remaining []geometry.ZoneId
		for _, child := range parent.ChildZones() {
			if child != newZone {
				remaining = append(remaining, child)
			}
		}
		s = withZones(s, remaining)
		for _, z := range remaining {
			c.table.Bind(z, routing.ZoneBinding{Serving: s})
		}
	} else {
		var remaining []geometry.ZoneId
		for _, z := range zones {
			if z != newZone {
				remaining = append(remaining, z)
			}
		}
		s = withZones(s, remaining)
		for _, z := range remaining {
			b, _ := c.table.Get(z)
			b.Serving = s
			c.table.Bind(z, b)
		}
	}

	newShard = withZones(newShard, []geometry.ZoneId{newZone})
	c.table.Bind(newZone, routing.ZoneBinding{Serving: newShard, Exporting: &s})

	if err := c.drainZone(ctx, s, newShard, playerIDs, newZone); err != nil {
		return false, err
	}

	c.table.ClearExporting(newZone)
	return true, nil
}

// drainZone exports every player in playerIDs from source to target, then
// repeatedly re-queries source for any player still inside zone's AABB
// (new logins that raced in during migration) until none remain.
func (c *Controller) drainZone(ctx context.Context, source, target cluster.ShardInfo, playerIDs []uint64, zone geometry.ZoneId) error {
	box := geometry.ZoneAABB(c.world, zone)
	ids := playerIDs
	for {
		for _, pid := range ids {
			if err := exportPlayer(ctx, source, target.Address, pid, nil, nil); err != nil {
				if cluster.KindOf(err) == cluster.KindNotFound {
					continue
				}
				return err
			}
		}

		remaining, err := queryShard(ctx, source, box)
		if err != nil {
			return err
		}
		if len(remaining) == 0 {
			return nil
		}
		ids = make([]uint64, len(remaining))
		for i, p := range remaining {
			ids[i] = p.PlayerID
		}
	}
}

// merge implements spec.md §4.5.2: fold S's zones into its least-loaded
// sibling shard T, draining S entirely and shutting it down. S owning the
// root zone is never a merge candidate.
func (c *Controller) merge(ctx context.Context, s cluster.ShardInfo, overheads map[string]int) (bool, error) {
	zones := c.table.Zones(s.ShardID)
	if len(zones) == 0 {
		return false, nil
	}
	for _, z := range zones {
		if z == geometry.RootZone {
			return false, nil
		}
	}

	candidates := make(map[string]cluster.ShardInfo)
	for _, z := range zones {
		for _, sib := range z.Siblings() {
			b, ok := c.table.Get(sib)
			if !ok || b.Serving.ShardID == s.ShardID {
				continue
			}
			candidates[b.Serving.ShardID] = b.Serving
		}
	}
	if len(candidates) == 0 {
		return false, nil
	}

	var (
		target     cluster.ShardInfo
		targetLoad = -1
	)
	for _, cand := range candidates {
		n, err := overheadOf(ctx, cand)
		if err != nil {
			c.log.Warnw("scaling: merge candidate overhead check failed", "shard_id", cand.ShardID, "error", err)
			continue
		}
		if targetLoad == -1 || n < targetLoad {
			targetLoad, target = n, cand
		}
	}
	if targetLoad == -1 {
		return false, nil
	}

	sLoad, ok := overheads[s.ShardID]
	if !ok {
		var err error
		sLoad, err = overheadOf(ctx, s)
		if err != nil {
			return false, err
		}
	}
	if sLoad+targetLoad >= c.cfg.MaxPlayers {
		return false, nil
	}

	targetZones := c.table.Zones(target.ShardID)
	mergedZones := append(append([]geometry.ZoneId{}, targetZones...), zones...)
	merged := withZones(target, mergedZones)

	for _, z := range zones {
		c.table.Bind(z, routing.ZoneBinding{Serving: merged, Exporting: &s})
	}
	for _, z := range targetZones {
		b, _ := c.table.Get(z)
		b.Serving = merged
		c.table.Bind(z, b)
	}

	if err := c.drainAll(ctx, s, merged); err != nil {
		return false, err
	}

	if parent, complete := collapseIfComplete(mergedZones); complete {
		final := withZones(merged, []geometry.ZoneId{parent})
		c.table.Bind(parent, routing.ZoneBinding{Serving: final})
		for _, z := range mergedZones {
			if z != parent {
				c.table.Unbind(z)
			}
		}
	} else {
		for _, z := range zones {
			c.table.ClearExporting(z)
		}
	}

	if err := c.spawner.ShutdownShard(ctx, s); err != nil {
		c.log.Warnw("scaling: shutdown of drained shard failed", "shard_id", s.ShardID, "error", err)
	}
	return true, nil
}

// drainAll repeatedly fetches up to MaxPlayers ids from source and exports
// each to target, stopping once source reports no players left.
func (c *Controller) drainAll(ctx context.Context, source, target cluster.ShardInfo) error {
	for {
		ids, err := nPlayersOf(ctx, source, c.cfg.MaxPlayers)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		for _, pid := range ids {
			if err := exportPlayer(ctx, source, target.Address, pid, nil, nil); err != nil {
				if cluster.KindOf(err) == cluster.KindNotFound {
					continue
				}
				return err
			}
		}
	}
}

// collapseIfComplete reports the parent zone and true if zones contains
// every one of that parent's four children, the condition under which a
// merge collapses a full quartet back into its internal-node parent.
func collapseIfComplete(zones []geometry.ZoneId) (geometry.ZoneId, bool) {
	set := make(map[geometry.ZoneId]bool, len(zones))
	for _, z := range zones {
		set[z] = true
	}

	seenParents := make(map[geometry.ZoneId]bool)
	for _, z := range zones {
		parent, ok := z.Parent()
		if !ok || seenParents[parent] {
			continue
		}
		seenParents[parent] = true

		complete := true
		for _, child := range parent.ChildZones() {
			if !set[child] {
				complete = false
				break
			}
		}
		if complete {
			return parent, true
		}
	}
	return 0, false
}

// withZones returns a copy of s with its Zones list replaced.
func withZones(s cluster.ShardInfo, zones []geometry.ZoneId) cluster.ShardInfo {
	ids := make([]int64, len(zones))
	for i, z := range zones {
		ids[i] = int64(z)
	}
	s.Zones = ids
	return s
}

func overheadOf(ctx context.Context, s cluster.ShardInfo) (int, error) {
	var reply cluster.OverheadReply
	if err := cluster.GetJSON(ctx, s.Address+"/rpc/overhead", &reply); err != nil {
		return 0, err
	}
	return reply.Players, nil
}

func heaviestZoneOf(ctx context.Context, s cluster.ShardInfo, depth int) (geometry.ZoneId, []uint64, error) {
	var reply cluster.HeaviestZoneReply
	if err := cluster.PostJSON(ctx, s.Address+"/rpc/heaviest_zone", cluster.HeaviestZoneRequest{Depth: depth}, &reply); err != nil {
		return 0, nil, err
	}
	return geometry.ZoneId(reply.ZoneID), reply.PlayerIDs, nil
}

func nPlayersOf(ctx context.Context, s cluster.ShardInfo, n int) ([]uint64, error) {
	var reply cluster.NPlayersReply
	if err := cluster.PostJSON(ctx, s.Address+"/rpc/n_players", cluster.NPlayersRequest{N: n}, &reply); err != nil {
		return nil, err
	}
	return reply.PlayerIDs, nil
}

func exportPlayer(ctx context.Context, source cluster.ShardInfo, targetAddress string, playerID uint64, overrideX, overrideY *float64) error {
	return cluster.PostJSON(ctx, source.Address+"/rpc/export_player", cluster.ExportRequest{
		PlayerID: playerID, TargetAddress: targetAddress, OverrideX: overrideX, OverrideY: overrideY,
	}, nil)
}

func queryShard(ctx context.Context, s cluster.ShardInfo, box geometry.AABB) ([]cluster.PlayerInfo, error) {
	var reply cluster.QueryReply
	if err := cluster.PostJSON(ctx, s.Address+"/rpc/query", cluster.QueryRequest{
		XMin: box.XMin, XMax: box.XMax, YMin: box.YMin, YMax: box.YMax,
	}, &reply); err != nil {
		return nil, err
	}
	return reply.Players, nil
}
