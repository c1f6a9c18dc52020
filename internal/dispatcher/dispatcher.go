// Package dispatcher implements the stateless front door of worldmesh: zone
// routing, per-player serialisation, and the client-facing operations
// login/move/aoe/query/logout. It is the single thing every client request
// and every internal RPC passes through, generalised from key-routing over
// a fixed shard count to zone-routing over a routing table that the scaling
// controller reshapes at runtime.
package dispatcher

import (
	"context"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"

	"github.com/dreamware/worldmesh/internal/cluster"
	"github.com/dreamware/worldmesh/internal/geometry"
	"github.com/dreamware/worldmesh/internal/routing"
)

// PlayerLocation is the dispatcher's cached view of a logged-in player: the
// shard currently serving it, and its last known coordinate. It is the
// player_map of spec.md §4.3/§4.4.
type PlayerLocation struct {
	Shard cluster.ShardInfo
	X, Y  float64
}

// Dispatcher holds the routing table, the player location cache, and the
// worker pool that serialises per-player operations.
type Dispatcher struct {
	world     geometry.World
	table     *routing.Table
	playerMap *xsync.MapOf[uint64, PlayerLocation]
	workers   *workerPool
	log       *zap.SugaredLogger
}

// New creates a Dispatcher over an existing routing table. numWorkers sizes
// the sharded worker pool (spec.md §4.4's "sharded worker pools keyed by
// hash(player_id) mod W").
func New(world geometry.World, table *routing.Table, numWorkers int, log *zap.SugaredLogger) *Dispatcher {
	return &Dispatcher{
		world:     world,
		table:     table,
		playerMap: xsync.NewMapOf[uint64, PlayerLocation](),
		workers:   newWorkerPool(numWorkers),
		log:       log,
	}
}

// Login admits a new player at (x, y) with a starting money balance,
// routing the call to the zone's serving shard and caching its location.
func (d *Dispatcher) Login(ctx context.Context, playerID uint64, x, y float64, money uint64) error {
	if err := d.world.ValidateCoord(x, y); err != nil {
		return cluster.NewError(cluster.KindOutOfRange, err.Error())
	}

	return d.workers.run(playerID, func() error {
		if _, exists := d.playerMap.Load(playerID); exists {
			return cluster.NewError(cluster.KindAlreadyExists, "player already logged in")
		}

		_, binding, err := d.table.LookupByCoord(d.world, x, y)
		if err != nil {
			return err
		}

		if err := cluster.PostJSON(ctx, binding.Serving.Address+"/rpc/login",
			cluster.LoginRequest{PlayerID: playerID, X: x, Y: y, Money: money}, nil); err != nil {
			return err
		}

		d.playerMap.Store(playerID, PlayerLocation{Shard: binding.Serving, X: x, Y: y})
		return nil
	})
}

// Move applies a coordinate delta to a logged-in player, transparently
// migrating it across shards when the destination falls in a different
// shard's territory.
func (d *Dispatcher) Move(ctx context.Context, playerID uint64, dx, dy float64) (x, y float64, err error) {
	err = d.workers.run(playerID, func() error {
		loc, ok := d.playerMap.Load(playerID)
		if !ok {
			return cluster.NewError(cluster.KindNotFound, "player not found")
		}

		newX, newY := loc.X+dx, loc.Y+dy
		if verr := d.world.ValidateCoord(newX, newY); verr != nil {
			return cluster.NewError(cluster.KindOutOfRange, verr.Error())
		}

		_, binding, lerr := d.table.LookupByCoord(d.world, newX, newY)
		if lerr != nil {
			return lerr
		}
		target := binding.Serving

		if !target.SameShard(loc.Shard) {
			if perr := cluster.PostJSON(ctx, loc.Shard.Address+"/rpc/export_player", cluster.ExportRequest{
				PlayerID: playerID, TargetAddress: target.Address,
				OverrideX: &newX, OverrideY: &newY,
			}, nil); perr != nil {
				return perr
			}
			d.playerMap.Store(playerID, PlayerLocation{Shard: target, X: newX, Y: newY})
			x, y = newX, newY
			return nil
		}

		var reply cluster.MoveReply
		if perr := cluster.PostJSON(ctx, loc.Shard.Address+"/rpc/move",
			cluster.MoveRequest{PlayerID: playerID, DX: dx, DY: dy}, &reply); perr != nil {
			return perr
		}
		d.playerMap.Store(playerID, PlayerLocation{Shard: loc.Shard, X: reply.X, Y: reply.Y})
		x, y = reply.X, reply.Y
		return nil
	})
	return x, y, err
}

// Logout removes a player from its serving shard and from the player map.
func (d *Dispatcher) Logout(ctx context.Context, playerID uint64) error {
	return d.workers.run(playerID, func() error {
		loc, ok := d.playerMap.Load(playerID)
		if !ok {
			return cluster.NewError(cluster.KindNotFound, "player not found")
		}
		if err := cluster.PostJSON(ctx, loc.Shard.Address+"/rpc/logout",
			cluster.LogoutRequest{PlayerID: playerID}, nil); err != nil {
			return err
		}
		d.playerMap.Delete(playerID)
		return nil
	})
}

// AOE rewards every player within radius of the caster's current location,
// fanning the RPC out to every shard whose territory overlaps the bounding
// square of the circle. Per-shard failures are logged and do not fail the
// call (spec.md §5's fail-open fan-out policy).
func (d *Dispatcher) AOE(ctx context.Context, playerID uint64, radius float64) error {
	loc, ok := d.playerMap.Load(playerID)
	if !ok {
		return cluster.NewError(cluster.KindNotFound, "player not found")
	}

	box := geometry.AABB{
		XMin: loc.X - radius, XMax: loc.X + radius,
		YMin: loc.Y - radius, YMax: loc.Y + radius,
	}
	if err := d.world.ValidateCoord(box.XMin, box.YMin); err != nil {
		return cluster.NewError(cluster.KindOutOfRange, err.Error())
	}
	if err := d.world.ValidateCoord(box.XMax, box.YMax); err != nil {
		return cluster.NewError(cluster.KindOutOfRange, err.Error())
	}

	corners := [4][2]float64{
		{box.XMin, box.YMin}, {box.XMin, box.YMax},
		{box.XMax, box.YMin}, {box.XMax, box.YMax},
	}

	targets := make(map[string]cluster.ShardInfo)
	for _, c := range corners {
		_, binding, err := d.table.LookupByCoord(d.world, c[0], c[1])
		if err != nil {
			continue
		}
		targets[binding.Serving.ShardID] = binding.Serving
		if binding.Exporting != nil {
			targets[binding.Exporting.ShardID] = *binding.Exporting
		}
	}

	var wg sync.WaitGroup
	for _, shard := range targets {
		wg.Add(1)
		go func(shard cluster.ShardInfo) {
			defer wg.Done()
			err := cluster.PostJSON(ctx, shard.Address+"/rpc/aoe", cluster.AOERequest{
				CasterID: playerID, CenterX: loc.X, CenterY: loc.Y, Radius: radius,
			}, nil)
			if err != nil {
				d.log.Warnw("aoe fan-out to shard failed", "shard_id", shard.ShardID, "error", err)
			}
		}(shard)
	}
	wg.Wait()
	return nil
}

// Query returns every player inside box, fanning out to every shard whose
// territory intersects it. Per-shard failures are logged and that shard's
// results are omitted.
func (d *Dispatcher) Query(ctx context.Context, box geometry.AABB) ([]cluster.PlayerInfo, error) {
	if box.Empty() {
		return nil, cluster.NewError(cluster.KindInvalidArgument, "query box is empty or inverted")
	}

	coverage := d.shardCoverage()

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results []cluster.PlayerInfo
	)
	for _, cov := range coverage {
		overlap := box.Intersect(cov.box)
		if overlap.Empty() {
			continue
		}
		wg.Add(1)
		go func(shard cluster.ShardInfo, overlap geometry.AABB) {
			defer wg.Done()
			var reply cluster.QueryReply
			err := cluster.PostJSON(ctx, shard.Address+"/rpc/query", cluster.QueryRequest{
				XMin: overlap.XMin, XMax: overlap.XMax, YMin: overlap.YMin, YMax: overlap.YMax,
			}, &reply)
			if err != nil {
				d.log.Warnw("query fan-out to shard failed", "shard_id", shard.ShardID, "error", err)
				return
			}
			mu.Lock()
			results = append(results, reply.Players...)
			mu.Unlock()
		}(cov.shard, overlap)
	}
	wg.Wait()
	return results, nil
}

type shardCoverage struct {
	shard cluster.ShardInfo
	box   geometry.AABB
}

// shardCoverage computes, for every distinct shard in the routing table,
// the union of the AABBs of every zone it serves or is exporting from.
func (d *Dispatcher) shardCoverage() map[string]shardCoverage {
	coverage := make(map[string]shardCoverage)
	for zone, binding := range d.table.Snapshot() {
		zoneBox := geometry.ZoneAABB(d.world, zone)
		accumulate(coverage, binding.Serving, zoneBox)
		if binding.Exporting != nil {
			accumulate(coverage, *binding.Exporting, zoneBox)
		}
	}
	return coverage
}

func accumulate(coverage map[string]shardCoverage, shard cluster.ShardInfo, box geometry.AABB) {
	existing, ok := coverage[shard.ShardID]
	if !ok {
		coverage[shard.ShardID] = shardCoverage{shard: shard, box: box}
		return
	}
	coverage[shard.ShardID] = shardCoverage{shard: shard, box: existing.box.Union(box)}
}
