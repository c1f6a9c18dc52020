// Package shardstore implements the authoritative per-shard player map and
// its grid-indexed spatial set: a flat key-value store generalised into the
// game-world operations a shard serves: login, logout, move, query, aoe,
// export/import, heaviest_zone, n_players, overhead, shutdown.
//
// # Concurrency model
//
// players and grid_index are xsync.MapOf concurrent maps, giving lock-free
// reads. Mutations that must
// touch both maps atomically for a single player (login/logout/move/aoe)
// are additionally serialised through a small stripe of mutexes keyed by
// player id, so that two operations on the *same* player id never
// interleave their players/grid_index updates, while operations on
// players in different stripes (player id mod 256) proceed in parallel —
// the same guarantee
// spec.md §5 asks the Dispatcher's per-player worker pool to provide one
// layer up; the shard enforces it independently so the store is also safe
// to call directly from tests without a dispatcher in front of it.
package shardstore

import (
	"fmt"
	"sort"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/dreamware/worldmesh/internal/cluster"
	"github.com/dreamware/worldmesh/internal/geometry"
)

const numStripes = 256

// Store is a shard's authoritative in-memory state: the players it owns and
// the grid index over their coordinates.
type Store struct {
	world     geometry.World
	players   *xsync.MapOf[uint64, cluster.PlayerInfo]
	grid      *xsync.MapOf[geometry.GridCell, *cellSet]
	stripes   [numStripes]sync.Mutex
	aoeReward uint64
	export    exportCache
}

// cellSet is the set of player ids occupying one grid cell.
type cellSet struct {
	mu  sync.Mutex
	ids map[uint64]struct{}
}

// New creates an empty store for the given world, with the given
// per-AOE-hit money reward.
func New(world geometry.World, aoeReward uint64) *Store {
	return &Store{
		world:     world,
		players:   xsync.NewMapOf[uint64, cluster.PlayerInfo](),
		grid:      xsync.NewMapOf[geometry.GridCell, *cellSet](),
		aoeReward: aoeReward,
	}
}

// World returns the world this store validates and indexes coordinates
// against.
func (s *Store) World() geometry.World {
	return s.world
}

func (s *Store) stripeFor(id uint64) *sync.Mutex {
	return &s.stripes[id%numStripes]
}

func (s *Store) cellAdd(cell geometry.GridCell, id uint64) {
	set, _ := s.grid.LoadOrStore(cell, &cellSet{ids: make(map[uint64]struct{})})
	set.mu.Lock()
	set.ids[id] = struct{}{}
	set.mu.Unlock()
}

func (s *Store) cellRemove(cell geometry.GridCell, id uint64) {
	set, ok := s.grid.Load(cell)
	if !ok {
		return
	}
	set.mu.Lock()
	delete(set.ids, id)
	empty := len(set.ids) == 0
	set.mu.Unlock()
	if empty {
		s.grid.Delete(cell)
	}
}

// Login inserts a new player, failing with ALREADY_EXISTS if player_id is
// already present.
func (s *Store) Login(p cluster.PlayerInfo) error {
	stripe := s.stripeFor(p.PlayerID)
	stripe.Lock()
	defer stripe.Unlock()

	if _, exists := s.players.Load(p.PlayerID); exists {
		return cluster.NewError(cluster.KindAlreadyExists, fmt.Sprintf("player %d already logged in", p.PlayerID))
	}
	s.players.Store(p.PlayerID, p)
	s.cellAdd(s.world.CellOf(p.X, p.Y), p.PlayerID)
	return nil
}

// Logout removes a player; a no-op if the player is absent.
func (s *Store) Logout(playerID uint64) {
	stripe := s.stripeFor(playerID)
	stripe.Lock()
	defer stripe.Unlock()

	p, ok := s.players.Load(playerID)
	if !ok {
		return
	}
	s.players.Delete(playerID)
	s.cellRemove(s.world.CellOf(p.X, p.Y), playerID)
}

// Move applies a coordinate delta to a player and returns its new
// coordinate, failing with NOT_FOUND if the player is unknown.
func (s *Store) Move(playerID uint64, dx, dy float64) (x, y float64, err error) {
	stripe := s.stripeFor(playerID)
	stripe.Lock()
	defer stripe.Unlock()

	p, ok := s.players.Load(playerID)
	if !ok {
		return 0, 0, cluster.NewError(cluster.KindNotFound, fmt.Sprintf("player %d not found", playerID))
	}

	oldCell := s.world.CellOf(p.X, p.Y)
	p.X += dx
	p.Y += dy
	newCell := s.world.CellOf(p.X, p.Y)

	if newCell != oldCell {
		s.cellRemove(oldCell, playerID)
		s.cellAdd(newCell, playerID)
	}
	s.players.Store(playerID, p)
	return p.X, p.Y, nil
}

// Query returns every player contained in box, choosing the cheaper of two
// plans: enumerating overlapping grid cells, or scanning all players
// directly, per spec.md §4.2's heuristic.
func (s *Store) Query(box geometry.AABB) []cluster.PlayerInfo {
	if box.Empty() {
		return nil
	}
	lo := s.world.CellOf(box.XMin, box.YMin)
	hi := s.world.CellOf(box.XMax, box.YMax)
	nCells := (hi.GX - lo.GX + 1) * (hi.GY - lo.GY + 1)
	if nCells > s.players.Size() {
		return s.queryByScan(box)
	}
	return s.queryByCells(box, box.GridsIn(s.world))
}

func (s *Store) queryByScan(box geometry.AABB) []cluster.PlayerInfo {
	var out []cluster.PlayerInfo
	s.players.Range(func(_ uint64, p cluster.PlayerInfo) bool {
		if box.Contains(p.X, p.Y) {
			out = append(out, p)
		}
		return true
	})
	return out
}

func (s *Store) queryByCells(box geometry.AABB, cells []geometry.GridCell) []cluster.PlayerInfo {
	seen := make(map[uint64]struct{})
	var out []cluster.PlayerInfo
	for _, cell := range cells {
		set, ok := s.grid.Load(cell)
		if !ok {
			continue
		}
		set.mu.Lock()
		ids := make([]uint64, 0, len(set.ids))
		for id := range set.ids {
			ids = append(ids, id)
		}
		set.mu.Unlock()

		for _, id := range ids {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			p, ok := s.players.Load(id)
			if !ok {
				continue
			}
			if box.Contains(p.X, p.Y) {
				out = append(out, p)
			}
		}
	}
	return out
}

// AOE rewards every player other than casterID within radius of
// (centerX, centerY) with s.aoeReward money, saturating on overflow.
func (s *Store) AOE(casterID uint64, centerX, centerY, radius float64) {
	box := geometry.AABB{
		XMin: centerX - radius, XMax: centerX + radius,
		YMin: centerY - radius, YMax: centerY + radius,
	}
	radius2 := radius * radius

	for _, cell := range box.GridsIn(s.world) {
		set, ok := s.grid.Load(cell)
		if !ok {
			continue
		}
		set.mu.Lock()
		ids := make([]uint64, 0, len(set.ids))
		for id := range set.ids {
			ids = append(ids, id)
		}
		set.mu.Unlock()

		for _, id := range ids {
			if id == casterID {
				continue
			}
			s.rewardIfInRange(id, centerX, centerY, radius2)
		}
	}
}

func (s *Store) rewardIfInRange(playerID uint64, centerX, centerY, radius2 float64) {
	stripe := s.stripeFor(playerID)
	stripe.Lock()
	defer stripe.Unlock()

	p, ok := s.players.Load(playerID)
	if !ok {
		return
	}
	dx, dy := p.X-centerX, p.Y-centerY
	if dx*dx+dy*dy > radius2 {
		return
	}
	p.Money = saturatingAdd(p.Money, s.aoeReward)
	s.players.Store(playerID, p)
}

func saturatingAdd(a, b uint64) uint64 {
	sum := a + b
	if sum < a {
		return ^uint64(0)
	}
	return sum
}

// HeaviestZone groups every player by coord_to_zone(x, y, depth) and
// returns the group with the largest membership, failing with NOT_FOUND if
// the shard holds no players.
func (s *Store) HeaviestZone(depth int) (geometry.ZoneId, []uint64, error) {
	groups := make(map[geometry.ZoneId][]uint64)
	s.players.Range(func(id uint64, p cluster.PlayerInfo) bool {
		zone, err := geometry.CoordToZone(s.world, p.X, p.Y, depth)
		if err != nil {
			return true
		}
		groups[zone] = append(groups[zone], id)
		return true
	})

	if len(groups) == 0 {
		return 0, nil, cluster.NewError(cluster.KindNotFound, "shard has no players")
	}

	var best geometry.ZoneId
	var bestIDs []uint64
	for zone, ids := range groups {
		if len(ids) > len(bestIDs) || (len(ids) == len(bestIDs) && zone < best) {
			best, bestIDs = zone, ids
		}
	}
	sort.Slice(bestIDs, func(i, j int) bool { return bestIDs[i] < bestIDs[j] })
	return best, bestIDs, nil
}

// NPlayers returns up to n player ids, in no particular order. A
// non-positive n defaults to Overhead() (the whole store), matching the
// drain loop's "always try to empty the shard" usage in the original
// implementation (see SPEC_FULL.md).
func (s *Store) NPlayers(n int) []uint64 {
	if n <= 0 {
		n = s.players.Size()
	}
	out := make([]uint64, 0, n)
	s.players.Range(func(id uint64, _ cluster.PlayerInfo) bool {
		if len(out) >= n {
			return false
		}
		out = append(out, id)
		return true
	})
	return out
}

// Overhead returns the current player count.
func (s *Store) Overhead() int {
	return s.players.Size()
}

// Get returns a single player's record, for tests and export.
func (s *Store) Get(playerID uint64) (cluster.PlayerInfo, bool) {
	return s.players.Load(playerID)
}
