package shardstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/dreamware/worldmesh/internal/cluster"
)

// exportCache remembers the single most recent export target address. The
// original implementation this spec was distilled from kept one cached RPC
// channel per shard and tore it down whenever the target changed; PostJSON's
// shared *http.Client already pools connections per host, so the adaptation
// here is to close the pool's idle connections on an address change instead
// of keeping a dedicated channel per target.
type exportCache struct {
	mu      sync.Mutex
	address string
}

func (c *exportCache) noteAddress(address string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.address != "" && c.address != address {
		cluster.CloseIdleConnections()
	}
	c.address = address
}

// ExportPlayer removes playerID from the store and hands it to the shard at
// targetAddress, optionally overriding its coordinate (the dispatcher passes
// the destination coordinate when a move crosses into another shard's
// territory; the scaling controller's drain loops pass no override).
func (s *Store) ExportPlayer(ctx context.Context, playerID uint64, targetAddress string, overrideX, overrideY *float64) error {
	p, ok := s.Get(playerID)
	if !ok {
		return cluster.NewError(cluster.KindNotFound, "player not found")
	}
	if overrideX != nil {
		p.X = *overrideX
	}
	if overrideY != nil {
		p.Y = *overrideY
	}

	s.export.noteAddress(targetAddress)
	if err := cluster.PostJSON(ctx, targetAddress+"/rpc/import_player", cluster.ImportRequest{Player: p}, nil); err != nil {
		return err
	}
	s.Logout(playerID)
	return nil
}

// ImportPlayer inserts a player record received from another shard,
// identical to Login: it fails with ALREADY_EXISTS rather than overwriting
// if player_id is already present, so a migration can never silently
// orphan an existing player's cell membership.
func (s *Store) ImportPlayer(p cluster.PlayerInfo) error {
	stripe := s.stripeFor(p.PlayerID)
	stripe.Lock()
	defer stripe.Unlock()

	if _, exists := s.players.Load(p.PlayerID); exists {
		return cluster.NewError(cluster.KindAlreadyExists, fmt.Sprintf("player %d already present", p.PlayerID))
	}
	s.players.Store(p.PlayerID, p)
	s.cellAdd(s.world.CellOf(p.X, p.Y), p.PlayerID)
	return nil
}

