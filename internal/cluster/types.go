// Package cluster provides the shared wire types and the small HTTP/JSON
// transport helpers used for every dispatcher↔shard and shard↔shard call in
// worldmesh. It is the equivalent of an RPC framework's generated stub code:
// request/reply structs plus a couple of functions that send them.
//
// # Overview
//
// Every internal call in worldmesh — a dispatcher routing a login to a
// shard, a shard exporting a player to another shard during a split — goes
// through PostJSON or GetJSON defined here. The client-facing Dispatcher API
// (see internal/dispatcher) uses fiber instead, because that surface is a
// public HTTP API, not internal plumbing; this package is deliberately the
// plainest possible JSON-over-HTTP client, mirroring how a production
// system keeps its control-plane RPC thin and boring.
package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// PlayerInfo is the authoritative per-player record: identity, position,
// and the single piece of mutable game state (money) that AOE affects.
type PlayerInfo struct {
	PlayerID uint64  `json:"player_id"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Money    uint64  `json:"money"`
}

// ShardInfo is an immutable snapshot identifying a shard and the zones it
// currently owns. Two ShardInfo values are equal iff their ShardID fields
// are equal; the Zones list may differ across snapshots taken at different
// times for the same shard.
type ShardInfo struct {
	ShardID string  `json:"shard_id"`
	Zones   []int64 `json:"zones"`
	Address string  `json:"address"`
}

// SameShard reports whether a and b identify the same shard, ignoring
// Zones/Address (which may be stale snapshots).
func (a ShardInfo) SameShard(b ShardInfo) bool {
	return a.ShardID == b.ShardID
}

// ExportRequest asks a shard to move one player to another shard's address,
// optionally overriding the player's coordinate. Each override field is
// applied on its own; a nil field leaves that axis unchanged.
type ExportRequest struct {
	OverrideX     *float64 `json:"override_x,omitempty"`
	OverrideY     *float64 `json:"override_y,omitempty"`
	TargetAddress string   `json:"target_address" validate:"required"`
	PlayerID      uint64   `json:"player_id"`
}

// ImportRequest hands a full player record to a shard, identical in effect
// to a login of that player.
type ImportRequest struct {
	Player PlayerInfo `json:"player"`
}

// MoveRequest asks a shard to move a player already resident on it by a
// delta.
type MoveRequest struct {
	PlayerID uint64  `json:"player_id"`
	DX       float64 `json:"dx"`
	DY       float64 `json:"dy"`
}

// MoveReply carries the player's new coordinate.
type MoveReply struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// AOERequest asks a shard to apply an area-of-effect reward centered on a
// point, excluding the caster.
type AOERequest struct {
	CasterID uint64  `json:"caster_id"`
	CenterX  float64 `json:"center_x"`
	CenterY  float64 `json:"center_y"`
	Radius   float64 `json:"radius"`
}

// QueryRequest asks a shard for every player within a rectangle.
type QueryRequest struct {
	XMin float64 `json:"xmin"`
	XMax float64 `json:"xmax"`
	YMin float64 `json:"ymin"`
	YMax float64 `json:"ymax"`
}

// QueryReply carries the players found by a QueryRequest.
type QueryReply struct {
	Players []PlayerInfo `json:"players"`
}

// HeaviestZoneReply carries the result of a heaviest-zone query: the zone
// with the most players at a given depth, and the ids of those players.
type HeaviestZoneReply struct {
	ZoneID    int64    `json:"zone_id"`
	PlayerIDs []uint64 `json:"player_ids"`
}

// HeaviestZoneRequest asks a shard to group its players into zones at depth
// and report the most populous one.
type HeaviestZoneRequest struct {
	Depth int `json:"depth"`
}

// LoginRequest asks a shard to admit a new player at a coordinate with a
// starting money balance.
type LoginRequest struct {
	PlayerID uint64  `json:"player_id"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Money    uint64  `json:"money"`
}

// LogoutRequest asks a shard to remove a player.
type LogoutRequest struct {
	PlayerID uint64 `json:"player_id"`
}

// NPlayersRequest asks a shard for up to N of its player ids. N <= 0 means
// "as many as the shard has".
type NPlayersRequest struct {
	N int `json:"n"`
}

// NPlayersReply carries the player ids returned by an NPlayersRequest.
type NPlayersReply struct {
	PlayerIDs []uint64 `json:"player_ids"`
}

// OverheadReply carries a shard's current player count, the load metric the
// scaling controller balances split and merge decisions on.
type OverheadReply struct {
	Players int `json:"players"`
}

// httpClient is the shared HTTP client used for all internal cluster
// communication. Connection pooling is relied on in place of the
// cached-client behavior the Rust original gets from a cached gRPC channel
// (see SPEC_FULL.md's SUPPLEMENTED FEATURES note).
var httpClient = &http.Client{Timeout: 5 * time.Second}

// PostJSON sends a JSON-encoded POST request to url and decodes the JSON
// response into out (ignored if nil).
func PostJSON(ctx context.Context, url string, body, out any) error {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return NewError(KindUnavailable, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeRPCError(resp)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// GetJSON sends a GET request to url and decodes the JSON response into
// out.
func GetJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return err
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return NewError(KindUnavailable, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeRPCError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// CloseIdleConnections tears down pooled keep-alive connections on the
// shared client. Callers that cache an RPC target by address (see
// internal/shardstore's export client cache) call this when the target
// changes, so a stale connection to an old address is never reused.
func CloseIdleConnections() {
	httpClient.CloseIdleConnections()
}

func decodeRPCError(resp *http.Response) error {
	var body struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Kind == "" {
		return fmt.Errorf("http %s: %d", resp.Request.URL, resp.StatusCode)
	}
	return NewError(ErrorKind(body.Kind), body.Message)
}
