// Package shard exposes a shardstore.Store over HTTP, the RPC surface the
// dispatcher and sibling shards call: decode a request, call into the
// store, encode a reply or an error.
//
// Every handler here is deliberately thin — request decoding, a store call,
// reply encoding — because all the interesting logic (grid indexing,
// migration, saturating money) lives in internal/shardstore. Errors
// returned by the store are written back using the same {kind, message}
// envelope internal/cluster.decodeRPCError expects, so a caller on the
// other end of PostJSON/GetJSON gets a typed error back.
package shard

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/worldmesh/internal/cluster"
	"github.com/dreamware/worldmesh/internal/geometry"
	"github.com/dreamware/worldmesh/internal/shardstore"
)

const exportTimeout = 5 * time.Second

// Server wires an HTTP mux to a single shardstore.Store. One Server per
// shard process.
type Server struct {
	ID         string
	store      *shardstore.Store
	log        *zap.SugaredLogger
	shutdownCh chan struct{}
}

// NewServer creates a Server over an empty store for the given world.
func NewServer(id string, world geometry.World, aoeReward uint64, log *zap.SugaredLogger) *Server {
	return &Server{
		ID:         id,
		store:      shardstore.New(world, aoeReward),
		log:        log,
		shutdownCh: make(chan struct{}, 1),
	}
}

// ShutdownRequested fires once an operator or the scaling controller has
// called this shard's /rpc/shutdown endpoint, telling cmd/shard's main loop
// to begin graceful shutdown alongside the usual OS signal channel.
func (s *Server) ShutdownRequested() <-chan struct{} {
	return s.shutdownCh
}

// Store exposes the underlying store directly, for in-process callers
// (tests, and an in-process Spawner per spec.md §4.5.3).
func (s *Server) Store() *shardstore.Store {
	return s.store
}

// Routes registers every endpoint on mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/rpc/login", s.handleLogin)
	mux.HandleFunc("/rpc/logout", s.handleLogout)
	mux.HandleFunc("/rpc/move", s.handleMove)
	mux.HandleFunc("/rpc/aoe", s.handleAOE)
	mux.HandleFunc("/rpc/query", s.handleQuery)
	mux.HandleFunc("/rpc/export_player", s.handleExportPlayer)
	mux.HandleFunc("/rpc/import_player", s.handleImportPlayer)
	mux.HandleFunc("/rpc/heaviest_zone", s.handleHeaviestZone)
	mux.HandleFunc("/rpc/n_players", s.handleNPlayers)
	mux.HandleFunc("/rpc/overhead", s.handleOverhead)
	mux.HandleFunc("/rpc/shutdown", s.handleShutdown)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req cluster.LoginRequest
	if !decodeInto(w, r, &req) {
		return
	}
	if err := s.store.World().ValidateCoord(req.X, req.Y); err != nil {
		writeError(w, cluster.NewError(cluster.KindOutOfRange, err.Error()))
		return
	}
	err := s.store.Login(cluster.PlayerInfo{PlayerID: req.PlayerID, X: req.X, Y: req.Y, Money: req.Money})
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req cluster.LogoutRequest
	if !decodeInto(w, r, &req) {
		return
	}
	s.store.Logout(req.PlayerID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	var req cluster.MoveRequest
	if !decodeInto(w, r, &req) {
		return
	}
	x, y, err := s.store.Move(req.PlayerID, req.DX, req.DY)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, cluster.MoveReply{X: x, Y: y})
}

func (s *Server) handleAOE(w http.ResponseWriter, r *http.Request) {
	var req cluster.AOERequest
	if !decodeInto(w, r, &req) {
		return
	}
	s.store.AOE(req.CasterID, req.CenterX, req.CenterY, req.Radius)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req cluster.QueryRequest
	if !decodeInto(w, r, &req) {
		return
	}
	box := geometry.AABB{XMin: req.XMin, XMax: req.XMax, YMin: req.YMin, YMax: req.YMax}
	players := s.store.Query(box)
	writeJSON(w, cluster.QueryReply{Players: players})
}

func (s *Server) handleExportPlayer(w http.ResponseWriter, r *http.Request) {
	var req cluster.ExportRequest
	if !decodeInto(w, r, &req) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), exportTimeout)
	defer cancel()
	if err := s.store.ExportPlayer(ctx, req.PlayerID, req.TargetAddress, req.OverrideX, req.OverrideY); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleImportPlayer(w http.ResponseWriter, r *http.Request) {
	var req cluster.ImportRequest
	if !decodeInto(w, r, &req) {
		return
	}
	if err := s.store.ImportPlayer(req.Player); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHeaviestZone(w http.ResponseWriter, r *http.Request) {
	var req cluster.HeaviestZoneRequest
	if !decodeInto(w, r, &req) {
		return
	}
	zone, ids, err := s.store.HeaviestZone(req.Depth)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, cluster.HeaviestZoneReply{ZoneID: int64(zone), PlayerIDs: ids})
}

func (s *Server) handleNPlayers(w http.ResponseWriter, r *http.Request) {
	var req cluster.NPlayersRequest
	if !decodeInto(w, r, &req) {
		return
	}
	writeJSON(w, cluster.NPlayersReply{PlayerIDs: s.store.NPlayers(req.N)})
}

func (s *Server) handleOverhead(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, cluster.OverheadReply{Players: s.store.Overhead()})
}

func (s *Server) handleShutdown(w http.ResponseWriter, _ *http.Request) {
	s.log.Infow("shard shutting down on request", "shard_id", s.ID)
	w.WriteHeader(http.StatusNoContent)
	select {
	case s.shutdownCh <- struct{}{}:
	default:
	}
}

func decodeInto(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		writeError(w, cluster.NewError(cluster.KindInvalidArgument, "malformed request body"))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	kind := cluster.KindOf(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(kind.HTTPStatus())
	_ = json.NewEncoder(w).Encode(map[string]string{"kind": string(kind), "message": err.Error()})
}
