package shard

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dreamware/worldmesh/internal/cluster"
	"github.com/dreamware/worldmesh/internal/geometry"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s := NewServer("shard-test", geometry.DefaultWorld(), 10, zap.NewNop().Sugar())
	mux := http.NewServeMux()
	s.Routes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return s, srv
}

func doJSON(t *testing.T, srv *httptest.Server, path string, body, out any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+path, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	if out != nil && resp.StatusCode < 300 {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func TestLoginMoveLogoutRoundTrip(t *testing.T) {
	_, srv := newTestServer(t)

	resp := doJSON(t, srv, "/rpc/login", cluster.LoginRequest{PlayerID: 1, X: 5, Y: 5}, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	var moveReply cluster.MoveReply
	resp = doJSON(t, srv, "/rpc/move", cluster.MoveRequest{PlayerID: 1, DX: 1, DY: 1}, &moveReply)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 6.0, moveReply.X)
	assert.Equal(t, 6.0, moveReply.Y)

	resp = doJSON(t, srv, "/rpc/logout", cluster.LogoutRequest{PlayerID: 1}, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = doJSON(t, srv, "/rpc/move", cluster.MoveRequest{PlayerID: 1, DX: 1, DY: 1}, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestLoginAlreadyExistsReturns409(t *testing.T) {
	_, srv := newTestServer(t)
	doJSON(t, srv, "/rpc/login", cluster.LoginRequest{PlayerID: 1, X: 0, Y: 0}, nil)

	resp := doJSON(t, srv, "/rpc/login", cluster.LoginRequest{PlayerID: 1, X: 0, Y: 0}, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestLoginOutOfRangeReturns400(t *testing.T) {
	w := geometry.DefaultWorld()
	_, srv := newTestServer(t)

	resp := doJSON(t, srv, "/rpc/login", cluster.LoginRequest{PlayerID: 1, X: w.XMax + 1, Y: 0}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLoginValidatesAgainstConfiguredWorld(t *testing.T) {
	small := geometry.World{XMin: -10, XMax: 10, YMin: -10, YMax: 10, GridSize: 5, MaxDepth: 2}

	s := NewServer("shard-small-world", small, 0, zap.NewNop().Sugar())
	mux := http.NewServeMux()
	s.Routes(mux)
	smallSrv := httptest.NewServer(mux)
	t.Cleanup(smallSrv.Close)

	// In range for this shard's configured (smaller) world.
	resp := doJSON(t, smallSrv, "/rpc/login", cluster.LoginRequest{PlayerID: 1, X: 5, Y: 5}, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	// Out of range for this shard's configured world, even though it would
	// be in range for the default world.
	resp = doJSON(t, smallSrv, "/rpc/login", cluster.LoginRequest{PlayerID: 2, X: 9999, Y: 0}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestQueryAndAOE(t *testing.T) {
	_, srv := newTestServer(t)
	doJSON(t, srv, "/rpc/login", cluster.LoginRequest{PlayerID: 1, X: 0, Y: 0}, nil)
	doJSON(t, srv, "/rpc/login", cluster.LoginRequest{PlayerID: 2, X: 1, Y: 0}, nil)

	var queryReply cluster.QueryReply
	resp := doJSON(t, srv, "/rpc/query", cluster.QueryRequest{XMin: -10, XMax: 10, YMin: -10, YMax: 10}, &queryReply)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, queryReply.Players, 2)

	resp = doJSON(t, srv, "/rpc/aoe", cluster.AOERequest{CasterID: 1, CenterX: 0, CenterY: 0, Radius: 5}, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	doJSON(t, srv, "/rpc/query", cluster.QueryRequest{XMin: -10, XMax: 10, YMin: -10, YMax: 10}, &queryReply)
	var rewarded bool
	for _, p := range queryReply.Players {
		if p.PlayerID == 2 && p.Money == 10 {
			rewarded = true
		}
	}
	assert.True(t, rewarded)
}

func TestHeaviestZoneAndNPlayersAndOverhead(t *testing.T) {
	_, srv := newTestServer(t)
	doJSON(t, srv, "/rpc/login", cluster.LoginRequest{PlayerID: 1, X: 5, Y: 5}, nil)
	doJSON(t, srv, "/rpc/login", cluster.LoginRequest{PlayerID: 2, X: 6, Y: 6}, nil)

	var hz cluster.HeaviestZoneReply
	resp := doJSON(t, srv, "/rpc/heaviest_zone", cluster.HeaviestZoneRequest{Depth: 2}, &hz)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.ElementsMatch(t, []uint64{1, 2}, hz.PlayerIDs)

	var np cluster.NPlayersReply
	doJSON(t, srv, "/rpc/n_players", cluster.NPlayersRequest{N: 1}, &np)
	assert.Len(t, np.PlayerIDs, 1)

	resp, err := http.Get(srv.URL + "/rpc/overhead")
	require.NoError(t, err)
	defer resp.Body.Close()
	var oh cluster.OverheadReply
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&oh))
	assert.Equal(t, 2, oh.Players)
}

func TestExportAndImportPlayer(t *testing.T) {
	source, srcHTTP := newTestServer(t)
	target, tgtHTTP := newTestServer(t)
	_ = source

	doJSON(t, srcHTTP, "/rpc/login", cluster.LoginRequest{PlayerID: 1, X: 5, Y: 5}, nil)

	resp := doJSON(t, srcHTTP, "/rpc/export_player", cluster.ExportRequest{
		PlayerID: 1, TargetAddress: tgtHTTP.URL,
	}, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	assert.Equal(t, 1, target.Store().Overhead())
	_, ok := source.Store().Get(1)
	assert.False(t, ok)
}

func TestShutdownSignalsServer(t *testing.T) {
	s, srv := newTestServer(t)
	resp, err := http.Post(srv.URL+"/rpc/shutdown", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	select {
	case <-s.ShutdownRequested():
	default:
		t.Fatal("expected shutdown to be signalled")
	}
}
