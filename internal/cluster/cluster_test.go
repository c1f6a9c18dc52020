package cluster

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostJSONRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req MoveRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		_ = json.NewEncoder(w).Encode(MoveReply{X: req.DX, Y: req.DY})
	}))
	defer srv.Close()

	var reply MoveReply
	err := PostJSON(context.Background(), srv.URL, MoveRequest{PlayerID: 1, DX: 3, DY: 4}, &reply)
	require.NoError(t, err)
	assert.Equal(t, MoveReply{X: 3, Y: 4}, reply)
}

func TestPostJSONErrorResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(KindNotFound.HTTPStatus())
		_ = json.NewEncoder(w).Encode(map[string]string{"kind": string(KindNotFound), "message": "no such player"})
	}))
	defer srv.Close()

	err := PostJSON(context.Background(), srv.URL, MoveRequest{}, nil)
	require.Error(t, err)
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestGetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(QueryReply{Players: []PlayerInfo{{PlayerID: 1}}})
	}))
	defer srv.Close()

	var reply QueryReply
	require.NoError(t, GetJSON(context.Background(), srv.URL, &reply))
	assert.Len(t, reply.Players, 1)
}

func TestShardInfoSameShard(t *testing.T) {
	a := ShardInfo{ShardID: "s1", Zones: []int64{1}}
	b := ShardInfo{ShardID: "s1", Zones: []int64{1, 2}}
	c := ShardInfo{ShardID: "s2"}

	assert.True(t, a.SameShard(b))
	assert.False(t, a.SameShard(c))
}

func TestErrorKindHTTPStatus(t *testing.T) {
	assert.Equal(t, 404, KindNotFound.HTTPStatus())
	assert.Equal(t, 503, KindUnavailable.HTTPStatus())
	assert.Equal(t, 500, KindInternal.HTTPStatus())
}
