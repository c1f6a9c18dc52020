package shardstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/worldmesh/internal/cluster"
	"github.com/dreamware/worldmesh/internal/geometry"
)

func newTestStore() *Store {
	return New(geometry.DefaultWorld(), 10)
}

func TestLoginAndLogout(t *testing.T) {
	s := newTestStore()
	err := s.Login(cluster.PlayerInfo{PlayerID: 1, X: 5, Y: 5})
	require.NoError(t, err)

	p, ok := s.Get(1)
	require.True(t, ok)
	assert.Equal(t, 5.0, p.X)

	s.Logout(1)
	_, ok = s.Get(1)
	assert.False(t, ok)
}

func TestLoginAlreadyExists(t *testing.T) {
	s := newTestStore()
	require.NoError(t, s.Login(cluster.PlayerInfo{PlayerID: 1}))

	err := s.Login(cluster.PlayerInfo{PlayerID: 1})
	require.Error(t, err)
	assert.Equal(t, cluster.KindAlreadyExists, cluster.KindOf(err))
}

func TestMoveUnknownPlayer(t *testing.T) {
	s := newTestStore()
	_, _, err := s.Move(99, 1, 1)
	require.Error(t, err)
	assert.Equal(t, cluster.KindNotFound, cluster.KindOf(err))
}

func TestMoveUpdatesGridIndex(t *testing.T) {
	s := newTestStore()
	require.NoError(t, s.Login(cluster.PlayerInfo{PlayerID: 1, X: 0, Y: 0}))

	x, y, err := s.Move(1, 1000, 1000)
	require.NoError(t, err)
	assert.Equal(t, 1000.0, x)
	assert.Equal(t, 1000.0, y)

	box := geometry.AABB{XMin: 900, XMax: 1100, YMin: 900, YMax: 1100}
	found := s.Query(box)
	require.Len(t, found, 1)
	assert.Equal(t, uint64(1), found[0].PlayerID)

	emptyBox := geometry.AABB{XMin: -10, XMax: 10, YMin: -10, YMax: 10}
	assert.Empty(t, s.Query(emptyBox))
}

func TestQueryScanFallback(t *testing.T) {
	s := newTestStore()
	require.NoError(t, s.Login(cluster.PlayerInfo{PlayerID: 1, X: 0, Y: 0}))
	require.NoError(t, s.Login(cluster.PlayerInfo{PlayerID: 2, X: 50000, Y: -50000}))

	all := s.Query(geometry.AABB{
		XMin: s.world.XMin, XMax: s.world.XMax,
		YMin: s.world.YMin, YMax: s.world.YMax,
	})
	assert.Len(t, all, 2)
}

func TestAOEExcludesCasterAndRespectsRadius(t *testing.T) {
	s := newTestStore()
	require.NoError(t, s.Login(cluster.PlayerInfo{PlayerID: 1, X: 0, Y: 0}))
	require.NoError(t, s.Login(cluster.PlayerInfo{PlayerID: 2, X: 1, Y: 0}))
	require.NoError(t, s.Login(cluster.PlayerInfo{PlayerID: 3, X: 1000, Y: 1000}))

	s.AOE(1, 0, 0, 5)

	caster, _ := s.Get(1)
	assert.Equal(t, uint64(0), caster.Money, "caster must not reward itself")

	near, _ := s.Get(2)
	assert.Equal(t, uint64(10), near.Money)

	far, _ := s.Get(3)
	assert.Equal(t, uint64(0), far.Money)
}

func TestAOEMoneySaturates(t *testing.T) {
	s := New(geometry.DefaultWorld(), ^uint64(0))
	require.NoError(t, s.Login(cluster.PlayerInfo{PlayerID: 1}))
	require.NoError(t, s.Login(cluster.PlayerInfo{PlayerID: 2, Money: 5}))

	s.AOE(1, 0, 0, 1)

	p, _ := s.Get(2)
	assert.Equal(t, ^uint64(0), p.Money)
}

func TestHeaviestZone(t *testing.T) {
	s := newTestStore()
	require.NoError(t, s.Login(cluster.PlayerInfo{PlayerID: 1, X: 5, Y: 5}))
	require.NoError(t, s.Login(cluster.PlayerInfo{PlayerID: 2, X: 6, Y: 6}))
	require.NoError(t, s.Login(cluster.PlayerInfo{PlayerID: 3, X: -5, Y: 5}))

	zone, ids, err := s.HeaviestZone(2)
	require.NoError(t, err)
	assert.Equal(t, geometry.ZoneId(11), zone)
	assert.ElementsMatch(t, []uint64{1, 2}, ids)
}

func TestHeaviestZoneEmptyStore(t *testing.T) {
	s := newTestStore()
	_, _, err := s.HeaviestZone(2)
	require.Error(t, err)
	assert.Equal(t, cluster.KindNotFound, cluster.KindOf(err))
}

func TestNPlayersAndOverhead(t *testing.T) {
	s := newTestStore()
	for i := uint64(1); i <= 5; i++ {
		require.NoError(t, s.Login(cluster.PlayerInfo{PlayerID: i}))
	}

	assert.Equal(t, 5, s.Overhead())
	assert.Len(t, s.NPlayers(3), 3)
	assert.Len(t, s.NPlayers(0), 5)
}
