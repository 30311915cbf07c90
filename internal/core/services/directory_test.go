package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roomcast/internal/core/domain"
)

func TestRoomDirectory_GetOrCreateIsSingleFlight(t *testing.T) {
	dir, engine, sink := newTestDirectory()

	const workers = 32
	rooms := make([]*Room, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := dir.GetOrCreate(context.Background(), "shared")
			assert.NoError(t, err)
			rooms[i] = r
		}(i)
	}
	wg.Wait()

	for _, r := range rooms {
		assert.Same(t, rooms[0], r)
	}
	assert.Equal(t, 1, engine.RouterCalls())
	assert.Equal(t, 1, sink.count(domain.EventRoomCreated))
}

func TestRoomDirectory_RemoveIfEmpty(t *testing.T) {
	dir, engine, _ := newTestDirectory()
	ctx := context.Background()

	room, peer, _, err := dir.Join(ctx, "r1", "p1", nil)
	require.NoError(t, err)
	require.NotNil(t, peer)

	assert.False(t, dir.RemoveIfEmpty("r1"), "room with a peer must stay")
	assert.Same(t, room, dir.Get("r1"))

	assert.True(t, room.RemovePeer("p1"))
	assert.True(t, dir.RemoveIfEmpty("r1"))
	assert.Nil(t, dir.Get("r1"))
	assert.True(t, engine.routers[0].Closed())

	assert.False(t, dir.RemoveIfEmpty("r1"))
	assert.False(t, dir.RemoveIfEmpty("never-existed"))

	again, err := dir.GetOrCreate(ctx, "r1")
	require.NoError(t, err)
	assert.NotSame(t, room, again)
	assert.Equal(t, 2, engine.RouterCalls())
}

func TestRoomDirectory_JoinDuplicatePeer(t *testing.T) {
	dir, _, _ := newTestDirectory()
	ctx := context.Background()

	_, _, _, err := dir.Join(ctx, "dup", "same", nil)
	require.NoError(t, err)
	_, _, _, err = dir.Join(ctx, "dup", "same", nil)
	assert.ErrorIs(t, err, domain.ErrDuplicatePeer)
	assert.Equal(t, 1, dir.Get("dup").PeerCount())
}

func TestRoomDirectory_LeaveUnknown(t *testing.T) {
	dir, _, _ := newTestDirectory()
	assert.False(t, dir.Leave("ghost", "p"))

	_, _, _, err := dir.Join(context.Background(), "real", "p", nil)
	require.NoError(t, err)
	assert.False(t, dir.Leave("real", "other"))
	assert.True(t, dir.Leave("real", "p"))
	assert.False(t, dir.Leave("real", "p"))
}

func TestRoomDirectory_ConcurrentJoinLeave(t *testing.T) {
	dir, engine, _ := newTestDirectory()
	ctx := context.Background()

	const peers = 20
	const rounds = 10
	var wg sync.WaitGroup
	for i := 0; i < peers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < rounds; j++ {
				id := domain.PeerID(fmt.Sprintf("peer-%d-%d", i, j))
				_, _, _, err := dir.Join(ctx, "churn", id, nil)
				if !assert.NoError(t, err) {
					return
				}
				assert.True(t, dir.Leave("churn", id))
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, dir.Count())
	engine.mu.Lock()
	defer engine.mu.Unlock()
	for _, r := range engine.routers {
		assert.True(t, r.Closed(), "router %s leaked", r.ID())
	}
}

func TestRoomDirectory_Close(t *testing.T) {
	dir, engine, sink := newTestDirectory()
	ctx := context.Background()

	for _, room := range []domain.RoomID{"a", "b"} {
		_, _, _, err := dir.Join(ctx, room, "p", nil)
		require.NoError(t, err)
	}
	dir.Close()

	assert.Equal(t, 0, dir.Count())
	assert.Equal(t, 2, sink.count(domain.EventPeerLeft))
	assert.Equal(t, 2, sink.count(domain.EventRoomClosed))
	for _, r := range engine.routers {
		assert.True(t, r.Closed())
	}
}

func TestRoomDirectory_RoomsSorted(t *testing.T) {
	dir, _, _ := newTestDirectory()
	ctx := context.Background()
	for _, id := range []domain.RoomID{"c", "a", "b"} {
		_, err := dir.GetOrCreate(ctx, id)
		require.NoError(t, err)
	}

	var ids []domain.RoomID
	for _, r := range dir.Rooms() {
		ids = append(ids, r.ID())
	}
	assert.Equal(t, []domain.RoomID{"a", "b", "c"}, ids)
}

func TestRoomDirectory_CreationSurvivesFirstCallerCancel(t *testing.T) {
	dir, engine, _ := newTestDirectory()
	engine.routerGate = make(chan struct{})

	first, cancelFirst := context.WithCancel(context.Background())
	type result struct {
		room *Room
		err  error
	}
	firstDone := make(chan result, 1)
	go func() {
		room, err := dir.GetOrCreate(first, "shared")
		firstDone <- result{room, err}
	}()
	require.Eventually(t, func() bool { return engine.RouterCalls() == 1 }, time.Second, time.Millisecond)

	secondDone := make(chan result, 1)
	go func() {
		room, err := dir.GetOrCreate(context.Background(), "shared")
		secondDone <- result{room, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	time.Sleep(20 * time.Millisecond)
	close(engine.routerGate)

	a, b := <-firstDone, <-secondDone
	require.NoError(t, a.err)
	require.NoError(t, b.err)
	assert.Same(t, a.room, b.room)
	assert.Equal(t, 1, engine.RouterCalls())
}

func TestRoomDirectory_CreationTimesOut(t *testing.T) {
	dir, engine, _ := newTestDirectory()
	engine.routerGate = make(chan struct{})
	dir.createTimeout = 20 * time.Millisecond

	_, err := dir.GetOrCreate(context.Background(), "stuck")
	var engineErr *domain.EngineError
	require.ErrorAs(t, err, &engineErr)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Nil(t, dir.Get("stuck"))
	close(engine.routerGate)
}
