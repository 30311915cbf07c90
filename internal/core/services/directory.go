package services

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/sasha-s/go-deadlock"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"roomcast/internal/core/domain"
	"roomcast/internal/core/ports"
)

// routerCreateTimeout bounds a router allocation shared by every caller
// waiting on the same room.
const routerCreateTimeout = 10 * time.Second

// RoomDirectory maps room ids to live rooms. A room exists while it has at
// least one peer; its router is created at most once per room lifetime.
type RoomDirectory struct {
	engine ports.MediaEngine
	codecs []domain.RtpCodecCapability
	sink   ports.EventSink
	logger *zap.SugaredLogger

	creating      singleflight.Group
	createTimeout time.Duration

	// lock order: directory, then room
	mu    deadlock.RWMutex
	rooms map[domain.RoomID]*Room
}

func NewRoomDirectory(engine ports.MediaEngine, codecs []domain.RtpCodecCapability, sink ports.EventSink, logger *zap.SugaredLogger) *RoomDirectory {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if sink == nil {
		sink = NopSink{}
	}
	return &RoomDirectory{
		engine: engine,
		codecs: codecs,
		sink:   sink,
		logger: logger,
		rooms:  make(map[domain.RoomID]*Room),

		createTimeout: routerCreateTimeout,
	}
}

// Get returns nil when no room with id is live.
func (d *RoomDirectory) Get(id domain.RoomID) *Room {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.rooms[id]
}

// GetOrCreate returns the live room or creates it, allocating a router.
// Concurrent callers for the same id share a single creation.
func (d *RoomDirectory) GetOrCreate(ctx context.Context, id domain.RoomID) (*Room, error) {
	if room := d.Get(id); room != nil {
		return room, nil
	}

	v, err, _ := d.creating.Do(string(id), func() (interface{}, error) {
		if room := d.Get(id); room != nil {
			return room, nil
		}

		// Detached from the first caller: its cancellation must not fail the
		// others sharing this creation.
		createCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.createTimeout)
		defer cancel()

		router, err := d.engine.CreateRouter(createCtx, d.codecs)
		if err != nil {
			return nil, domain.NewEngineError("create router", err)
		}

		room := newRoom(id, router, d.sink, d.logger)
		d.mu.Lock()
		d.rooms[id] = room
		d.mu.Unlock()

		room.emit(domain.EventRoomCreated, "", router.ID(), "")
		d.logger.Infow("Room created", "room_id", id, "router_id", router.ID())
		return room, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Room), nil
}

// Join adds the peer to the room, creating the room if needed, and returns the
// producers that were open at the moment of joining.
func (d *RoomDirectory) Join(ctx context.Context, roomID domain.RoomID, peerID domain.PeerID, notifier ports.Notifier) (*Room, *Peer, []domain.ProducerInfo, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, nil, nil, err
		}

		room, err := d.GetOrCreate(ctx, roomID)
		if err != nil {
			return nil, nil, nil, err
		}

		peer, existing, err := room.join(peerID, notifier)
		if errors.Is(err, errRoomClosed) {
			// lost a race with teardown of the previous instance
			continue
		}
		if err != nil {
			d.RemoveIfEmpty(roomID)
			return nil, nil, nil, err
		}
		return room, peer, existing, nil
	}
}

// Leave removes the peer from its room and drops the room once it is empty.
func (d *RoomDirectory) Leave(roomID domain.RoomID, peerID domain.PeerID) bool {
	room := d.Get(roomID)
	if room == nil {
		return false
	}
	removed := room.RemovePeer(peerID)
	d.RemoveIfEmpty(roomID)
	return removed
}

// RemoveIfEmpty drops the room and closes its router if no peers remain.
func (d *RoomDirectory) RemoveIfEmpty(id domain.RoomID) bool {
	d.mu.Lock()
	room, exists := d.rooms[id]
	if !exists || !room.closeIfEmpty() {
		d.mu.Unlock()
		return false
	}
	delete(d.rooms, id)
	d.mu.Unlock()

	room.release()
	room.emit(domain.EventRoomClosed, "", room.router.ID(), "")
	d.logger.Infow("Room closed", "room_id", id)
	return true
}

// Rooms lists live rooms ordered by id.
func (d *RoomDirectory) Rooms() []*Room {
	d.mu.RLock()
	out := make([]*Room, 0, len(d.rooms))
	for _, r := range d.rooms {
		out = append(out, r)
	}
	d.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func (d *RoomDirectory) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.rooms)
}

// Close tears down every room, removing remaining peers first.
func (d *RoomDirectory) Close() {
	d.mu.Lock()
	rooms := d.rooms
	d.rooms = make(map[domain.RoomID]*Room)
	d.mu.Unlock()

	for id, room := range rooms {
		room.release()
		room.emit(domain.EventRoomClosed, "", room.router.ID(), "")
		d.logger.Infow("Room closed on shutdown", "room_id", id)
	}
}
