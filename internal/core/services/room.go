package services

import (
	"errors"
	"sort"
	"time"

	"github.com/sasha-s/go-deadlock"
	"go.uber.org/zap"

	"roomcast/internal/core/domain"
	"roomcast/internal/core/ports"
)

// errRoomClosed is returned by join on a room that lost its last peer and is
// being torn down. The directory retries against a fresh room.
var errRoomClosed = errors.New("room closed")

// Room groups the peers sharing one routing context.
type Room struct {
	id        domain.RoomID
	router    ports.Router
	createdAt time.Time
	sink      ports.EventSink
	logger    *zap.SugaredLogger

	mu     deadlock.Mutex
	peers  map[domain.PeerID]*Peer
	closed bool
}

func newRoom(id domain.RoomID, router ports.Router, sink ports.EventSink, logger *zap.SugaredLogger) *Room {
	return &Room{
		id:        id,
		router:    router,
		createdAt: time.Now(),
		sink:      sink,
		logger:    logger.With("room_id", id),
		peers:     make(map[domain.PeerID]*Peer),
	}
}

func (r *Room) ID() domain.RoomID {
	return r.id
}

func (r *Room) Router() ports.Router {
	return r.router
}

func (r *Room) RtpCapabilities() domain.RtpCapabilities {
	return r.router.RtpCapabilities()
}

func (r *Room) CanConsume(producerID domain.ProducerID, caps domain.RtpCapabilities) bool {
	return r.router.CanConsume(producerID, caps)
}

// AddPeer registers a new peer with an empty registry.
func (r *Room) AddPeer(id domain.PeerID, notifier ports.Notifier) (*Peer, error) {
	peer, _, err := r.join(id, notifier)
	return peer, err
}

// join snapshots the open producers and adds the peer in one step, so every
// producer is either in the snapshot or announced to the new peer, never both.
func (r *Room) join(id domain.PeerID, notifier ports.Notifier) (*Peer, []domain.ProducerInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, nil, errRoomClosed
	}
	if _, exists := r.peers[id]; exists {
		return nil, nil, domain.ErrDuplicatePeer
	}

	existing := r.producersLocked()
	peer := newPeer(id, r.id, notifier)
	r.peers[id] = peer

	r.emit(domain.EventPeerJoined, id, "", "")
	return peer, existing, nil
}

// RemovePeer takes the peer out of the room and closes everything it owned:
// consumers, then producers, then transports. Remaining peers get one
// producer-closed per producer. Removing an unknown peer is a no-op.
func (r *Room) RemovePeer(id domain.PeerID) bool {
	r.mu.Lock()
	peer, exists := r.peers[id]
	if !exists {
		r.mu.Unlock()
		return false
	}
	delete(r.peers, id)
	owned := peer.drain()
	targets := r.peersExceptLocked(id)
	r.mu.Unlock()

	closeEntities(owned, r.logger, id)

	for _, c := range owned.consumers {
		r.emit(domain.EventConsumerClosed, id, string(c.ID()), c.Kind())
	}
	for _, p := range owned.producers {
		r.emit(domain.EventProducerClosed, id, string(p.ID()), p.Kind())
		announceProducerClosed(targets, p.ID())
	}
	for _, t := range owned.transports {
		r.emit(domain.EventTransportClosed, id, string(t.ID()), "")
	}
	r.emit(domain.EventPeerLeft, id, "", "")

	r.logger.Infow("Peer left room",
		"peer_id", id,
		"consumers", len(owned.consumers),
		"producers", len(owned.producers),
		"transports", len(owned.transports),
	)
	return true
}

// GetPeer returns nil for an unknown peer.
func (r *Room) GetPeer(id domain.PeerID) *Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.peers[id]
}

func (r *Room) PeersExcept(id domain.PeerID) []*Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.peersExceptLocked(id)
}

func (r *Room) peersExceptLocked(id domain.PeerID) []*Peer {
	out := make([]*Peer, 0, len(r.peers))
	for pid, p := range r.peers {
		if pid != id {
			out = append(out, p)
		}
	}
	return out
}

// ListProducerIDs returns every open producer in the room.
func (r *Room) ListProducerIDs() []domain.ProducerInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.producersLocked()
}

func (r *Room) producersLocked() []domain.ProducerInfo {
	out := make([]domain.ProducerInfo, 0)
	for _, p := range r.peers {
		out = append(out, p.producerInfos()...)
	}
	return out
}

func (r *Room) PeerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}

// registerProducer adds the producer to the owner's registry and returns the
// peers that must be told about it.
func (r *Room) registerProducer(owner *Peer, producer ports.Producer, transportID domain.TransportID) ([]*Peer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := owner.addProducer(producer, transportID); err != nil {
		return nil, err
	}
	return r.peersExceptLocked(owner.id), nil
}

// unregisterProducer removes the producer from the owner's registry. Only the
// caller that actually removed it gets ok and is responsible for announcing.
func (r *Room) unregisterProducer(owner *Peer, id domain.ProducerID) (ports.Producer, []*Peer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	producer, ok := owner.removeProducer(id)
	if !ok {
		return nil, nil, false
	}
	return producer, r.peersExceptLocked(owner.id), true
}

// producerClosed handles a producer that the engine closed on its own, for
// example through its transport.
func (r *Room) producerClosed(owner *Peer, id domain.ProducerID) {
	producer, targets, ok := r.unregisterProducer(owner, id)
	if !ok {
		return
	}
	r.emit(domain.EventProducerClosed, owner.id, string(id), producer.Kind())
	announceProducerClosed(targets, id)
}

// consumerClosed removes a consumer the engine closed and tells its owner the
// source is gone.
func (r *Room) consumerClosed(owner *Peer, consumer ports.Consumer, reason ports.CloseReason) {
	if _, ok := owner.RemoveConsumer(consumer.ID()); !ok {
		return
	}
	r.emit(domain.EventConsumerClosed, owner.id, string(consumer.ID()), consumer.Kind())
	if reason != ports.CloseExplicit {
		owner.notifyProducerClosed(consumer.ProducerID())
	}
}

func (r *Room) transportClosed(owner *Peer, id domain.TransportID) {
	if _, ok := owner.RemoveTransport(id); !ok {
		return
	}
	r.emit(domain.EventTransportClosed, owner.id, string(id), "")
}

func announceProducerClosed(targets []*Peer, id domain.ProducerID) {
	for _, p := range targets {
		p.notifyProducerClosed(id)
	}
}

func announceNewProducer(targets []*Peer, info domain.ProducerInfo) {
	for _, p := range targets {
		p.notifyNewProducer(info)
	}
}

// closeIfEmpty marks an empty room closed so no further joins land in it.
// The caller holds the directory lock.
func (r *Room) closeIfEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.peers) > 0 {
		return false
	}
	r.closed = true
	return true
}

// release closes the routing context. Peers still present are removed first.
func (r *Room) release() {
	r.mu.Lock()
	r.closed = true
	ids := make([]domain.PeerID, 0, len(r.peers))
	for id := range r.peers {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.RemovePeer(id)
	}
	if err := r.router.Close(); err != nil {
		r.logger.Warnw("Failed to close router", "router_id", r.router.ID(), "error", err)
	}
}

func (r *Room) Stats() domain.RoomStats {
	r.mu.Lock()
	peers := make([]*Peer, 0, len(r.peers))
	for _, p := range r.peers {
		peers = append(peers, p)
	}
	producers := r.producersLocked()
	r.mu.Unlock()

	stats := domain.RoomStats{
		ID:        r.id,
		CreatedAt: r.createdAt,
		Peers:     make([]domain.PeerStats, 0, len(peers)),
		Producers: producers,
	}
	for _, p := range peers {
		stats.Peers = append(stats.Peers, p.Stats())
	}
	sort.Slice(stats.Peers, func(i, j int) bool {
		return stats.Peers[i].JoinedAt.Before(stats.Peers[j].JoinedAt)
	})
	return stats
}

func (r *Room) emit(t domain.RoomEventType, peerID domain.PeerID, entityID string, kind domain.MediaKind) {
	if r.sink == nil {
		return
	}
	r.sink.Emit(domain.RoomEvent{
		Type:      t,
		RoomID:    r.id,
		PeerID:    peerID,
		EntityID:  entityID,
		Kind:      kind,
		Timestamp: time.Now(),
	})
}
