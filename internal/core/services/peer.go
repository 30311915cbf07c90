package services

import (
	"fmt"
	"time"

	"github.com/sasha-s/go-deadlock"
	"go.uber.org/zap"

	"roomcast/internal/core/domain"
	"roomcast/internal/core/ports"
)

type transportEntry struct {
	transport ports.Transport
	connected bool
}

type producerEntry struct {
	producer    ports.Producer
	transportID domain.TransportID
}

type consumerEntry struct {
	consumer    ports.Consumer
	transportID domain.TransportID
	resumed     bool
}

// Peer is one participant's registry of media entities within a room. All
// mutation goes through the peer's lock; engine entities are never closed
// while it is held.
type Peer struct {
	id       domain.PeerID
	roomID   domain.RoomID
	notifier ports.Notifier
	joinedAt time.Time

	mu         deadlock.Mutex
	transports entityMap[domain.TransportID, *transportEntry]
	producers  entityMap[domain.ProducerID, *producerEntry]
	consumers  entityMap[domain.ConsumerID, *consumerEntry]
	// producer ids this peer has already been told are closed
	notifiedClosed map[domain.ProducerID]struct{}
	closed         bool
}

func newPeer(id domain.PeerID, roomID domain.RoomID, notifier ports.Notifier) *Peer {
	return &Peer{
		id:             id,
		roomID:         roomID,
		notifier:       notifier,
		joinedAt:       time.Now(),
		transports:     newEntityMap[domain.TransportID, *transportEntry](),
		producers:      newEntityMap[domain.ProducerID, *producerEntry](),
		consumers:      newEntityMap[domain.ConsumerID, *consumerEntry](),
		notifiedClosed: make(map[domain.ProducerID]struct{}),
	}
}

func (p *Peer) ID() domain.PeerID {
	return p.id
}

func (p *Peer) RoomID() domain.RoomID {
	return p.roomID
}

// Closed reports whether the peer has left its room.
func (p *Peer) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// AddTransport registers t. It fails with ErrPeerNotFound once the peer has
// left; the caller then owns t and must close it.
func (p *Peer) AddTransport(t ports.Transport) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return domain.ErrPeerNotFound
	}
	if !p.transports.add(t.ID(), &transportEntry{transport: t}) {
		return duplicateEntity("transport", string(t.ID()))
	}
	return nil
}

// duplicateEntity means the engine handed out an id that is already
// registered; the existing entry is kept.
func duplicateEntity(kind, id string) error {
	return domain.NewEngineError("register "+kind, fmt.Errorf("duplicate %s id %s", kind, id))
}

func (p *Peer) FindTransport(id domain.TransportID) (ports.Transport, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.transports.find(id)
	if !ok {
		return nil, false
	}
	return e.transport, true
}

// TransportConnected reports whether the transport completed its DTLS handshake.
func (p *Peer) TransportConnected(id domain.TransportID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.transports.find(id)
	return ok && e.connected
}

func (p *Peer) markTransportConnected(id domain.TransportID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.transports.find(id)
	if !ok {
		return false
	}
	e.connected = true
	return true
}

// RemoveTransport drops the transport from the registry without closing it.
func (p *Peer) RemoveTransport(id domain.TransportID) (ports.Transport, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.transports.remove(id)
	if !ok {
		return nil, false
	}
	return e.transport, true
}

// addProducer is called by the room under its lock so that registration and
// the choice of announcement targets are atomic.
func (p *Peer) addProducer(producer ports.Producer, transportID domain.TransportID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return domain.ErrPeerNotFound
	}
	if !p.producers.add(producer.ID(), &producerEntry{producer: producer, transportID: transportID}) {
		return duplicateEntity("producer", string(producer.ID()))
	}
	return nil
}

func (p *Peer) FindProducer(id domain.ProducerID) (ports.Producer, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.producers.find(id)
	if !ok {
		return nil, false
	}
	return e.producer, true
}

func (p *Peer) removeProducer(id domain.ProducerID) (ports.Producer, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.producers.remove(id)
	if !ok {
		return nil, false
	}
	return e.producer, true
}

// producerInfos lists producers that are still open.
func (p *Peer) producerInfos() []domain.ProducerInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.ProducerInfo, 0, p.producers.len())
	for _, e := range p.producers.values() {
		if e.producer.Closed() {
			continue
		}
		out = append(out, domain.ProducerInfo{
			ProducerID: e.producer.ID(),
			PeerID:     p.id,
			Kind:       e.producer.Kind(),
		})
	}
	return out
}

func (p *Peer) AddConsumer(c ports.Consumer, transportID domain.TransportID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return domain.ErrPeerNotFound
	}
	if !p.consumers.add(c.ID(), &consumerEntry{consumer: c, transportID: transportID, resumed: !c.Paused()}) {
		return duplicateEntity("consumer", string(c.ID()))
	}
	return nil
}

func (p *Peer) FindConsumer(id domain.ConsumerID) (ports.Consumer, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.consumers.find(id)
	if !ok {
		return nil, false
	}
	return e.consumer, true
}

func (p *Peer) lookupConsumer(id domain.ConsumerID) (consumerEntry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.consumers.find(id)
	if !ok {
		return consumerEntry{}, false
	}
	return *e, true
}

func (p *Peer) markConsumerResumed(id domain.ConsumerID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.consumers.find(id); ok {
		e.resumed = true
	}
}

func (p *Peer) RemoveConsumer(id domain.ConsumerID) (ports.Consumer, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.consumers.remove(id)
	if !ok {
		return nil, false
	}
	return e.consumer, true
}

// notifyProducerClosed tells the peer a producer went away, at most once per
// producer id.
func (p *Peer) notifyProducerClosed(id domain.ProducerID) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	if _, seen := p.notifiedClosed[id]; seen {
		p.mu.Unlock()
		return
	}
	p.notifiedClosed[id] = struct{}{}
	p.mu.Unlock()

	p.notify(domain.NotifyProducerClosed, domain.ProducerClosedNotification{ProducerID: id})
}

func (p *Peer) notifyNewProducer(info domain.ProducerInfo) {
	if p.Closed() {
		return
	}
	p.notify(domain.NotifyNewProducer, domain.NewProducerNotification{
		ProducerID: info.ProducerID,
		Kind:       info.Kind,
		PeerID:     info.PeerID,
	})
}

func (p *Peer) notify(method string, data interface{}) {
	if p.notifier == nil {
		return
	}
	p.notifier.Notify(method, data)
}

// drained holds everything a peer owned at the moment it left.
type drained struct {
	consumers  []ports.Consumer
	producers  []ports.Producer
	transports []ports.Transport
}

// drain marks the peer closed and empties its registry. Subsequent Add calls
// fail and entity close listeners find nothing left to remove.
func (p *Peer) drain() drained {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true

	var d drained
	for _, e := range p.consumers.drain() {
		d.consumers = append(d.consumers, e.consumer)
	}
	for _, e := range p.producers.drain() {
		d.producers = append(d.producers, e.producer)
	}
	for _, e := range p.transports.drain() {
		d.transports = append(d.transports, e.transport)
	}
	return d
}

// Stats returns a snapshot of the registry sizes.
func (p *Peer) Stats() domain.PeerStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return domain.PeerStats{
		ID:         p.id,
		JoinedAt:   p.joinedAt,
		Transports: p.transports.len(),
		Producers:  p.producers.len(),
		Consumers:  p.consumers.len(),
	}
}

// closeEntities closes what drain returned, consumers first, then producers,
// then transports. Failures are logged and skipped.
func closeEntities(d drained, logger *zap.SugaredLogger, peerID domain.PeerID) {
	for _, c := range d.consumers {
		if err := c.Close(); err != nil {
			logger.Warnw("Failed to close consumer", "peer_id", peerID, "consumer_id", c.ID(), "error", err)
		}
	}
	for _, pr := range d.producers {
		if err := pr.Close(); err != nil {
			logger.Warnw("Failed to close producer", "peer_id", peerID, "producer_id", pr.ID(), "error", err)
		}
	}
	for _, t := range d.transports {
		if err := t.Close(); err != nil {
			logger.Warnw("Failed to close transport", "peer_id", peerID, "transport_id", t.ID(), "error", err)
		}
	}
}
