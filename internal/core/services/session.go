package services

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"roomcast/internal/core/domain"
	"roomcast/internal/core/ports"
	"roomcast/pkg/validation"
)

// SessionState is the lifecycle position of one signaling connection.
type SessionState int

const (
	StateUnjoined SessionState = iota
	StateJoining
	StateActive
	StateLeaving
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateUnjoined:
		return "unjoined"
	case StateJoining:
		return "joining"
	case StateActive:
		return "active"
	case StateLeaving:
		return "leaving"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// JoinResult is what a peer learns when it enters a room.
type JoinResult struct {
	RoomID            domain.RoomID
	PeerID            domain.PeerID
	RtpCapabilities   domain.RtpCapabilities
	ExistingProducers []domain.ProducerInfo
}

// Session drives the requests of one signaling connection. Requests are
// handled one at a time; the connection identity is the peer id.
type Session struct {
	id        domain.PeerID
	directory *RoomDirectory
	notifier  ports.Notifier
	logger    *zap.SugaredLogger

	mu     sync.Mutex
	state  SessionState
	roomID domain.RoomID
}

func NewSession(id domain.PeerID, directory *RoomDirectory, notifier ports.Notifier, logger *zap.SugaredLogger) *Session {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Session{
		id:        id,
		directory: directory,
		notifier:  notifier,
		logger:    logger.With("peer_id", id),
		state:     StateUnjoined,
	}
}

func (s *Session) ID() domain.PeerID {
	return s.id
}

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// RoomID is empty until the session joins.
func (s *Session) RoomID() domain.RoomID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

func invalid(err error) error {
	return fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
}

// resolve finds the room and this session's peer in it. Caller holds s.mu.
func (s *Session) resolve(roomID domain.RoomID) (*Room, *Peer, error) {
	if s.state == StateClosed || s.state == StateLeaving {
		return nil, nil, domain.ErrSessionClosed
	}
	room := s.directory.Get(roomID)
	if room == nil {
		return nil, nil, fmt.Errorf("%w: %s", domain.ErrRoomNotFound, roomID)
	}
	peer := room.GetPeer(s.id)
	if peer == nil {
		return nil, nil, fmt.Errorf("%w: %s", domain.ErrPeerNotFound, s.id)
	}
	return room, peer, nil
}

// Join adds the connection to the room, creating the room on first use.
func (s *Session) Join(ctx context.Context, roomID domain.RoomID) (*JoinResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateClosed, StateLeaving:
		return nil, domain.ErrSessionClosed
	case StateActive, StateJoining:
		return nil, domain.ErrAlreadyJoined
	}
	if err := validation.ValidateRoomID(string(roomID)); err != nil {
		return nil, invalid(err)
	}

	s.state = StateJoining
	room, _, existing, err := s.directory.Join(ctx, roomID, s.id, s.notifier)
	if err != nil {
		s.state = StateUnjoined
		return nil, err
	}
	s.state = StateActive
	s.roomID = roomID

	s.logger.Infow("Peer joined room", "room_id", roomID, "existing_producers", len(existing))
	return &JoinResult{
		RoomID:            roomID,
		PeerID:            s.id,
		RtpCapabilities:   room.RtpCapabilities(),
		ExistingProducers: existing,
	}, nil
}

// RouterRtpCapabilities returns the routing capabilities of a live room.
func (s *Session) RouterRtpCapabilities(roomID domain.RoomID) (domain.RtpCapabilities, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed || s.state == StateLeaving {
		return domain.RtpCapabilities{}, domain.ErrSessionClosed
	}
	room := s.directory.Get(roomID)
	if room == nil {
		return domain.RtpCapabilities{}, fmt.Errorf("%w: %s", domain.ErrRoomNotFound, roomID)
	}
	return room.RtpCapabilities(), nil
}

// CreateTransport allocates a transport in the given direction and registers
// it with the peer.
func (s *Session) CreateTransport(ctx context.Context, roomID domain.RoomID, direction domain.Direction) (domain.TransportParameters, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := validation.ValidateDirection(string(direction)); err != nil {
		return domain.TransportParameters{}, invalid(err)
	}
	room, peer, err := s.resolve(roomID)
	if err != nil {
		return domain.TransportParameters{}, err
	}

	transport, err := room.Router().CreateTransport(ctx, direction)
	if err != nil {
		return domain.TransportParameters{}, domain.NewEngineError("create transport", err)
	}
	if err := peer.AddTransport(transport); err != nil {
		s.discard("transport", transport.Close)
		return domain.TransportParameters{}, err
	}
	transport.OnClose(func(ports.CloseReason) {
		room.transportClosed(peer, transport.ID())
	})

	room.emit(domain.EventTransportOpened, s.id, string(transport.ID()), "")
	s.logger.Debugw("Transport created", "transport_id", transport.ID(), "direction", direction)
	return transport.Parameters(), nil
}

// ConnectTransport completes the DTLS handshake. Connecting an already
// connected transport succeeds without contacting the engine again.
func (s *Session) ConnectTransport(ctx context.Context, roomID domain.RoomID, transportID domain.TransportID, dtls domain.DtlsParameters) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := validation.ValidateDtlsParameters(dtls); err != nil {
		return invalid(err)
	}
	_, peer, err := s.resolve(roomID)
	if err != nil {
		return err
	}
	transport, ok := peer.FindTransport(transportID)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrTransportNotFound, transportID)
	}
	if peer.TransportConnected(transportID) {
		return nil
	}

	if err := transport.Connect(ctx, dtls); err != nil {
		return domain.NewEngineError("connect transport", err)
	}
	if !peer.markTransportConnected(transportID) {
		return fmt.Errorf("%w: %s", domain.ErrTransportNotFound, transportID)
	}
	s.logger.Debugw("Transport connected", "transport_id", transportID)
	return nil
}

// Produce publishes a track on a connected send transport and announces it to
// every other peer in the room.
func (s *Session) Produce(ctx context.Context, roomID domain.RoomID, transportID domain.TransportID, kind domain.MediaKind, rtp domain.RtpParameters) (domain.ProducerID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := validation.ValidateKind(string(kind)); err != nil {
		return "", invalid(err)
	}
	if err := validation.ValidateRtpParameters(rtp); err != nil {
		return "", invalid(err)
	}
	room, peer, err := s.resolve(roomID)
	if err != nil {
		return "", err
	}
	transport, ok := peer.FindTransport(transportID)
	if !ok {
		return "", fmt.Errorf("%w: %s", domain.ErrTransportNotFound, transportID)
	}
	if transport.Direction() != domain.DirectionSend {
		return "", fmt.Errorf("%w: transport %s cannot send", domain.ErrInvalidRequest, transportID)
	}
	if !peer.TransportConnected(transportID) {
		return "", fmt.Errorf("%w: %s", domain.ErrTransportNotConnected, transportID)
	}

	producer, err := transport.Produce(ctx, kind, rtp)
	if err != nil {
		return "", domain.NewEngineError("produce", err)
	}
	targets, err := room.registerProducer(peer, producer, transportID)
	if err != nil {
		s.discard("producer", producer.Close)
		return "", err
	}
	producer.OnClose(func(ports.CloseReason) {
		room.producerClosed(peer, producer.ID())
	})
	room.emit(domain.EventProducerOpened, s.id, string(producer.ID()), kind)

	if !producer.Closed() {
		announceNewProducer(targets, domain.ProducerInfo{ProducerID: producer.ID(), PeerID: s.id, Kind: kind})
	}
	s.logger.Infow("Producer created", "producer_id", producer.ID(), "kind", kind, "notified_peers", len(targets))
	return producer.ID(), nil
}

// Consume creates a paused consumer of another peer's producer on a receive
// transport. The client resumes it once its side is ready.
func (s *Session) Consume(ctx context.Context, roomID domain.RoomID, transportID domain.TransportID, producerID domain.ProducerID, caps domain.RtpCapabilities) (*domain.ConsumerInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if producerID == "" {
		return nil, invalid(fmt.Errorf("producer id is required"))
	}
	room, peer, err := s.resolve(roomID)
	if err != nil {
		return nil, err
	}
	if !room.CanConsume(producerID, caps) {
		return nil, fmt.Errorf("%w: producer %s", domain.ErrCannotConsume, producerID)
	}
	transport, ok := peer.FindTransport(transportID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrTransportNotFound, transportID)
	}
	if transport.Direction() != domain.DirectionRecv {
		return nil, fmt.Errorf("%w: transport %s cannot receive", domain.ErrInvalidRequest, transportID)
	}

	consumer, err := transport.Consume(ctx, producerID, caps, true)
	if err != nil {
		return nil, domain.NewEngineError("consume", err)
	}
	if err := peer.AddConsumer(consumer, transportID); err != nil {
		s.discard("consumer", consumer.Close)
		return nil, err
	}
	consumer.OnClose(func(reason ports.CloseReason) {
		room.consumerClosed(peer, consumer, reason)
	})
	if consumer.Closed() {
		return nil, fmt.Errorf("%w: %s closed while consuming", domain.ErrProducerNotFound, producerID)
	}
	room.emit(domain.EventConsumerOpened, s.id, string(consumer.ID()), consumer.Kind())

	s.logger.Debugw("Consumer created", "consumer_id", consumer.ID(), "producer_id", producerID)
	return &domain.ConsumerInfo{
		ID:            consumer.ID(),
		ProducerID:    producerID,
		Kind:          consumer.Kind(),
		RtpParameters: consumer.RtpParameters(),
	}, nil
}

// ResumeConsumer starts media flow on a paused consumer. Resuming twice is a
// no-op.
func (s *Session) ResumeConsumer(ctx context.Context, roomID domain.RoomID, consumerID domain.ConsumerID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, peer, err := s.resolve(roomID)
	if err != nil {
		return err
	}
	entry, ok := peer.lookupConsumer(consumerID)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrConsumerNotFound, consumerID)
	}
	if entry.resumed {
		return nil
	}
	if !peer.TransportConnected(entry.transportID) {
		return fmt.Errorf("%w: %s", domain.ErrTransportNotConnected, entry.transportID)
	}

	if err := entry.consumer.Resume(ctx); err != nil {
		return domain.NewEngineError("resume consumer", err)
	}
	peer.markConsumerResumed(consumerID)
	return nil
}

// CloseProducer stops one of this peer's producers. Other peers get a single
// producer-closed and their consumers of it are closed by the engine.
func (s *Session) CloseProducer(ctx context.Context, roomID domain.RoomID, producerID domain.ProducerID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, peer, err := s.resolve(roomID)
	if err != nil {
		return err
	}
	producer, targets, ok := room.unregisterProducer(peer, producerID)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrProducerNotFound, producerID)
	}

	closeErr := producer.Close()
	room.emit(domain.EventProducerClosed, s.id, string(producerID), producer.Kind())
	announceProducerClosed(targets, producerID)

	if closeErr != nil {
		return domain.NewEngineError("close producer", closeErr)
	}
	s.logger.Infow("Producer closed", "producer_id", producerID)
	return nil
}

// Leave ends room membership on request. The session cannot be reused.
func (s *Session) Leave() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return domain.ErrSessionClosed
	}
	s.teardown()
	return nil
}

// Disconnect releases everything the connection owned. It is safe to call
// more than once and from any state.
func (s *Session) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}
	s.teardown()
}

// teardown runs with s.mu held.
func (s *Session) teardown() {
	wasActive := s.state == StateActive
	s.state = StateLeaving
	if wasActive {
		s.directory.Leave(s.roomID, s.id)
		s.logger.Infow("Peer disconnected", "room_id", s.roomID)
	}
	s.state = StateClosed
}

// discard closes an entity created for a peer that left mid-request.
func (s *Session) discard(kind string, close func() error) {
	if err := close(); err != nil {
		s.logger.Warnw("Failed to discard orphaned entity", "entity", kind, "error", err)
	}
}
