package domain

import "time"

// Notification methods pushed to peers over the signaling channel.
const (
	NotifyNewProducer    = "new-producer"
	NotifyProducerClosed = "producer-closed"
)

type NewProducerNotification struct {
	ProducerID ProducerID `json:"producerId"`
	Kind       MediaKind  `json:"kind"`
	PeerID     PeerID     `json:"socketId"`
}

type ProducerClosedNotification struct {
	ProducerID ProducerID `json:"producerId"`
}

// RoomEventType names a room lifecycle transition.
type RoomEventType string

const (
	EventRoomCreated     RoomEventType = "room.created"
	EventRoomClosed      RoomEventType = "room.closed"
	EventPeerJoined      RoomEventType = "peer.joined"
	EventPeerLeft        RoomEventType = "peer.left"
	EventTransportOpened RoomEventType = "transport.opened"
	EventTransportClosed RoomEventType = "transport.closed"
	EventProducerOpened  RoomEventType = "producer.opened"
	EventProducerClosed  RoomEventType = "producer.closed"
	EventConsumerOpened  RoomEventType = "consumer.opened"
	EventConsumerClosed  RoomEventType = "consumer.closed"
)

// RoomEvent is emitted to observers on room lifecycle transitions.
type RoomEvent struct {
	Type      RoomEventType `json:"type"`
	RoomID    RoomID        `json:"room_id"`
	PeerID    PeerID        `json:"peer_id,omitempty"`
	EntityID  string        `json:"entity_id,omitempty"`
	Kind      MediaKind     `json:"kind,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}
