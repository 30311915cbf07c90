package domain

import "time"

// ProducerInfo identifies an open producer and the peer publishing it.
type ProducerInfo struct {
	ProducerID ProducerID `json:"producerId"`
	PeerID     PeerID     `json:"socketId"`
	Kind       MediaKind  `json:"kind"`
}

// PeerStats is a point-in-time view of one peer's registry.
type PeerStats struct {
	ID         PeerID    `json:"id"`
	JoinedAt   time.Time `json:"joined_at"`
	Transports int       `json:"transports"`
	Producers  int       `json:"producers"`
	Consumers  int       `json:"consumers"`
}

// RoomStats is a point-in-time view of a room.
type RoomStats struct {
	ID        RoomID         `json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	Peers     []PeerStats    `json:"peers"`
	Producers []ProducerInfo `json:"producers"`
}

// ConsumerInfo is returned to a client after a successful consume.
type ConsumerInfo struct {
	ID            ConsumerID    `json:"id"`
	ProducerID    ProducerID    `json:"producerId"`
	Kind          MediaKind     `json:"kind"`
	RtpParameters RtpParameters `json:"rtpParameters"`
}
