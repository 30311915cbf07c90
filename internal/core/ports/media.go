package ports

import (
	"context"

	"roomcast/internal/core/domain"
)

// CloseReason tells a close listener why an entity closed.
type CloseReason string

const (
	CloseExplicit  CloseReason = "close"
	CloseTransport CloseReason = "transportclose"
	CloseProducer  CloseReason = "producerclose"
	CloseRouter    CloseReason = "routerclose"
)

// MediaEngine allocates routing contexts. One routing context serves one room.
type MediaEngine interface {
	CreateRouter(ctx context.Context, codecs []domain.RtpCodecCapability) (Router, error)
}

// Router is a routing and capability-negotiation scope shared by the peers of a room.
type Router interface {
	ID() string
	RtpCapabilities() domain.RtpCapabilities
	CanConsume(producerID domain.ProducerID, caps domain.RtpCapabilities) bool
	CreateTransport(ctx context.Context, direction domain.Direction) (Transport, error)
	Close() error
	Closed() bool
}

// Close listeners registered on the entities below fire exactly once, after the
// entity is closed, outside of any engine lock. A listener registered on an
// already closed entity fires immediately.

type Transport interface {
	ID() domain.TransportID
	Direction() domain.Direction
	Parameters() domain.TransportParameters
	Connect(ctx context.Context, dtls domain.DtlsParameters) error
	Produce(ctx context.Context, kind domain.MediaKind, rtp domain.RtpParameters) (Producer, error)
	Consume(ctx context.Context, producerID domain.ProducerID, caps domain.RtpCapabilities, paused bool) (Consumer, error)
	Close() error
	Closed() bool
	OnClose(func(reason CloseReason))
}

type Producer interface {
	ID() domain.ProducerID
	Kind() domain.MediaKind
	RtpParameters() domain.RtpParameters
	Close() error
	Closed() bool
	OnClose(func(reason CloseReason))
}

type Consumer interface {
	ID() domain.ConsumerID
	ProducerID() domain.ProducerID
	Kind() domain.MediaKind
	RtpParameters() domain.RtpParameters
	Paused() bool
	Resume(ctx context.Context) error
	Close() error
	Closed() bool
	OnClose(func(reason CloseReason))
}
