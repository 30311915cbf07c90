package domain

type RoomID string
type PeerID string
type TransportID string
type ProducerID string
type ConsumerID string

// MediaKind is the kind of a media track.
type MediaKind string

const (
	KindAudio MediaKind = "audio"
	KindVideo MediaKind = "video"
)

func (k MediaKind) Valid() bool {
	return k == KindAudio || k == KindVideo
}

// Direction is the media flow direction of a transport, seen from the client.
type Direction string

const (
	DirectionSend Direction = "send"
	DirectionRecv Direction = "recv"
)

func (d Direction) Valid() bool {
	return d == DirectionSend || d == DirectionRecv
}
