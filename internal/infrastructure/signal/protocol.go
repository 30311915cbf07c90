package signal

import (
	"roomcast/internal/core/domain"
	apperrors "roomcast/pkg/errors"
)

// Request methods.
const (
	MethodJoinRoom                 = "join-room"
	MethodCreateTransport          = "create-transport"
	MethodConnectTransport         = "connect-transport"
	MethodProduce                  = "produce"
	MethodConsume                  = "consume"
	MethodResumeConsumer           = "resume-consumer"
	MethodCloseProducer            = "close-producer"
	MethodGetRouterRtpCapabilities = "get-router-rtp-capabilities"
	MethodLeave                    = "leave"
)

// Request is an inbound frame. Data stays encoded until the handler knows
// which payload type to decode it into.
type Request struct {
	ID     uint64
	Method string

	data  []byte
	codec Codec
}

// Decode decodes the request data into v. Absent data leaves v untouched.
func (r *Request) Decode(v interface{}) error {
	if len(r.data) == 0 {
		return nil
	}
	return r.codec.decodeData(r.data, v)
}

type Response struct {
	ID    uint64            `json:"id"`
	OK    bool              `json:"ok"`
	Data  interface{}       `json:"data,omitempty"`
	Error *apperrors.Detail `json:"error,omitempty"`
}

type Notification struct {
	Method string      `json:"method"`
	Data   interface{} `json:"data"`
}

type roomRequest struct {
	RoomID domain.RoomID `json:"roomId"`
}

type joinRoomResponse struct {
	Joined                bool                   `json:"joined"`
	PeerID                domain.PeerID          `json:"peerId"`
	RouterRtpCapabilities domain.RtpCapabilities `json:"routerRtpCapabilities"`
	ExistingProducers     []domain.ProducerInfo  `json:"existingProducers"`
}

type createTransportRequest struct {
	RoomID    domain.RoomID    `json:"roomId"`
	Direction domain.Direction `json:"direction"`
}

type connectTransportRequest struct {
	RoomID         domain.RoomID         `json:"roomId"`
	TransportID    domain.TransportID    `json:"transportId"`
	DtlsParameters domain.DtlsParameters `json:"dtlsParameters"`
}

type produceRequest struct {
	RoomID        domain.RoomID        `json:"roomId"`
	TransportID   domain.TransportID   `json:"transportId"`
	Kind          domain.MediaKind     `json:"kind"`
	RtpParameters domain.RtpParameters `json:"rtpParameters"`
}

type produceResponse struct {
	ID domain.ProducerID `json:"id"`
}

type consumeRequest struct {
	RoomID          domain.RoomID          `json:"roomId"`
	TransportID     domain.TransportID     `json:"transportId"`
	ProducerID      domain.ProducerID      `json:"producerId"`
	RtpCapabilities domain.RtpCapabilities `json:"rtpCapabilities"`
}

type resumeConsumerRequest struct {
	RoomID     domain.RoomID     `json:"roomId"`
	ConsumerID domain.ConsumerID `json:"consumerId"`
}

type closeProducerRequest struct {
	RoomID     domain.RoomID     `json:"roomId"`
	ProducerID domain.ProducerID `json:"producerId"`
}

type connectedResponse struct {
	Connected bool `json:"connected"`
}

type resumedResponse struct {
	Resumed bool `json:"resumed"`
}

type closedResponse struct {
	Closed bool `json:"closed"`
}

type leftResponse struct {
	Left bool `json:"left"`
}
