package signal

import (
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"roomcast/internal/core/domain"
	apperrors "roomcast/pkg/errors"
)

func TestCodecFor(t *testing.T) {
	assert.Equal(t, SubprotocolJSON, CodecFor("").Name())
	assert.Equal(t, SubprotocolJSON, CodecFor("something-else").Name())
	assert.Equal(t, websocket.TextMessage, CodecFor(SubprotocolJSON).MessageType())
	assert.Equal(t, SubprotocolMsgpack, CodecFor(SubprotocolMsgpack).Name())
	assert.Equal(t, websocket.BinaryMessage, CodecFor(SubprotocolMsgpack).MessageType())
}

func TestJSONCodec_DecodeRequest(t *testing.T) {
	codec := CodecFor(SubprotocolJSON)

	req, err := codec.DecodeRequest([]byte(`{"id":7,"method":"consume","data":{"roomId":"r","transportId":"t","producerId":"p"}}`))
	require.NoError(t, err)
	assert.Equal(t, uint64(7), req.ID)
	assert.Equal(t, MethodConsume, req.Method)

	var p consumeRequest
	require.NoError(t, req.Decode(&p))
	assert.Equal(t, domain.RoomID("r"), p.RoomID)
	assert.Equal(t, domain.TransportID("t"), p.TransportID)
	assert.Equal(t, domain.ProducerID("p"), p.ProducerID)

	req, err = codec.DecodeRequest([]byte(`{"id":8,"method":"leave"}`))
	require.NoError(t, err)
	var empty roomRequest
	assert.NoError(t, req.Decode(&empty), "missing data is not an error")

	_, err = codec.DecodeRequest([]byte(`{"id":`))
	assert.Error(t, err)
}

func TestJSONCodec_EncodeResponse(t *testing.T) {
	detail := apperrors.NewRateLimitError().Detail()
	out, err := CodecFor(SubprotocolJSON).Encode(Response{ID: 3, Error: &detail})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":3,"ok":false,"error":{"code":"RATE_LIMIT_EXCEEDED","message":"rate limit exceeded"}}`, string(out))
}

func TestMsgpackCodec_RoundTrip(t *testing.T) {
	codec := CodecFor(SubprotocolMsgpack)

	frame, err := msgpack.Marshal(map[string]interface{}{
		"id":     uint64(42),
		"method": MethodCreateTransport,
		"data":   map[string]interface{}{"roomId": "r", "direction": "recv"},
	})
	require.NoError(t, err)

	req, err := codec.DecodeRequest(frame)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), req.ID)

	var p createTransportRequest
	require.NoError(t, req.Decode(&p))
	assert.Equal(t, domain.RoomID("r"), p.RoomID)
	assert.Equal(t, domain.DirectionRecv, p.Direction)

	out, err := codec.Encode(Notification{
		Method: domain.NotifyNewProducer,
		Data:   domain.NewProducerNotification{ProducerID: "p1", Kind: domain.KindAudio, PeerID: "peer"},
	})
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, msgpack.Unmarshal(out, &decoded))
	assert.Equal(t, domain.NotifyNewProducer, decoded["method"])
	data, ok := decoded["data"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "p1", data["producerId"])
	assert.Equal(t, "peer", data["socketId"])

	_, err = codec.DecodeRequest([]byte{0xc1})
	assert.Error(t, err)
}
