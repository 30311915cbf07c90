package signal

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"

	"roomcast/pkg/optimize"
)

// Subprotocols a client may request with Sec-WebSocket-Protocol.
const (
	SubprotocolJSON    = "roomcast.json"
	SubprotocolMsgpack = "roomcast.msgpack"
)

var frameBuffers = optimize.NewBufferPool(512, 64*1024)

// Codec encodes frames for one connection.
type Codec interface {
	Name() string
	// MessageType is the websocket frame type used for outbound frames.
	MessageType() int
	Encode(v interface{}) ([]byte, error)
	DecodeRequest(data []byte) (*Request, error)

	decodeData(data []byte, v interface{}) error
}

// CodecFor returns the codec for a negotiated subprotocol. JSON is the default.
func CodecFor(subprotocol string) Codec {
	if subprotocol == SubprotocolMsgpack {
		return msgpackCodec{}
	}
	return jsonCodec{}
}

type jsonCodec struct{}

func (jsonCodec) Name() string     { return SubprotocolJSON }
func (jsonCodec) MessageType() int { return websocket.TextMessage }

func (jsonCodec) Encode(v interface{}) ([]byte, error) {
	buf := frameBuffers.Get()
	defer frameBuffers.Put(buf)

	if err := json.NewEncoder(buf).Encode(v); err != nil {
		return nil, err
	}
	return append([]byte(nil), bytes.TrimRight(buf.Bytes(), "\n")...), nil
}

func (c jsonCodec) DecodeRequest(data []byte) (*Request, error) {
	var frame struct {
		ID     uint64          `json:"id"`
		Method string          `json:"method"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}
	return &Request{ID: frame.ID, Method: frame.Method, data: frame.Data, codec: c}, nil
}

func (jsonCodec) decodeData(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

// msgpackCodec reuses the json struct tags so both encodings carry the same
// field names.
type msgpackCodec struct{}

func (msgpackCodec) Name() string     { return SubprotocolMsgpack }
func (msgpackCodec) MessageType() int { return websocket.BinaryMessage }

func (msgpackCodec) Encode(v interface{}) ([]byte, error) {
	buf := frameBuffers.Get()
	defer frameBuffers.Put(buf)

	enc := msgpack.NewEncoder(buf)
	enc.SetCustomStructTag("json")
	enc.UseCompactInts(true)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return append([]byte(nil), buf.Bytes()...), nil
}

func (c msgpackCodec) DecodeRequest(data []byte) (*Request, error) {
	var frame struct {
		ID     uint64             `msgpack:"id"`
		Method string             `msgpack:"method"`
		Data   msgpack.RawMessage `msgpack:"data"`
	}
	if err := msgpack.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}
	return &Request{ID: frame.ID, Method: frame.Method, data: frame.Data, codec: c}, nil
}

func (msgpackCodec) decodeData(data []byte, v interface{}) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	return dec.Decode(v)
}
