package mediaengine

import (
	"context"
	"sync"
	"testing"

	"github.com/pion/rtcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roomcast/internal/core/domain"
	"roomcast/internal/core/ports"
)

func newTestEngine(t *testing.T, min, max uint16) *Engine {
	t.Helper()
	cfg := DefaultConfig()
	cfg.ListenIPs = []ListenIP{{IP: "0.0.0.0", AnnouncedIP: "203.0.113.10"}}
	cfg.PortRange.Min = min
	cfg.PortRange.Max = max
	e, err := New(cfg, nil)
	require.NoError(t, err)
	return e
}

func newTestRouter(t *testing.T, e *Engine) *Router {
	t.Helper()
	r, err := e.CreateRouter(context.Background(), DefaultCodecs())
	require.NoError(t, err)
	return r.(*Router)
}

var clientDtls = domain.DtlsParameters{
	Role:         "client",
	Fingerprints: []domain.DtlsFingerprint{{Algorithm: "sha-256", Value: "01:02:03"}},
}

func vp8Params() domain.RtpParameters {
	return domain.RtpParameters{
		Codecs:    []domain.RtpCodecParameters{{MimeType: "video/vp8", PayloadType: 96, ClockRate: 90000}},
		Encodings: []domain.RtpEncodingParameters{{Ssrc: 1111}},
		Rtcp:      domain.RtcpParameters{Cname: "cam"},
	}
}

func opusParams() domain.RtpParameters {
	return domain.RtpParameters{
		Codecs: []domain.RtpCodecParameters{{MimeType: "audio/opus", PayloadType: 111, ClockRate: 48000, Channels: 2}},
	}
}

func TestNew_Validation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ListenIPs = nil
	_, err := New(cfg, nil)
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.PortRange.Min = 5000
	cfg.PortRange.Max = 4000
	_, err = New(cfg, nil)
	assert.Error(t, err)
}

func TestCreateRouter_Capabilities(t *testing.T) {
	e := newTestEngine(t, 40000, 40010)
	r := newTestRouter(t, e)

	caps := r.RtpCapabilities()
	require.Len(t, caps.Codecs, 3)
	assert.EqualValues(t, 100, caps.Codecs[0].PreferredPayloadType)
	assert.EqualValues(t, 101, caps.Codecs[1].PreferredPayloadType)
	assert.EqualValues(t, 102, caps.Codecs[2].PreferredPayloadType)
	assert.NotEmpty(t, caps.Codecs[1].RtcpFeedback)
	assert.NotEmpty(t, caps.HeaderExtensions)
	assert.Equal(t, 1, e.RouterCount())

	_, err := e.CreateRouter(context.Background(), nil)
	assert.Error(t, err)
}

func TestCreateTransport_Parameters(t *testing.T) {
	e := newTestEngine(t, 40000, 40010)
	r := newTestRouter(t, e)

	tr, err := r.CreateTransport(context.Background(), domain.DirectionSend)
	require.NoError(t, err)

	params := tr.Parameters()
	assert.Equal(t, tr.ID(), params.ID)
	assert.True(t, params.IceParameters.IceLite)
	assert.NotEmpty(t, params.IceParameters.UsernameFragment)
	assert.NotEmpty(t, params.IceParameters.Password)
	require.Len(t, params.IceCandidates, 2)
	assert.Equal(t, "203.0.113.10", params.IceCandidates[0].IP)
	assert.Equal(t, "udp", params.IceCandidates[0].Protocol)
	assert.Equal(t, "tcp", params.IceCandidates[1].Protocol)
	assert.Equal(t, 40000, params.IceCandidates[0].Port)
	assert.Greater(t, params.IceCandidates[0].Priority, params.IceCandidates[1].Priority)
	require.NotEmpty(t, params.DtlsParameters.Fingerprints)
	assert.Equal(t, "auto", params.DtlsParameters.Role)
	assert.Equal(t, 1, e.PortsInUse())

	_, err = r.CreateTransport(context.Background(), "both")
	assert.Error(t, err)
}

func TestCreateTransport_PortExhaustionAndRelease(t *testing.T) {
	e := newTestEngine(t, 40000, 40001)
	r := newTestRouter(t, e)
	ctx := context.Background()

	t1, err := r.CreateTransport(ctx, domain.DirectionSend)
	require.NoError(t, err)
	_, err = r.CreateTransport(ctx, domain.DirectionRecv)
	require.NoError(t, err)

	_, err = r.CreateTransport(ctx, domain.DirectionRecv)
	assert.ErrorIs(t, err, ErrNoPortsAvailable)

	require.NoError(t, t1.Close())
	require.NoError(t, t1.Close())
	assert.Equal(t, 1, e.PortsInUse())

	_, err = r.CreateTransport(ctx, domain.DirectionRecv)
	assert.NoError(t, err)
}

func TestTransport_Connect(t *testing.T) {
	e := newTestEngine(t, 40000, 40010)
	r := newTestRouter(t, e)
	ctx := context.Background()

	tr, err := r.CreateTransport(ctx, domain.DirectionSend)
	require.NoError(t, err)

	assert.Error(t, tr.Connect(ctx, domain.DtlsParameters{Role: "client"}))
	require.NoError(t, tr.Connect(ctx, clientDtls))
	assert.ErrorIs(t, tr.Connect(ctx, clientDtls), ErrAlreadyConnected)
	assert.True(t, tr.(*Transport).Connected())
}

func TestProduceConsume(t *testing.T) {
	e := newTestEngine(t, 40000, 40010)
	r := newTestRouter(t, e)
	ctx := context.Background()

	send, err := r.CreateTransport(ctx, domain.DirectionSend)
	require.NoError(t, err)
	recv, err := r.CreateTransport(ctx, domain.DirectionRecv)
	require.NoError(t, err)

	_, err = recv.Produce(ctx, domain.KindVideo, vp8Params())
	assert.ErrorIs(t, err, ErrWrongDirection)

	unsupported := domain.RtpParameters{Codecs: []domain.RtpCodecParameters{{MimeType: "video/AV1", ClockRate: 90000}}}
	_, err = send.Produce(ctx, domain.KindVideo, unsupported)
	assert.ErrorIs(t, err, ErrUnsupportedCodecs)

	producer, err := send.Produce(ctx, domain.KindVideo, vp8Params())
	require.NoError(t, err)
	assert.Equal(t, domain.KindVideo, producer.Kind())

	caps := r.RtpCapabilities()
	assert.True(t, r.CanConsume(producer.ID(), caps))
	assert.False(t, r.CanConsume("unknown", caps))
	audioOnly := domain.RtpCapabilities{Codecs: caps.Codecs[:1]}
	assert.False(t, r.CanConsume(producer.ID(), audioOnly))

	_, err = recv.Consume(ctx, producer.ID(), audioOnly, true)
	assert.Error(t, err)

	consumer, err := recv.Consume(ctx, producer.ID(), caps, true)
	require.NoError(t, err)
	assert.True(t, consumer.Paused())
	assert.Equal(t, producer.ID(), consumer.ProducerID())
	require.Len(t, consumer.RtpParameters().Codecs, 1)
	assert.EqualValues(t, 101, consumer.RtpParameters().Codecs[0].PayloadType)
	assert.Equal(t, "0", consumer.RtpParameters().Mid)
	assert.Equal(t, "cam", consumer.RtpParameters().Rtcp.Cname)
}

func TestConsumerResume_RequestsKeyFrame(t *testing.T) {
	e := newTestEngine(t, 40000, 40010)
	r := newTestRouter(t, e)
	ctx := context.Background()

	send, _ := r.CreateTransport(ctx, domain.DirectionSend)
	recv, _ := r.CreateTransport(ctx, domain.DirectionRecv)
	producer, err := send.Produce(ctx, domain.KindVideo, vp8Params())
	require.NoError(t, err)
	consumer, err := recv.Consume(ctx, producer.ID(), r.RtpCapabilities(), true)
	require.NoError(t, err)

	require.NoError(t, consumer.Resume(ctx))
	require.NoError(t, consumer.Resume(ctx))
	assert.False(t, consumer.Paused())

	count, raw := producer.(*Producer).KeyFrameRequests()
	assert.Equal(t, 1, count)
	packets, err := rtcp.Unmarshal(raw)
	require.NoError(t, err)
	require.Len(t, packets, 1)
	pli, ok := packets[0].(*rtcp.PictureLossIndication)
	require.True(t, ok)
	assert.EqualValues(t, 1111, pli.MediaSSRC)
}

func TestClose_Cascades(t *testing.T) {
	e := newTestEngine(t, 40000, 40010)
	r := newTestRouter(t, e)
	ctx := context.Background()

	send, _ := r.CreateTransport(ctx, domain.DirectionSend)
	recv, _ := r.CreateTransport(ctx, domain.DirectionRecv)
	producer, err := send.Produce(ctx, domain.KindAudio, opusParams())
	require.NoError(t, err)
	consumer, err := recv.Consume(ctx, producer.ID(), r.RtpCapabilities(), true)
	require.NoError(t, err)

	var producerReasons, consumerReasons []ports.CloseReason
	producer.OnClose(func(reason ports.CloseReason) { producerReasons = append(producerReasons, reason) })
	consumer.OnClose(func(reason ports.CloseReason) { consumerReasons = append(consumerReasons, reason) })

	require.NoError(t, send.Close())

	assert.True(t, producer.Closed())
	assert.True(t, consumer.Closed())
	assert.Equal(t, []ports.CloseReason{ports.CloseTransport}, producerReasons)
	assert.Equal(t, []ports.CloseReason{ports.CloseProducer}, consumerReasons)
	assert.False(t, r.CanConsume(producer.ID(), r.RtpCapabilities()))

	var late []ports.CloseReason
	consumer.OnClose(func(reason ports.CloseReason) { late = append(late, reason) })
	assert.Equal(t, []ports.CloseReason{ports.CloseProducer}, late, "late listeners fire immediately")

	require.NoError(t, producer.Close())
	assert.Len(t, producerReasons, 1)
}

func TestProduce_RacingTransportCloseLeavesNoProducer(t *testing.T) {
	e := newTestEngine(t, 40000, 40010)
	r := newTestRouter(t, e)
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		send, err := r.CreateTransport(ctx, domain.DirectionSend)
		require.NoError(t, err)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = send.Produce(ctx, domain.KindVideo, vp8Params())
		}()
		go func() {
			defer wg.Done()
			_ = send.Close()
		}()
		wg.Wait()

		r.mu.Lock()
		n := len(r.producers)
		r.mu.Unlock()
		require.Zero(t, n, "iteration %d", i)
	}
}

func TestRouterClose_ReleasesEverything(t *testing.T) {
	e := newTestEngine(t, 40000, 40010)
	r := newTestRouter(t, e)
	ctx := context.Background()

	tr, err := r.CreateTransport(ctx, domain.DirectionRecv)
	require.NoError(t, err)
	var reason ports.CloseReason
	tr.OnClose(func(r ports.CloseReason) { reason = r })

	require.NoError(t, e.Close())
	assert.True(t, r.Closed())
	assert.True(t, tr.Closed())
	assert.Equal(t, ports.CloseRouter, reason)
	assert.Equal(t, 0, e.PortsInUse())
	assert.Equal(t, 0, e.RouterCount())

	_, err = r.CreateTransport(ctx, domain.DirectionSend)
	assert.Error(t, err)

	assert.True(t, e.Closed())
	_, err = e.CreateRouter(ctx, DefaultCodecs())
	assert.ErrorIs(t, err, ErrEngineClosed)
}
