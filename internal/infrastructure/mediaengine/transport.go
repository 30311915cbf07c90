package mediaengine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"roomcast/internal/core/domain"
	"roomcast/internal/core/ports"
)

var (
	ErrTransportClosed   = errors.New("transport closed")
	ErrAlreadyConnected  = errors.New("transport already connected")
	ErrWrongDirection    = errors.New("operation not allowed on this transport direction")
	ErrUnsupportedCodecs = errors.New("no supported codec in rtp parameters")
)

type Transport struct {
	lifecycle
	router     *Router
	id         domain.TransportID
	direction  domain.Direction
	port       uint16
	ice        domain.IceParameters
	candidates []domain.IceCandidate

	mu         sync.Mutex
	connected  bool
	remoteDtls domain.DtlsParameters
	nextMid    int
	producers  map[domain.ProducerID]*Producer
	consumers  map[domain.ConsumerID]*Consumer
}

func (t *Transport) ID() domain.TransportID {
	return t.id
}

func (t *Transport) Direction() domain.Direction {
	return t.direction
}

func (t *Transport) Port() uint16 {
	return t.port
}

func (t *Transport) Parameters() domain.TransportParameters {
	return domain.TransportParameters{
		ID:            t.id,
		IceParameters: t.ice,
		IceCandidates: append([]domain.IceCandidate(nil), t.candidates...),
		DtlsParameters: domain.DtlsParameters{
			Role:         "auto",
			Fingerprints: append([]domain.DtlsFingerprint(nil), t.router.fingerprints...),
		},
	}
}

// Connect records the remote DTLS parameters. A transport connects once.
func (t *Transport) Connect(ctx context.Context, dtls domain.DtlsParameters) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(dtls.Fingerprints) == 0 {
		return fmt.Errorf("remote dtls parameters carry no fingerprint")
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Closed() {
		return ErrTransportClosed
	}
	if t.connected {
		return ErrAlreadyConnected
	}
	t.connected = true
	t.remoteDtls = dtls
	return nil
}

func (t *Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *Transport) Produce(ctx context.Context, kind domain.MediaKind, rtp domain.RtpParameters) (ports.Producer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if t.direction != domain.DirectionSend {
		return nil, ErrWrongDirection
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("invalid kind %q", kind)
	}
	if !supported(rtp, t.router.caps) {
		return nil, ErrUnsupportedCodecs
	}

	p := &Producer{
		transport: t,
		id:        domain.ProducerID(uuid.NewString()),
		kind:      kind,
		rtp:       rtp,
		ssrc:      primarySsrc(rtp),
		consumers: make(map[domain.ConsumerID]*Consumer),
	}

	t.mu.Lock()
	if t.Closed() {
		t.mu.Unlock()
		return nil, ErrTransportClosed
	}
	if t.producers == nil {
		t.producers = make(map[domain.ProducerID]*Producer)
	}
	t.producers[p.id] = p
	t.mu.Unlock()

	t.router.addProducer(p)
	// A transport close between the unlock and addProducer has already
	// removed p from the router; take it back out.
	if p.Closed() {
		t.router.removeProducer(p.id)
		return nil, ErrTransportClosed
	}
	return p, nil
}

func (t *Transport) Consume(ctx context.Context, producerID domain.ProducerID, caps domain.RtpCapabilities, paused bool) (ports.Consumer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if t.direction != domain.DirectionRecv {
		return nil, ErrWrongDirection
	}
	p := t.router.producer(producerID)
	if p == nil || p.Closed() {
		return nil, fmt.Errorf("producer %s not found", producerID)
	}
	codecs := consumableCodecs(p.rtp, caps)
	if len(codecs) == 0 {
		return nil, fmt.Errorf("cannot consume producer %s with the given capabilities", producerID)
	}

	t.mu.Lock()
	if t.Closed() {
		t.mu.Unlock()
		return nil, ErrTransportClosed
	}
	mid := fmt.Sprintf("%d", t.nextMid)
	t.nextMid++
	c := &Consumer{
		transport: t,
		producer:  p,
		id:        domain.ConsumerID(uuid.NewString()),
		kind:      p.kind,
		paused:    paused,
		rtp: domain.RtpParameters{
			Mid:              mid,
			Codecs:           codecs,
			HeaderExtensions: p.rtp.HeaderExtensions,
			Encodings:        []domain.RtpEncodingParameters{{Ssrc: randomSsrc()}},
			Rtcp:             domain.RtcpParameters{Cname: p.rtp.Rtcp.Cname, ReducedSize: true},
		},
	}
	if t.consumers == nil {
		t.consumers = make(map[domain.ConsumerID]*Consumer)
	}
	t.consumers[c.id] = c
	t.mu.Unlock()

	if !p.attach(c) {
		// producer closed in between
		c.close(ports.CloseProducer)
	}
	return c, nil
}

func (t *Transport) Close() error {
	t.close(ports.CloseExplicit)
	return nil
}

// close tears down consumers and producers with reason transportclose and
// releases the port exactly once.
func (t *Transport) close(reason ports.CloseReason) {
	if !t.begin(reason) {
		return
	}

	t.mu.Lock()
	producers := make([]*Producer, 0, len(t.producers))
	for _, p := range t.producers {
		producers = append(producers, p)
	}
	consumers := make([]*Consumer, 0, len(t.consumers))
	for _, c := range t.consumers {
		consumers = append(consumers, c)
	}
	t.mu.Unlock()

	for _, c := range consumers {
		c.close(ports.CloseTransport)
	}
	for _, p := range producers {
		p.close(ports.CloseTransport)
	}

	t.router.engine.ports.Release(t.port)
	t.router.removeTransport(t.id)
	t.finish()
}

func (t *Transport) detachProducer(id domain.ProducerID) {
	t.mu.Lock()
	delete(t.producers, id)
	t.mu.Unlock()
}

func (t *Transport) detachConsumer(id domain.ConsumerID) {
	t.mu.Lock()
	delete(t.consumers, id)
	t.mu.Unlock()
}
