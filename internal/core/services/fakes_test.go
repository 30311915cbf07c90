package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"roomcast/internal/core/domain"
	"roomcast/internal/core/ports"
)

var testCodecs = []domain.RtpCodecCapability{
	{Kind: domain.KindAudio, MimeType: "audio/opus", ClockRate: 48000, Channels: 2},
	{Kind: domain.KindVideo, MimeType: "video/VP8", ClockRate: 90000},
}

var testDtls = domain.DtlsParameters{
	Role:         "client",
	Fingerprints: []domain.DtlsFingerprint{{Algorithm: "sha-256", Value: "AA:BB:CC"}},
}

func testRtp(kind domain.MediaKind) domain.RtpParameters {
	if kind == domain.KindAudio {
		return domain.RtpParameters{Codecs: []domain.RtpCodecParameters{
			{MimeType: "audio/opus", PayloadType: 100, ClockRate: 48000, Channels: 2},
		}}
	}
	return domain.RtpParameters{Codecs: []domain.RtpCodecParameters{
		{MimeType: "video/VP8", PayloadType: 101, ClockRate: 90000},
	}}
}

func testCaps() domain.RtpCapabilities {
	return domain.RtpCapabilities{Codecs: testCodecs}
}

// closer tracks closed state and close listeners for fake entities.
type closer struct {
	mu        sync.Mutex
	closed    bool
	reason    ports.CloseReason
	listeners []func(ports.CloseReason)
}

func (c *closer) shut(reason ports.CloseReason, cascade func()) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.closed = true
	c.reason = reason
	ls := c.listeners
	c.listeners = nil
	c.mu.Unlock()

	if cascade != nil {
		cascade()
	}
	for _, l := range ls {
		l(reason)
	}
	return true
}

func (c *closer) OnClose(fn func(ports.CloseReason)) {
	c.mu.Lock()
	if c.closed {
		reason := c.reason
		c.mu.Unlock()
		fn(reason)
		return
	}
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

func (c *closer) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeEngine struct {
	routerCalls int32
	seq         int64
	failRouter  error
	// routerGate, when set, holds CreateRouter until closed or ctx is done.
	routerGate chan struct{}

	mu      sync.Mutex
	routers []*fakeRouter
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{}
}

func (e *fakeEngine) nextID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, atomic.AddInt64(&e.seq, 1))
}

func (e *fakeEngine) CreateRouter(ctx context.Context, codecs []domain.RtpCodecCapability) (ports.Router, error) {
	atomic.AddInt32(&e.routerCalls, 1)
	if e.failRouter != nil {
		return nil, e.failRouter
	}
	if e.routerGate != nil {
		select {
		case <-e.routerGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	r := &fakeRouter{
		engine:     e,
		id:         e.nextID("router"),
		codecs:     codecs,
		producers:  make(map[domain.ProducerID]*fakeProducer),
		transports: make(map[domain.TransportID]*fakeTransport),
	}
	e.mu.Lock()
	e.routers = append(e.routers, r)
	e.mu.Unlock()
	return r, nil
}

func (e *fakeEngine) RouterCalls() int {
	return int(atomic.LoadInt32(&e.routerCalls))
}

func (e *fakeEngine) transport(id domain.TransportID) *fakeTransport {
	e.mu.Lock()
	routers := append([]*fakeRouter(nil), e.routers...)
	e.mu.Unlock()
	for _, r := range routers {
		r.mu.Lock()
		t := r.transports[id]
		r.mu.Unlock()
		if t != nil {
			return t
		}
	}
	return nil
}

func (e *fakeEngine) producer(id domain.ProducerID) *fakeProducer {
	e.mu.Lock()
	routers := append([]*fakeRouter(nil), e.routers...)
	e.mu.Unlock()
	for _, r := range routers {
		r.mu.Lock()
		p := r.producers[id]
		r.mu.Unlock()
		if p != nil {
			return p
		}
	}
	return nil
}

type fakeRouter struct {
	closer
	engine        *fakeEngine
	id            string
	codecs        []domain.RtpCodecCapability
	failTransport error

	mu         sync.Mutex
	producers  map[domain.ProducerID]*fakeProducer
	transports map[domain.TransportID]*fakeTransport
}

func (r *fakeRouter) ID() string { return r.id }

func (r *fakeRouter) RtpCapabilities() domain.RtpCapabilities {
	return domain.RtpCapabilities{Codecs: r.codecs}
}

func (r *fakeRouter) CanConsume(producerID domain.ProducerID, caps domain.RtpCapabilities) bool {
	r.mu.Lock()
	p := r.producers[producerID]
	r.mu.Unlock()
	if p == nil || p.Closed() {
		return false
	}
	for _, c := range p.rtp.Codecs {
		for _, cc := range caps.Codecs {
			if strings.EqualFold(c.MimeType, cc.MimeType) {
				return true
			}
		}
	}
	return false
}

func (r *fakeRouter) CreateTransport(ctx context.Context, direction domain.Direction) (ports.Transport, error) {
	if r.failTransport != nil {
		return nil, r.failTransport
	}
	t := &fakeTransport{
		router:    r,
		id:        domain.TransportID(r.engine.nextID("transport")),
		direction: direction,
	}
	r.mu.Lock()
	r.transports[t.id] = t
	r.mu.Unlock()
	return t, nil
}

func (r *fakeRouter) Close() error {
	r.shut(ports.CloseRouter, func() {
		r.mu.Lock()
		ts := make([]*fakeTransport, 0, len(r.transports))
		for _, t := range r.transports {
			ts = append(ts, t)
		}
		r.mu.Unlock()
		for _, t := range ts {
			t.closeWith(ports.CloseRouter)
		}
	})
	return nil
}

type fakeTransport struct {
	closer
	router    *fakeRouter
	id        domain.TransportID
	direction domain.Direction

	connectCalls int32
	connectErr   error

	mu        sync.Mutex
	producers []*fakeProducer
	consumers []*fakeConsumer
}

func (t *fakeTransport) ID() domain.TransportID      { return t.id }
func (t *fakeTransport) Direction() domain.Direction { return t.direction }

func (t *fakeTransport) Parameters() domain.TransportParameters {
	return domain.TransportParameters{
		ID:             t.id,
		IceParameters:  domain.IceParameters{UsernameFragment: "ufrag", Password: "pwd", IceLite: true},
		IceCandidates:  []domain.IceCandidate{{Foundation: "udp", Priority: 1, IP: "127.0.0.1", Address: "127.0.0.1", Protocol: "udp", Port: 40000, Type: "host"}},
		DtlsParameters: domain.DtlsParameters{Role: "auto", Fingerprints: testDtls.Fingerprints},
	}
}

func (t *fakeTransport) Connect(ctx context.Context, dtls domain.DtlsParameters) error {
	atomic.AddInt32(&t.connectCalls, 1)
	return t.connectErr
}

func (t *fakeTransport) ConnectCalls() int {
	return int(atomic.LoadInt32(&t.connectCalls))
}

func (t *fakeTransport) Produce(ctx context.Context, kind domain.MediaKind, rtp domain.RtpParameters) (ports.Producer, error) {
	if t.Closed() {
		return nil, errors.New("transport closed")
	}
	p := &fakeProducer{
		router: t.router,
		id:     domain.ProducerID(t.router.engine.nextID("producer")),
		kind:   kind,
		rtp:    rtp,
	}
	t.router.mu.Lock()
	t.router.producers[p.id] = p
	t.router.mu.Unlock()
	t.mu.Lock()
	t.producers = append(t.producers, p)
	t.mu.Unlock()
	return p, nil
}

func (t *fakeTransport) Consume(ctx context.Context, producerID domain.ProducerID, caps domain.RtpCapabilities, paused bool) (ports.Consumer, error) {
	t.router.mu.Lock()
	p := t.router.producers[producerID]
	t.router.mu.Unlock()
	if p == nil {
		return nil, fmt.Errorf("producer %s not found", producerID)
	}
	c := &fakeConsumer{
		id:         domain.ConsumerID(t.router.engine.nextID("consumer")),
		producerID: producerID,
		kind:       p.kind,
		rtp:        p.rtp,
		paused:     paused,
	}
	t.mu.Lock()
	t.consumers = append(t.consumers, c)
	t.mu.Unlock()
	p.mu.Lock()
	p.consumers = append(p.consumers, c)
	p.mu.Unlock()
	if p.Closed() {
		c.closeWith(ports.CloseProducer)
	}
	return c, nil
}

func (t *fakeTransport) Close() error {
	t.closeWith(ports.CloseExplicit)
	return nil
}

func (t *fakeTransport) closeWith(reason ports.CloseReason) {
	t.shut(reason, func() {
		t.mu.Lock()
		ps := append([]*fakeProducer(nil), t.producers...)
		cs := append([]*fakeConsumer(nil), t.consumers...)
		t.mu.Unlock()
		for _, c := range cs {
			c.closeWith(ports.CloseTransport)
		}
		for _, p := range ps {
			p.closeWith(ports.CloseTransport)
		}
	})
}

type fakeProducer struct {
	closer
	router *fakeRouter
	id     domain.ProducerID
	kind   domain.MediaKind
	rtp    domain.RtpParameters

	mu        sync.Mutex
	consumers []*fakeConsumer
}

func (p *fakeProducer) ID() domain.ProducerID               { return p.id }
func (p *fakeProducer) Kind() domain.MediaKind              { return p.kind }
func (p *fakeProducer) RtpParameters() domain.RtpParameters { return p.rtp }

func (p *fakeProducer) Close() error {
	p.closeWith(ports.CloseExplicit)
	return nil
}

func (p *fakeProducer) closeWith(reason ports.CloseReason) {
	p.shut(reason, func() {
		p.router.mu.Lock()
		delete(p.router.producers, p.id)
		p.router.mu.Unlock()
		p.mu.Lock()
		cs := append([]*fakeConsumer(nil), p.consumers...)
		p.mu.Unlock()
		for _, c := range cs {
			c.closeWith(ports.CloseProducer)
		}
	})
}

type fakeConsumer struct {
	closer
	id         domain.ConsumerID
	producerID domain.ProducerID
	kind       domain.MediaKind
	rtp        domain.RtpParameters

	resumeCalls int32
	resumeErr   error

	stateMu sync.Mutex
	paused  bool
}

func (c *fakeConsumer) ID() domain.ConsumerID               { return c.id }
func (c *fakeConsumer) ProducerID() domain.ProducerID       { return c.producerID }
func (c *fakeConsumer) Kind() domain.MediaKind              { return c.kind }
func (c *fakeConsumer) RtpParameters() domain.RtpParameters { return c.rtp }

func (c *fakeConsumer) Paused() bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.paused
}

func (c *fakeConsumer) Resume(ctx context.Context) error {
	atomic.AddInt32(&c.resumeCalls, 1)
	if c.resumeErr != nil {
		return c.resumeErr
	}
	c.stateMu.Lock()
	c.paused = false
	c.stateMu.Unlock()
	return nil
}

func (c *fakeConsumer) Close() error {
	c.closeWith(ports.CloseExplicit)
	return nil
}

func (c *fakeConsumer) closeWith(reason ports.CloseReason) {
	c.shut(reason, nil)
}

type notification struct {
	method string
	data   interface{}
}

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []notification
}

func (n *recordingNotifier) Notify(method string, data interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, notification{method: method, data: data})
}

func (n *recordingNotifier) newProducers() []domain.NewProducerNotification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []domain.NewProducerNotification
	for _, m := range n.msgs {
		if np, ok := m.data.(domain.NewProducerNotification); ok && m.method == domain.NotifyNewProducer {
			out = append(out, np)
		}
	}
	return out
}

func (n *recordingNotifier) closedProducers() []domain.ProducerID {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []domain.ProducerID
	for _, m := range n.msgs {
		if pc, ok := m.data.(domain.ProducerClosedNotification); ok && m.method == domain.NotifyProducerClosed {
			out = append(out, pc.ProducerID)
		}
	}
	return out
}

type recordingSink struct {
	mu     sync.Mutex
	events []domain.RoomEvent
}

func (s *recordingSink) Emit(event domain.RoomEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *recordingSink) count(t domain.RoomEventType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e.Type == t {
			n++
		}
	}
	return n
}
