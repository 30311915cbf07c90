package mediaengine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"

	"roomcast/internal/core/domain"
	"roomcast/internal/core/ports"
)

type Router struct {
	lifecycle
	engine       *Engine
	id           string
	caps         domain.RtpCapabilities
	fingerprints []domain.DtlsFingerprint

	mu         sync.Mutex
	producers  map[domain.ProducerID]*Producer
	transports map[domain.TransportID]*Transport
}

func (r *Router) ID() string {
	return r.id
}

func (r *Router) RtpCapabilities() domain.RtpCapabilities {
	return r.caps
}

func (r *Router) producer(id domain.ProducerID) *Producer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.producers[id]
}

// CanConsume is false for unknown or closed producers and when none of the
// producer's codecs is decodable with caps.
func (r *Router) CanConsume(producerID domain.ProducerID, caps domain.RtpCapabilities) bool {
	p := r.producer(producerID)
	if p == nil || p.Closed() {
		return false
	}
	return len(consumableCodecs(p.rtp, caps)) > 0
}

func (r *Router) CreateTransport(ctx context.Context, direction domain.Direction) (ports.Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.Closed() {
		return nil, fmt.Errorf("router %s closed", r.id)
	}
	if !direction.Valid() {
		return nil, fmt.Errorf("invalid direction %q", direction)
	}

	port, err := r.engine.ports.Acquire()
	if err != nil {
		return nil, err
	}

	t := &Transport{
		router:    r,
		id:        domain.TransportID(uuid.NewString()),
		direction: direction,
		port:      port,
		ice: domain.IceParameters{
			UsernameFragment: randomToken(8),
			Password:         randomToken(16),
			IceLite:          true,
		},
		candidates: hostCandidates(r.engine.config.ListenIPs, port),
	}

	r.mu.Lock()
	if r.Closed() {
		r.mu.Unlock()
		r.engine.ports.Release(port)
		return nil, fmt.Errorf("router %s closed", r.id)
	}
	r.transports[t.id] = t
	r.mu.Unlock()
	return t, nil
}

func (r *Router) addProducer(p *Producer) {
	r.mu.Lock()
	r.producers[p.id] = p
	r.mu.Unlock()
}

func (r *Router) removeProducer(id domain.ProducerID) {
	r.mu.Lock()
	delete(r.producers, id)
	r.mu.Unlock()
}

func (r *Router) removeTransport(id domain.TransportID) {
	r.mu.Lock()
	delete(r.transports, id)
	r.mu.Unlock()
}

// Close closes every transport with reason routerclose.
func (r *Router) Close() error {
	if !r.begin(ports.CloseRouter) {
		return nil
	}
	r.mu.Lock()
	transports := make([]*Transport, 0, len(r.transports))
	for _, t := range r.transports {
		transports = append(transports, t)
	}
	r.mu.Unlock()

	for _, t := range transports {
		t.close(ports.CloseRouter)
	}
	r.engine.forgetRouter(r.id)
	r.finish()
	return nil
}

const (
	hostTypePreference = 126
	udpLocalPreference = 65535
	tcpLocalPreference = 32767
)

func candidatePriority(localPreference int) uint32 {
	return uint32((1<<24)*hostTypePreference + (1<<8)*localPreference + 255)
}

func hostCandidates(ips []ListenIP, port uint16) []domain.IceCandidate {
	out := make([]domain.IceCandidate, 0, 2*len(ips))
	for i, ip := range ips {
		address := ip.IP
		if ip.AnnouncedIP != "" {
			address = ip.AnnouncedIP
		}
		out = append(out,
			domain.IceCandidate{
				Foundation: fmt.Sprintf("udpcandidate%d", i),
				Priority:   candidatePriority(udpLocalPreference - i),
				IP:         address,
				Address:    address,
				Protocol:   webrtc.ICEProtocolUDP.String(),
				Port:       int(port),
				Type:       webrtc.ICECandidateTypeHost.String(),
			},
			domain.IceCandidate{
				Foundation: fmt.Sprintf("tcpcandidate%d", i),
				Priority:   candidatePriority(tcpLocalPreference - i),
				IP:         address,
				Address:    address,
				Protocol:   webrtc.ICEProtocolTCP.String(),
				Port:       int(port),
				Type:       webrtc.ICECandidateTypeHost.String(),
				TCPType:    "passive",
			},
		)
	}
	return out
}

func randomToken(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return uuid.NewString()
	}
	return hex.EncodeToString(b)
}
