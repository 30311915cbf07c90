package mediaengine

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"roomcast/internal/core/domain"
	"roomcast/internal/core/ports"
)

var ErrEngineClosed = errors.New("media engine closed")

// Engine is an in-process media engine. It negotiates capabilities and keeps
// the transport/producer/consumer graph but does not forward RTP.
type Engine struct {
	config Config
	ports  *portAllocator
	logger *zap.SugaredLogger

	mu      sync.Mutex
	closed  bool
	routers map[string]*Router
}

func New(config Config, logger *zap.SugaredLogger) (*Engine, error) {
	if len(config.ListenIPs) == 0 {
		return nil, fmt.Errorf("at least one listen ip is required")
	}
	if config.PortRange.Min == 0 || config.PortRange.Max < config.PortRange.Min {
		return nil, fmt.Errorf("invalid rtc port range %d-%d", config.PortRange.Min, config.PortRange.Max)
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Engine{
		config:  config,
		ports:   newPortAllocator(config.PortRange.Min, config.PortRange.Max),
		logger:  logger,
		routers: make(map[string]*Router),
	}, nil
}

// CreateRouter allocates a routing context with its own DTLS certificate.
func (e *Engine) CreateRouter(ctx context.Context, codecs []domain.RtpCodecCapability) (ports.Router, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	caps, err := buildCapabilities(codecs)
	if err != nil {
		return nil, err
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate dtls key: %w", err)
	}
	cert, err := webrtc.GenerateCertificate(key)
	if err != nil {
		return nil, fmt.Errorf("generate dtls certificate: %w", err)
	}
	fps, err := cert.GetFingerprints()
	if err != nil {
		return nil, fmt.Errorf("dtls fingerprints: %w", err)
	}
	fingerprints := make([]domain.DtlsFingerprint, 0, len(fps))
	for _, fp := range fps {
		fingerprints = append(fingerprints, domain.DtlsFingerprint{Algorithm: fp.Algorithm, Value: fp.Value})
	}

	r := &Router{
		engine:       e,
		id:           uuid.NewString(),
		caps:         caps,
		fingerprints: fingerprints,
		producers:    make(map[domain.ProducerID]*Producer),
		transports:   make(map[domain.TransportID]*Transport),
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrEngineClosed
	}
	e.routers[r.id] = r
	e.mu.Unlock()

	e.logger.Debugw("Router created", "router_id", r.id, "codecs", len(caps.Codecs))
	return r, nil
}

func (e *Engine) forgetRouter(id string) {
	e.mu.Lock()
	delete(e.routers, id)
	e.mu.Unlock()
}

// RouterCount returns the number of open routers.
func (e *Engine) RouterCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.routers)
}

func (e *Engine) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// PortsInUse returns the number of allocated RTC ports.
func (e *Engine) PortsInUse() int {
	return e.ports.InUse()
}

// Close closes every router and, through them, every transport.
func (e *Engine) Close() error {
	e.mu.Lock()
	e.closed = true
	routers := make([]*Router, 0, len(e.routers))
	for _, r := range e.routers {
		routers = append(routers, r)
	}
	e.mu.Unlock()

	for _, r := range routers {
		_ = r.Close()
	}
	return nil
}
