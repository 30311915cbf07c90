package mediaengine

import (
	"crypto/rand"
	"encoding/binary"
	"sync"

	"github.com/pion/rtcp"

	"roomcast/internal/core/domain"
	"roomcast/internal/core/ports"
)

type Producer struct {
	lifecycle
	transport *Transport
	id        domain.ProducerID
	kind      domain.MediaKind
	rtp       domain.RtpParameters
	ssrc      uint32

	mu               sync.Mutex
	consumers        map[domain.ConsumerID]*Consumer
	keyFrameRequests int
	lastFeedback     []byte
}

func (p *Producer) ID() domain.ProducerID {
	return p.id
}

func (p *Producer) Kind() domain.MediaKind {
	return p.kind
}

func (p *Producer) RtpParameters() domain.RtpParameters {
	return p.rtp
}

func (p *Producer) SSRC() uint32 {
	return p.ssrc
}

// attach links a consumer; false when the producer is already closed.
func (p *Producer) attach(c *Consumer) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Closed() {
		return false
	}
	p.consumers[c.id] = c
	return true
}

func (p *Producer) detach(id domain.ConsumerID) {
	p.mu.Lock()
	delete(p.consumers, id)
	p.mu.Unlock()
}

// requestKeyFrame queues a PLI for the sender of this producer.
func (p *Producer) requestKeyFrame(senderSSRC uint32) error {
	raw, err := rtcp.Marshal([]rtcp.Packet{
		&rtcp.PictureLossIndication{SenderSSRC: senderSSRC, MediaSSRC: p.ssrc},
	})
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.keyFrameRequests++
	p.lastFeedback = raw
	p.mu.Unlock()
	return nil
}

// KeyFrameRequests returns how many PLIs were issued and the last one on the wire.
func (p *Producer) KeyFrameRequests() (int, []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.keyFrameRequests, p.lastFeedback
}

func (p *Producer) Close() error {
	p.close(ports.CloseExplicit)
	return nil
}

// close closes every consumer of the producer with reason producerclose.
func (p *Producer) close(reason ports.CloseReason) {
	if !p.begin(reason) {
		return
	}

	p.transport.router.removeProducer(p.id)
	p.transport.detachProducer(p.id)

	p.mu.Lock()
	consumers := make([]*Consumer, 0, len(p.consumers))
	for _, c := range p.consumers {
		consumers = append(consumers, c)
	}
	p.mu.Unlock()

	for _, c := range consumers {
		c.close(ports.CloseProducer)
	}
	p.finish()
}

func primarySsrc(rtp domain.RtpParameters) uint32 {
	for _, e := range rtp.Encodings {
		if e.Ssrc != 0 {
			return e.Ssrc
		}
	}
	return randomSsrc()
}

func randomSsrc() uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 1
	}
	return binary.BigEndian.Uint32(b[:])
}
