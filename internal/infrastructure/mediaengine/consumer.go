package mediaengine

import (
	"context"
	"fmt"
	"sync"

	"roomcast/internal/core/domain"
	"roomcast/internal/core/ports"
)

type Consumer struct {
	lifecycle
	transport *Transport
	producer  *Producer
	id        domain.ConsumerID
	kind      domain.MediaKind
	rtp       domain.RtpParameters

	mu     sync.Mutex
	paused bool
}

func (c *Consumer) ID() domain.ConsumerID {
	return c.id
}

func (c *Consumer) ProducerID() domain.ProducerID {
	return c.producer.id
}

func (c *Consumer) Kind() domain.MediaKind {
	return c.kind
}

func (c *Consumer) RtpParameters() domain.RtpParameters {
	return c.rtp
}

func (c *Consumer) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// Resume unpauses the consumer. Video consumers ask the producer for a key
// frame so the receiver can start decoding.
func (c *Consumer) Resume(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.Closed() {
		return fmt.Errorf("consumer %s closed", c.id)
	}

	c.mu.Lock()
	wasPaused := c.paused
	c.paused = false
	c.mu.Unlock()

	if wasPaused && c.kind == domain.KindVideo {
		return c.producer.requestKeyFrame(c.rtp.Encodings[0].Ssrc)
	}
	return nil
}

func (c *Consumer) Close() error {
	c.close(ports.CloseExplicit)
	return nil
}

func (c *Consumer) close(reason ports.CloseReason) {
	if !c.begin(reason) {
		return
	}
	c.producer.detach(c.id)
	c.transport.detachConsumer(c.id)
	c.finish()
}
