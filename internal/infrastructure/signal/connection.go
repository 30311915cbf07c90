package signal

import (
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"roomcast/internal/core/domain"
	"roomcast/internal/core/services"
)

type outboundFrame struct {
	messageType int
	data        []byte
}

// connection is one upgraded websocket. Only the server's loop for this
// connection writes to ws; everyone else goes through queue.
type connection struct {
	peerID  domain.PeerID
	connID  string
	ws      *websocket.Conn
	codec   Codec
	session *services.Session
	limiter *rate.Limiter
	metrics Metrics
	logger  *zap.SugaredLogger

	queue     chan outboundFrame
	done      chan struct{}
	closeOnce sync.Once
}

func newConnection(peerID domain.PeerID, connID string, ws *websocket.Conn, codec Codec, queueSize int, limiter *rate.Limiter, metrics Metrics, logger *zap.SugaredLogger) *connection {
	return &connection{
		peerID:  peerID,
		connID:  connID,
		ws:      ws,
		codec:   codec,
		limiter: limiter,
		metrics: metrics,
		logger:  logger,
		queue:   make(chan outboundFrame, queueSize),
		done:    make(chan struct{}),
	}
}

// Notify implements ports.Notifier. It never blocks: when the queue is full
// the notification is dropped.
func (c *connection) Notify(method string, data interface{}) {
	select {
	case <-c.done:
		return
	default:
	}

	payload, err := c.codec.Encode(Notification{Method: method, Data: data})
	if err != nil {
		c.logger.Errorw("Failed to encode notification", "method", method, "error", err)
		return
	}

	select {
	case c.queue <- outboundFrame{messageType: c.codec.MessageType(), data: payload}:
	default:
		// A peer that missed an announcement can only resync by rejoining.
		c.metrics.RecordNotificationDropped()
		c.logger.Warnw("Send queue full, closing connection", "method", method, "queue_size", cap(c.queue))
		c.close()
	}
}

// allow reports whether the connection may send another request now.
func (c *connection) allow() bool {
	return c.limiter == nil || c.limiter.Allow()
}

func (c *connection) close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
