package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	cmap "github.com/orcaman/concurrent-map"
	"github.com/sasha-s/go-deadlock"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"roomcast/internal/core/domain"
	"roomcast/internal/core/services"
	apperrors "roomcast/pkg/errors"
	rlog "roomcast/pkg/logger"
	"roomcast/pkg/tracing"
	"roomcast/pkg/utils"
)

// Metrics is what the server reports about connections and requests.
type Metrics interface {
	RecordConnectionOpened()
	RecordConnectionClosed()
	RecordRequest(method, code string, duration time.Duration)
	RecordNotificationDropped()
}

type nopMetrics struct{}

func (nopMetrics) RecordConnectionOpened()                     {}
func (nopMetrics) RecordConnectionClosed()                     {}
func (nopMetrics) RecordRequest(string, string, time.Duration) {}
func (nopMetrics) RecordNotificationDropped()                  {}

type Config struct {
	PingInterval   time.Duration
	PongTimeout    time.Duration
	WriteTimeout   time.Duration
	RequestTimeout time.Duration
	SendQueueSize  int
	AllowedOrigins []string

	// Zero disables the corresponding limit.
	MaxMessageSize    int64
	MaxConnections    int
	MessagesPerSecond float64
	MessageBurst      int
}

func DefaultConfig() Config {
	return Config{
		PingInterval:   25 * time.Second,
		PongTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
		RequestTimeout: 10 * time.Second,
		SendQueueSize:  64,
		AllowedOrigins: []string{"*"},
		MaxMessageSize: 256 * 1024,
	}
}

type WebSocketServer struct {
	directory *services.RoomDirectory
	config    Config
	metrics   Metrics
	upgrader  websocket.Upgrader

	// peer id -> *connection
	connections cmap.ConcurrentMap

	mu       deadlock.Mutex
	closing  bool
	handlers sync.WaitGroup

	logger    *zap.SugaredLogger
	ctxLogger *rlog.ContextLogger
}

func NewWebSocketServer(directory *services.RoomDirectory, config Config, metrics Metrics, logger *zap.Logger) *WebSocketServer {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.SendQueueSize <= 0 {
		config.SendQueueSize = 1
	}

	s := &WebSocketServer{
		directory:   directory,
		config:      config,
		metrics:     metrics,
		connections: cmap.New(),
		logger:      logger.Sugar(),
		ctxLogger:   rlog.NewContextLogger(logger),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		Subprotocols:    []string{SubprotocolJSON, SubprotocolMsgpack},
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *WebSocketServer) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.config.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (s *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.config.MaxConnections > 0 && s.connections.Count() >= s.config.MaxConnections {
		s.logger.Warnw("Rejecting websocket connection, limit reached", "max_connections", s.config.MaxConnections)
		appErr := apperrors.NewServiceUnavailableError("too many connections")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(appErr.HTTPStatus)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"error": appErr.Detail()})
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnw("websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	peerID := domain.PeerID(utils.NewPeerID())
	codec := CodecFor(ws.Subprotocol())

	var limiter *rate.Limiter
	if s.config.MessagesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.config.MessagesPerSecond), s.config.MessageBurst)
	}

	connID := utils.NewConnectionID()
	baseCtx := rlog.WithConnectionID(rlog.WithPeerID(r.Context(), string(peerID)), connID)
	logger := s.ctxLogger.Sugar(baseCtx)
	c := newConnection(peerID, connID, ws, codec, s.config.SendQueueSize, limiter, s.metrics, logger)
	c.session = services.NewSession(peerID, s.directory, c, s.logger)

	if !s.register(c) {
		s.writeClose(ws, websocket.CloseGoingAway, "server shutting down")
		return
	}
	defer s.handlers.Done()

	s.metrics.RecordConnectionOpened()
	logger.Infow("Peer connected via WebSocket", "codec", codec.Name(), "remote_addr", r.RemoteAddr)

	if s.config.MaxMessageSize > 0 {
		ws.SetReadLimit(s.config.MaxMessageSize)
	}
	ws.SetReadDeadline(time.Now().Add(s.config.PongTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(s.config.PongTimeout))
	})

	pingTicker := time.NewTicker(s.config.PingInterval)
	defer pingTicker.Stop()

	messageChan := make(chan []byte, 10)
	errorChan := make(chan error, 1)

	go func() {
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				errorChan <- err
				return
			}
			ws.SetReadDeadline(time.Now().Add(s.config.PongTimeout))
			select {
			case messageChan <- data:
			case <-c.done:
				return
			}
		}
	}()

	for {
		select {
		case data := <-messageChan:
			if err := s.handleFrame(baseCtx, c, data); err != nil {
				logger.Infow("error writing response", "error", err)
				goto cleanup
			}

		case frame := <-c.queue:
			if err := s.write(ws, frame.messageType, frame.data); err != nil {
				logger.Infow("error writing notification", "error", err)
				goto cleanup
			}

		case <-pingTicker.C:
			if err := s.write(ws, websocket.PingMessage, nil); err != nil {
				logger.Infow("error sending ping", "error", err)
				goto cleanup
			}

		case err := <-errorChan:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Infow("error reading message from peer", "error", err)
			}
			goto cleanup

		case <-c.done:
			if s.shuttingDown() {
				s.writeClose(ws, websocket.CloseGoingAway, "server shutting down")
			} else {
				s.writeClose(ws, websocket.CloseTryAgainLater, "send queue overflow")
			}
			goto cleanup
		}
	}

cleanup:
	c.close()
	s.connections.Remove(string(peerID))
	c.session.Disconnect()
	s.metrics.RecordConnectionClosed()
	logger.Infow("Peer disconnected")
}

func (s *WebSocketServer) register(c *connection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.handlers.Add(1)
	s.connections.Set(string(c.peerID), c)
	return true
}

func (s *WebSocketServer) shuttingDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

func (s *WebSocketServer) write(ws *websocket.Conn, messageType int, data []byte) error {
	ws.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	return ws.WriteMessage(messageType, data)
}

func (s *WebSocketServer) writeClose(ws *websocket.Conn, code int, text string) {
	_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(s.config.WriteTimeout))
}

// handleFrame decodes and answers one request. The returned error is a
// write failure; request failures are reported to the client.
func (s *WebSocketServer) handleFrame(baseCtx context.Context, c *connection, data []byte) error {
	start := time.Now()

	req, err := c.codec.DecodeRequest(data)
	if err != nil {
		c.logger.Debugw("Rejecting malformed frame", "payload", utils.TruncateString(utils.SanitizeString(string(data)), 128))
		return s.respond(c, 0, nil, apperrors.NewInvalidInputError(err.Error()))
	}
	if req.Method == "" {
		return s.respond(c, req.ID, nil, apperrors.NewInvalidInputError("method is required"))
	}

	ctx, cancel := context.WithTimeout(rlog.WithRequestID(baseCtx, fmt.Sprint(req.ID)), s.config.RequestTimeout)
	defer cancel()
	ctx, span := tracing.TraceSignalRequest(ctx, req.Method, c.connID)
	tracing.AddSpanAttributes(ctx, tracing.PeerIDKey.String(string(c.peerID)))
	defer span.End()

	var result interface{}
	if !c.allow() {
		err = apperrors.NewRateLimitError()
	} else {
		result, err = s.dispatch(ctx, c, req)
	}

	if roomID := c.session.RoomID(); roomID != "" {
		ctx = rlog.WithRoomID(ctx, string(roomID))
		tracing.AddSpanAttributes(ctx, tracing.RoomIDKey.String(string(roomID)))
	}

	code := "OK"
	var appErr *apperrors.AppError
	if err != nil {
		logger := s.ctxLogger.Sugar(ctx)
		appErr = apperrors.FromDomain(err)
		code = string(appErr.Code)
		tracing.RecordError(ctx, err)
		tracing.AddSpanAttributes(ctx, tracing.ErrorCodeKey.String(code))
		if appErr.HTTPStatus >= http.StatusInternalServerError {
			logger.Errorw("Request failed", "method", req.Method, "error", err)
		} else {
			logger.Debugw("Request rejected", "method", req.Method, "code", code, "error", err)
		}
	}
	tracing.MeasureDuration(ctx, start)
	s.metrics.RecordRequest(req.Method, code, time.Since(start))

	return s.respond(c, req.ID, result, appErr)
}

func (s *WebSocketServer) respond(c *connection, id uint64, result interface{}, appErr *apperrors.AppError) error {
	resp := Response{ID: id, OK: appErr == nil, Data: result}
	if appErr != nil {
		detail := appErr.Detail()
		resp.Error = &detail
	}
	payload, err := c.codec.Encode(resp)
	if err != nil {
		c.logger.Errorw("Failed to encode response", "request_id", id, "error", err)
		detail := apperrors.NewInternalError("failed to encode response").Detail()
		payload, err = c.codec.Encode(Response{ID: id, Error: &detail})
		if err != nil {
			return err
		}
	}
	return s.write(c.ws, c.codec.MessageType(), payload)
}

func invalidPayload(err error) error {
	return fmt.Errorf("%w: invalid payload: %v", domain.ErrInvalidRequest, err)
}

func (s *WebSocketServer) dispatch(ctx context.Context, c *connection, req *Request) (interface{}, error) {
	session := c.session

	switch req.Method {
	case MethodJoinRoom:
		var p roomRequest
		if err := req.Decode(&p); err != nil {
			return nil, invalidPayload(err)
		}
		res, err := session.Join(ctx, p.RoomID)
		if err != nil {
			return nil, err
		}
		existing := res.ExistingProducers
		if existing == nil {
			existing = []domain.ProducerInfo{}
		}
		return joinRoomResponse{
			Joined:                true,
			PeerID:                res.PeerID,
			RouterRtpCapabilities: res.RtpCapabilities,
			ExistingProducers:     existing,
		}, nil

	case MethodGetRouterRtpCapabilities:
		var p roomRequest
		if err := req.Decode(&p); err != nil {
			return nil, invalidPayload(err)
		}
		return session.RouterRtpCapabilities(p.RoomID)

	case MethodCreateTransport:
		var p createTransportRequest
		if err := req.Decode(&p); err != nil {
			return nil, invalidPayload(err)
		}
		return session.CreateTransport(ctx, p.RoomID, p.Direction)

	case MethodConnectTransport:
		var p connectTransportRequest
		if err := req.Decode(&p); err != nil {
			return nil, invalidPayload(err)
		}
		if err := session.ConnectTransport(ctx, p.RoomID, p.TransportID, p.DtlsParameters); err != nil {
			return nil, err
		}
		return connectedResponse{Connected: true}, nil

	case MethodProduce:
		var p produceRequest
		if err := req.Decode(&p); err != nil {
			return nil, invalidPayload(err)
		}
		id, err := session.Produce(ctx, p.RoomID, p.TransportID, p.Kind, p.RtpParameters)
		if err != nil {
			return nil, err
		}
		return produceResponse{ID: id}, nil

	case MethodConsume:
		var p consumeRequest
		if err := req.Decode(&p); err != nil {
			return nil, invalidPayload(err)
		}
		return session.Consume(ctx, p.RoomID, p.TransportID, p.ProducerID, p.RtpCapabilities)

	case MethodResumeConsumer:
		var p resumeConsumerRequest
		if err := req.Decode(&p); err != nil {
			return nil, invalidPayload(err)
		}
		if err := session.ResumeConsumer(ctx, p.RoomID, p.ConsumerID); err != nil {
			return nil, err
		}
		return resumedResponse{Resumed: true}, nil

	case MethodCloseProducer:
		var p closeProducerRequest
		if err := req.Decode(&p); err != nil {
			return nil, invalidPayload(err)
		}
		if err := session.CloseProducer(ctx, p.RoomID, p.ProducerID); err != nil {
			return nil, err
		}
		return closedResponse{Closed: true}, nil

	case MethodLeave:
		if err := session.Leave(); err != nil {
			return nil, err
		}
		return leftResponse{Left: true}, nil

	default:
		return nil, fmt.Errorf("%w: unknown method %q", domain.ErrInvalidRequest, req.Method)
	}
}

// HealthCheck writes the server's connection count as JSON.
func (s *WebSocketServer) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":      "healthy",
		"timestamp":   time.Now().Unix(),
		"connections": s.connections.Count(),
		"rooms":       s.directory.Count(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func (s *WebSocketServer) ConnectionCount() int {
	return s.connections.Count()
}

func (s *WebSocketServer) GetConnectedPeers() []domain.PeerID {
	peers := make([]domain.PeerID, 0, s.connections.Count())
	for _, key := range s.connections.Keys() {
		peers = append(peers, domain.PeerID(key))
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i] < peers[j] })
	return peers
}

// Shutdown stops accepting connections, closes the open ones and waits until
// every session has been torn down or ctx is done.
func (s *WebSocketServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	s.connections.IterCb(func(_ string, v interface{}) {
		v.(*connection).close()
	})

	done := make(chan struct{})
	go func() {
		s.handlers.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Infow("Signaling server stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("signaling shutdown: %w", ctx.Err())
	}
}
