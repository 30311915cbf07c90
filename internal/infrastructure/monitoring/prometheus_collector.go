package monitoring

import (
	"time"

	"roomcast/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector turns room events and signaling activity into metrics.
// It implements ports.EventSink.
type PrometheusCollector struct {
	// Gauges
	roomsActive       prometheus.Gauge
	peersActive       prometheus.Gauge
	entitiesActive    *prometheus.GaugeVec
	connectionsActive prometheus.Gauge

	// Counters
	roomEventsTotal       *prometheus.CounterVec
	requestsTotal         *prometheus.CounterVec
	notificationsDropped  prometheus.Counter
	eventsPublishFailures prometheus.Counter

	// Histograms
	requestDuration *prometheus.HistogramVec
}

// NewPrometheusCollector registers the collector's metrics with reg. A nil
// reg uses the default registerer.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusCollector{
		roomsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "roomcast_rooms_active",
			Help: "Number of open rooms",
		}),

		peersActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "roomcast_peers_active",
			Help: "Number of peers currently joined to a room",
		}),

		entitiesActive: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "roomcast_media_entities_active",
			Help: "Number of open transports, producers and consumers",
		}, []string{"entity"}),

		connectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "roomcast_signal_connections_active",
			Help: "Number of open signaling connections",
		}),

		roomEventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "roomcast_room_events_total",
			Help: "Room lifecycle events by type",
		}, []string{"type"}),

		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "roomcast_signal_requests_total",
			Help: "Signaling requests by method and result code",
		}, []string{"method", "code"}),

		notificationsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "roomcast_signal_notifications_dropped_total",
			Help: "Notifications dropped because a connection's send queue was full",
		}),

		eventsPublishFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "roomcast_event_publish_failures_total",
			Help: "Room events that could not be published to the event bus",
		}),

		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "roomcast_signal_request_duration_seconds",
			Help:    "Duration of signaling requests",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"method"}),
	}
}

// Emit implements ports.EventSink.
func (p *PrometheusCollector) Emit(event domain.RoomEvent) {
	p.roomEventsTotal.WithLabelValues(string(event.Type)).Inc()

	switch event.Type {
	case domain.EventRoomCreated:
		p.roomsActive.Inc()
	case domain.EventRoomClosed:
		p.roomsActive.Dec()
	case domain.EventPeerJoined:
		p.peersActive.Inc()
	case domain.EventPeerLeft:
		p.peersActive.Dec()
	case domain.EventTransportOpened:
		p.entitiesActive.WithLabelValues("transport").Inc()
	case domain.EventTransportClosed:
		p.entitiesActive.WithLabelValues("transport").Dec()
	case domain.EventProducerOpened:
		p.entitiesActive.WithLabelValues("producer").Inc()
	case domain.EventProducerClosed:
		p.entitiesActive.WithLabelValues("producer").Dec()
	case domain.EventConsumerOpened:
		p.entitiesActive.WithLabelValues("consumer").Inc()
	case domain.EventConsumerClosed:
		p.entitiesActive.WithLabelValues("consumer").Dec()
	}
}

func (p *PrometheusCollector) RecordConnectionOpened() {
	p.connectionsActive.Inc()
}

func (p *PrometheusCollector) RecordConnectionClosed() {
	p.connectionsActive.Dec()
}

// RecordRequest records one signaling request. code is "OK" on success.
func (p *PrometheusCollector) RecordRequest(method, code string, duration time.Duration) {
	p.requestsTotal.WithLabelValues(method, code).Inc()
	p.requestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

func (p *PrometheusCollector) RecordNotificationDropped() {
	p.notificationsDropped.Inc()
}

func (p *PrometheusCollector) RecordPublishFailure() {
	p.eventsPublishFailures.Inc()
}
