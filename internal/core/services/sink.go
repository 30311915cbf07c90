package services

import (
	"roomcast/internal/core/domain"
	"roomcast/internal/core/ports"
)

// NopSink discards room events.
type NopSink struct{}

func (NopSink) Emit(domain.RoomEvent) {}

// MultiSink fans an event out to several sinks in order.
type MultiSink []ports.EventSink

func (m MultiSink) Emit(event domain.RoomEvent) {
	for _, s := range m {
		if s != nil {
			s.Emit(event)
		}
	}
}
