// Package events publishes and subscribes to the reservation lifecycle
// events the realtime dashboard and any external consumers care about,
// over NATS. Kept from the teacher nearly verbatim (Publisher/Subscriber/
// NullPublisher over NATS is generic infrastructure); only the subject
// constants below are domain-specific.
package events

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/peluqueria/booking-engine/internal/config"
	"github.com/peluqueria/booking-engine/pkg/logger"
)

// Publisher handles event publishing
type Publisher struct {
	conn   *nats.Conn
	logger logger.Logger
}

// Subscriber handles event subscriptions
type Subscriber struct {
	conn   *nats.Conn
	logger logger.Logger
}

// Connect connects to NATS
func Connect(cfg config.NATS) (*nats.Conn, error) {
	conn, err := nats.Connect(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return conn, nil
}

// NewPublisher creates a new event publisher
func NewPublisher(conn *nats.Conn, log logger.Logger) *Publisher {
	return &Publisher{
		conn:   conn,
		logger: log,
	}
}

// NewNullPublisher creates a new null publisher for development
func NewNullPublisher(log logger.Logger) *Publisher {
	return &Publisher{
		conn:   nil,
		logger: log,
	}
}

// Publish publishes an event
func (p *Publisher) Publish(subject string, data interface{}) error {
	// Handle null publisher (development mode without NATS)
	if p.conn == nil {
		p.logger.Debug("Event publishing skipped (no NATS connection)", "subject", subject)
		return nil
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	if err := p.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Debug("Published event", "subject", subject)
	return nil
}

// NewSubscriber creates a new event subscriber
func NewSubscriber(conn *nats.Conn, log logger.Logger) *Subscriber {
	return &Subscriber{
		conn:   conn,
		logger: log,
	}
}

// Subscribe subscribes to events on a subject
func (s *Subscriber) Subscribe(subject string, handler func([]byte) error) error {
	_, err := s.conn.Subscribe(subject, func(msg *nats.Msg) {
		if err := handler(msg.Data); err != nil {
			s.logger.Error("Failed to handle event", "subject", subject, "error", err)
		}
	})

	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", subject, err)
	}

	s.logger.Debug("Subscribed to subject", "subject", subject)
	return nil
}

// Event subjects published by the reservation committer (internal/
// reservation), including AvailabilityPurgedEvent after each cache purge.
const (
	ReservationConfirmedEvent = "reservation.confirmed"
	ReservationCancelledEvent = "reservation.cancelled"
	AvailabilityPurgedEvent   = "availability.purged"
)

// ReservationEvent is the payload shape for both reservation subjects.
type ReservationEvent struct {
	ShopID          string `json:"shopId"`
	ReservationID   string `json:"reservationId"`
	ServiceID       string `json:"serviceId"`
	ProfessionalID  string `json:"professionalId,omitempty"`
	Date            string `json:"date"`
	StartTime       string `json:"startTime"`
}

// AvailabilityPurgedEventData is the payload for AvailabilityPurgedEvent.
type AvailabilityPurgedEventData struct {
	ShopID string `json:"shopId"`
	Date   string `json:"date"`
}
