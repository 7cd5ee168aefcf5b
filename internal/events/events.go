package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"farmmarket/internal/logging"
)

// Event types published after a transaction commits.
const (
	OrderCreated               = "order.created"
	OrderStatusChanged         = "order.status_changed"
	OrderCancellationRequested = "order.cancellation_requested"
	OrderCancellationResolved  = "order.cancellation_resolved"
	StockLow                   = "stock.low"
)

// Envelope is the JSON document written to the broker.
type Envelope struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	AggregateID string          `json:"aggregate_id"`
	OccurredAt  time.Time       `json:"occurred_at"`
	Data        json.RawMessage `json:"data"`
}

// Sink delivers an encoded envelope. key groups related messages (the aggregate id).
type Sink interface {
	PublishMessage(ctx context.Context, key, routingKey string, body []byte) error
}

// Publisher announces domain events. Delivery is best effort: a failure is logged and never
// reported to the caller, whose transaction has already committed.
type Publisher interface {
	Publish(ctx context.Context, eventType, aggregateID string, data any)
}

// Bus encodes events into envelopes and hands them to a Sink.
type Bus struct {
	sink   Sink
	logger *zap.Logger
	now    func() time.Time
}

// NewBus creates a Bus. A nil sink drops every event.
func NewBus(sink Sink, logger *zap.Logger) *Bus {
	return &Bus{
		sink:   sink,
		logger: logging.OrNop(logger).Named("events"),
		now:    time.Now,
	}
}

// Publish implements Publisher.
func (b *Bus) Publish(ctx context.Context, eventType, aggregateID string, data any) {
	if b == nil || b.sink == nil {
		return
	}
	payload, err := json.Marshal(data)
	if err != nil {
		b.logger.Error("encode event payload", zap.String("type", eventType), zap.Error(err))
		return
	}
	env := Envelope{
		ID:          ulid.Make().String(),
		Type:        eventType,
		AggregateID: aggregateID,
		OccurredAt:  b.now().UTC(),
		Data:        payload,
	}
	body, err := json.Marshal(env)
	if err != nil {
		b.logger.Error("encode event envelope", zap.String("type", eventType), zap.Error(err))
		return
	}
	if err := b.sink.PublishMessage(ctx, aggregateID, eventType, body); err != nil {
		b.logger.Warn("publish event failed",
			zap.String("type", eventType),
			zap.String("aggregate_id", aggregateID),
			zap.Error(err))
		return
	}
	b.logger.Debug("event published", zap.String("type", eventType), zap.String("aggregate_id", aggregateID))
}

// MemorySink keeps published envelopes in memory.
type MemorySink struct {
	mu        sync.Mutex
	envelopes []Envelope
}

// NewMemorySink creates an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// PublishMessage implements Sink.
func (s *MemorySink) PublishMessage(_ context.Context, _, _ string, body []byte) error {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.envelopes = append(s.envelopes, env)
	return nil
}

// Envelopes returns a copy of everything published so far.
func (s *MemorySink) Envelopes() []Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Envelope(nil), s.envelopes...)
}

// Types returns the event types published so far, in order.
func (s *MemorySink) Types() []string {
	envs := s.Envelopes()
	types := make([]string, 0, len(envs))
	for _, env := range envs {
		types = append(types, env.Type)
	}
	return types
}

// OrNop returns p, or a Publisher that drops everything when p is nil.
func OrNop(p Publisher) Publisher {
	if p == nil {
		return NewBus(nil, nil)
	}
	return p
}
