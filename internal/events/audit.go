package events

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"farmmarket/internal/logging"
)

// Auditor writes every consumed envelope to the log.
type Auditor struct {
	logger *zap.Logger
}

func NewAuditor(logger *zap.Logger) *Auditor {
	return &Auditor{logger: logging.OrNop(logger).Named("audit")}
}

// Handle decodes one message body. Malformed bodies are reported as errors so the broker
// client can drop them.
func (a *Auditor) Handle(body []byte) error {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("decode event envelope: %w", err)
	}
	if env.Type == "" || env.ID == "" {
		return fmt.Errorf("event envelope without id or type")
	}
	a.logger.Info("event",
		zap.String("event_id", env.ID),
		zap.String("type", env.Type),
		zap.String("aggregate_id", env.AggregateID),
		zap.Time("occurred_at", env.OccurredAt),
		zap.ByteString("data", env.Data))
	return nil
}
