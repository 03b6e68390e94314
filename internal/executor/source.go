package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// DecisionStream is the stream the decision producer appends to.
const DecisionStream = "decisions"

// DecisionSource yields the decisions produced since the previous call.
type DecisionSource interface {
	Next(ctx context.Context) ([]domain.Decision, error)
}

// StreamSource reads JSON decisions from a durable stream on the signal bus.
// It starts at the moment it was created so decisions left over from an
// earlier run are never replayed.
type StreamSource struct {
	bus    domain.SignalBus
	stream string
	lastID string
	batch  int
	logger *slog.Logger
}

// NewStreamSource creates a StreamSource for stream, reading at most batch
// messages per call.
func NewStreamSource(bus domain.SignalBus, stream string, batch int, logger *slog.Logger) *StreamSource {
	if stream == "" {
		stream = DecisionStream
	}
	if batch <= 0 {
		batch = 100
	}
	return &StreamSource{
		bus:    bus,
		stream: stream,
		lastID: fmt.Sprintf("%d-0", time.Now().UnixMilli()),
		batch:  batch,
		logger: logger.With(slog.String("component", "decision_source")),
	}
}

// Next implements DecisionSource. Malformed payloads are logged and skipped.
func (s *StreamSource) Next(ctx context.Context) ([]domain.Decision, error) {
	msgs, err := s.bus.StreamRead(ctx, s.stream, s.lastID, s.batch)
	if err != nil {
		return nil, fmt.Errorf("executor: read decisions: %w", err)
	}
	out := make([]domain.Decision, 0, len(msgs))
	for _, m := range msgs {
		s.lastID = m.ID
		payload, err := decodePayload(m.Payload)
		if err != nil {
			s.logger.WarnContext(ctx, "malformed decision payload",
				slog.String("id", m.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		for i, d := range payload {
			if d.ID == "" {
				d.ID = m.ID
				if len(payload) > 1 {
					d.ID = fmt.Sprintf("%s/%d", m.ID, i)
				}
			}
			out = append(out, d)
		}
	}
	return out, nil
}

// decodePayload accepts one decision object or an array of them.
func decodePayload(raw []byte) ([]domain.Decision, error) {
	for _, c := range raw {
		switch c {
		case ' ', '\t', '\r', '\n':
			continue
		case '[':
			var many []domain.Decision
			if err := json.Unmarshal(raw, &many); err != nil {
				return nil, err
			}
			return many, nil
		}
		break
	}
	var one domain.Decision
	if err := json.Unmarshal(raw, &one); err != nil {
		return nil, err
	}
	return []domain.Decision{one}, nil
}
