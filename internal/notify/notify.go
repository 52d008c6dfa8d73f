// Package notify publishes one alert per flagged employee after a run.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/vibewatch/vibewatch/internal/config"
	"github.com/vibewatch/vibewatch/internal/logging"
	"github.com/vibewatch/vibewatch/pkg/types"
)

// Alert announces a flagged employee.
type Alert struct {
	RunID       string               `json:"run_id"`
	EmployeeID  string               `json:"employee_id"`
	Rank        int                  `json:"rank"`
	Score       float64              `json:"anomaly_score"`
	Problems    []types.Contribution `json:"problems"`
	GeneratedAt time.Time            `json:"generated_at"`
}

// NewAlerts builds alerts for the flagged records of a run, in rank order.
func NewAlerts(runID string, flagged []types.AnomalyRecord, at time.Time) []Alert {
	alerts := make([]Alert, len(flagged))
	for i, r := range flagged {
		problems := r.Problems
		if problems == nil {
			problems = []types.Contribution{}
		}
		alerts[i] = Alert{
			RunID:       runID,
			EmployeeID:  r.EmployeeID,
			Rank:        i + 1,
			Score:       r.Score,
			Problems:    problems,
			GeneratedAt: at.UTC(),
		}
	}
	return alerts
}

// Publisher delivers alerts.
type Publisher interface {
	Publish(ctx context.Context, alerts []Alert) error
	Close() error
}

// New returns a Kafka publisher when brokers are configured and a log
// publisher otherwise.
func New(cfg config.NotifyConfig, logger *zap.Logger) Publisher {
	if len(cfg.Brokers) == 0 {
		return NewLogPublisher(logger)
	}
	return NewKafkaPublisher(cfg, logger)
}

// messageWriter is the subset of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes alerts to a Kafka topic keyed by employee id, so all
// alerts for one employee land on the same partition.
type KafkaPublisher struct {
	writer  messageWriter
	timeout time.Duration
	logger  *zap.Logger
}

// NewKafkaPublisher creates a synchronous writer on cfg.Topic.
func NewKafkaPublisher(cfg config.NotifyConfig, logger *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        false,
		},
		timeout: cfg.WriteTimeout,
		logger:  logging.OrNop(logger).With(zap.String("component", "kafka-publisher")),
	}
}

// Publish writes every alert in one batch.
func (p *KafkaPublisher) Publish(ctx context.Context, alerts []Alert) error {
	if len(alerts) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, len(alerts))
	for i, a := range alerts {
		value, err := json.Marshal(a)
		if err != nil {
			return err
		}
		msgs[i] = kafka.Message{
			Key:   []byte(a.EmployeeID),
			Value: value,
			Headers: []kafka.Header{
				{Key: "run_id", Value: []byte(a.RunID)},
			},
			Time: a.GeneratedAt,
		}
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		p.logger.Error("failed to publish alerts", zap.Int("alerts", len(alerts)), zap.Error(err))
		return err
	}
	p.logger.Debug("alerts published", zap.Int("alerts", len(alerts)))
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// LogPublisher writes alerts to the structured log.
type LogPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher creates a publisher that logs at warn level.
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logging.OrNop(logger).With(zap.String("component", "alerts"))}
}

// Publish logs one line per alert.
func (p *LogPublisher) Publish(ctx context.Context, alerts []Alert) error {
	for _, a := range alerts {
		if err := ctx.Err(); err != nil {
			return err
		}
		fields := []zap.Field{
			zap.String("run_id", a.RunID),
			zap.String("employee_id", a.EmployeeID),
			zap.Int("rank", a.Rank),
			zap.Float64("anomaly_score", a.Score),
		}
		if len(a.Problems) > 0 {
			fields = append(fields, zap.String("top_problem", a.Problems[0].Feature))
		}
		p.logger.Warn("employee flagged", fields...)
	}
	return nil
}

// Close is a no-op.
func (p *LogPublisher) Close() error { return nil }
