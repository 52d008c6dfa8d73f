package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/vibewatch/vibewatch/internal/config"
	"github.com/vibewatch/vibewatch/pkg/types"
)

type fakeWriter struct {
	msgs     []kafka.Message
	err      error
	deadline bool
	closed   bool
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	_, f.deadline = ctx.Deadline()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func sampleAlerts() []Alert {
	at := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	return NewAlerts("run-1", []types.AnomalyRecord{
		{EmployeeID: "EMP0042", Score: -0.03, Problems: []types.Contribution{{Feature: "Decayed Vibe Score", Magnitude: 0.4}}},
		{EmployeeID: "EMP0007", Score: -0.01},
	}, at)
}

func TestNewAlerts(t *testing.T) {
	alerts := sampleAlerts()
	require.Len(t, alerts, 2)
	assert.Equal(t, 1, alerts[0].Rank)
	assert.Equal(t, 2, alerts[1].Rank)
	assert.Equal(t, []types.Contribution{}, alerts[1].Problems)

	b, err := json.Marshal(alerts[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"run_id": "run-1",
		"employee_id": "EMP0042",
		"rank": 1,
		"anomaly_score": -0.03,
		"problems": [["Decayed Vibe Score", 0.4]],
		"generated_at": "2024-06-01T09:00:00Z"
	}`, string(b))
}

func TestKafkaPublisher_KeysByEmployee(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaPublisher{writer: w, timeout: time.Second, logger: zap.NewNop()}

	require.NoError(t, p.Publish(context.Background(), sampleAlerts()))
	require.Len(t, w.msgs, 2)
	assert.Equal(t, "EMP0042", string(w.msgs[0].Key))
	assert.Equal(t, "run_id", w.msgs[0].Headers[0].Key)
	assert.Equal(t, "run-1", string(w.msgs[0].Headers[0].Value))
	assert.True(t, w.deadline, "write timeout should bound the publish")

	var decoded Alert
	require.NoError(t, json.Unmarshal(w.msgs[1].Value, &decoded))
	assert.Equal(t, "EMP0007", decoded.EmployeeID)

	require.NoError(t, p.Publish(context.Background(), nil))
	assert.Len(t, w.msgs, 2)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestKafkaPublisher_Error(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	p := &KafkaPublisher{writer: w, logger: zap.NewNop()}
	assert.EqualError(t, p.Publish(context.Background(), sampleAlerts()), "broker down")
	assert.False(t, w.deadline)
}

func TestLogPublisher(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	p := NewLogPublisher(zap.New(core))

	require.NoError(t, p.Publish(context.Background(), sampleAlerts()))
	entries := logs.FilterMessage("employee flagged").All()
	require.Len(t, entries, 2)
	assert.Equal(t, "EMP0042", entries[0].ContextMap()["employee_id"])
	assert.Equal(t, "Decayed Vibe Score", entries[0].ContextMap()["top_problem"])
	_, has := entries[1].ContextMap()["top_problem"]
	assert.False(t, has)
}

func TestNew_SelectsPublisher(t *testing.T) {
	_, ok := New(config.NotifyConfig{}, nil).(*LogPublisher)
	assert.True(t, ok)

	kp, ok := New(config.NotifyConfig{Brokers: []string{"localhost:9092"}, Topic: "t"}, nil).(*KafkaPublisher)
	require.True(t, ok)
	assert.NoError(t, kp.Close())
}
