package feed

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saaga0h/parkwatch/internal/alerting"
	"github.com/saaga0h/parkwatch/internal/types"
	"github.com/saaga0h/parkwatch/pkg/mqtt"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type published struct {
	topic   string
	qos     byte
	payload []byte
}

type fakeMQTT struct {
	mqtt.Client
	mu   sync.Mutex
	msgs []published
	err  error
}

func (f *fakeMQTT) Publish(topic string, qos byte, retained bool, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, published{topic: topic, qos: qos, payload: payload})
	return nil
}

type fakeWriter struct {
	mu     sync.Mutex
	keys   []string
	values [][]byte
	closed bool
}

func (f *fakeWriter) Write(ctx context.Context, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, key)
	f.values = append(f.values, value)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestOccupancyChanged(t *testing.T) {
	client := &fakeMQTT{}
	writer := &fakeWriter{}
	p := NewPublisher(client, writer, nil, testLogger())
	p.now = func() time.Time { return time.Date(2026, 3, 1, 10, 30, 1, 0, time.UTC) }

	minutes, revenue := 30, 5.0
	record := &types.OccupancyRecord{
		ID:              uuid.New(),
		TenantID:        "acme",
		Kind:            types.OccupancyLeave,
		BayID:           "b1",
		ZoneID:          "z1",
		At:              time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC),
		DurationMinutes: &minutes,
		Revenue:         &revenue,
	}
	require.NoError(t, p.OccupancyChanged(context.Background(), record))

	require.Len(t, client.msgs, 1)
	assert.Equal(t, "parkwatch/occupancy/acme/z1", client.msgs[0].topic)
	assert.Equal(t, mqtt.QoSAtLeastOnce, client.msgs[0].qos)

	var msg OccupancyMessage
	require.NoError(t, json.Unmarshal(client.msgs[0].payload, &msg))
	assert.Equal(t, "occupancy", msg.Type)
	assert.Equal(t, types.OccupancyLeave, msg.Record.Kind)
	assert.Equal(t, 30, *msg.Record.DurationMinutes)

	assert.Equal(t, []string{"acme"}, writer.keys, "kafka records are keyed by tenant")
}

func TestAlertChanged(t *testing.T) {
	client := &fakeMQTT{}
	alerts := &fakeWriter{}
	p := NewPublisher(client, nil, alerts, testLogger())

	alert := &types.Alert{ID: uuid.New(), TenantID: "acme", Type: types.AlertSensorOffline, Severity: types.SeverityCritical}
	require.NoError(t, p.AlertChanged(context.Background(), alert, alerting.ChangeEscalated))

	require.Len(t, client.msgs, 1)
	assert.Equal(t, "parkwatch/alerts/acme", client.msgs[0].topic)

	var msg AlertMessage
	require.NoError(t, json.Unmarshal(alerts.values[0], &msg))
	assert.Equal(t, alerting.ChangeEscalated, msg.Change)
	assert.Equal(t, alert.ID, msg.Alert.ID)
}

func TestPublishErrorsAreJoined(t *testing.T) {
	client := &fakeMQTT{err: errors.New("not connected")}
	writer := &fakeWriter{}
	p := NewPublisher(client, writer, nil, testLogger())

	err := p.OccupancyChanged(context.Background(), &types.OccupancyRecord{TenantID: "acme", ZoneID: "z1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not connected")
	assert.Len(t, writer.keys, 1, "kafka is still attempted when mqtt fails")
}

func TestNilTransportsAndClose(t *testing.T) {
	p := NewPublisher(nil, nil, nil, testLogger())
	assert.NoError(t, p.OccupancyChanged(context.Background(), &types.OccupancyRecord{TenantID: "acme", ZoneID: "z1"}))
	assert.NoError(t, p.Close())

	occ, al := &fakeWriter{}, &fakeWriter{}
	require.NoError(t, NewPublisher(nil, occ, al, testLogger()).Close())
	assert.True(t, occ.closed)
	assert.True(t, al.closed)
}
