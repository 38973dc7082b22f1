package event

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
)

func sampleTransfer() *domain.Transfer {
	return domain.NewTransfer("A1", "A2", decimal.NewFromInt(40))
}

func TestLogPublisher(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	p := NewLogPublisher(zap.New(core))
	tr := sampleTransfer()

	require.NoError(t, p.Publish(context.Background(), domain.NewTransferEvent(domain.EventTransferCompleted, tr, domain.TransferStateCompleted, "")))
	require.NoError(t, p.Publish(context.Background(), domain.NewTransferEvent(domain.EventTransferInconsistent, tr, domain.TransferStateCrediting, "boom")))

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, "transfer.completed", entries[0].ContextMap()["event"])
	assert.Equal(t, tr.ID.String(), entries[0].ContextMap()["key"])
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, "boom", entries[1].ContextMap()["reason"])
}

type failing struct{ err error }

func (f failing) Publish(context.Context, domain.Event) error { return f.err }

func TestMultiContinuesAfterFailure(t *testing.T) {
	rec := NewRecorder()
	boom := errors.New("boom")
	m := Multi{failing{boom}, rec}

	err := m.Publish(context.Background(), domain.NewAccountEvent(domain.EventAccountCreated, "A1", decimal.NewFromInt(100), ""))
	assert.ErrorIs(t, err, boom)
	require.Len(t, rec.Events(), 1)
	assert.Equal(t, "A1", rec.Events()[0].Key())

	rec.Reset()
	assert.Empty(t, rec.Events())
	assert.NoError(t, Multi{rec}.Publish(context.Background(), domain.NewAccountEvent(domain.EventAccountClosed, "A1", decimal.Zero, "")))
	assert.Len(t, rec.OfType(domain.EventAccountClosed), 1)
	assert.Empty(t, rec.OfType(domain.EventAccountCreated))
}

func TestMetricsPublisher(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewMetricsPublisher(reg)
	tr := sampleTransfer()
	ctx := context.Background()

	require.NoError(t, p.Publish(ctx, domain.NewTransferEvent(domain.EventTransferCompleted, tr, domain.TransferStateCompleted, "")))
	require.NoError(t, p.Publish(ctx, domain.NewTransferEvent(domain.EventTransferReconciled, tr, domain.TransferStateCompleted, "")))
	require.NoError(t, p.Publish(ctx, domain.NewTransferEvent(domain.EventTransferInconsistent, tr, domain.TransferStateCrediting, "x")))

	assert.Equal(t, 1.0, testutil.ToFloat64(p.events.WithLabelValues("transfer.completed")))
	assert.Equal(t, 80.0, testutil.ToFloat64(p.transferred))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.alerts))
}

type fakeRedis struct {
	channel string
	message any
	err     error
}

func (f *fakeRedis) Publish(ctx context.Context, channel string, message any) *redis.IntCmd {
	f.channel = channel
	f.message = message
	cmd := redis.NewIntCmd(ctx)
	if f.err != nil {
		cmd.SetErr(f.err)
	} else {
		cmd.SetVal(1)
	}
	return cmd
}

func TestRedisPublisher(t *testing.T) {
	fake := &fakeRedis{}
	p := newRedisPublisher(fake, "")
	tr := sampleTransfer()

	require.NoError(t, p.Publish(context.Background(), domain.NewTransferEvent(domain.EventTransferCompleted, tr, domain.TransferStateCompleted, "")))
	assert.Equal(t, "ledger.transfer.completed", fake.channel)

	var decoded domain.Event
	require.NoError(t, json.Unmarshal(fake.message.([]byte), &decoded))
	assert.Equal(t, tr.ID.String(), decoded.TransferID)
	assert.True(t, decoded.Amount.Equal(decimal.NewFromInt(40)))

	fake.err = errors.New("connection refused")
	assert.Error(t, p.Publish(context.Background(), domain.NewTransferEvent(domain.EventTransferCompleted, tr, domain.TransferStateCompleted, "")))
}

type fakeWriter struct {
	msgs []kafka.Message
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestKafkaPublisherKeysByTransfer(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaPublisher{writer: w}
	tr := sampleTransfer()

	require.NoError(t, p.Publish(context.Background(), domain.NewTransferEvent(domain.EventTransferInconsistent, tr, domain.TransferStateCrediting, "")))
	require.NoError(t, p.Publish(context.Background(), domain.NewTransferEvent(domain.EventTransferReconciled, tr, domain.TransferStateCompleted, "")))
	require.NoError(t, p.Publish(context.Background(), domain.NewAccountEvent(domain.EventAccountCreated, "A9", decimal.NewFromInt(1), "")))

	require.Len(t, w.msgs, 3)
	assert.Equal(t, tr.ID.String(), string(w.msgs[0].Key))
	assert.Equal(t, w.msgs[0].Key, w.msgs[1].Key)
	assert.Equal(t, "A9", string(w.msgs[2].Key))
	assert.Equal(t, "transfer.inconsistent", string(w.msgs[0].Headers[0].Value))
	require.NoError(t, p.Close())
}

type fakeChannel struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

func (f *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	f.exchange, f.key, f.msg = exchange, key, msg
	return nil
}

func (f *fakeChannel) Close() error { return nil }

func TestAMQPPublisherRoutesByType(t *testing.T) {
	ch := &fakeChannel{}
	p := &AMQPPublisher{channel: ch, exchange: "ledger_events"}
	e := domain.NewAccountEvent(domain.EventAccountCascadePending, "A1", decimal.Zero, "store down")

	require.NoError(t, p.Publish(context.Background(), e))
	assert.Equal(t, "ledger_events", ch.exchange)
	assert.Equal(t, "account.cascade_pending", ch.key)
	assert.Equal(t, "application/json", ch.msg.ContentType)
	assert.Equal(t, amqp.Persistent, ch.msg.DeliveryMode)
	assert.Equal(t, "A1", ch.msg.MessageId)
	require.NoError(t, p.Close())
}

func TestEventJSONShape(t *testing.T) {
	tr := &domain.Transfer{ID: uuid.MustParse("8f14e45f-ceea-467f-a0e6-e5a1b1f1b6c1"), From: "A1", To: "A2", Amount: decimal.RequireFromString("40.00")}
	body, err := encode(domain.NewTransferEvent(domain.EventTransferCompleted, tr, domain.TransferStateCompleted, ""))
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(body, &m))
	assert.Equal(t, "transfer.completed", m["event_type"])
	assert.Equal(t, "8f14e45f-ceea-467f-a0e6-e5a1b1f1b6c1", m["transfer_id"])
	assert.Equal(t, "40", m["amount"])
	assert.Equal(t, "completed", m["state"])
	assert.NotContains(t, m, "account_id")
}
