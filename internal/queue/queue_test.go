package queue

import (
	"context"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/trickplay/pkg/models"
)

type fakeAck struct {
	acked   int
	nacked  int
	requeue bool
}

func (f *fakeAck) Ack(tag uint64, multiple bool) error {
	f.acked++
	return nil
}

func (f *fakeAck) Nack(tag uint64, multiple, requeue bool) error {
	f.nacked++
	f.requeue = requeue
	return nil
}

func (f *fakeAck) Reject(tag uint64, requeue bool) error {
	return f.Nack(tag, false, requeue)
}

func delivery(ack *fakeAck, body string) amqp.Delivery {
	return amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, Body: []byte(body)}
}

func TestDecodeRequest(t *testing.T) {
	req, err := decodeRequest([]byte(`{"id":"r1","kind":"item","item_id":"abc","replace":true}`))
	require.NoError(t, err)
	assert.Equal(t, "abc", req.ItemID)
	assert.True(t, req.Replace)
	assert.Equal(t, models.RequestSourceQueue, req.Source)

	_, err = decodeRequest([]byte(`{"kind":"item"}`))
	assert.Error(t, err)

	_, err = decodeRequest([]byte(`not json`))
	assert.Error(t, err)
}

func TestHandleDeliveryAcksSuccess(t *testing.T) {
	ack := &fakeAck{}
	var got *models.GenerationRequest

	handleDelivery(context.Background(), delivery(ack, `{"kind":"batch"}`), func(ctx context.Context, req *models.GenerationRequest) error {
		got = req
		return nil
	})

	require.NotNil(t, got)
	assert.Equal(t, models.RequestKindBatch, got.Kind)
	assert.Equal(t, 1, ack.acked)
	assert.Equal(t, 0, ack.nacked)
}

func TestHandleDeliveryDeadLettersFailures(t *testing.T) {
	ack := &fakeAck{}
	handleDelivery(context.Background(), delivery(ack, `{"kind":"item","item_id":"x"}`), func(context.Context, *models.GenerationRequest) error {
		return errors.New("extraction failed")
	})
	assert.Equal(t, 1, ack.nacked)
	assert.False(t, ack.requeue)

	ack = &fakeAck{}
	handleDelivery(context.Background(), delivery(ack, `garbage`), func(context.Context, *models.GenerationRequest) error {
		t.Fatal("handler must not run for malformed messages")
		return nil
	})
	assert.Equal(t, 1, ack.nacked)
	assert.False(t, ack.requeue)
}

func TestHandleDeliveryRequeuesOnShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ack := &fakeAck{}

	handleDelivery(ctx, delivery(ack, `{"kind":"item","item_id":"x"}`), func(context.Context, *models.GenerationRequest) error {
		cancel()
		return context.Canceled
	})
	assert.Equal(t, 1, ack.nacked)
	assert.True(t, ack.requeue)
}

func TestClampPriority(t *testing.T) {
	assert.Equal(t, uint8(0), clampPriority(-3))
	assert.Equal(t, uint8(5), clampPriority(5))
	assert.Equal(t, uint8(10), clampPriority(42))
}

func TestDeadLetterNames(t *testing.T) {
	dlx, dlq := deadLetterNames("trickplay", "trickplay.generate")
	assert.Equal(t, "trickplay.dlx", dlx)
	assert.Equal(t, "trickplay.generate.dlq", dlq)
}
