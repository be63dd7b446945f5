package worker_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/streadway/amqp"
	"github.com/tywin1104/crew-gatekeeper/broker"
	"github.com/tywin1104/crew-gatekeeper/types"
	"github.com/tywin1104/crew-gatekeeper/worker"
)

type fakeDispatcher struct {
	dispatched chan types.Submission
	err        error
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, sub types.Submission) (types.Submission, error) {
	if d.err != nil {
		return types.Submission{}, d.err
	}
	d.dispatched <- sub
	return sub, nil
}

type fakeAck struct {
	acked, nacked bool
}

func (a *fakeAck) Ack(multiple bool) error {
	a.acked = true
	return nil
}

func (a *fakeAck) Nack(multiple, requeue bool) error {
	a.nacked = true
	return nil
}

type fakeSource struct {
	deliveries chan amqp.Delivery
	consumed   int
}

func (s *fakeSource) Consume() (<-chan amqp.Delivery, error) {
	s.consumed++
	if s.consumed > 1 {
		return nil, errors.New("connection closed")
	}
	return s.deliveries, nil
}

func quietLogger() *logrus.Entry {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(log)
}

func TestHandleDispatchesAndAcks(t *testing.T) {
	dispatcher := &fakeDispatcher{dispatched: make(chan types.Submission, 1)}
	w := worker.NewWorker(&fakeSource{}, dispatcher, quietLogger())
	body, err := broker.Serialize(types.Submission{ID: "s1", Status: types.StatusPending})
	require.NoError(t, err)

	ack := &fakeAck{}
	w.Handle(context.Background(), body, ack)
	assert.True(t, ack.acked)
	assert.False(t, ack.nacked)
	assert.Equal(t, "s1", (<-dispatcher.dispatched).ID)
}

func TestHandleDeadLettersUndecodable(t *testing.T) {
	w := worker.NewWorker(&fakeSource{}, &fakeDispatcher{}, quietLogger())
	ack := &fakeAck{}
	w.Handle(context.Background(), []byte("garbage"), ack)
	assert.True(t, ack.nacked)
	assert.False(t, ack.acked)
}

func TestHandleDeadLettersFailedDispatch(t *testing.T) {
	w := worker.NewWorker(&fakeSource{}, &fakeDispatcher{err: errors.New("discord is down")}, quietLogger())
	body, err := broker.Serialize(types.Submission{ID: "s1"})
	require.NoError(t, err)
	ack := &fakeAck{}
	w.Handle(context.Background(), body, ack)
	assert.True(t, ack.nacked)
	assert.False(t, ack.acked)
}

func TestStartStopsWithContext(t *testing.T) {
	source := &fakeSource{deliveries: make(chan amqp.Delivery)}
	w := worker.NewWorker(source, &fakeDispatcher{}, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}
