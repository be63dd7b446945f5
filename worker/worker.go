package worker

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"
	"github.com/tywin1104/crew-gatekeeper/broker"
	"github.com/tywin1104/crew-gatekeeper/types"
)

const resubscribeDelay = 3 * time.Second

// Source hands out deliveries of the dispatch queue
type Source interface {
	Consume() (<-chan amqp.Delivery, error)
}

// Dispatcher delivers one queued submission to staff
type Dispatcher interface {
	Dispatch(ctx context.Context, sub types.Submission) (types.Submission, error)
}

// Acknowledger is the part of a delivery the worker settles
type Acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

// Worker consumes the dispatch queue and sends the notifications
type Worker struct {
	source     Source
	dispatcher Dispatcher
	logger     *logrus.Entry
}

// NewWorker creates a dispatch worker
func NewWorker(source Source, dispatcher Dispatcher, logger *logrus.Entry) *Worker {
	return &Worker{
		source:     source,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Start the worker to process the messages pushed into the queue. It
// re-subscribes whenever the delivery channel closes and returns when ctx is
// done.
func (w *Worker) Start(ctx context.Context) {
	log := w.logger
	for {
		msgs, err := w.source.Consume()
		if err != nil {
			log.WithFields(logrus.Fields{
				"err": err.Error(),
			}).Error("Failed to register a consumer")
		} else {
			log.Info("Worker start. Listening for messages..")
			w.drain(ctx, msgs)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(resubscribeDelay):
		}
	}
}

func (w *Worker) drain(ctx context.Context, msgs <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-msgs:
			if !ok {
				w.logger.Warn("Delivery channel closed")
				return
			}
			w.Handle(ctx, d.Body, &d)
		}
	}
}

// Handle processes one message body and settles it. Messages that can not be
// decoded or delivered are put to the dead-letter queue.
func (w *Worker) Handle(ctx context.Context, body []byte, ack Acknowledger) {
	log := w.logger
	sub, err := broker.Deserialize(body)
	if err != nil {
		log.WithFields(logrus.Fields{
			"messageBody": string(body),
			"err":         err.Error(),
		}).Error("Unable to decode message into submission")
		ack.Nack(false, false)
		return
	}
	log.WithFields(logrus.Fields{
		"submissionID": sub.ID,
		"userID":       sub.Applicant.ID,
	}).Info("Received new task")

	if _, err := w.dispatcher.Dispatch(ctx, sub); err != nil {
		log.WithFields(logrus.Fields{
			"err":          err.Error(),
			"submissionID": sub.ID,
		}).Error("Failed to dispatch notification")
		ack.Nack(false, false)
		return
	}
	ack.Ack(false)
}
