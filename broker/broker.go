package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"
	"github.com/tywin1104/crew-gatekeeper/types"
)

const (
	// Dead letter exchange name
	deadLetterExchange = "dead.letter.ex"
	// Default message ttl 24 hours
	messageTTL     = int32(24 * time.Hour / time.Millisecond)
	reconnectDelay = 3 * time.Second
)

// ErrClosed is returned when the broker has been closed
var ErrClosed = errors.New("broker closed")

// Service publishes submissions onto the dispatch queue and hands out
// deliveries to the worker. It re-establishes the connection when RabbitMQ
// drops it.
type Service struct {
	url       string
	queueName string
	logger    *logrus.Entry

	mu         sync.RWMutex
	conn       *amqp.Connection
	channel    *amqp.Channel
	closeError chan *amqp.Error
	closed     bool
}

// NewService dials RabbitMQ and declares the dispatch queue
func NewService(url, queueName string, logger *logrus.Entry) (*Service, error) {
	s := &Service{
		url:       url,
		queueName: queueName,
		logger:    logger,
	}
	if err := s.connect(); err != nil {
		return nil, err
	}
	return s, nil
}

// DeclareQueue declares the durable dispatch queue. Publisher and consumer
// must declare it with the same arguments.
func DeclareQueue(ch *amqp.Channel, queueName string) (amqp.Queue, error) {
	args := make(amqp.Table)
	args["x-dead-letter-exchange"] = deadLetterExchange
	args["x-message-ttl"] = messageTTL
	return ch.QueueDeclare(
		queueName, // name
		true,      // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		args,      // arguments
	)
}

func (s *Service) connect() error {
	conn, err := amqp.Dial(s.url)
	if err != nil {
		return fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	if _, err := DeclareQueue(ch, s.queueName); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("declare queue: %w", err)
	}
	closeError := make(chan *amqp.Error, 1)
	conn.NotifyClose(closeError)

	s.mu.Lock()
	s.conn = conn
	s.channel = ch
	s.closeError = closeError
	s.mu.Unlock()
	return nil
}

// WatchForReconnect will monitor the connection for disruption and
// re-establish a new connection and channel until ctx is done
func (s *Service) WatchForReconnect(ctx context.Context) {
	log := s.logger
	for {
		s.mu.RLock()
		closeError := s.closeError
		s.mu.RUnlock()

		select {
		case <-ctx.Done():
			return
		case err := <-closeError:
			s.mu.RLock()
			closed := s.closed
			s.mu.RUnlock()
			if closed {
				return
			}
			log.WithFields(logrus.Fields{
				"err": fmt.Sprint(err),
			}).Warn("RabbitMQ connection lost. Reconnecting")
		}

		for {
			if err := s.connect(); err == nil {
				log.Info("RabbitMQ connection re-established")
				break
			} else {
				log.WithFields(logrus.Fields{
					"err": err.Error(),
				}).Error("Unable to reconnect to RabbitMQ")
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(reconnectDelay):
			}
		}
	}
}

// Publish puts a submission onto the dispatch queue
func (s *Service) Publish(sub types.Submission) error {
	encodedMessage, err := Serialize(sub)
	if err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return s.channel.Publish(
		"",          // exchange
		s.queueName, // routing key
		false,       // mandatory
		false,       // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			MessageId:    sub.ID,
			Timestamp:    time.Now(),
			Body:         encodedMessage,
		})
}

// Consume opens a dedicated channel on the current connection and starts
// consuming the dispatch queue with a prefetch of one. The delivery channel
// is closed when the connection drops.
func (s *Service) Consume() (<-chan amqp.Delivery, error) {
	s.mu.RLock()
	conn := s.conn
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	q, err := DeclareQueue(ch, s.queueName)
	if err != nil {
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	err = ch.Qos(
		1,     // prefetch count
		0,     // prefetch size
		false, // global
	)
	if err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}
	return ch.Consume(
		q.Name, // queue
		"",     // consumer
		false,  // auto-ack
		false,  // exclusive
		false,  // no-local
		false,  // no-wait
		nil,    // args
	)
}

// Close closes the channel and the connection
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.channel.Close()
	return s.conn.Close()
}

// Serialize encodes a submission as a queue message body
func Serialize(msg types.Submission) ([]byte, error) {
	var b bytes.Buffer
	encoder := json.NewEncoder(&b)
	err := encoder.Encode(msg)
	return b.Bytes(), err
}

// Deserialize decodes a queue message body
func Deserialize(b []byte) (types.Submission, error) {
	var msg types.Submission
	decoder := json.NewDecoder(bytes.NewReader(b))
	decoder.DisallowUnknownFields()
	err := decoder.Decode(&msg)
	return msg, err
}
