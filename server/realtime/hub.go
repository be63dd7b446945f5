package realtime

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/tywin1104/crew-gatekeeper/metrics"
)

// DecisionEvent is the event name carrying the approved flag
const DecisionEvent = "type"

// clientBuffer is the number of events a slow client may lag behind
const clientBuffer = 8

// Event is pushed to every connected client
type Event struct {
	Name string
	Data []byte
}

// MarshalJSON renders the event for websocket clients
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}{e.Name, json.RawMessage(e.Data)})
}

// Hub fans events out to SSE and websocket clients. The client registry is
// owned by the Run goroutine.
type Hub struct {
	// Events are pushed to this channel by Broadcast
	events chan Event

	// New client connections
	newClients chan chan Event

	// Closed client connections
	closingClients chan chan Event

	// Client connections registry
	clients map[chan Event]bool

	done   chan struct{}
	logger *logrus.Entry
}

// NewHub instantiate a hub. Run must be started before clients connect.
func NewHub(logger *logrus.Entry) *Hub {
	return &Hub{
		events:         make(chan Event, 1),
		newClients:     make(chan chan Event),
		closingClients: make(chan chan Event),
		clients:        make(map[chan Event]bool),
		done:           make(chan struct{}),
		logger:         logger,
	}
}

// Run registers clients and delivers events until ctx is cancelled
func (h *Hub) Run(ctx context.Context) {
	log := h.logger
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-h.newClients:
			h.clients[c] = true
			metrics.RealtimeClients.Set(float64(len(h.clients)))
			log.Debugf("Realtime client added. %d registered clients", len(h.clients))
		case c := <-h.closingClients:
			delete(h.clients, c)
			metrics.RealtimeClients.Set(float64(len(h.clients)))
			log.Debugf("Removed realtime client. %d registered clients", len(h.clients))
		case event := <-h.events:
			for c := range h.clients {
				select {
				case c <- event:
				default:
					log.WithField("event", event.Name).Warn("Realtime client is too slow, event dropped")
				}
			}
		}
	}
}

// Broadcast sends the event to all connected clients
func (h *Hub) Broadcast(event Event) {
	select {
	case h.events <- event:
	case <-h.done:
	}
}

// BroadcastDecision pushes the approved flag of a staff decision
func (h *Hub) BroadcastDecision(approved bool) {
	h.Broadcast(Event{Name: DecisionEvent, Data: []byte(strconv.FormatBool(approved))})
}

// subscribe registers a new client. It returns false once the hub stopped.
func (h *Hub) subscribe() (chan Event, bool) {
	c := make(chan Event, clientBuffer)
	select {
	case h.newClients <- c:
		return c, true
	case <-h.done:
		return nil, false
	}
}

func (h *Hub) unsubscribe(c chan Event) {
	select {
	case h.closingClients <- c:
	case <-h.done:
	}
}
