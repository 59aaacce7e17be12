package socket

import (
	"context"
	"encoding/json"
	"sync"

	activityservice "evalcollab/internal/activity/service"
	"evalcollab/internal/collaboration/service"
	"evalcollab/pkg/logger"

	"github.com/gorilla/websocket"
)

const (
	HeartbeatType      = "HEARTBEAT"       // Client is still here, maybe on another section
	ActivityType       = "ACTIVITY"        // Client records an event / server relays a feed item
	SessionsType       = "SESSIONS"        // Refreshed live-session list
	PresenceUpdateType = "PRESENCE_UPDATE" // Ephemeral online set changed
	ErrorType          = "ERROR"           // A client frame was rejected
)

type WSMessage struct {
	Type         string          `json:"type"`
	AssessmentID string          `json:"assessment_id"`
	UserID       string          `json:"user_id,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}

type Hub struct {
	Rooms    map[string]map[*Client]bool // assessmentID -> connected clients
	Register chan *Client
	coord    *service.Coordinator
	mu       sync.Mutex
	stopped  chan struct{}
}

type Client struct {
	Hub          *Hub
	Conn         *websocket.Conn
	ID           string
	AssessmentID string
	UserID       string
	DisplayName  string
	Send         chan []byte

	registered chan struct{}
	done       chan struct{}
	closeOnce  sync.Once

	subMu   sync.Mutex
	closing bool
	feed    *activityservice.Subscription
	online  *activityservice.Subscription
}

func NewHub(coord *service.Coordinator) *Hub {
	return &Hub{
		Rooms:    make(map[string]map[*Client]bool),
		Register: make(chan *Client),
		coord:    coord,
		stopped:  make(chan struct{}),
	}
}

// Run owns room membership until ctx ends, then drops every connection.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.stopped)
	for {
		select {
		case client := <-h.Register:
			h.mu.Lock()
			if h.Rooms[client.AssessmentID] == nil {
				h.Rooms[client.AssessmentID] = make(map[*Client]bool)
			}
			h.Rooms[client.AssessmentID][client] = true
			h.mu.Unlock()
			close(client.registered)
			logger.Sugar.Debugf("Client %s of %s joined room %s", client.ID, client.UserID, client.AssessmentID)

		case <-ctx.Done():
			h.mu.Lock()
			for _, clients := range h.Rooms {
				for client := range clients {
					client.Conn.Close()
				}
			}
			h.Rooms = make(map[string]map[*Client]bool)
			h.mu.Unlock()
			return
		}
	}
}

// register hands c to Run and waits until it is in its room.
func (h *Hub) register(c *Client) bool {
	select {
	case h.Register <- c:
	case <-h.stopped:
		return false
	}
	select {
	case <-c.registered:
		return true
	case <-h.stopped:
		return false
	}
}

// detach removes c from its room and returns another open connection of the
// same user on that assessment, or nil when c was the last one.
func (h *Hub) detach(c *Client) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()

	room := h.Rooms[c.AssessmentID]
	delete(room, c)
	if len(room) == 0 {
		if room != nil {
			delete(h.Rooms, c.AssessmentID)
			logger.Sugar.Infof("Closed empty room: %s", c.AssessmentID)
		}
		return nil
	}
	for other := range room {
		if other.UserID == c.UserID {
			return other
		}
	}
	return nil
}

// DisconnectUser closes every connection userID holds on the assessment.
// Each closed connection leaves through its own read loop.
func (h *Hub) DisconnectUser(assessmentID, userID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	found := false
	for client := range h.Rooms[assessmentID] {
		if client.UserID == userID {
			client.Conn.Close()
			found = true
		}
	}
	if found {
		logger.Sugar.Infof("Disconnected %s from assessment %s", userID, assessmentID)
	}
	return found
}

// Connected reports how many connections are open on an assessment.
func (h *Hub) Connected(assessmentID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.Rooms[assessmentID])
}

// enqueue hands a frame to the write loop without blocking the publisher.
// A client that cannot keep up is disconnected.
func (c *Client) enqueue(msg WSMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		logger.Sugar.Errorf("Error marshalling %s frame: %v", msg.Type, err)
		return
	}
	select {
	case <-c.done:
	case c.Send <- payload:
	default:
		logger.Sugar.Warnf("Client %s's send buffer is full. Disconnecting.", c.UserID)
		c.Conn.Close()
	}
}

func (c *Client) send(kind string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		logger.Sugar.Errorf("Error marshalling %s payload: %v", kind, err)
		return
	}
	c.enqueue(WSMessage{Type: kind, AssessmentID: c.AssessmentID, Payload: payload})
}

func (c *Client) sendError(err error) {
	c.send(ErrorType, map[string]string{"error": err.Error()})
}
