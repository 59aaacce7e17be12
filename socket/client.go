package socket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	activitymodel "evalcollab/internal/activity/model"
	activityservice "evalcollab/internal/activity/service"
	presencemodel "evalcollab/internal/presence/model"
	"evalcollab/internal/realtime"
	"evalcollab/pkg/apperror"
	"evalcollab/pkg/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWs attaches a collaborator to the live view of one assessment:
// feed and session updates, the presence set, and a presence session kept
// alive by HEARTBEAT frames.
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request, userID string) {
	q := r.URL.Query()
	assessmentID := q.Get("assessmentId")
	if assessmentID == "" {
		http.Error(w, "Missing assessmentId", http.StatusBadRequest)
		return
	}
	name := q.Get("name")
	if name == "" {
		name = userID
	}
	var sectionID *string
	if s := q.Get("sectionId"); s != "" {
		sectionID = &s
	}

	// Reject before the upgrade so the caller gets a real status code.
	actor, err := hub.coord.Actor(r.Context(), assessmentID, userID)
	if err != nil {
		if errors.Is(err, apperror.ErrInvalidInput) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		logger.Sugar.Errorf("Connection rejected: membership lookup failed: %v", err)
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}
	if actor == nil {
		logger.Sugar.Warnf("Connection rejected: %s is not a collaborator on %s", userID, assessmentID)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Sugar.Error(err)
		return
	}

	client := &Client{
		Hub:          hub,
		Conn:         conn,
		ID:           uuid.NewString(),
		AssessmentID: assessmentID,
		UserID:       userID,
		DisplayName:  name,
		Send:         make(chan []byte, 256),
		registered:   make(chan struct{}),
		done:         make(chan struct{}),
	}
	if !hub.register(client) {
		conn.Close()
		return
	}
	go client.writePump()

	ctx := context.Background()
	bus := hub.coord.Bus
	feed, err := bus.Subscribe(ctx, assessmentID, client.ID,
		func(sessions []presencemodel.Session) { client.send(SessionsType, sessions) },
		func(item activitymodel.FeedItem) { client.send(ActivityType, item) },
	)
	if err != nil {
		logger.Sugar.Errorf("Failed to subscribe %s to assessment %s: %v", userID, assessmentID, err)
		client.shutdown()
		return
	}
	client.subMu.Lock()
	client.feed = feed
	client.subMu.Unlock()

	if err := client.trackPresence(ctx); err != nil {
		logger.Sugar.Errorf("Failed to track presence of %s on %s: %v", userID, assessmentID, err)
		client.shutdown()
		return
	}

	if _, err := hub.coord.Join(ctx, userID, assessmentID, sectionID); err != nil {
		logger.Sugar.Errorf("Failed to start session of %s on %s: %v", userID, assessmentID, err)
		client.shutdown()
		return
	}

	go client.readPump()
}

// trackPresence makes this connection the holder of its user's presence on
// the assessment. It does nothing once the connection is closing.
func (c *Client) trackPresence(ctx context.Context) error {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if c.closing {
		return nil
	}
	bus := c.Hub.coord.Bus
	if bus.Held(c.online) {
		return nil
	}
	sub, err := bus.SubscribePresence(ctx, c.AssessmentID, c.UserID, c.DisplayName,
		func(members []realtime.Member) { c.send(PresenceUpdateType, members) },
	)
	if err != nil {
		return err
	}
	c.online = sub
	return nil
}

func (c *Client) presence() *activityservice.Subscription {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	return c.online
}

func (c *Client) readPump() {
	defer c.shutdown()

	for {
		_, rawMessage, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Sugar.Errorf("error: %v", err)
			}
			break
		}

		var msg WSMessage
		if err := json.Unmarshal(rawMessage, &msg); err != nil {
			logger.Sugar.Errorf("Error unmarshalling message: %v", err)
			continue
		}

		// Server-authoritative ids.
		msg.AssessmentID = c.AssessmentID
		msg.UserID = c.UserID

		ctx := context.Background()
		switch msg.Type {
		case HeartbeatType:
			var req presencemodel.HeartbeatRequest
			if len(msg.Payload) > 0 {
				if err := json.Unmarshal(msg.Payload, &req); err != nil {
					c.sendError(apperror.Invalid("malformed heartbeat"))
					continue
				}
			}
			if err := c.Hub.coord.Heartbeat(ctx, c.UserID, c.AssessmentID, req.SectionID); err != nil {
				logger.Sugar.Warnf("Heartbeat from %s on %s failed: %v", c.UserID, c.AssessmentID, err)
				c.sendError(err)
				continue
			}
			if err := c.Hub.coord.Bus.Touch(ctx, c.presence()); err != nil {
				logger.Sugar.Warnf("Failed to refresh presence of %s on %s: %v", c.UserID, c.AssessmentID, err)
			}

		case ActivityType:
			var req activitymodel.RecordRequest
			if err := json.Unmarshal(msg.Payload, &req); err != nil {
				c.sendError(apperror.Invalid("malformed activity"))
				continue
			}
			req.AssessmentID = c.AssessmentID
			if _, err := c.Hub.coord.RecordActivity(ctx, c.UserID, req); err != nil {
				logger.Sugar.Warnf("Permission Denied or invalid activity from %s on %s: %v", c.UserID, c.AssessmentID, err)
				c.sendError(err)
			}

		default:
			logger.Sugar.Debugf("Ignoring %q frame from %s", msg.Type, c.UserID)
		}
	}
}

// shutdown releases everything the connection holds. It runs once. The
// presence session is only closed with the user's last connection; an
// earlier one hands the presence set over to a remaining connection.
func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		c.subMu.Lock()
		c.closing = true
		feed, online := c.feed, c.online
		c.feed, c.online = nil, nil
		c.subMu.Unlock()

		ctx := context.Background()
		bus := c.Hub.coord.Bus
		bus.Unsubscribe(feed)

		if peer := c.Hub.detach(c); peer != nil {
			if err := peer.trackPresence(ctx); err != nil {
				logger.Sugar.Warnf("Failed to hand presence of %s on %s to another connection: %v", c.UserID, c.AssessmentID, err)
			}
			bus.Unsubscribe(online)
		} else {
			bus.Unsubscribe(online)
			err := c.Hub.coord.Leave(ctx, c.UserID, c.AssessmentID)
			if err != nil && !errors.Is(err, apperror.ErrNotFound) {
				logger.Sugar.Warnf("Failed to close session of %s on %s: %v", c.UserID, c.AssessmentID, err)
			}
		}

		close(c.done)
		c.Conn.Close()
	})
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second) // Send ping every 30s
	defer ticker.Stop()

	for {
		select {
		case message := <-c.Send:
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return // Connection is dead
			}
		case <-c.done:
			return
		}
	}
}
