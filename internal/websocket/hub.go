package websocket

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/makeasinger/panelcast/internal/eventlog"
	"github.com/makeasinger/panelcast/internal/model"
)

const defaultPingInterval = 30 * time.Second

// Conn is the part of a websocket connection the hub uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
}

// Hub serves room joins over websocket. Each connection is one room member
// reading the job's log through its own subscription.
type Hub struct {
	book         *eventlog.Book
	pingInterval time.Duration
	logger       *logrus.Entry
}

// NewHub creates a new Hub
func NewHub(book *eventlog.Book, logger *logrus.Entry) *Hub {
	return &Hub{
		book:         book,
		pingInterval: defaultPingInterval,
		logger:       logger,
	}
}

// SetPingInterval changes the keep-alive period.
func (h *Hub) SetPingInterval(d time.Duration) {
	if d > 0 {
		h.pingInterval = d
	}
}

// HandleConnection joins the room for jobID and sends every event of the
// job, replay first, until the log closes or the client goes away.
func (h *Hub) HandleConnection(c Conn, jobID string) {
	log := h.logger.WithFields(logrus.Fields{"job_id": jobID, "connection_id": uuid.NewString()})

	sub, leave := h.book.Join(jobID)
	defer leave()
	log.WithField("replay", len(sub.Replay)).Debug("subscriber joined")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	control := make(chan []byte, 8)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.write(ctx, c, sub, control, log)
	}()

	// Reader loop
	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.WithError(err).Warn("websocket read error")
			}
			break
		}

		var msg model.WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		if msg.Type == model.WSMessageTypePing {
			data, _ := json.Marshal(model.WSMessage{Type: model.WSMessageTypePong})
			select {
			case control <- data:
			case <-writerDone:
			}
		}
	}

	cancel()
	<-writerDone
	log.Debug("subscriber left")
}

// write is the only goroutine writing to c.
func (h *Hub) write(ctx context.Context, c Conn, sub *eventlog.Subscription, control <-chan []byte, log *logrus.Entry) {
	cut := sub.Cut()
	events := sub.Stream(ctx)

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-events:
			if !ok {
				if ctx.Err() == nil {
					_ = c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "story finished"))
				}
				return
			}
			data, err := json.Marshal(model.WSEventMessage{
				Type:   model.WSMessageTypeEvent,
				Replay: ev.Sequence <= cut,
				Event:  ev,
			})
			if err != nil {
				log.WithError(err).Error("failed to marshal event message")
				continue
			}
			if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case data := <-control:
			if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			// Send ping for keep-alive
			if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// WriteError sends an error frame, used before rejecting a connection.
func WriteError(c Conn, jobID, code, message string) {
	data, err := json.Marshal(model.WSErrorMessage{
		Type:  model.WSMessageTypeError,
		JobID: jobID,
		Error: model.WSError{Code: code, Message: message},
	})
	if err != nil {
		return
	}
	_ = c.WriteMessage(websocket.TextMessage, data)
	_ = c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, message))
}
