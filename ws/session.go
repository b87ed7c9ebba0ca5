// Package ws is the WebSocket edge at /socket.io/. Messages are JSON
// envelopes {"event": ..., "data": ...}; event names and payloads match
// the HTTP snapshot fields. Each joined queue is backed by one bus
// subscription whose bounded buffer implements the drop policy.
package ws

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"imageConverter/bus"
	"imageConverter/dto"
	"imageConverter/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// BatchService is the scheduler surface the WebSocket edge drives.
type BatchService interface {
	Progress(jobID string) (models.JobSnapshot, error)
	Cancel(jobID string) (models.JobStatus, bool, error)
	QueueInfo(jobID string) (models.QueueInfo, error)
	AllQueues() map[string]models.QueueInfo
	Status() dto.BatchStatusResponse
}

type clientMessage struct {
	Event string `json:"event"`
	Data  struct {
		QueueID string `json:"queue_id"`
	} `json:"data"`
}

type serverMessage struct {
	Event      string      `json:"event"`
	Data       interface{} `json:"data"`
	EventsLost bool        `json:"events_lost,omitempty"`
	Timestamp  float64     `json:"timestamp"`
}

type Handler struct {
	service  BatchService
	bus      *bus.Bus
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

func NewHandler(service BatchService, b *bus.Bus, logger *zap.Logger) *Handler {
	return &Handler{
		service: service,
		bus:     b,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	s := &session{
		handler:  h,
		conn:     conn,
		outbound: make(chan serverMessage, 64),
		subs:     make(map[string]*bus.Subscription),
		done:     make(chan struct{}),
	}

	h.logger.Info("WebSocket client connected", zap.String("remote", conn.RemoteAddr().String()))

	go s.writePump()
	s.send(serverMessage{Event: "connected", Data: map[string]string{"message": "websocket connection established"}})
	s.readPump()
}

type session struct {
	handler  *Handler
	conn     *websocket.Conn
	outbound chan serverMessage

	mu   sync.Mutex
	subs map[string]*bus.Subscription

	closeOnce sync.Once
	done      chan struct{}
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		close(s.done)

		s.mu.Lock()
		for id, sub := range s.subs {
			s.handler.bus.Unsubscribe(sub)
			delete(s.subs, id)
		}
		s.mu.Unlock()

		s.conn.Close()
	})
}

// send enqueues a message without blocking the caller; a session whose
// outbound queue is full loses the message (the bus-level drop policy
// already flagged any gap worth reporting).
func (s *session) send(msg serverMessage) {
	if msg.Timestamp == 0 {
		msg.Timestamp = models.UnixSeconds(time.Now())
	}
	select {
	case s.outbound <- msg:
	case <-s.done:
	default:
	}
}

func (s *session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.close()
	}()

	for {
		select {
		case msg := <-s.outbound:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *session) readPump() {
	defer s.close()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.handler.logger.Warn("WebSocket read failed", zap.Error(err))
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.sendError("invalid message format")
			continue
		}
		s.dispatch(msg)
	}
}

func (s *session) dispatch(msg clientMessage) {
	queueID := msg.Data.QueueID

	switch msg.Event {
	case "join_queue":
		s.joinQueue(queueID)
	case "leave_queue":
		s.leaveQueue(queueID)
	case "request_progress":
		s.requestProgress(queueID)
	case "cancel_batch":
		s.cancelBatch(queueID)
	case "get_queue_status":
		s.queueStatus(queueID)
	case "get_active_queues":
		s.activeQueues()
	default:
		s.sendError("unknown event: " + msg.Event)
	}
}

func (s *session) joinQueue(queueID string) {
	if queueID == "" {
		s.sendError("queue_id is required")
		return
	}

	s.mu.Lock()
	if _, ok := s.subs[queueID]; ok {
		s.mu.Unlock()
		return
	}
	sub := s.handler.bus.Subscribe(queueID)
	s.subs[queueID] = sub
	s.mu.Unlock()

	go s.relay(sub)

	s.send(serverMessage{Event: "joined_queue", Data: map[string]string{
		"queue_id": queueID,
		"message":  "joined queue " + queueID,
	}})
}

func (s *session) leaveQueue(queueID string) {
	s.mu.Lock()
	sub, ok := s.subs[queueID]
	if ok {
		delete(s.subs, queueID)
	}
	s.mu.Unlock()

	if ok {
		s.handler.bus.Unsubscribe(sub)
		s.send(serverMessage{Event: "left_queue", Data: map[string]string{
			"queue_id": queueID,
			"message":  "left queue " + queueID,
		}})
	}
}

// relay copies one subscription's ordered events onto the socket. The
// send into outbound blocks here, not in the bus: a slow socket fills
// the subscription buffer and the bus drops intermediates there.
func (s *session) relay(sub *bus.Subscription) {
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			out := serverMessage{
				Event:      string(ev.Type),
				Data:       ev.Data,
				EventsLost: ev.EventsLost,
				Timestamp:  ev.Timestamp,
			}
			select {
			case s.outbound <- out:
			case <-s.done:
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *session) requestProgress(queueID string) {
	snap, err := s.handler.service.Progress(queueID)
	if err != nil {
		s.sendError("queue not found: " + queueID)
		return
	}
	s.send(serverMessage{Event: string(models.EventBatchProgress), Data: snap})
}

func (s *session) cancelBatch(queueID string) {
	_, alreadyTerminal, err := s.handler.service.Cancel(queueID)
	if err != nil {
		s.sendError("queue not found or cannot be cancelled: " + queueID)
		return
	}
	if alreadyTerminal {
		return
	}
	s.send(serverMessage{Event: string(models.EventBatchCancelled), Data: map[string]string{
		"queue_id": queueID,
		"message":  "batch processing has been cancelled",
	}})
}

func (s *session) queueStatus(queueID string) {
	info, err := s.handler.service.QueueInfo(queueID)
	if err != nil {
		s.sendError("queue not found: " + queueID)
		return
	}
	s.send(serverMessage{Event: "queue_status", Data: map[string]interface{}{
		"queue_info": info,
	}})
}

func (s *session) activeQueues() {
	status := s.handler.service.Status()
	s.send(serverMessage{Event: "active_queues", Data: map[string]interface{}{
		"active_tasks": status.ActiveTasks,
		"all_queues":   status.AllQueues,
	}})
}

func (s *session) sendError(message string) {
	s.send(serverMessage{Event: "error", Data: map[string]string{"message": message}})
}
