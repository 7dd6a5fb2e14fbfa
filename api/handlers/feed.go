package handlers

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/lawline/dispatch-api/models"
)

// WebSocket upgrader
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Adjust CORS as needed, e.g., check r.Header.Get("Origin")
	},
}

// Feed pushes dispatch events to connected dashboards and lawyer apps over
// websockets. It satisfies dispatch.Notifier so the engine can broadcast
// without knowing about connections.
type Feed struct {
	clients map[*websocket.Conn]struct{}
	mutex   sync.Mutex
}

// NewFeed returns an empty feed hub.
func NewFeed() *Feed {
	return &Feed{clients: make(map[*websocket.Conn]struct{})}
}

// ServeWS upgrades the request and holds the connection open until the peer
// goes away
func (f *Feed) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		zap.S().Errorf("websocket upgrade error: %v", err)
		return
	}

	f.mutex.Lock()
	f.clients[conn] = struct{}{}
	f.mutex.Unlock()
	zap.S().Debugf("client %s connected to /ws", conn.RemoteAddr())

	for {
		if _, _, err := conn.NextReader(); err != nil {
			f.mutex.Lock()
			delete(f.clients, conn)
			f.mutex.Unlock()
			conn.Close()
			zap.S().Debugf("client %s disconnected from /ws", conn.RemoteAddr())
			break
		}
	}
}

// NotifyAssignment broadcasts an offer event for a call
func (f *Feed) NotifyAssignment(callID, lawyerID string) {
	f.broadcast(map[string]interface{}{
		"event":    "call_assigned",
		"callID":   callID,
		"lawyerID": lawyerID,
	})
}

// NotifyStatusChange broadcasts a call status transition
func (f *Feed) NotifyStatusChange(callID string, status models.CallStatus) {
	f.broadcast(map[string]interface{}{
		"event":  "call_status_changed",
		"callID": callID,
		"status": status,
	})
}

// NotifyEscalation broadcasts that a call exhausted its dispatch attempts
func (f *Feed) NotifyEscalation(callID string) {
	f.broadcast(map[string]interface{}{
		"event":  "call_escalated",
		"callID": callID,
	})
}

func (f *Feed) broadcast(payload map[string]interface{}) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	for conn := range f.clients {
		if err := conn.WriteJSON(payload); err != nil {
			zap.S().Warnf("error broadcasting to %s: %v", conn.RemoteAddr(), err)
			delete(f.clients, conn)
			conn.Close()
		}
	}
}
