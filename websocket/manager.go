package websocket

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/f3mi/Collaborative-Code-Review-Knowledge-Sharing-Platform-with-AI-Assist/event"
	"github.com/f3mi/Collaborative-Code-Review-Knowledge-Sharing-Platform-with-AI-Assist/metrics"
)

// EventWriter is the delivery surface the router needs from a connection.
// *ClientSession implements it; tests substitute in-memory fakes.
type EventWriter interface {
	WriteEvent(ev event.Outbound) error
}

// Manager tracks the live connections held by this relay instance and the
// in-flight work that graceful shutdown must wait for.
type Manager struct {
	conns sync.Map // connectionID -> EventWriter
	wg    sync.WaitGroup
}

// NewManager creates a new connection manager.
func NewManager() *Manager {
	return &Manager{}
}

// Add registers a live connection.
func (m *Manager) Add(connID string, w EventWriter) {
	m.conns.Store(connID, w)
	metrics.ActiveConnections.Inc()
	metrics.TotalConnections.Inc()
}

// Remove forgets a connection. Safe to call for unknown ids.
func (m *Manager) Remove(connID string) {
	if _, loaded := m.conns.LoadAndDelete(connID); loaded {
		metrics.ActiveConnections.Dec()
	}
}

// Get retrieves a live connection by id.
func (m *Manager) Get(connID string) (EventWriter, bool) {
	if w, ok := m.conns.Load(connID); ok {
		return w.(EventWriter), true
	}
	return nil, false
}

// IncreaseWaitGroup marks the start of an in-flight delivery or publish.
func (m *Manager) IncreaseWaitGroup() {
	m.wg.Add(1)
}

// DecreaseWaitGroup marks the end of an in-flight delivery or publish.
func (m *Manager) DecreaseWaitGroup() {
	m.wg.Done()
}

// WaitForCompletion blocks until all in-flight work has finished.
func (m *Manager) WaitForCompletion() {
	m.wg.Wait()
}

// CloseAllConnections sends a close frame to every connection and removes
// them. Used during shutdown once in-flight deliveries have drained.
func (m *Manager) CloseAllConnections(reason string) {
	m.conns.Range(func(key, value interface{}) bool {
		connID := key.(string)
		if closer, ok := value.(interface{ Close(int, string) error }); ok {
			slog.Info("closing connection", "connection", connID, "reason", reason)
			closer.Close(websocket.CloseGoingAway, reason)
		}
		m.Remove(connID)
		return true
	})
}
