package websocket

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/f3mi/Collaborative-Code-Review-Knowledge-Sharing-Platform-with-AI-Assist/config"
	"github.com/f3mi/Collaborative-Code-Review-Knowledge-Sharing-Platform-with-AI-Assist/event"
)

const websocketRetryDelay = 200 * time.Millisecond

// ClientSession represents one connected review-session client. Writes are
// serialized by a mutex and bounded by a write deadline plus a small retry
// budget, so one broken connection can never stall fan-out to the rest of a
// session.
type ClientSession struct {
	ID            string
	conn          *websocket.Conn
	ctx           context.Context
	cfg           *config.WebSocketConfig
	lastActivity  atomic.Int64
	pingTicker    *time.Ticker
	activityTimer *time.Timer
	cancel        context.CancelFunc
	mu            sync.Mutex
}

// NewClientSession creates a new client session.
func NewClientSession(id string, conn *websocket.Conn, cfg *config.WebSocketConfig) *ClientSession {
	ctx, cancel := context.WithCancel(context.Background())
	cs := &ClientSession{
		ID:     id,
		conn:   conn,
		cfg:    cfg,
		cancel: cancel,
		ctx:    ctx,
	}
	cs.lastActivity.Store(time.Now().Unix())
	return cs
}

// WriteEvent delivers an outbound event frame to the client.
func (s *ClientSession) WriteEvent(ev event.Outbound) error {
	return s.safeWriteJSON(ev)
}

// safeWriteJSON writes data to the websocket with a bounded retry budget.
func (s *ClientSession) safeWriteJSON(data interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	writeTimeout := time.Duration(s.cfg.WriteTimeout) * time.Second
	operation := func() error {
		s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		return s.conn.WriteJSON(data)
	}

	backoffStrategy := backoff.WithContext(
		backoff.WithMaxRetries(
			backoff.NewConstantBackOff(websocketRetryDelay),
			uint64(s.cfg.WriteRetries),
		),
		s.ctx,
	)

	return backoff.Retry(operation, backoffStrategy)
}

// UpdateActivity updates the last activity timestamp and resets the timeout
// timer. Called for actual client messages, not pong responses.
func (s *ClientSession) UpdateActivity() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastActivity.Store(time.Now().Unix())

	if s.activityTimer != nil {
		s.activityTimer.Stop()
		s.activityTimer = time.AfterFunc(
			time.Duration(s.cfg.ActivityTimeout)*time.Second,
			s.onActivityTimeout,
		)
	}
}

// LastActivityTime returns the time of last activity.
func (s *ClientSession) LastActivityTime() time.Time {
	return time.Unix(s.lastActivity.Load(), 0)
}

func (s *ClientSession) StartTimers() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.activityTimer = time.AfterFunc(
		time.Duration(s.cfg.ActivityTimeout)*time.Second,
		s.onActivityTimeout,
	)

	s.pingTicker = time.NewTicker(
		time.Duration(s.cfg.PingInterval) * time.Second,
	)
	go s.pingLoop()
}

func (s *ClientSession) pingLoop() {
	defer s.pingTicker.Stop()

	for {
		select {
		case <-s.pingTicker.C:
			if err := s.sendPing(); err != nil {
				slog.Debug("ping failed, closing connection", "connection", s.ID, "error", err)
				s.Close(websocket.CloseInternalServerErr, "ping failure")
				return
			}
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *ClientSession) onActivityTimeout() {
	slog.Info("connection timed out", "connection", s.ID)
	s.Close(websocket.ClosePolicyViolation, "inactivity timeout")
}

func (s *ClientSession) sendPing() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.conn.WriteControl(
		websocket.PingMessage,
		[]byte{},
		time.Now().Add(time.Duration(s.cfg.WriteTimeout)*time.Second),
	)
}

// PongHandler resets the keepalive clock when the client answers a ping.
func (s *ClientSession) PongHandler() func(string) error {
	return func(string) error {
		s.UpdateActivity()
		return nil
	}
}

// Done is closed when the session has been shut down.
func (s *ClientSession) Done() <-chan struct{} {
	return s.ctx.Done()
}

// Close closes the websocket connection.
func (s *ClientSession) Close(code int, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pingTicker != nil {
		s.pingTicker.Stop()
	}
	if s.activityTimer != nil {
		s.activityTimer.Stop()
	}

	if s.cancel != nil {
		s.cancel()
	}

	writeTimeout := time.Duration(s.cfg.WriteTimeout) * time.Second
	err := s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, text),
		time.Now().Add(writeTimeout),
	)
	if err != nil {
		slog.Debug("error sending close message", "connection", s.ID, "error", err)
	}

	return s.conn.Close()
}
