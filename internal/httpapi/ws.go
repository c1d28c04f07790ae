package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/inboxd/inboxd/internal/identity"
	"github.com/inboxd/inboxd/internal/observability"
	"github.com/inboxd/inboxd/internal/protocol"
)

const (
	outboundQueueSize = 256
	writeTimeout      = 10 * time.Second
	readTimeout       = 120 * time.Second
	readLimit         = 1 << 20
)

// wsConn is one client connection. All writes funnel through a single
// writer goroutine consuming the outbound queue, which keeps websocket
// writes single-threaded and preserves per-room broadcast order.
type wsConn struct {
	raw     *websocket.Conn
	out     chan protocol.Envelope
	metrics *observability.Metrics

	closeOnce sync.Once
	closed    chan struct{}
}

func newWSConn(raw *websocket.Conn, metrics *observability.Metrics) *wsConn {
	return &wsConn{
		raw:     raw,
		out:     make(chan protocol.Envelope, outboundQueueSize),
		metrics: metrics,
		closed:  make(chan struct{}),
	}
}

// Send enqueues an event for delivery. The payload is marshaled at
// enqueue time so later mutations cannot leak into the frame. Frames
// are dropped when the outbound queue is saturated.
func (c *wsConn) Send(event protocol.EventName, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("ws marshal %s failed: %v", event, err)
		return
	}
	env := protocol.Envelope{Event: event, Data: data}
	select {
	case c.out <- env:
		c.metrics.WSMessages.WithLabelValues("outbound", string(event)).Inc()
	default:
		c.metrics.WSMessages.WithLabelValues("dropped", string(event)).Inc()
	}
}

func (c *wsConn) shutdown() {
	c.closeOnce.Do(func() { close(c.closed) })
}

func (c *wsConn) writeLoop() {
	for {
		select {
		case <-c.closed:
			return
		case env := <-c.out:
			_ = c.raw.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.raw.WriteJSON(env); err != nil {
				c.shutdown()
				return
			}
		}
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	raw, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer raw.Close()

	conn := newWSConn(raw, s.metrics)
	go conn.writeLoop()

	conn.Send(protocol.EventConnected, protocol.Connected{Status: "ok"})

	raw.SetReadLimit(readLimit)
	_ = raw.SetReadDeadline(time.Now().Add(readTimeout))
	raw.SetPongHandler(func(string) error {
		_ = raw.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	for {
		msgType, data, err := raw.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}

		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			conn.Send(protocol.EventError, protocol.ErrorMessage{Message: err.Error()})
			continue
		}
		s.dispatch(r.Context(), conn, parsed)
	}

	conn.shutdown()
	s.rooms.Leave(conn)
	s.metrics.ActiveRooms.Set(float64(s.rooms.RoomCount()))
	s.metrics.RoomEvents.WithLabelValues("disconnected").Inc()
}

func (s *Server) dispatch(ctx context.Context, conn *wsConn, parsed any) {
	switch msg := parsed.(type) {
	case protocol.JoinRoom:
		s.metrics.WSMessages.WithLabelValues("inbound", string(protocol.EventJoinRoom)).Inc()
		s.handleJoinRoom(ctx, conn, msg)
	case protocol.UserApproved:
		s.metrics.WSMessages.WithLabelValues("inbound", string(protocol.EventUserApproved)).Inc()
		resolved := s.tasks.ResolveApproval(msg.UserID.String(), msg.SessionID.String(), msg.Approved)
		if !resolved {
			conn.Send(protocol.EventApprovalReceived, protocol.ApprovalReceived{Error: "No active email tool session"})
			return
		}
		approved := msg.Approved
		conn.Send(protocol.EventApprovalReceived, protocol.ApprovalReceived{Approved: &approved})
	case protocol.AuthCompleted:
		s.metrics.WSMessages.WithLabelValues("inbound", string(protocol.EventAuthCompleted)).Inc()
		resolved := s.tasks.ResolveAuth(msg.UserID.String(), msg.SessionID.String(), msg.Success)
		if !resolved {
			conn.Send(protocol.EventAuthCompletedAck, protocol.AuthCompletedAck{Error: "No active email tool session"})
			return
		}
		status := protocol.AuthStatusReady
		if !msg.Success {
			status = protocol.AuthStatusFailed
		}
		conn.Send(protocol.EventAuthCompletedAck, protocol.AuthCompletedAck{Status: status})
	}
}

// handleJoinRoom normalizes the client identity (user ID or email) and
// binds the connection to the session's room.
func (s *Server) handleJoinRoom(ctx context.Context, conn *wsConn, msg protocol.JoinRoom) {
	userID := msg.UserID.String()
	if userID == "" {
		resolveCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		resolved, err := s.resolver.ResolveEmail(resolveCtx, msg.UserEmail)
		if err != nil {
			if errors.Is(err, identity.ErrUnknownUser) {
				conn.Send(protocol.EventError, protocol.ErrorMessage{Message: "User not found for email: " + msg.UserEmail})
				return
			}
			conn.Send(protocol.EventError, protocol.ErrorMessage{Message: "Failed to resolve user: " + err.Error()})
			return
		}
		userID = resolved
	}

	room := s.rooms.Join(userID, msg.SessionID.String(), conn)
	s.metrics.ActiveRooms.Set(float64(s.rooms.RoomCount()))
	s.metrics.RoomEvents.WithLabelValues("joined").Inc()

	conn.Send(protocol.EventRoomJoined, protocol.RoomJoined{
		Room:      room,
		UserID:    userID,
		SessionID: msg.SessionID.String(),
	})
}
