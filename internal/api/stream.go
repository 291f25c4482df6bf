package api

import (
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"assetdesk/backend/internal/services"
	"assetdesk/backend/pkg/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Stream message types.
const (
	MessageState    = "state"
	MessageNavigate = "navigate"
	MessageRoute    = "route"
	MessageAnchors  = "anchors"
	MessageEvent    = "event"
	MessageError    = "error"
)

// StreamMessage is the websocket envelope in both directions. The server
// sends state and navigate messages; the browser may send route, anchors and
// event messages instead of calling the REST endpoints.
type StreamMessage struct {
	Type       string                `json:"type"`
	Session    *services.SessionView `json:"session,omitempty"`
	Navigation *services.Navigation  `json:"navigation,omitempty"`
	Route      string                `json:"route,omitempty"`
	Anchors    []string              `json:"anchors,omitempty"`
	Index      *int                  `json:"index,omitempty"`
	Action     string                `json:"action,omitempty"`
	Status     string                `json:"status,omitempty"`
	Error      string                `json:"error,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Stream pushes session snapshots and navigation requests over a websocket
// (GET /api/v1/tour/sessions/:id/stream)
func (s *Server) Stream(c echo.Context) error {
	id, err := identity(c)
	if err != nil {
		return err
	}
	sessionID := c.Param("id")
	states, navs, cancel, err := s.Tours.Subscribe(id, sessionID)
	if err != nil {
		return toHTTPError(err)
	}
	defer cancel()

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return nil
	}
	defer conn.Close()

	inbound := make(chan StreamMessage)
	readDone := make(chan struct{})
	go s.readPump(conn, inbound, readDone)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		var out *StreamMessage
		select {
		case <-readDone:
			return nil
		case _, ok := <-states:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"),
					time.Now().Add(writeWait))
				return nil
			}
			view, err := s.Tours.View(id, sessionID)
			if err != nil {
				return nil
			}
			out = &StreamMessage{Type: MessageState, Session: &view}
		case nav := <-navs:
			out = &StreamMessage{Type: MessageNavigate, Navigation: &nav}
		case msg := <-inbound:
			out = s.handleInbound(id, sessionID, msg)
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return nil
			}
			continue
		}
		if out == nil {
			continue
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(out); err != nil {
			return nil
		}
	}
}

// readPump decodes browser messages until the connection fails.
func (s *Server) readPump(conn *websocket.Conn, inbound chan<- StreamMessage, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(64 * 1024)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		var msg StreamMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && s.Logger != nil {
				s.Logger.Warn("tour stream read failed", "error", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		select {
		case inbound <- msg:
		case <-time.After(writeWait):
			return
		}
	}
}

// handleInbound applies a browser message and returns an error message to
// send back, if any. Resulting state changes arrive through the subscription.
func (s *Server) handleInbound(id models.Identity, sessionID string, msg StreamMessage) *StreamMessage {
	var err error
	switch msg.Type {
	case MessageRoute:
		_, err = s.Tours.ReportRoute(id, sessionID, msg.Route)
	case MessageAnchors:
		err = s.Tours.ReplaceAnchors(id, sessionID, msg.Anchors)
	case MessageEvent:
		index, action, status, perr := parseEvent(EventRequest{Index: msg.Index, Action: msg.Action, Status: msg.Status})
		if perr != nil {
			err = perr
			break
		}
		_, err = s.Tours.Advance(id, sessionID, index, action, status)
	default:
		return &StreamMessage{Type: MessageError, Error: "unknown message type: " + msg.Type}
	}
	if err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			if m, ok := he.Message.(string); ok {
				return &StreamMessage{Type: MessageError, Error: m}
			}
		}
		return &StreamMessage{Type: MessageError, Error: err.Error()}
	}
	return nil
}
