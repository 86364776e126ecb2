package api

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/BTreeMap/PortfolioChat/internal/conversation"
	"github.com/BTreeMap/PortfolioChat/internal/models"
	"github.com/BTreeMap/PortfolioChat/internal/typewriter"
	"github.com/gorilla/websocket"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 9 / 10
	streamBuffer = 64
)

// Stream message types.
const (
	StreamSnapshot = "snapshot"
	StreamEvent    = "event"
	StreamFrame    = "frame"
	StreamError    = "error"
)

// StreamMessage is one websocket frame sent to clients.
type StreamMessage struct {
	Type     string                       `json:"type"`
	Snapshot *models.ConversationSnapshot `json:"snapshot,omitempty"`
	Event    *conversation.Event          `json:"event,omitempty"`
	Frame    *typewriter.Frame            `json:"frame,omitempty"`
	Error    string                       `json:"error,omitempty"`
}

// wsStream pumps StreamMessages to one websocket client. Producers never
// block: offer drops or disconnects when the client falls behind.
type wsStream struct {
	conn     *websocket.Conn
	out      chan StreamMessage
	overflow chan struct{}
	once     sync.Once
}

func newWSStream(conn *websocket.Conn) *wsStream {
	return &wsStream{
		conn:     conn,
		out:      make(chan StreamMessage, streamBuffer),
		overflow: make(chan struct{}),
	}
}

// offer queues msg. When the queue is full a lossy message is dropped;
// otherwise the client is too slow and the stream ends.
func (st *wsStream) offer(msg StreamMessage, lossy bool) {
	select {
	case st.out <- msg:
	default:
		if !lossy {
			st.once.Do(func() { close(st.overflow) })
		}
	}
}

// readLoop consumes client frames until the connection fails. Each text
// frame is decoded and passed to onText when it is non-nil.
func (st *wsStream) readLoop(onText func(SubmitMessageRequest)) <-chan struct{} {
	done := make(chan struct{})
	st.conn.SetReadLimit(maxBodyBytes)
	st.conn.SetReadDeadline(time.Now().Add(pongWait))
	st.conn.SetPongHandler(func(string) error {
		return st.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer close(done)
		for {
			var req SubmitMessageRequest
			if err := st.conn.ReadJSON(&req); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					slog.Debug("wsStream.readLoop: connection closed", "error", err)
				}
				return
			}
			if onText != nil {
				onText(req)
			}
		}
	}()
	return done
}

func (st *wsStream) write(msg StreamMessage) error {
	st.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return st.conn.WriteJSON(msg)
}

// writeLoop sends first, then queued messages until the client leaves,
// falls behind, or final reports a message as the last one.
func (st *wsStream) writeLoop(first *StreamMessage, readDone <-chan struct{}, final func(StreamMessage) bool) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	if first != nil {
		if err := st.write(*first); err != nil || (final != nil && final(*first)) {
			st.closeNormally()
			return
		}
	}
	for {
		select {
		case msg := <-st.out:
			if err := st.write(msg); err != nil {
				return
			}
			if final != nil && final(msg) {
				st.closeNormally()
				return
			}
		case <-st.overflow:
			slog.Warn("wsStream.writeLoop: client too slow, disconnecting")
			st.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too slow"), time.Now().Add(writeWait))
			return
		case <-readDone:
			return
		case <-ticker.C:
			if err := st.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (st *wsStream) closeNormally() {
	st.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
}

// conversationWSHandler handles GET /chat/conversations/{id}/ws. The first
// frame is a snapshot; every later change arrives as an event. Clients may
// send {"text": "..."} frames to submit messages. The stream ends after the
// closed event.
func (s *Server) conversationWSHandler(w http.ResponseWriter, r *http.Request) {
	c, err := s.manager.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, "conversationWSHandler", err)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("Server.conversationWSHandler: upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	st := newWSStream(conn)
	snap, unsubscribe := c.Watch(func(ev conversation.Event) {
		st.offer(StreamMessage{Type: StreamEvent, Event: &ev}, false)
	})
	defer unsubscribe()

	readDone := st.readLoop(func(req SubmitMessageRequest) {
		if err := c.Submit(req.Text); err != nil {
			st.offer(StreamMessage{Type: StreamError, Error: err.Error()}, true)
		}
	})

	slog.Debug("Server.conversationWSHandler: client attached", "id", c.ID())
	first := StreamMessage{Type: StreamSnapshot, Snapshot: &snap}
	st.writeLoop(&first, readDone, func(msg StreamMessage) bool {
		if msg.Snapshot != nil {
			return !msg.Snapshot.Open
		}
		return msg.Event != nil && msg.Event.Kind == conversation.EventClosed
	})
	slog.Debug("Server.conversationWSHandler: client detached", "id", c.ID())
}

// typewriterWSHandler handles GET /typewriter/ws. Each client gets its own
// animation of the script phrases; frames a slow client cannot take are
// dropped.
func (s *Server) typewriterWSHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("Server.typewriterWSHandler: upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	st := newWSStream(conn)
	tw := s.script.Typewriter
	h, err := typewriter.Start(tw.Phrases, tw.Cadence, func(f typewriter.Frame) {
		st.offer(StreamMessage{Type: StreamFrame, Frame: &f}, true)
	}, typewriter.WithTimer(s.timer), typewriter.WithStartDelay(tw.StartDelay), typewriter.WithName("ws"))
	if err != nil {
		st.write(StreamMessage{Type: StreamError, Error: err.Error()})
		return
	}
	defer h.Stop()

	readDone := st.readLoop(nil)
	st.writeLoop(nil, readDone, nil)
}
