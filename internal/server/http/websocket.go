package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	wsMaxMessageBytes = 64 << 10
	wsWriteTimeout    = 10 * time.Second
)

// Frame types pushed over /ws.
const (
	FrameDelta = "delta"
	FrameDone  = "done"
	FrameError = "error"
)

// ClientFrame is one user message sent over /ws.
type ClientFrame struct {
	Content string `json:"content"`
}

// ServerFrame is pushed to the client while a turn runs.
type ServerFrame struct {
	Type       string `json:"type"`
	Content    string `json:"content,omitempty"`
	StopReason string `json:"stop_reason,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

// handleWebSocket runs one turn per client frame on the thread named by the
// thread_id query parameter. Turns on one connection run one after another.
func (s *Server) handleWebSocket(c *gin.Context) {
	threadID := strings.TrimSpace(c.Query("thread_id"))
	if threadID == "" {
		c.JSON(http.StatusBadRequest, errorBody("thread_id is required"))
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("[thread:%s] Websocket upgrade failed: %v", threadID, err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(wsMaxMessageBytes)

	// A hijacked connection no longer cancels the request context, so the
	// reader cancels ctx when the peer goes away.
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	frames := make(chan ClientFrame)
	go s.readFrames(ctx, cancel, conn, threadID, frames)

	for {
		var frame ClientFrame
		select {
		case <-ctx.Done():
			return
		case frame = <-frames:
		}
		if strings.TrimSpace(frame.Content) == "" {
			if err := writeFrame(conn, ServerFrame{Type: FrameError, Detail: "content is required"}); err != nil {
				return
			}
			continue
		}

		var writeErr error
		reply, err := s.chat.StreamMessage(ctx, threadID, frame.Content, func(delta string) {
			if writeErr == nil {
				writeErr = writeFrame(conn, ServerFrame{Type: FrameDelta, Content: delta})
			}
		})
		if writeErr != nil {
			return
		}
		if err != nil {
			if ctx.Err() != nil {
				s.logger.Info("[thread:%s] Websocket peer left during turn: %v", threadID, err)
				return
			}
			s.logger.Error("[thread:%s] Turn failed: %v", threadID, err)
			if writeFrame(conn, ServerFrame{Type: FrameError, Detail: agentErrorDetail}) != nil {
				return
			}
			continue
		}
		done := ServerFrame{Type: FrameDone, Content: reply.Answer, StopReason: string(reply.StopReason)}
		if writeFrame(conn, done) != nil {
			return
		}
	}
}

// readFrames is the connection's only reader. It cancels the turn context
// once the peer disconnects or sends something unreadable.
func (s *Server) readFrames(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, threadID string, frames chan<- ClientFrame) {
	defer cancel()
	for {
		var frame ClientFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("[thread:%s] Websocket closed: %v", threadID, err)
			}
			return
		}
		select {
		case frames <- frame:
		case <-ctx.Done():
			return
		}
	}
}

func writeFrame(conn *websocket.Conn, frame ServerFrame) error {
	if err := conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(frame)
}
