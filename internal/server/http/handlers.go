package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"souschef/internal/agent/app"
)

const agentErrorDetail = "Agent error"

// SendMessageRequest is the body of POST /send_message.
type SendMessageRequest struct {
	ThreadID string `json:"thread_id" binding:"required"`
	Content  string `json:"content" binding:"required"`
}

// SendMessageResponse carries the final answer of a turn.
type SendMessageResponse struct {
	ThreadID string `json:"thread_id"`
	Content  string `json:"content"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) handleSendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("thread_id and content are required"))
		return
	}

	reply, err := s.chat.SendMessage(c.Request.Context(), req.ThreadID, req.Content)
	if err != nil {
		s.writeTurnError(c, req.ThreadID, err)
		return
	}
	c.JSON(http.StatusOK, SendMessageResponse{ThreadID: reply.ThreadID, Content: reply.Answer})
}

// handleStream answers GET /stream?thread_id=&message= with server-sent
// events, one per answer fragment. Newlines inside a fragment become <br> so
// each fragment fits on one data line.
func (s *Server) handleStream(c *gin.Context) {
	threadID := strings.TrimSpace(c.Query("thread_id"))
	message := c.Query("message")
	if threadID == "" {
		c.JSON(http.StatusBadRequest, errorBody("thread_id is required"))
		return
	}
	if strings.TrimSpace(message) == "" {
		c.JSON(http.StatusBadRequest, errorBody("message is required"))
		return
	}

	w := c.Writer
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	ctx := c.Request.Context()
	_, err := s.chat.StreamMessage(ctx, threadID, message, func(delta string) {
		if ctx.Err() != nil {
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", formatFragment(delta))
		w.Flush()
	})
	if err != nil && ctx.Err() == nil {
		s.logger.Error("[thread:%s] Stream failed: %v", threadID, err)
		fmt.Fprintf(w, "event: error\ndata: %s\n\n", agentErrorDetail)
		w.Flush()
	}
}

func (s *Server) handleHistory(c *gin.Context) {
	state, err := s.chat.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeThreadError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (s *Server) handleDeleteThread(c *gin.Context) {
	if err := s.chat.DeleteThread(c.Request.Context(), c.Param("id")); err != nil {
		s.writeThreadError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// writeTurnError hides turn failures behind a generic message; the cause is
// only logged.
func (s *Server) writeTurnError(c *gin.Context, threadID string, err error) {
	switch {
	case errors.Is(err, app.ErrThreadIDRequired), errors.Is(err, app.ErrEmptyMessage):
		c.JSON(http.StatusBadRequest, errorBody(err.Error()))
	case errors.Is(err, context.Canceled) && c.Request.Context().Err() != nil:
		// The client went away; nobody is listening for a body.
		c.Status(499)
	default:
		s.logger.Error("[thread:%s] Turn failed: %v", threadID, err)
		c.JSON(http.StatusInternalServerError, errorBody(agentErrorDetail))
	}
}

func (s *Server) writeThreadError(c *gin.Context, err error) {
	if errors.Is(err, app.ErrThreadIDRequired) {
		c.JSON(http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	s.logger.Error("Thread request failed: %v", err)
	c.JSON(http.StatusInternalServerError, errorBody(agentErrorDetail))
}

func formatFragment(delta string) string {
	delta = strings.ReplaceAll(delta, "\r\n", "\n")
	return strings.ReplaceAll(delta, "\n", "<br>")
}
