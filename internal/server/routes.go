package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/plaudern/plaudern/internal/chat"
	"github.com/plaudern/plaudern/internal/roomsync"
)

// messagesResponse is the body of GET /api/messages and the payload of the
// "messages" stream event.
type messagesResponse struct {
	Room     string         `json:"room"`
	State    string         `json:"state"`
	Messages []chat.Message `json:"messages"`
}

// postMessageRequest is the body of POST /api/messages.
type postMessageRequest struct {
	Text     string         `json:"text"`
	Image    string         `json:"image"`
	Location *chat.Location `json:"location"`
}

// draft converts the request into a draft. Setting both image and location
// yields an attachment that fails validation.
func (r postMessageRequest) draft() chat.Draft {
	d := chat.Draft{Text: r.Text}
	if r.Image != "" || r.Location != nil {
		d.Attachment = &chat.Attachment{Image: r.Image, Location: r.Location}
	}
	return d
}

type statusResponse struct {
	State        string      `json:"state"`
	Connectivity string      `json:"connectivity"`
	Room         string      `json:"room"`
	User         chat.Sender `json:"user"`
	Color        string      `json:"color,omitempty"`
}

func handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func (s *Server) handleListMessages() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, s.snapshot(s.engine.Messages()))
	}
}

func (s *Server) snapshot(msgs []chat.Message) messagesResponse {
	if msgs == nil {
		msgs = []chat.Message{}
	}
	return messagesResponse{
		Room:     s.engine.Room(),
		State:    s.engine.State().String(),
		Messages: msgs,
	}
}

func (s *Server) handlePostMessage() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req postMessageRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		d := req.draft()
		if err := d.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		err := s.engine.Submit(c.Request.Context(), d)
		switch {
		case err == nil:
			c.JSON(http.StatusCreated, gin.H{"status": "sent"})
		case errors.Is(err, roomsync.ErrNotConnected), errors.Is(err, roomsync.ErrClosed):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "not connected"})
		case roomsync.IsKind(err, roomsync.AppendFailure):
			s.log.Warn().Err(err).Msg("submit failed")
			c.JSON(http.StatusBadGateway, gin.H{"error": errors.Unwrap(err).Error()})
		default:
			s.log.Error().Err(err).Msg("submit failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
	}
}

func (s *Server) handleStatus() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, statusResponse{
			State:        s.engine.State().String(),
			Connectivity: s.conn.State().String(),
			Room:         s.engine.Room(),
			User:         s.engine.User(),
			Color:        s.engine.Display().Color,
		})
	}
}
