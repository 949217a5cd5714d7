package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/harun/chatrelay/internal/observability"
	"github.com/harun/chatrelay/internal/tracing"
	"github.com/harun/chatrelay/pkg/relay"
)

const transportSSE = "sse"

type titleRequest struct {
	Title string `json:"title"`
}

type modelRequest struct {
	Model string `json:"model"`
}

type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

func (s *Server) registerRoutes(engine *gin.Engine) {
	api := engine.Group("/api")

	api.GET("/models", s.handleListModels)

	api.GET("/sessions", s.handleListSessions)
	api.POST("/sessions", s.handleCreateSession)
	api.GET("/sessions/:id", s.handleGetSession)
	api.DELETE("/sessions/:id", s.handleDeleteSession)
	api.PUT("/sessions/:id/title", s.handleSetTitle)
	api.PUT("/sessions/:id/model", s.handleSetModel)
	api.POST("/sessions/:id/clear", s.handleClearSession)

	api.POST("/chat", s.handleChat)
}

func (s *Server) handleListModels(c *gin.Context) {
	c.JSON(http.StatusOK, s.relay.ListModels())
}

func (s *Server) handleListSessions(c *gin.Context) {
	c.JSON(http.StatusOK, s.relay.ListSessions())
}

func (s *Server) handleCreateSession(c *gin.Context) {
	var params relay.CreateParams
	// An empty body creates a session with the default title and model.
	if err := c.ShouldBindJSON(&params); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, "invalid request body")
		return
	}

	view, err := s.relay.CreateSession(c.Request.Context(), params)
	if err != nil {
		s.writeError(c, err)
		return
	}
	s.notifySessions("created", view.ID)
	c.JSON(http.StatusOK, view)
}

func (s *Server) handleGetSession(c *gin.Context) {
	view, err := s.relay.GetSession(c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) handleDeleteSession(c *gin.Context) {
	id := c.Param("id")
	if err := s.relay.DeleteSession(c.Request.Context(), id); err != nil {
		s.writeError(c, err)
		return
	}
	s.notifySessions("deleted", id)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleSetTitle(c *gin.Context) {
	var req titleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	id := c.Param("id")
	if err := s.relay.SetTitle(c.Request.Context(), id, req.Title); err != nil {
		s.writeError(c, err)
		return
	}
	s.notifySessions("title", id)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleSetModel(c *gin.Context) {
	var req modelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	id := c.Param("id")
	if err := s.relay.SetModel(c.Request.Context(), id, req.Model); err != nil {
		s.writeError(c, err)
		return
	}
	s.notifySessions("model", id)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleClearSession(c *gin.Context) {
	id := c.Param("id")
	if err := s.relay.ClearHistory(c.Request.Context(), id); err != nil {
		s.writeError(c, err)
		return
	}
	s.notifySessions("cleared", id)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// handleChat runs one turn and streams it as server-sent events. The turn is
// rolled back if the client disconnects before it commits.
func (s *Server) handleChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	if strings.TrimSpace(req.SessionID) == "" || strings.TrimSpace(req.Message) == "" {
		badRequest(c, "session_id and message are required")
		return
	}

	ctx := tracing.WithSessionID(c.Request.Context(), req.SessionID)
	events, err := s.relay.Submit(ctx, req.SessionID, req.Message)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	observability.StreamClientConnected(transportSSE)
	defer observability.StreamClientDisconnected(transportSSE)

	logger := tracing.LoggerFromContext(ctx, s.logger)
	for ev := range events {
		switch ev.Type {
		case relay.EventContent:
			writeSSE(c.Writer, gin.H{"content": ev.Content})
		case relay.EventDone:
			fmt.Fprint(c.Writer, "data: [DONE]\n\n")
			s.notifySessions("message", req.SessionID)
		case relay.EventError:
			logger.Debug().Str("turn_id", ev.TurnID).Str("kind", ev.Kind).Msg("Streaming turn error to client")
			writeSSE(c.Writer, gin.H{"error": ev.Error})
		}
		c.Writer.Flush()
	}
}

// writeSSE writes a single data-only SSE event to the writer.
func writeSSE(w io.Writer, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", jsonData)
}

// writeError maps relay errors onto HTTP status codes
func (s *Server) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, relay.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, relay.ErrInvalidInput):
		status = http.StatusBadRequest
	default:
		logger := tracing.LoggerFromContext(c.Request.Context(), s.logger)
		logger.Error().Err(err).Str("path", c.FullPath()).Msg("Request failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

// notifySessions tells websocket clients that the session list changed.
// Creation goes to everyone; other actions go to the session's audience.
func (s *Server) notifySessions(action, sessionID string) {
	data := map[string]interface{}{
		"action":     action,
		"session_id": sessionID,
	}
	switch action {
	case "created":
		s.broadcaster.Broadcast("sessions.changed", data)
	case "deleted":
		s.broadcaster.Notify(sessionID, "sessions.changed", data)
		s.clients.ForgetSession(sessionID)
	default:
		s.broadcaster.Notify(sessionID, "sessions.changed", data)
	}
}
