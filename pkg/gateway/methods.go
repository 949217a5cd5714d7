package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/harun/chatrelay/internal/tracing"
	"github.com/harun/chatrelay/pkg/relay"
)

// registerBuiltinMethods registers all built-in RPC methods
func (s *Server) registerBuiltinMethods() {
	_ = s.RegisterMethod("models.list", s.handleModelsList)
	_ = s.RegisterMethod("sessions.list", s.handleSessionsList)
	_ = s.RegisterMethod("sessions.create", s.handleSessionsCreate)
	_ = s.RegisterMethod("sessions.get", s.handleSessionsGet)
	_ = s.RegisterMethod("sessions.delete", s.handleSessionsDelete)
	_ = s.RegisterMethod("sessions.setTitle", s.handleSessionsSetTitle)
	_ = s.RegisterMethod("sessions.setModel", s.handleSessionsSetModel)
	_ = s.RegisterMethod("sessions.clear", s.handleSessionsClear)
	_ = s.RegisterMethod("sessions.watch", s.handleSessionsWatch)
	_ = s.RegisterMethod("sessions.unwatch", s.handleSessionsUnwatch)
	_ = s.RegisterMethod("chat.send", s.handleChatSend)
	_ = s.RegisterMethod("chat.wait", s.handleChatWait)
	_ = s.RegisterMethod("chat.abort", s.handleChatAbort)
}

func (s *Server) handleModelsList(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	return map[string]interface{}{"models": s.relay.ListModels()}, nil
}

func (s *Server) handleSessionsList(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	return map[string]interface{}{"sessions": s.relay.ListSessions()}, nil
}

func (s *Server) handleSessionsCreate(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	title, err := optionalString(params, "title")
	if err != nil {
		return nil, err
	}
	model, err := optionalString(params, "model")
	if err != nil {
		return nil, err
	}

	view, err := s.relay.CreateSession(ctx, relay.CreateParams{Title: title, Model: model})
	if err != nil {
		return nil, err
	}
	s.notifySessions("created", view.ID)
	return view, nil
}

func (s *Server) handleSessionsGet(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	sessionID, err := requiredString(params, "session_id")
	if err != nil {
		return nil, err
	}
	view, err := s.relay.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	return view, nil
}

func (s *Server) handleSessionsDelete(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	sessionID, err := requiredString(params, "session_id")
	if err != nil {
		return nil, err
	}
	if err := s.relay.DeleteSession(ctx, sessionID); err != nil {
		return nil, err
	}
	s.notifySessions("deleted", sessionID)
	return map[string]interface{}{"success": true}, nil
}

func (s *Server) handleSessionsSetTitle(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	sessionID, err := requiredString(params, "session_id")
	if err != nil {
		return nil, err
	}
	title, err := optionalString(params, "title")
	if err != nil {
		return nil, err
	}
	if err := s.relay.SetTitle(ctx, sessionID, title); err != nil {
		return nil, err
	}
	s.notifySessions("title", sessionID)
	return map[string]interface{}{"success": true}, nil
}

func (s *Server) handleSessionsSetModel(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	sessionID, err := requiredString(params, "session_id")
	if err != nil {
		return nil, err
	}
	model, err := optionalString(params, "model")
	if err != nil {
		return nil, err
	}
	if err := s.relay.SetModel(ctx, sessionID, model); err != nil {
		return nil, err
	}
	s.notifySessions("model", sessionID)
	return map[string]interface{}{"success": true}, nil
}

func (s *Server) handleSessionsClear(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	sessionID, err := requiredString(params, "session_id")
	if err != nil {
		return nil, err
	}
	if err := s.relay.ClearHistory(ctx, sessionID); err != nil {
		return nil, err
	}
	s.notifySessions("cleared", sessionID)
	return map[string]interface{}{"success": true}, nil
}

// handleSessionsWatch limits the caller's sessions.changed notifications to
// the sessions it watches. Global events still reach every client.
func (s *Server) handleSessionsWatch(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	sessionID, err := requiredString(params, "session_id")
	if err != nil {
		return nil, err
	}
	if _, err := s.relay.GetSession(sessionID); err != nil {
		return nil, err
	}
	if !s.clients.Watch(tracing.GetClientID(ctx), sessionID) {
		return nil, &RPCError{Code: InvalidRequest, Message: "watching requires a websocket connection"}
	}
	return map[string]interface{}{"watching": sessionID}, nil
}

func (s *Server) handleSessionsUnwatch(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	sessionID, err := requiredString(params, "session_id")
	if err != nil {
		return nil, err
	}
	removed := s.clients.Unwatch(tracing.GetClientID(ctx), sessionID)
	return map[string]interface{}{"removed": removed}, nil
}

// handleChatSend streams a turn to the calling client as chat.delta
// notifications followed by chat.done or chat.error, then answers the request
func (s *Server) handleChatSend(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	sessionID, err := requiredString(params, "session_id")
	if err != nil {
		return nil, err
	}
	message, err := requiredString(params, "message")
	if err != nil {
		return nil, err
	}

	ctx = tracing.WithSessionID(ctx, sessionID)
	events, err := s.relay.Submit(ctx, sessionID, message)
	if err != nil {
		return nil, err
	}

	client, _ := s.clients.Get(tracing.GetClientID(ctx))
	logger := tracing.LoggerFromContext(ctx, s.logger)

	var result map[string]interface{}
	var turnErr *RPCError
	for ev := range events {
		var note EventMessage
		switch ev.Type {
		case relay.EventContent:
			note = EventMessage{Event: "chat.delta", Data: map[string]interface{}{
				"session_id": sessionID,
				"turn_id":    ev.TurnID,
				"content":    ev.Content,
			}}
		case relay.EventDone:
			result = map[string]interface{}{"turn_id": ev.TurnID, "reply": ev.Reply}
			note = EventMessage{Event: "chat.done", Data: map[string]interface{}{
				"session_id": sessionID,
				"turn_id":    ev.TurnID,
				"reply":      ev.Reply,
			}}
		case relay.EventError:
			turnErr = &RPCError{
				Code:    InternalError,
				Message: ev.Error,
				Data:    map[string]interface{}{"kind": ev.Kind, "turn_id": ev.TurnID},
			}
			note = EventMessage{Event: "chat.error", Data: map[string]interface{}{
				"session_id": sessionID,
				"turn_id":    ev.TurnID,
				"kind":       ev.Kind,
				"error":      ev.Error,
			}}
		}

		if client == nil {
			continue
		}
		note.TraceID = tracing.GetTraceID(ctx)
		if err := client.WriteJSON(s.broadcaster.Stamp(note)); err != nil {
			// The turn keeps running; a closed connection cancels ctx and rolls it back.
			logger.Debug().Err(err).Str("event", note.Event).Msg("Failed to send chat notification")
		}
	}

	if turnErr != nil {
		return nil, turnErr
	}
	if result == nil {
		// Events closed without a terminal event: the connection went away.
		return nil, turnError(relay.ErrNoOutcome)
	}
	s.notifySessions("message", sessionID)
	return result, nil
}

// handleChatWait runs a non-streaming turn and returns the reply
func (s *Server) handleChatWait(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	sessionID, err := requiredString(params, "session_id")
	if err != nil {
		return nil, err
	}
	message, err := requiredString(params, "message")
	if err != nil {
		return nil, err
	}

	// stream=true drains a streamed turn, for upstreams that only serve SSE
	stream, err := optionalBool(params, "stream")
	if err != nil {
		return nil, err
	}

	ctx = tracing.WithSessionID(ctx, sessionID)
	var reply string
	if stream {
		reply, err = s.relay.SubmitSync(ctx, sessionID, message)
	} else {
		reply, err = s.relay.CompleteOnce(ctx, sessionID, message)
	}
	if err != nil {
		return nil, turnError(err)
	}
	s.notifySessions("message", sessionID)
	return map[string]interface{}{"session_id": sessionID, "reply": reply}, nil
}

func (s *Server) handleChatAbort(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	sessionID, err := requiredString(params, "session_id")
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"aborted": s.relay.Abort(sessionID)}, nil
}

// turnError keeps validation errors as they are and describes turn failures
// the same way streamed error events do
func turnError(err error) error {
	if rpcErr := toRPCError(err); rpcErr.Code != InternalError {
		return rpcErr
	}
	kind, msg := relay.Describe(err)
	return &RPCError{Code: InternalError, Message: msg, Data: map[string]interface{}{"kind": kind}}
}

func requiredString(params map[string]interface{}, name string) (string, error) {
	value, ok := params[name].(string)
	if !ok || strings.TrimSpace(value) == "" {
		return "", &RPCError{
			Code:    InvalidParams,
			Message: fmt.Sprintf("%s parameter is required and must be a string", name),
		}
	}
	return value, nil
}

func optionalString(params map[string]interface{}, name string) (string, error) {
	raw, exists := params[name]
	if !exists || raw == nil {
		return "", nil
	}
	value, ok := raw.(string)
	if !ok {
		return "", &RPCError{
			Code:    InvalidParams,
			Message: fmt.Sprintf("%s parameter must be a string", name),
		}
	}
	return value, nil
}

func optionalBool(params map[string]interface{}, name string) (bool, error) {
	raw, exists := params[name]
	if !exists || raw == nil {
		return false, nil
	}
	value, ok := raw.(bool)
	if !ok {
		return false, &RPCError{
			Code:    InvalidParams,
			Message: fmt.Sprintf("%s parameter must be a boolean", name),
		}
	}
	return value, nil
}
