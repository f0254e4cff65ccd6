package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/infrallm/infrallm/pkg/apperr"
	"github.com/infrallm/infrallm/pkg/chat"
)

type sendMessageRequest struct {
	Content string   `json:"content" binding:"required"`
	HostIDs []string `json:"hostIds"`
	Model   string   `json:"model"`
}

// sendMessageHandler implements POST /api/sessions/:id/messages — spec.md
// §6. It persists nothing itself: it hands off to the Chat Task Manager,
// which drives the LLM Orchestrator asynchronously and fans text
// deltas/status events out through the chat hub (spec.md §4.5/§4.9). The
// handler returns as soon as the turn is accepted, matching the
// spawns-a-cancelable-task data flow described in spec.md §2.
//
// hostIds in the request body is accepted for forward compatibility with a
// CRUD layer that could widen a session's host scope, but mutating
// Session.HostIDs is part of the out-of-scope CRUD surface (spec.md §1), so
// it is not applied here.
func (s *Server) sendMessageHandler(c *gin.Context) {
	sessionID := c.Param("id")
	orgID := identityOrgID(c)
	userID := identityUserID(c)

	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithKind(c, apperr.KindInvalidArgument, "content is required")
		return
	}

	session, err := s.store.Sessions().Get(c.Request.Context(), orgID, sessionID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if session.UserID != userID && !session.IsJobRunSession {
		abortWithError(c, apperr.Forbidden("session does not belong to caller"))
		return
	}

	var onDelta func(string)
	var onStatus func(string, map[string]any)
	if s.chatHub != nil {
		onDelta = s.chatHub.OnDelta(sessionID)
		onStatus = s.chatHub.OnStatus(sessionID)
	}

	err = s.chatManager.Start(sessionID, func(ctx context.Context) {
		// The HTTP response is already sent by the time this runs; failures
		// surface via the chat hub's status events and the persisted
		// assistant message, not an HTTP error.
		if _, err := s.orchestrator.SendMessageStream(ctx, session, userID, req.Content, req.Model, onDelta, onStatus); err != nil {
			slog.Error("api: chat turn failed", "sessionId", sessionID, "error", err)
		}
	})
	if err != nil {
		if errors.Is(err, chat.ErrSessionBusy) {
			abortWithKind(c, apperr.KindInvalidArgument, "session already has a message in flight")
			return
		}
		abortWithError(c, apperr.Internal("start chat task", err))
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"sessionId": sessionID, "status": "processing"})
}
