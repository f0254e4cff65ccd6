package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/infrallm/infrallm/pkg/apperr"
)

type testPolicyRequest struct {
	Command string `json:"command" binding:"required"`
}

// testPolicyHandler implements POST /api/policies/:id/test — the UI's
// dry-run tester described in spec.md §4.3's TestCommand.
func (s *Server) testPolicyHandler(c *gin.Context) {
	var req testPolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithKind(c, apperr.KindInvalidArgument, "command is required")
		return
	}

	result, err := s.policyEngine.TestCommand(c.Request.Context(), identityOrgID(c), c.Param("id"), req.Command)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}
