package api

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/infrallm/infrallm/pkg/apperr"
)

// webhookHandler implements POST /api/jobs/webhook/:jobID?secret=... —
// spec.md §4.8. It is deliberately outside the authenticated route group:
// tenancy and authorization are proven entirely by the per-job webhook
// secret, matching spec.md §6's "unauth; secret-guarded" annotation.
func (s *Server) webhookHandler(c *gin.Context) {
	jobID := c.Param("jobID")
	secret := c.Query("secret")

	job, err := s.store.Jobs().GetByID(c.Request.Context(), jobID)
	if err != nil {
		abortWithError(c, err)
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		abortWithKind(c, apperr.KindInvalidArgument, "failed to read request body")
		return
	}

	run, err := s.jobsEngine.TriggerWebhook(c.Request.Context(), job.OrganizationID, jobID, secret, string(body))
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"jobRunId":    run.ID,
		"status":      run.Status,
		"triggeredBy": run.TriggeredBy,
	})
}
