package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

const (
	defaultAuditPageSize = 50
	maxAuditPageSize     = 200
)

// auditSearchHandler implements GET /api/audit?limit=&offset= — spec.md §6's
// "paginated search", scoped to the caller's organization per spec.md §3's
// tenant-isolation invariant.
func (s *Server) auditSearchHandler(c *gin.Context) {
	limit := queryInt(c, "limit", defaultAuditPageSize)
	if limit <= 0 || limit > maxAuditPageSize {
		limit = defaultAuditPageSize
	}
	offset := queryInt(c, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	logs, err := s.auditLogger.Search(c.Request.Context(), identityOrgID(c), limit, offset)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"items": logs, "limit": limit, "offset": offset})
}

func queryInt(c *gin.Context, key string, def int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
