// Package api wires InfraLLM's core components to a gin HTTP surface —
// the handful of endpoints SPEC_FULL.md §6 names as needed to exercise the
// core end to end (the CRUD surface for hosts/policies/credentials/jobs/
// users is an out-of-scope external collaborator per spec.md §1). Grounded
// on the teacher's pkg/api/server.go route-group layout and
// cmd/tarsy/main.go's gin.Default()/router.Run wiring, translated from
// echo's error-middleware idiom to gin's centralize-at-the-edge pattern.
package api

import (
	"errors"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/infrallm/infrallm/pkg/apperr"
)

// ErrorEnvelope is the JSON error shape every failed request returns —
// spec.md §6 "Error envelope".
type ErrorEnvelope struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	StatusCode int   `json:"statusCode"`
	Timestamp string `json:"timestamp"`
}

// abortWithError translates err into the §7 error taxonomy and writes the
// §6 envelope, logging internal errors with their full cause.
func abortWithError(c *gin.Context, err error) {
	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		appErr = apperr.Internal("unhandled error", err)
	}

	if appErr.Kind == apperr.KindInternal {
		slog.Error("api: internal error", "path", c.Request.URL.Path, "error", appErr.Error())
	}

	c.AbortWithStatusJSON(appErr.Kind.StatusCode(), ErrorEnvelope{
		Error:      appErr.Error(),
		Code:       string(appErr.Kind),
		StatusCode: appErr.Kind.StatusCode(),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	})
}

// abortWithKind is a convenience for handlers that want to raise a bare
// taxonomy error without an underlying cause (e.g. a missing body field).
func abortWithKind(c *gin.Context, kind apperr.Kind, message string) {
	abortWithError(c, apperr.New(kind, message))
}
