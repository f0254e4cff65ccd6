package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/infrallm/infrallm/pkg/apperr"
)

// notFoundOr maps pgx.ErrNoRows to an apperr.NotFound for entity/id, and
// anything else to apperr.Internal. Every repository lookup goes through
// this so a row scoped to the wrong organization_id reads identically to a
// row that never existed (spec.md §8 scenario 6).
func notFoundOr(err error, entity, id string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound(entity, id)
	}
	return apperr.Internal("query "+entity, err)
}
