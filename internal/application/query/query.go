// Package query contains read operations (CQRS - Queries).
//
// Queries read committed state through uow.UnitOfWork.Reader and never
// write. Each query has its own handler and DTO.
package query

import (
	"github.com/alem-hub/learning-engine/internal/application/uow"
	"github.com/alem-hub/learning-engine/internal/domain/shared"
)

// Source provides read-only repositories. uow.UnitOfWork and saga.Runner
// both satisfy it.
type Source interface {
	Reader() uow.Repositories
}

func requireUser(op string, userID shared.UserID) error {
	if userID.IsEmpty() {
		return shared.NewDomainError("query", op, shared.ErrInvalidInput, "user_id is required")
	}
	return nil
}
