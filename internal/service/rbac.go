package service

import (
	"database/sql"
	"errors"

	"github.com/Kaizenpbc/cpr-apr12-sub000/internal/models"
	appErrors "github.com/Kaizenpbc/cpr-apr12-sub000/pkg/errors"
)

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// requireRoles is the single capability check applied before any transition:
// the actor must hold one of the allowed roles.
func requireRoles(actor models.Actor, roles ...models.UserRole) error {
	if actor.HasRole(roles...) {
		return nil
	}
	return appErrors.Clone(appErrors.ErrForbidden, "role is not permitted to perform this action")
}
