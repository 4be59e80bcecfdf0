package service

import (
	"errors"
	"net/http"

	"github.com/needful-app/needful/internal/database"
	svcerrors "github.com/needful-app/needful/internal/errors"
	"github.com/needful-app/needful/internal/httputil"
	"github.com/needful-app/needful/internal/logging"
)

// Authenticator guards routes. *middleware.AuthMiddleware satisfies it.
type Authenticator interface {
	Handler(next http.Handler) http.Handler
	Optional(next http.Handler) http.Handler
}

// StoreError maps repository errors onto API errors. Errors that are
// already service errors pass through.
func StoreError(err error, resource, id string) error {
	if err == nil {
		return nil
	}
	if se := svcerrors.GetServiceError(err); se != nil {
		return se
	}
	switch {
	case database.IsNotFound(err):
		return svcerrors.NotFound(resource, id)
	case database.IsConflict(err):
		return svcerrors.Conflict(resource + " already exists")
	case errors.Is(err, database.ErrInvalidInput):
		return svcerrors.BadRequest(err.Error())
	default:
		return svcerrors.Internal("database request failed", err)
	}
}

// WriteStoreError logs unexpected failures and writes the mapped error.
func WriteStoreError(w http.ResponseWriter, r *http.Request, logger *logging.Logger, err error, resource, id string) {
	mapped := StoreError(err, resource, id)
	if svcerrors.HTTPStatus(mapped) >= http.StatusInternalServerError && logger != nil {
		logger.WithContext(r.Context()).WithError(err).WithField("resource", resource).Error("request failed")
	}
	httputil.WriteError(w, r, mapped)
}
