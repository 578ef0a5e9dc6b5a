package handler

import (
	"errors"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/contentworks/drivebridge/internal/auth"
	"github.com/contentworks/drivebridge/internal/drive"
	"github.com/contentworks/drivebridge/internal/repo"
	"github.com/contentworks/drivebridge/internal/session"
)

// statusNameConstraint has no stdlib constant; the frontend treats it as
// "rename and retry".
const statusNameConstraint = 419

// statusFor maps engine errors to transport status codes. Remote service
// errors carry their upstream status through unchanged; credential failures
// become a bad gateway so the frontend re-triggers interactive auth.
func statusFor(err error) int {
	var remote *drive.StatusError
	switch {
	case errors.Is(err, session.ErrNoSession):
		return http.StatusNotAcceptable
	case errors.Is(err, session.ErrConcurrentEditors),
		errors.Is(err, session.ErrAlreadyCheckedOut):
		return http.StatusConflict
	case errors.Is(err, session.ErrUnsupportedType):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, session.ErrAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, session.ErrLockedByOther):
		return http.StatusLocked
	case errors.Is(err, repo.ErrNameConstraint), errors.Is(err, repo.ErrNameExists):
		return statusNameConstraint
	case errors.Is(err, repo.ErrNotFound), errors.Is(err, drive.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, auth.ErrNotAuthenticated), errors.Is(err, auth.ErrNoRefreshToken):
		return http.StatusBadGateway
	case errors.As(err, &remote):
		return remote.Code
	default:
		return http.StatusInternalServerError
	}
}

// errorResponse renders err with its mapped status.
func errorResponse(err error) events.APIGatewayProxyResponse {
	return textResponse(statusFor(err), err.Error())
}
