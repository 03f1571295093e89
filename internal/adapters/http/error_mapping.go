package httpadapter

import (
	"net/http"

	"github.com/akarpov/archivarius/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case domain.IsKind(err, domain.ErrJobNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrLeaseConflict):
		return http.StatusConflict
	case domain.IsKind(err, domain.ErrTransientProvider):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
