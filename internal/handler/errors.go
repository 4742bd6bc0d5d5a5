package handler

import (
	"errors"
	"net/http"

	"github.com/kanggyeonggu/identity-service/internal/repository"
	"github.com/kanggyeonggu/identity-service/internal/service"
	"github.com/kanggyeonggu/identity-service/internal/token"
)

// statusFor maps domain errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, token.ErrInvalidToken), errors.Is(err, service.ErrRefreshInvalid):
		return http.StatusUnauthorized
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, repository.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
