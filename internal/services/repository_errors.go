package services

import (
	"errors"

	"github.com/pawmart/api/internal/repositories"
)

func asRepositoryError(err error) (repositories.RepositoryError, bool) {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr, true
	}
	return nil, false
}

func isRepoNotFound(err error) bool {
	repoErr, ok := asRepositoryError(err)
	return ok && repoErr.IsNotFound()
}

func isRepoConflict(err error) bool {
	repoErr, ok := asRepositoryError(err)
	return ok && repoErr.IsConflict()
}

func isRepoUnavailable(err error) bool {
	repoErr, ok := asRepositoryError(err)
	return ok && repoErr.IsUnavailable()
}
