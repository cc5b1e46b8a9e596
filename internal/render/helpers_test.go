package render

import (
	"errors"

	"github.com/pingsantohq/smokestack/internal/catalog"
)

func errorsIsValidation(err error) bool {
	return errors.Is(err, catalog.ErrValidation)
}
