package domain

import (
	"chat-sync/errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

func validateStruct(s any) error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrValidation, err)
	}
	return nil
}

func validateVar(value, tag, name string) error {
	if err := validate.Var(value, tag); err != nil {
		return fmt.Errorf("%w: %s %q: %v", errors.ErrValidation, name, value, err)
	}
	return nil
}
