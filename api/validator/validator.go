// Package validator wraps struct validation for API request bodies.
package validator

import (
	"github.com/go-playground/validator/v10"
)

// Validator validates request bodies against their struct tags.
type Validator struct {
	cli *validator.Validate
}

// New initializes and returns a new Validator.
func New() *Validator {
	return &Validator{
		cli: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// ValidationError describes one failed field.
type ValidationError struct {
	Field   string
	Message string
}

// ValidateStruct validates s and returns one error per failed field, or nil
// when s is valid.
func (v *Validator) ValidateStruct(s any) []ValidationError {
	err := v.cli.Struct(s)
	if err == nil {
		return nil
	}

	var errs []ValidationError
	for _, fe := range err.(validator.ValidationErrors) {
		errs = append(errs, ValidationError{
			Field:   fe.StructField(),
			Message: fe.Error(),
		})
	}
	return errs
}
