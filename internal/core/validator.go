package core

import (
	"errors"

	"github.com/go-playground/validator/v10"

	"metergate/internal/types"
)

// Validator wraps go-playground/validator for request DTO validation. A
// single instance is shared by all handlers; the library caches struct
// metadata internally.
type Validator struct {
	v *validator.Validate
}

// NewValidator creates the shared request validator.
func NewValidator() *Validator {
	return &Validator{v: validator.New()}
}

// ValidateStruct checks dst against its validate tags, translating failures
// into a 400-class AppError listing the offending fields.
func (val *Validator) ValidateStruct(dst any) error {
	err := val.v.Struct(dst)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "validation failed", err)
	}

	fields := make(map[string]any, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Tag()
	}
	return types.NewAppErrorWithDetails(types.ErrCodeValidationMissingField,
		"request failed validation", err, map[string]any{"fields": fields})
}
