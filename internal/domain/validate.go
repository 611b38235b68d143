package domain

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate is safe for concurrent use and caches struct metadata.
var validate = validator.New(validator.WithRequiredStructEnabled())

// validateStruct runs the struct tags and maps the first failure onto the
// domain taxonomy: missing title/message/recipients is ErrMissingFields,
// an empty channel list is ErrNoChannels, anything else ErrInvalidInput.
func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	fe := verrs[0]
	ve := &ValidationError{
		Field:   fe.Field(),
		Message: fmt.Sprintf("failed on '%s' validation", fe.Tag()),
		Err:     ErrInvalidInput,
	}
	emptiness := fe.Tag() == "required" || fe.Tag() == "min"
	switch {
	case emptiness && isTopLevel(fe, "Title", "Message", "Recipients", "MessageTemplate", "Name"):
		ve.Err = ErrMissingFields
	case emptiness && isTopLevel(fe, "Channels"):
		ve.Err = ErrNoChannels
	}
	return ve
}

// isTopLevel matches a failure on the root struct's own field, not on a
// nested element such as Recipients[0].UserID.
func isTopLevel(fe validator.FieldError, names ...string) bool {
	_, field, _ := strings.Cut(fe.StructNamespace(), ".")
	return slices.Contains(names, field)
}
