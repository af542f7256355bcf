// server/rpc/validate.go
package rpc

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/vinizap/haku/server/domain"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks the struct tags of v and reports the first failing field as
// a domain.ValidationError. Non-struct values always pass.
func Validate(v interface{}) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var invalid *validator.InvalidValidationError
	if errors.As(err, &invalid) {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		return fieldError(fieldErrs[0])
	}
	return domain.ValidationError{Reason: err.Error()}
}

func fieldError(e validator.FieldError) domain.ValidationError {
	field := e.Field()
	switch e.Tag() {
	case "required":
		return domain.ValidationError{Field: field, Reason: "is required"}
	case "min":
		return domain.ValidationError{Field: field, Reason: fmt.Sprintf("must be at least %s", e.Param())}
	case "max":
		return domain.ValidationError{Field: field, Reason: fmt.Sprintf("must be at most %s", e.Param())}
	case "email":
		return domain.ValidationError{Field: field, Reason: "must be a valid email"}
	case "oneof":
		return domain.ValidationError{Field: field, Reason: "must be one of: " + e.Param()}
	case "uuid", "uuid4":
		return domain.ValidationError{Field: field, Reason: "must be a UUID"}
	default:
		return domain.ValidationError{Field: field, Reason: "is invalid"}
	}
}
