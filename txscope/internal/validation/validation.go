// Package validation checks configuration structs by their validate tags.
package validation

import (
	"errors"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
)

var (
	validate    *validator.Validate
	initOnce    sync.Once
	errValidate error
)

func get() (*validator.Validate, error) {
	initOnce.Do(func() {
		vld := validator.New(validator.WithRequiredStructEnabled())

		if err := vld.RegisterValidation("notblank", validators.NotBlank); err != nil {
			errValidate = fmt.Errorf("registering notblank: %w", err)

			return
		}

		validate = vld
	})

	return validate, errValidate
}

// Struct validates v and describes the first failing field.
func Struct(v any) error {
	vld, err := get()
	if err != nil {
		return err
	}

	err = vld.Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		return describe(fieldErrs[0])
	}

	return err
}

func describe(fe validator.FieldError) error {
	switch fe.Tag() {
	case "notblank", "required":
		return fmt.Errorf("%s is required", fe.Field())
	case "gte":
		return fmt.Errorf("%s must be at least %s, got %v", fe.Field(), fe.Param(), fe.Value())
	case "lte":
		return fmt.Errorf("%s must be at most %s, got %v", fe.Field(), fe.Param(), fe.Value())
	case "oneof":
		return fmt.Errorf("%s must be one of [%s], got %q", fe.Field(), fe.Param(), fmt.Sprint(fe.Value()))
	}

	if fe.Param() == "" {
		return fmt.Errorf("%s failed %s", fe.Field(), fe.Tag())
	}

	return fmt.Errorf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param())
}
