package validator

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"dicebet/internal/game"

	playground "github.com/go-playground/validator/v10"
)

var (
	ErrInvalidPhone    = errors.New("invalid phone")
	ErrInvalidPassword = errors.New("invalid password")
)

var phoneRegex = regexp.MustCompile(`^\+?[0-9]{9,15}$`)

var validate = newValidate()

func newValidate() *playground.Validate {
	v := playground.New(playground.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("phone", func(fl playground.FieldLevel) bool {
		return phoneRegex.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("outcome", func(fl playground.FieldLevel) bool {
		return game.ValidOutcome(int(fl.Field().Int()))
	})
	return v
}

// FieldError names the first request field that failed and the rule it broke.
type FieldError struct {
	Field string
	Rule  string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Rule)
}

// Struct validates a request struct using its `validate` tags.
func Struct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var errs playground.ValidationErrors
	if errors.As(err, &errs) && len(errs) > 0 {
		return &FieldError{Field: errs[0].Field(), Rule: errs[0].Tag()}
	}
	return err
}

func ValidatePhone(phone string) error {
	if err := validate.Var(phone, "required,phone"); err != nil {
		return ErrInvalidPhone
	}
	return nil
}

func ValidatePassword(password string) error {
	if err := validate.Var(password, "required,min=6,max=72"); err != nil {
		return ErrInvalidPassword
	}
	return nil
}
