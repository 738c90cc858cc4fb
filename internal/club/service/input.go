package service

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report fields by their form name so messages map straight onto inputs.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("form"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// RegisterInput is the registration form.
type RegisterInput struct {
	Email           string `form:"email" validate:"required,email,max=254"`
	Name            string `form:"name" validate:"max=100"`
	Password        string `form:"password" validate:"required,max=128"`
	ConfirmPassword string `form:"confirm_password" validate:"required,eqfield=Password"`
}

// LoginInput is the sign-in form. Code is only needed when the account has
// a second factor; it accepts a TOTP code or a backup code.
type LoginInput struct {
	Email    string `form:"email" validate:"required,email,max=254"`
	Password string `form:"password" validate:"required,max=128"`
	Code     string `form:"code" validate:"omitempty,max=64"`
}

// CreateAdminInput is collected by the command line tool.
type CreateAdminInput struct {
	Email    string `form:"email" validate:"required,email,max=254"`
	Name     string `form:"name" validate:"max=100"`
	Password string `form:"password" validate:"required,max=128"`
}

type ForgotPasswordInput struct {
	Email string `form:"email" validate:"required,email,max=254"`
}

type ResendVerificationInput struct {
	Email string `form:"email" validate:"required,email,max=254"`
}

type ResetPasswordInput struct {
	Token           string `form:"token" validate:"required,max=128"`
	Password        string `form:"password" validate:"required,max=128"`
	ConfirmPassword string `form:"confirm_password" validate:"required,eqfield=Password"`
}

type ProfileInput struct {
	Name  string `form:"name" validate:"max=100"`
	Phone string `form:"phone" validate:"omitempty,max=32,printascii"`
	Bio   string `form:"bio" validate:"max=1000"`
}

type ChangePasswordInput struct {
	CurrentPassword string `form:"current_password" validate:"required,max=128"`
	NewPassword     string `form:"new_password" validate:"required,max=128"`
	ConfirmPassword string `form:"confirm_password" validate:"required,eqfield=NewPassword"`
}

type MFACodeInput struct {
	Code string `form:"code" validate:"required,max=64"`
}

type StatusInput struct {
	Status string `form:"status" validate:"required,oneof=active inactive"`
}

func normaliseEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// validateInput runs struct validation and collects failures per field. The
// result may be empty; callers add policy failures and then call orNil.
func validateInput(in any) *ValidationError {
	verr := newValidationError()

	err := validate.Struct(in)
	if err == nil {
		return verr
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		verr.Add("_form", "The form could not be processed.")
		return verr
	}
	for _, fe := range fieldErrs {
		verr.Add(fe.Field(), fieldMessage(fe))
	}
	return verr
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "This field is required."
	case "email":
		return "Enter a valid email address."
	case "max":
		return fmt.Sprintf("Must be at most %s characters.", fe.Param())
	case "eqfield":
		return "Passwords do not match."
	case "oneof":
		return "Choose one of: " + fe.Param() + "."
	case "printascii":
		return "Use digits, spaces and + ( ) - only."
	default:
		return "This value is not valid."
	}
}
