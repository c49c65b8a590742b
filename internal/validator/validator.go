package validator

import (
	"reflect"
	"regexp"
	"strings"

	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/models"
	"github.com/go-playground/validator/v10"
)

var (
	phonePattern = regexp.MustCompile(`^\+?[0-9][0-9 \-]{6,18}[0-9]$`)
	pinPattern   = regexp.MustCompile(`^[0-9]{4,8}$`)
)

// Validator wraps the struct validator with the portal's custom rules
type Validator struct {
	structValidator *validator.Validate
}

// New creates a new centralized validator instance
func New() *Validator {
	structValidator := validator.New()

	registerCustomValidators(structValidator)

	return &Validator{
		structValidator: structValidator,
	}
}

// ValidateStruct validates struct tags only
func (v *Validator) ValidateStruct(s interface{}) error {
	return v.structValidator.Struct(s)
}

// Validate validates struct tags and converts failures to ValidationErrors
func (v *Validator) Validate(s interface{}) error {
	err := v.ValidateStruct(s)
	if err == nil {
		return nil
	}
	if errs := ToValidationErrors(err); len(errs) > 0 {
		return errs
	}
	return err
}

// ValidateVar validates a single value against a tag
func (v *Validator) ValidateVar(field interface{}, tag string) error {
	return v.structValidator.Var(field, tag)
}

// registerCustomValidators registers all custom validation functions
func registerCustomValidators(validate *validator.Validate) {
	validate.RegisterValidation("user_role", validateUserRole)
	validate.RegisterValidation("persona", validatePersona)
	validate.RegisterValidation("gender", validateGender)
	validate.RegisterValidation("phone", validatePhone)
	validate.RegisterValidation("security_pin", validateSecurityPIN)

	// Custom tag name function for better error messages
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

func validateUserRole(fl validator.FieldLevel) bool {
	return models.UserRole(fl.Field().String()).IsValid()
}

func validatePersona(fl validator.FieldLevel) bool {
	return models.ChatPersona(fl.Field().String()).IsValid()
}

func validateGender(fl validator.FieldLevel) bool {
	switch strings.ToLower(fl.Field().String()) {
	case "male", "female", "other":
		return true
	}
	return false
}

func validatePhone(fl validator.FieldLevel) bool {
	return phonePattern.MatchString(fl.Field().String())
}

func validateSecurityPIN(fl validator.FieldLevel) bool {
	return pinPattern.MatchString(fl.Field().String())
}
