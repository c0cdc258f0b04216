package contracts

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/domain"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("asset_hash", func(fl validator.FieldLevel) bool {
		_, err := domain.ParseAssetHash(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("wallet", func(fl validator.FieldLevel) bool {
		_, err := domain.ParseIdentity(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("license_type", func(fl validator.FieldLevel) bool {
		_, err := domain.ParseLicenseType(fl.Field().String())
		return err == nil
	})
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks struct tags and reports every failing field in one
// domain.ErrInvalidInput.
func Validate(req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		parts = append(parts, describe(fe))
	}
	return fmt.Errorf("%w: %s", domain.ErrInvalidInput, strings.Join(parts, "; "))
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "asset_hash":
		return fe.Field() + " must be 64 hex characters"
	case "wallet":
		return fe.Field() + " must be a base58 wallet address"
	case "license_type":
		return fe.Field() + " must be Exclusive or NonExclusive"
	default:
		return fe.Field() + " failed " + fe.Tag()
	}
}
