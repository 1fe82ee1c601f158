package datastore

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/JakeFAU/netwatch/internal/netwatch"
	"github.com/JakeFAU/netwatch/internal/schedule"
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("cron", func(fl validator.FieldLevel) bool {
		return schedule.Validate(fl.Field().String()) == nil
	})
	return v
}

// validateItem checks struct tags plus the cross-field rules tags cannot express.
func (s *Store) validateItem(item netwatch.WatchItem) error {
	if err := s.validate.Struct(item); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			if fe.Tag() == "cron" {
				return schedule.Validate(item.Frequency)
			}
			return netwatch.Validationf("field %q failed %q check (value %q)", fe.Field(), fe.Tag(), fe.Value())
		}
		return netwatch.Validationf("watch item: %v", err)
	}
	if item.Email && strings.TrimSpace(item.Recipient) == "" {
		return netwatch.Validationf("field %q is required when email is enabled", netwatch.FieldRecipient)
	}
	return nil
}
