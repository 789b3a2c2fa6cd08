// Package validation checks inbound work items and AI answers before they
// move further down the pipeline.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"

	"github.com/vietddude/aiprocessor/internal/core/domain"
	"github.com/vietddude/aiprocessor/internal/core/failure"
)

// ItemValidator performs the structural checks on a WorkItem.
type ItemValidator struct {
	validate *validator.Validate
}

// NewItemValidator builds a validator with the "notblank" rule registered and
// json field names in its messages.
func NewItemValidator() *ItemValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("notblank", validators.NotBlank)
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return &ItemValidator{validate: v}
}

// Validate returns a Validation failure listing every violated rule.
func (v *ItemValidator) Validate(item domain.WorkItem) error {
	err := v.validate.Struct(item)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return failure.Validation(item.Ref, "invalid work item", err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "notblank":
			msgs = append(msgs, fmt.Sprintf("%s must not be blank", fe.Field()))
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s exceeds %s characters", fe.Field(), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return failure.Validation(item.Ref, strings.Join(msgs, "; "), nil)
}
