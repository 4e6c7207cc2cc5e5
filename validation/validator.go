// Package validation performs pre-flight checks on request payloads before they reach
// the network. Failures are reported as Validation errors carrying the offending field
// and the constraints declared on it.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/gaborage/go-costops/apierror"
)

// Validator wraps go-playground/validator with JSON field naming
type Validator struct {
	validate *validator.Validate
}

// New creates a validator that reports fields by their JSON names
func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := jsonName(fld.Tag)
		if name == "-" {
			return ""
		}
		return name
	})
	return &Validator{validate: v}
}

// Struct validates s and returns a Validation *apierror.Error describing the first violation
func (v *Validator) Struct(s any) error {
	if s == nil {
		return nil
	}
	rv := reflect.ValueOf(s)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil
	}

	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return apierror.NewValidation(err.Error(), "", nil, apierror.WithCause(err))
	}
	return toAPIError(rv.Type(), fieldErrs[0], len(fieldErrs))
}

// Var validates a single value against tag and names it field in the resulting error
func (v *Validator) Var(field string, value any, tag string) error {
	err := v.validate.Var(value, tag)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return apierror.NewValidation(err.Error(), field, nil, apierror.WithCause(err))
	}

	fe := fieldErrs[0]
	constraints := map[string]string{}
	parseValidateTag(tag, constraints)
	return apierror.NewValidation(
		fmt.Sprintf("%s failed on the '%s' rule", field, fe.Tag()),
		field, constraints,
		apierror.WithCode("validation."+fe.Tag()),
		apierror.WithCause(err))
}

func toAPIError(root reflect.Type, fe validator.FieldError, total int) *apierror.Error {
	field := fieldPath(fe)

	constraints := map[string]string{}
	// Top-level fields report every declared rule; nested ones only the failing rule.
	_, structPath, _ := strings.Cut(fe.StructNamespace(), ".")
	if info, ok := lookupField(root, fe.StructField()); ok && !strings.Contains(structPath, ".") {
		for k, val := range info.Constraints {
			constraints[k] = val
		}
	}
	if fe.Param() != "" {
		constraints[fe.Tag()] = fe.Param()
	} else if _, ok := constraints[fe.Tag()]; !ok {
		constraints[fe.Tag()] = trueValue
	}

	message := fmt.Sprintf("%s failed on the '%s' rule", field, fe.Tag())
	if total > 1 {
		message = fmt.Sprintf("%s (and %d more violations)", message, total-1)
	}

	return apierror.NewValidation(message, field, constraints,
		apierror.WithCode("validation."+fe.Tag()))
}

// fieldPath strips the root struct name from the validator namespace
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, found := strings.Cut(ns, "."); found {
		return rest
	}
	return fe.Field()
}
