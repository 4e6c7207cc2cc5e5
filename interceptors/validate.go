package interceptors

import (
	"context"
	"encoding/json"
	"reflect"

	"github.com/gaborage/go-costops/apierror"
	"github.com/gaborage/go-costops/middleware"
)

// StructValidator checks a decoded payload
type StructValidator interface {
	Struct(s any) error
}

// Validate decodes JSON request bodies into a fresh value of prototype's type and runs
// v against it before the request is sent. Requests without a body pass through.
func Validate(v StructValidator, prototype any) middleware.RequestInterceptor {
	t := reflect.TypeOf(prototype)
	if t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return func(_ context.Context, rc middleware.RequestContext) (middleware.RequestContext, error) {
		if v == nil || t == nil || len(rc.Request.Body) == 0 {
			return rc, nil
		}

		target := reflect.New(t).Interface()
		if err := json.Unmarshal(rc.Request.Body, target); err != nil {
			return rc, apierror.NewValidation("request body is not valid JSON", "body", nil,
				apierror.WithCode("validation.json"),
				apierror.WithCause(err))
		}
		if err := v.Struct(target); err != nil {
			return rc, err
		}
		return rc, nil
	}
}
