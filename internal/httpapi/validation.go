package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"covera.io/internal/auth"
)

const moduleCodeTag = "modulecode"

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation(moduleCodeTag, func(fl validator.FieldLevel) bool {
		_, err := auth.ParseModuleCode(fl.Field().String())
		return err == nil
	})
	return v
}

// bind decodes and validates a request body. It writes the failure response itself and reports false.
func (a *API) bind(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := decodeJSON(w, r, dst); err != nil {
		writeAuthError(w, r, fmt.Errorf("%w: %s", auth.ErrInvalidInput, err.Error()))
		return false
	}
	if err := a.validate.Struct(dst); err != nil {
		writeAuthError(w, r, validationError(err))
		return false
	}
	return true
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %s", auth.ErrInvalidInput, err.Error())
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Tag() == moduleCodeTag {
			return fmt.Errorf("%w: %q", auth.ErrInvalidModuleCode, fmt.Sprint(fe.Value()))
		}
		msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", auth.ErrInvalidInput, strings.Join(msgs, ", "))
}
