package middleware

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	apierrors "wzslicense/internal/errors"
)

// DefaultMaxBodySize caps JSON request bodies
const DefaultMaxBodySize = 64 * 1024

// Validator decodes JSON bodies and validates them against struct tags
type Validator struct {
	validate    *validator.Validate
	maxBodySize int64
}

// NewValidator creates a validator that reports JSON field names
func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("deviceid", isValidDeviceID)

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &Validator{validate: v, maxBodySize: DefaultMaxBodySize}
}

// DecodeJSON reads the body into dst and validates it. The returned error is
// an *apierrors.APIError ready for the error handler.
func (v *Validator) DecodeJSON(r *http.Request, dst interface{}) error {
	if r.Body == nil || r.Body == http.NoBody {
		return apierrors.ErrInvalidRequest
	}
	body := http.MaxBytesReader(nil, r.Body, v.maxBodySize)
	if err := render.DecodeJSON(body, dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apierrors.PayloadTooLarge(v.maxBodySize)
		}
		if errors.Is(err, io.EOF) {
			return apierrors.ErrInvalidRequest
		}
		return apierrors.InvalidRequestWithError(err)
	}
	return v.ValidateStruct(dst)
}

// ValidateStruct validates a struct and returns validation errors
func (v *Validator) ValidateStruct(s interface{}) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return apierrors.InvalidRequestWithError(err)
	}

	validationErrors := make([]apierrors.ValidationError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		validationErrors = append(validationErrors, apierrors.ValidationError{
			Field:   fe.Field(),
			Message: formatValidationError(fe),
		})
	}
	return apierrors.NewValidationErrors(validationErrors)
}

// ContentTypeValidator ensures requests have proper content type
func ContentTypeValidator(contentTypes ...string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost && r.Method != http.MethodPut && r.Method != http.MethodPatch {
				next.ServeHTTP(w, r)
				return
			}

			contentType := r.Header.Get("Content-Type")
			if contentType == "" {
				apierrors.WriteError(w, r, apierrors.ErrMissingContentType)
				return
			}

			for _, allowed := range contentTypes {
				if strings.HasPrefix(contentType, allowed) {
					next.ServeHTTP(w, r)
					return
				}
			}

			apierrors.WriteError(w, r, apierrors.UnsupportedMediaType(contentType, contentTypes))
		})
	}
}

// formatValidationError formats validation error messages
func formatValidationError(err validator.FieldError) string {
	field := err.Field()
	param := err.Param()

	switch err.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", field, param)
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, param)
	case "email":
		return fmt.Sprintf("%s must be a valid email address", field)
	case "deviceid":
		return fmt.Sprintf("%s must not contain control characters", field)
	default:
		return fmt.Sprintf("%s failed %s validation", field, err.Tag())
	}
}

// isValidDeviceID rejects control characters in device identifiers
func isValidDeviceID(fl validator.FieldLevel) bool {
	for _, ch := range fl.Field().String() {
		if ch < 0x20 || ch == 0x7f {
			return false
		}
	}
	return true
}
