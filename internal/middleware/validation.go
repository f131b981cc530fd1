package middleware

import (
	"errors"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/jwalitptl/prescription-api/pkg/httputil"
)

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationConfig represents validation middleware configuration
type ValidationConfig struct {
	CustomValidators    map[string]validator.Func
	CustomErrorMessages map[string]string
}

func DefaultValidationConfig() ValidationConfig {
	return ValidationConfig{
		CustomErrorMessages: map[string]string{
			"required": "Field is required",
			"max":      "Value is too long",
		},
	}
}

var registerOnce sync.Once

// Validation reports binding failures that handlers attached with
// c.Error(err).SetType(gin.ErrorTypeBind) as a 400 response. Field names in
// the response follow the json tags.
func Validation(config ValidationConfig) gin.HandlerFunc {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		for tag, fn := range config.CustomValidators {
			if err := v.RegisterValidation(tag, fn); err != nil {
				panic(err)
			}
		}
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})
	})

	return func(c *gin.Context) {
		c.Next()

		bindErrs := c.Errors.ByType(gin.ErrorTypeBind)
		if len(bindErrs) == 0 || c.Writer.Written() {
			return
		}

		var validationErrors []ValidationError
		for _, err := range bindErrs {
			var errs validator.ValidationErrors
			if !errors.As(err.Err, &errs) {
				continue
			}
			for _, e := range errs {
				msg := config.CustomErrorMessages[e.Tag()]
				if msg == "" {
					msg = e.Error()
				}
				// drop the root struct name
				field := e.Namespace()
				if i := strings.IndexByte(field, '.'); i >= 0 {
					field = field[i+1:]
				}
				validationErrors = append(validationErrors, ValidationError{
					Field:   field,
					Message: msg,
				})
			}
		}

		if len(validationErrors) > 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, httputil.Response{
				Status:  httputil.StatusError,
				Message: "validation failed",
				Data:    validationErrors,
			})
			return
		}

		c.AbortWithStatusJSON(http.StatusBadRequest, httputil.Response{
			Status:  httputil.StatusError,
			Message: "invalid request body: " + bindErrs.Last().Error(),
		})
	}
}
