package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/gemxhub/backend/internal/apperror"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var currencyPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]{1,31}$`)

var registerOnce sync.Once

// RegisterValidators adds the custom binding tags used by request DTOs
func RegisterValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		_ = v.RegisterValidation("currency", func(fl validator.FieldLevel) bool {
			return currencyPattern.MatchString(fl.Field().String())
		})
	})
}

// BindJSON binds the request body and writes a 400 envelope on failure.
// Returns false when the handler should stop.
func BindJSON(c *gin.Context, obj interface{}) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		RespondError(c, apperror.BadRequest(describeBindError(err)))
		return false
	}
	return true
}

// BindQuery is BindJSON for query strings
func BindQuery(c *gin.Context, obj interface{}) bool {
	if err := c.ShouldBindQuery(obj); err != nil {
		RespondError(c, apperror.BadRequest(describeBindError(err)))
		return false
	}
	return true
}

func describeBindError(err error) string {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		msgs := make([]string, 0, len(validationErrs))
		for _, e := range validationErrs {
			switch e.Tag() {
			case "required":
				msgs = append(msgs, fmt.Sprintf("field '%s' is required", e.Field()))
			case "gt", "gte", "min":
				msgs = append(msgs, fmt.Sprintf("field '%s' must be at least %s", e.Field(), e.Param()))
			case "max", "lte":
				msgs = append(msgs, fmt.Sprintf("field '%s' must be at most %s", e.Field(), e.Param()))
			case "email":
				msgs = append(msgs, fmt.Sprintf("field '%s' must be a valid email address", e.Field()))
			case "currency":
				msgs = append(msgs, fmt.Sprintf("field '%s' must be a currency code", e.Field()))
			default:
				msgs = append(msgs, fmt.Sprintf("field '%s' failed on the '%s' rule", e.Field(), e.Tag()))
			}
		}
		return strings.Join(msgs, "; ")
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return fmt.Sprintf("field '%s' has invalid type", typeErr.Field)
	}
	return "malformed JSON or invalid request body"
}
