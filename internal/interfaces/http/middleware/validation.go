package middleware

import (
	"errors"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/erp/syncengine/internal/domain/datasync"
	"github.com/erp/syncengine/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var setupOnce sync.Once

// SetupValidator registers the entity_type tag on gin's validator and makes
// field errors report json (or form) names. Safe to call more than once.
func SetupValidator() {
	setupOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		_ = v.RegisterValidation("entity_type", validEntityType)
		v.RegisterTagNameFunc(wireName)
	})
}

// validEntityType accepts a known entity type, case-insensitively, or "all".
func validEntityType(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if s == dto.AllEntityTypesParam {
		return true
	}
	_, err := datasync.ParseEntityType(s)
	return err == nil
}

func wireName(fld reflect.StructField) string {
	for _, tag := range []string{"json", "form", "uri"} {
		name, _, _ := strings.Cut(fld.Tag.Get(tag), ",")
		switch name {
		case "-":
			return ""
		case "":
			continue
		default:
			return name
		}
	}
	return fld.Name
}

// HandleValidationError writes a 400 VALIDATION_ERROR envelope. Binding
// failures that are not field errors, such as malformed JSON, carry no details.
func HandleValidationError(c *gin.Context, err error) {
	var details []dto.ValidationDetail
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		details = make([]dto.ValidationDetail, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			details = append(details, dto.ValidationDetail{Field: fe.Field(), Message: getValidationMessage(fe)})
		}
	}
	c.JSON(http.StatusBadRequest,
		dto.NewValidationErrorResponse("Request validation failed", getRequestID(c), details))
}

var tagMessages = map[string]string{
	"required":    "This field is required",
	"uuid":        "Invalid UUID format",
	"entity_type": "Unknown entity type",
	"oneof":       "Must be one of: %s",
	"gte":         "Must be greater than or equal to %s",
	"lte":         "Must be less than or equal to %s",
}

func getValidationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "min", "max":
		bound := "at least"
		if fe.Tag() == "max" {
			bound = "at most"
		}
		switch fe.Kind() {
		case reflect.String:
			return "Must be " + bound + " " + fe.Param() + " characters"
		case reflect.Slice, reflect.Array, reflect.Map:
			return "Must have " + bound + " " + fe.Param() + " items"
		default:
			return "Must be " + bound + " " + fe.Param()
		}
	}
	msg, ok := tagMessages[fe.Tag()]
	if !ok {
		return "Invalid value"
	}
	if strings.Contains(msg, "%s") {
		return strings.Replace(msg, "%s", fe.Param(), 1)
	}
	return msg
}
