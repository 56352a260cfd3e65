package middleware

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"

	"github.com/netbase/engine/pkg/models"
)

var validate *validator.Validate

func init() {
	validate = validator.New()

	_ = validate.RegisterValidation("cron", validateCron)
	_ = validate.RegisterValidation("agent_type", validateAgentType)
}

// validateCron validates a cron expression
func validateCron(fl validator.FieldLevel) bool {
	expr := fl.Field().String()
	if expr == "" {
		return true // optional field
	}
	_, err := cron.ParseStandard(expr)
	return err == nil
}

// validateAgentType checks the field is a known agent type
func validateAgentType(fl validator.FieldLevel) bool {
	switch models.AgentType(fl.Field().String()) {
	case models.AgentWASM, models.AgentDocker, models.AgentPythonFunction:
		return true
	}
	return false
}

// ValidateRequest validates a request struct
func ValidateRequest(obj interface{}) error {
	return validate.Struct(obj)
}

// ValidationErrorResponse converts validator errors to a readable format
func ValidationErrorResponse(err error) map[string]interface{} {
	errors := make(map[string]interface{})

	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		for _, fieldError := range validationErrors {
			field := fieldError.Field()
			tag := fieldError.Tag()

			var message string
			switch tag {
			case "required":
				message = fmt.Sprintf("%s is required", field)
			case "min":
				message = fmt.Sprintf("%s must be at least %s", field, fieldError.Param())
			case "max":
				message = fmt.Sprintf("%s must be at most %s", field, fieldError.Param())
			case "cron":
				message = fmt.Sprintf("%s must be a valid cron expression", field)
			case "agent_type":
				message = fmt.Sprintf("%s must be one of WASM, DOCKER, PYTHON_FUNCTION", field)
			default:
				message = fmt.Sprintf("%s failed validation: %s", field, tag)
			}

			errors[field] = message
		}
	} else {
		errors["validation"] = err.Error()
	}

	return errors
}

// BindAndValidate binds and validates a request
func BindAndValidate(c *gin.Context, obj interface{}) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		AbortWithError(c, http.StatusBadRequest, "INVALID_JSON", err.Error())
		return false
	}

	if err := ValidateRequest(obj); err != nil {
		details := ValidationErrorResponse(err)
		AbortWithErrorDetails(c, http.StatusBadRequest, "VALIDATION_ERROR", "Request validation failed", details)
		return false
	}

	return true
}
