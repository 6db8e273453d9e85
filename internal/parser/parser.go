package parser

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"vmorch/pkg/deployment"
	"vmorch/pkg/stack"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// ParseDeployment reads and validates a deployment YAML file.
func ParseDeployment(filePath string) (*deployment.Deployment, error) {
	var d deployment.Deployment
	if err := decode(filePath, "deployment", &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// ParseStack reads and validates a stack YAML file.
func ParseStack(filePath string) (*stack.Stack, error) {
	var s stack.Stack
	if err := decode(filePath, "stack", &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func decode(filePath, kind string, out any) error {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return fmt.Errorf("%s file not found: %s", kind, filePath)
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read %s file: %w", kind, err)
	}

	// Map keys such as build args and labels are case-sensitive, so the
	// document is decoded as YAML rather than through a config loader.
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse %s file - malformed YAML: %w", kind, err)
	}

	if err := validate.Struct(out); err != nil {
		return formatValidationError(err)
	}
	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return fmt.Errorf("validation failed: %w", err)
	}

	messages := make([]string, 0, len(validationErrors))
	for _, e := range validationErrors {
		messages = append(messages, formatFieldError(e))
	}

	if len(messages) == 1 {
		return fmt.Errorf("validation error: %s", messages[0])
	}
	return fmt.Errorf("validation errors:\n  - %s", strings.Join(messages, "\n  - "))
}

// formatFieldError formats a single validation error into a user-friendly message.
func formatFieldError(e validator.FieldError) string {
	field := e.Namespace()

	switch e.Tag() {
	case "required":
		return fmt.Sprintf("field '%s' is required but missing", field)
	case "eq":
		return fmt.Sprintf("field '%s' must be '%s'", field, e.Param())
	case "min":
		return fmt.Sprintf("field '%s' must have at least %s entries", field, e.Param())
	case "oneof":
		return fmt.Sprintf("field '%s' must be one of: %s", field, e.Param())
	default:
		return fmt.Sprintf("field '%s' failed validation (%s)", field, e.Tag())
	}
}
