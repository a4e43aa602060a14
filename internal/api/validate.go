package api

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// validateRequest checks v against its struct tags and returns a message
// naming every failing field, or "" when v is valid.
func validateRequest(v any) string {
	err := getValidator().Struct(v)
	if err == nil {
		return ""
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, translateError(fe))
	}
	return strings.Join(msgs, "; ")
}

func translateError(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, fe.Param())
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max", "lte":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "excludesall":
		return fmt.Sprintf("%s contains invalid characters", field)
	case "numeric":
		return fmt.Sprintf("%s must be numeric", field)
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}

// postsRequest mirrors the /api/posts query. Sort and window are
// normalized downstream rather than rejected.
type postsRequest struct {
	Community string `validate:"omitempty,max=64,excludesall=0x7C:/ "`
	Search    string `validate:"max=200"`
	Limit     int    `validate:"min=0,max=1000"`
}

type storedRequest struct {
	Sort     string `validate:"omitempty,oneof=new top hot"`
	Search   string `validate:"max=200"`
	Category string `validate:"max=100"`
	Limit    int    `validate:"min=1,max=500"`
	Offset   int    `validate:"min=0"`
}

type topicIDRequest struct {
	ID string `validate:"required,numeric,max=20"`
}

type classifyRequest struct {
	Limit  int    `json:"limit"`
	Source string `json:"source" validate:"oneof=cursor_forum twitter"`
}
