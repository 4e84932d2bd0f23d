package controllers

import (
	"errors"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/ManuelReschke/LeadHub/internal/pkg/apperror"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
)

var validate = newValidator()

// newValidator reports fields by their JSON name.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// respondError writes the error as {error, reason}. Only the localized
// message and the reason code leave the process.
func respondError(c *fiber.Ctx, err error) error {
	status := apperror.HTTPStatus(err)
	if status >= fiber.StatusInternalServerError {
		log.Errorf("[API] %s %s failed: %v", c.Method(), c.Path(), err)
	}
	reason := apperror.ReasonOf(err)
	if reason == "" {
		reason = "internal_error"
	}
	return c.Status(status).JSON(fiber.Map{
		"error":  apperror.UserMessage(err),
		"reason": reason,
	})
}

// paramID parses a positive numeric route parameter.
func paramID(c *fiber.Ctx, name string) (uint, error) {
	id, err := strconv.ParseUint(c.Params(name), 10, 64)
	if err != nil || id == 0 {
		return 0, apperror.Validation("invalid_id", errors.New("invalid "+name))
	}
	return uint(id), nil
}

// parseBody decodes the JSON body into req and validates it.
func parseBody(c *fiber.Ctx, req any) error {
	if err := c.BodyParser(req); err != nil {
		return apperror.Validation("invalid_body", err)
	}
	if err := validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return apperror.Validation("invalid_"+strings.ToLower(verrs[0].Field()), err)
		}
		return apperror.Validation("invalid_body", err)
	}
	return nil
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
