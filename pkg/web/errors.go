package web

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"

	"github.com/dialora/dialora/pkg/flow"
	"github.com/dialora/dialora/pkg/models"
	"github.com/dialora/dialora/pkg/session"
	"github.com/dialora/dialora/pkg/templates"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType("not_found").
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleProcessingError maps domain errors to problem responses.
func handleProcessingError(c fiber.Ctx, err error) error {
	var validationErrs validator.ValidationErrors

	switch {
	case errors.As(err, &validationErrs):
		return badRequest(c, validationErrs.Error())

	case templates.IsTemplateNotFound(err):
		return notFound(c, "template not found")

	case models.IsMalformedGraph(err):
		problem := problems.NewStatusProblem(400).
			WithInstance(c.Path()).
			WithType("malformed_template").
			WithDetail(err.Error())

		return c.Status(fiber.StatusBadRequest).JSON(problem)

	case session.IsTransientProcessingError(err):
		problem := problems.NewStatusProblem(503).
			WithInstance(c.Path()).
			WithType("temporarily_unavailable").
			WithDetail("message could not be processed, retry the delivery")

		return c.Status(fiber.StatusServiceUnavailable).JSON(problem)

	case flow.IsBaselineExecutionError(err):
		// The concrete node failure stays in the logs.
		problem := problems.NewStatusProblem(500).
			WithInstance(c.Path()).
			WithType("execution_error").
			WithDetail("conversation step failed")

		return c.Status(fiber.StatusInternalServerError).JSON(problem)

	default:
		return internalError(c, err)
	}
}
