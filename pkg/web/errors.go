package web

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"

	"github.com/heraldflow/herald/pkg/ingest"
	"github.com/heraldflow/herald/pkg/persistence"
	"github.com/heraldflow/herald/pkg/services"
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

func conflict(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(409).
		WithInstance(c.Path()).
		WithType("conflict").
		WithDetail(detail)

	return c.Status(fiber.StatusConflict).JSON(problem)
}

func unprocessable(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(422).
		WithInstance(c.Path()).
		WithType("schema_violation").
		WithDetail(detail)

	return c.Status(fiber.StatusUnprocessableEntity).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleServiceError provides typed error handling for service layer errors.
func handleServiceError(c fiber.Ctx, err error) error {
	switch {
	case services.IsValidationError(err):
		return badRequest(c, err.Error())

	case services.IsConflictError(err):
		return conflict(c, err.Error())

	case errors.Is(err, ingest.ErrEmptyIdempotencyKey):
		return badRequest(c, err.Error())

	case errors.Is(err, ingest.ErrWorkflowNotPublished):
		return conflict(c, err.Error())

	case errors.Is(err, ingest.ErrContextSchemaViolation):
		return unprocessable(c, err.Error())

	case persistence.IsWorkflowNotFound(err):
		return notFound(c, "workflow not found")

	case persistence.IsInstanceNotFound(err):
		return notFound(c, "trigger instance not found")

	case errors.Is(err, persistence.ErrNodeTemplateNotFound):
		return notFound(c, "node template not found")

	default:
		return internalError(c, err)
	}
}
