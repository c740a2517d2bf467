package web

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
	"github.com/novotx/elsa-core/pkg/materializer"
	"github.com/novotx/elsa-core/pkg/persistence"
	"github.com/novotx/elsa-core/pkg/workflow"
)

func problem(c fiber.Ctx, status int, kind, detail string) error {
	p := problems.NewStatusProblem(status).
		WithInstance(c.Path()).
		WithType(kind).
		WithDetail(detail)

	return c.Status(status).JSON(p)
}

func badRequest(c fiber.Ctx, detail string) error {
	return problem(c, fiber.StatusBadRequest, "validation_error", detail)
}

func notFound(c fiber.Ctx, kind, detail string) error {
	return problem(c, fiber.StatusNotFound, kind, detail)
}

func internalError(c fiber.Ctx, err error) error {
	p := problems.NewStatusProblem(fiber.StatusInternalServerError).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(p)
}

// handleError maps runtime, publisher and store errors to problems.
func handleError(c fiber.Ctx, err error) error {
	switch {
	case workflow.IsDefinitionNotFound(err):
		return notFound(c, "definition_not_found", err.Error())
	case workflow.IsInstanceNotFound(err):
		return notFound(c, "instance_not_found", err.Error())
	case errors.Is(err, workflow.ErrBookmarkNotFound):
		return notFound(c, "bookmark_not_found", err.Error())
	case workflow.IsCannotStart(err):
		return problem(c, fiber.StatusConflict, "cannot_start", err.Error())
	case workflow.IsInvalidState(err):
		return problem(c, fiber.StatusConflict, "invalid_state", err.Error())
	case errors.Is(err, materializer.ErrInvalidGraph), errors.Is(err, workflow.ErrMaterializerNotFound):
		return problem(c, fiber.StatusUnprocessableEntity, "invalid_definition", err.Error())
	case persistence.IsMissingID(err):
		return badRequest(c, err.Error())
	default:
		return internalError(c, err)
	}
}
