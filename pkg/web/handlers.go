// Package web provides HTTP handlers and REST API endpoints for the workflow runtime.
package web

import (
	"encoding/json"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/novotx/elsa-core/pkg/activities"
	"github.com/novotx/elsa-core/pkg/models"
	"github.com/novotx/elsa-core/pkg/registry"
	"github.com/novotx/elsa-core/pkg/runtime"
	"github.com/novotx/elsa-core/pkg/workflow"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type APIHandlers struct {
	publisher *workflow.Publisher
	workflows *workflow.Repository
	runtime   *runtime.Runtime
	events    *runtime.EventPublisher
	validator *validator.Validate
	registry  *registry.Registry
	gatherer  prometheus.Gatherer
}

// NewAPIHandlers creates the handlers. gatherer may be nil, in which case /metrics is not served.
func NewAPIHandlers(
	publisher *workflow.Publisher,
	workflows *workflow.Repository,
	rt *runtime.Runtime,
	validator *validator.Validate,
	registry *registry.Registry,
	gatherer prometheus.Gatherer,
) *APIHandlers {
	return &APIHandlers{
		publisher: publisher,
		workflows: workflows,
		runtime:   rt,
		events:    runtime.NewEventPublisher(rt),
		validator: validator,
		registry:  registry,
		gatherer:  gatherer,
	}
}

// Routes registers every endpoint on router.
func (h *APIHandlers) Routes(router fiber.Router) {
	router.Post("/events/:name", h.PublishEvent)
	router.Post("/webhooks/*", h.Webhook)

	d := router.Group("/definitions")
	d.Post("/", h.CreateDefinition)
	d.Get("/:definitionId/draft", h.GetDraft)
	d.Put("/:definitionId/draft", h.SaveDraft)
	d.Post("/:definitionId/publish", h.PublishDefinition)
	d.Post("/:definitionId/retract", h.RetractDefinition)
	d.Delete("/:definitionId", h.DeleteDefinition)
	d.Post("/:definitionId/start", h.StartWorkflow)

	i := router.Group("/instances")
	i.Get("/count", h.CountRunningWorkflows)
	i.Post("/:id/resume", h.ResumeWorkflow)
	i.Get("/:id/state", h.ExportState)
	i.Put("/:id/state", h.ImportState)

	router.Get("/activities", h.ListActivityTypes)
	router.Get("/health", h.HealthCheck)

	if h.gatherer != nil {
		router.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
	}
}

func (h *APIHandlers) bind(c fiber.Ctx, req any) error {
	if len(c.Body()) == 0 {
		return h.validator.Struct(req)
	}

	err := c.Bind().JSON(req)
	if err != nil {
		return err
	}

	return h.validator.Struct(req)
}

func (h *APIHandlers) PublishEvent(c fiber.Ctx) error {
	var req PublishEventRequest

	err := h.bind(c, &req)
	if err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	results, err := h.events.Publish(c.Context(), c.Params("name"), runtime.PublishEventOptions{
		CorrelationID:      req.CorrelationID,
		InstanceID:         req.InstanceID,
		ActivityInstanceID: req.ActivityInstanceID,
		Payload:            req.Payload,
	})
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(WorkflowsResponse{Workflows: nonNil(results)})
}

// Webhook starts or resumes the workflows listening on the request path. The JSON body
// becomes the workflow input.
func (h *APIHandlers) Webhook(c fiber.Ctx) error {
	input := map[string]any{}

	if len(c.Body()) > 0 {
		err := json.Unmarshal(c.Body(), &input)
		if err != nil {
			return badRequest(c, "Invalid request body: "+err.Error())
		}
	}

	path := "/" + c.Params("*")

	results, err := h.runtime.TriggerWorkflows(c.Context(), activities.TypeWebhook, activities.WebhookPayload(path), runtime.TriggerWorkflowsOptions{
		CorrelationID: c.Get("X-Correlation-ID"),
		Input:         input,
	})
	if err != nil {
		return handleError(c, err)
	}

	if len(results) == 0 {
		return notFound(c, "webhook_not_found", "No workflow listens on "+path)
	}

	return c.JSON(WorkflowsResponse{Workflows: results})
}

func (h *APIHandlers) CreateDefinition(c fiber.Ctx) error {
	var req CreateDefinitionRequest

	err := h.bind(c, &req)
	if err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	definition := h.publisher.New()
	definition.Name = req.Name

	if req.StringData != "" {
		definition.StringData = req.StringData
	}

	if req.ActivationStrategy != "" {
		definition.ActivationStrategy = models.ActivationStrategy(req.ActivationStrategy)
	}

	return h.saveDraft(c, definition, fiber.StatusCreated)
}

func (h *APIHandlers) GetDraft(c fiber.Ctx) error {
	definitionID := c.Params("definitionId")

	draft, err := h.publisher.GetDraft(c.Context(), definitionID)
	if err != nil {
		return handleError(c, err)
	}

	if draft == nil {
		return notFound(c, "definition_not_found", "Definition not found: "+definitionID)
	}

	return c.JSON(TransformDefinitionResponse(draft))
}

func (h *APIHandlers) SaveDraft(c fiber.Ctx) error {
	definitionID := c.Params("definitionId")

	var req SaveDraftRequest

	err := h.bind(c, &req)
	if err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	draft, err := h.publisher.GetDraft(c.Context(), definitionID)
	if err != nil {
		return handleError(c, err)
	}

	if draft == nil {
		return notFound(c, "definition_not_found", "Definition not found: "+definitionID)
	}

	if req.Name != nil {
		draft.Name = *req.Name
	}

	if req.StringData != nil {
		draft.StringData = *req.StringData
	}

	if req.ActivationStrategy != nil {
		draft.ActivationStrategy = models.ActivationStrategy(*req.ActivationStrategy)
	}

	return h.saveDraft(c, draft, fiber.StatusOK)
}

// saveDraft materializes the graph before storing it so that broken drafts are rejected.
func (h *APIHandlers) saveDraft(c fiber.Ctx, definition *models.WorkflowDefinition, status int) error {
	_, err := h.workflows.Materialize(c.Context(), definition)
	if err != nil {
		return handleError(c, err)
	}

	saved, err := h.publisher.SaveDraft(c.Context(), definition)
	if err != nil {
		return handleError(c, err)
	}

	return c.Status(status).JSON(TransformDefinitionResponse(saved))
}

func (h *APIHandlers) PublishDefinition(c fiber.Ctx) error {
	definitionID := c.Params("definitionId")

	published, err := h.publisher.PublishDefinition(c.Context(), definitionID)
	if err != nil {
		return handleError(c, err)
	}

	if published == nil {
		return notFound(c, "definition_not_found", "Definition not found: "+definitionID)
	}

	return c.JSON(TransformDefinitionResponse(published))
}

func (h *APIHandlers) RetractDefinition(c fiber.Ctx) error {
	definitionID := c.Params("definitionId")

	retracted, err := h.publisher.RetractDefinition(c.Context(), definitionID)
	if err != nil {
		return handleError(c, err)
	}

	if retracted == nil {
		return notFound(c, "definition_not_published", "No published version of definition: "+definitionID)
	}

	return c.JSON(TransformDefinitionResponse(retracted))
}

func (h *APIHandlers) DeleteDefinition(c fiber.Ctx) error {
	err := h.publisher.DeleteDefinition(c.Context(), c.Params("definitionId"))
	if err != nil {
		return handleError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) StartWorkflow(c fiber.Ctx) error {
	definitionID := c.Params("definitionId")

	var req StartWorkflowRequest

	err := h.bind(c, &req)
	if err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	var version models.VersionOptions

	if req.VersionOptions != "" {
		version, err = models.ParseVersionOptions(req.VersionOptions)
		if err != nil {
			return badRequest(c, err.Error())
		}
	}

	result, err := h.runtime.StartWorkflow(c.Context(), definitionID, runtime.StartWorkflowOptions{
		InstanceID:        req.InstanceID,
		VersionOptions:    version,
		CorrelationID:     req.CorrelationID,
		Input:             req.Input,
		TriggerActivityID: req.TriggerActivityID,
	})
	if err != nil {
		return handleError(c, err)
	}

	if result == nil {
		return notFound(c, "definition_not_found", "No matching version of definition: "+definitionID)
	}

	return c.Status(fiber.StatusCreated).JSON(result)
}

func (h *APIHandlers) ResumeWorkflow(c fiber.Ctx) error {
	instanceID := c.Params("id")

	var req ResumeWorkflowRequest

	err := h.bind(c, &req)
	if err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	result, err := h.runtime.ResumeWorkflow(c.Context(), instanceID, runtime.ResumeWorkflowOptions{
		BookmarkID:         req.BookmarkID,
		ActivityID:         req.ActivityID,
		ActivityInstanceID: req.ActivityInstanceID,
		CorrelationID:      req.CorrelationID,
		Input:              req.Input,
	})
	if err != nil {
		return handleError(c, err)
	}

	if result == nil {
		return notFound(c, "instance_not_found", "Instance not found: "+instanceID)
	}

	return c.JSON(result)
}

func (h *APIHandlers) ExportState(c fiber.Ctx) error {
	instanceID := c.Params("id")

	state, err := h.runtime.ExportWorkflowState(c.Context(), instanceID)
	if err != nil {
		return handleError(c, err)
	}

	if state == nil {
		return notFound(c, "instance_not_found", "Instance not found: "+instanceID)
	}

	return c.JSON(state)
}

// ImportState replaces the state of an instance. The id in the path wins over the body.
func (h *APIHandlers) ImportState(c fiber.Ctx) error {
	state, err := models.UnmarshalWorkflowState(c.Body())
	if err != nil {
		return badRequest(c, "Invalid workflow state: "+err.Error())
	}

	state.ID = c.Params("id")

	err = h.runtime.ImportWorkflowState(c.Context(), state)
	if err != nil {
		return handleError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) CountRunningWorkflows(c fiber.Ctx) error {
	args := runtime.CountRunningWorkflowsArgs{
		DefinitionID:  c.Query("definition_id"),
		CorrelationID: c.Query("correlation_id"),
	}

	if v := c.Query("version"); v != "" {
		version, err := strconv.Atoi(v)
		if err != nil {
			return badRequest(c, "Invalid version: "+err.Error())
		}

		args.Version = version
	}

	count, err := h.runtime.CountRunningWorkflows(c.Context(), args)
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(fiber.Map{"count": count})
}

func (h *APIHandlers) ListActivityTypes(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"activities": h.registry.Types()})
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	message, ok := h.workflows.HealthCheck(c.Context())
	if !ok {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status":  "unhealthy",
			"message": message,
		})
	}

	return c.JSON(fiber.Map{
		"status":  "healthy",
		"message": message,
	})
}

func nonNil(results []runtime.WorkflowExecutionResult) []runtime.WorkflowExecutionResult {
	if results == nil {
		return []runtime.WorkflowExecutionResult{}
	}

	return results
}
