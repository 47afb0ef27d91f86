package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/weftwork/weft/pkg/models"
	"github.com/weftwork/weft/pkg/services"
)

type APIHandlers struct {
	workflowService  *services.Workflow
	executionService *services.Execution
	validator        *validator.Validate
}

func NewAPIHandlers(
	workflowService *services.Workflow,
	executionService *services.Execution,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		workflowService:  workflowService,
		executionService: executionService,
		validator:        validator,
	}
}

// RegisterRoutes mounts every endpoint on the app.
func (h *APIHandlers) RegisterRoutes(app *fiber.App) {
	w := app.Group("/workflows")
	w.Get("/", h.GetWorkflows)
	w.Post("/", h.CreateWorkflow)
	w.Get("/:id", h.GetWorkflow)
	w.Put("/:id", h.UpdateWorkflow)
	w.Delete("/:id", h.DeleteWorkflow)
	w.Post("/:id/execute", h.ExecuteWorkflow)
	w.Post("/:id/execute-node", h.ExecuteNode)
	w.Get("/:id/executions", h.GetExecutions)

	e := app.Group("/executions")
	e.Get("/:executionId", h.GetExecution)
	e.Post("/:executionId/cancel", h.CancelExecution)

	a := app.Group("/approvals")
	a.Get("/", h.GetApprovals)
	a.Post("/:approvalId/resolve", h.ResolveApproval)

	// Public trigger endpoints: the request body becomes the trigger payload.
	app.Post("/webhooks/:workflowId", h.TriggerWebhook)
	app.Post("/forms/:workflowId", h.TriggerForm)

	app.Get("/health", h.HealthCheck)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, repOk := h.workflowService.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Weft API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if repOk {
		status = "healthy"
		message = "Weft API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	organizationID := c.Query("organization_id")
	if organizationID == "" {
		return badRequest(c, "organization_id query parameter is required")
	}

	workflows, err := h.workflowService.List(c.Context(), organizationID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"workflows": workflows})
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	workflow, err := h.workflowService.FetchByID(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	var req SaveWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	created, result, err := h.workflowService.Create(c.Context(), req.toModel())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(SaveWorkflowResponse{
		Workflow: created,
		Warnings: result.Warnings,
	})
}

func (h *APIHandlers) UpdateWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	var req SaveWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	updated, result, err := h.workflowService.Update(c.Context(), id, req.toModel())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(SaveWorkflowResponse{
		Workflow: updated,
		Warnings: result.Warnings,
	})
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	if err := h.workflowService.Delete(c.Context(), id); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// ExecuteWorkflow starts a manual run. The response carries the pending
// execution; callers poll GET /executions/:executionId for progress.
func (h *APIHandlers) ExecuteWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	var req ExecuteWorkflowRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	execution, err := h.executionService.Request(c.Context(), id, models.TriggerTypeManual, req.Inputs)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(execution)
}

// ExecuteNode evaluates one node synchronously for authoring and debugging.
func (h *APIHandlers) ExecuteNode(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	var req ExecuteNodeRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	result, err := h.executionService.RunNode(c.Context(), id, req.NodeID, req.Input)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"node_id": req.NodeID, "result": result})
}

func (h *APIHandlers) GetExecutions(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	limit := 0

	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil {
			return badRequest(c, "Invalid limit parameter")
		}

		limit = parsed
	}

	executions, err := h.executionService.History(c.Context(), id, limit)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"executions": executions})
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	id := c.Params("executionId")
	if id == "" {
		return badRequest(c, "Execution ID is required")
	}

	execution, err := h.executionService.Get(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) CancelExecution(c fiber.Ctx) error {
	id := c.Params("executionId")
	if id == "" {
		return badRequest(c, "Execution ID is required")
	}

	if err := h.executionService.Cancel(c.Context(), id); err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"execution_id": id, "status": "cancellation_requested"})
}

func (h *APIHandlers) GetApprovals(c fiber.Ctx) error {
	organizationID := c.Query("organization_id")
	if organizationID == "" {
		return badRequest(c, "organization_id query parameter is required")
	}

	status := models.ApprovalStatus(c.Query("status", string(models.ApprovalStatusPending)))

	approvals, err := h.executionService.Approvals(c.Context(), organizationID, status)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"approvals": approvals})
}

func (h *APIHandlers) ResolveApproval(c fiber.Ctx) error {
	id := c.Params("approvalId")
	if id == "" {
		return badRequest(c, "Approval ID is required")
	}

	var req ResolveApprovalRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	err := h.executionService.ResolveApproval(c.Context(), id, models.ApprovalDecision(req.Decision))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"approval_id": id, "decision": req.Decision})
}

// TriggerWebhook starts a run from an inbound webhook. The JSON body becomes
// the trigger payload seen by the workflow's trigger node.
func (h *APIHandlers) TriggerWebhook(c fiber.Ctx) error {
	return h.triggerWithPayload(c, models.TriggerTypeWebhook)
}

// TriggerForm starts a run from a form submission.
func (h *APIHandlers) TriggerForm(c fiber.Ctx) error {
	return h.triggerWithPayload(c, models.TriggerTypeForm)
}

func (h *APIHandlers) triggerWithPayload(c fiber.Ctx, triggerType models.TriggerType) error {
	workflowID := c.Params("workflowId")
	if workflowID == "" {
		return badRequest(c, "Workflow ID is required")
	}

	payload := map[string]any{}

	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&payload); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	execution, err := h.executionService.Request(c.Context(), workflowID, triggerType, payload)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"execution_id": execution.ID,
		"status":       execution.Status,
	})
}
