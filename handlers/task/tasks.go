package task

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sahilchouksey/study-ingest/handlers"
	"github.com/sahilchouksey/study-ingest/model"
	"github.com/sahilchouksey/study-ingest/services"
	"github.com/sahilchouksey/study-ingest/services/queue"
	"github.com/sahilchouksey/study-ingest/services/storage"
	"github.com/sahilchouksey/study-ingest/utils"
	"github.com/sahilchouksey/study-ingest/utils/response"
	"github.com/sahilchouksey/study-ingest/utils/validation"
)

// UploadURLExpiry is how long a signed upload URL stays valid
const UploadURLExpiry = 15 * time.Minute

// TaskHandler handles upload reservation and task lifecycle requests
type TaskHandler struct {
	tasks     *services.TaskService
	queue     queue.TaskQueue
	storage   storage.ObjectStorage
	validator *validation.Validator
	log       *utils.Logger
}

// NewTaskHandler creates a new task handler
func NewTaskHandler(tasks *services.TaskService, q queue.TaskQueue, objectStorage storage.ObjectStorage, log *utils.Logger) *TaskHandler {
	return &TaskHandler{
		tasks:     tasks,
		queue:     q,
		storage:   objectStorage,
		validator: validation.NewValidator(),
		log:       log,
	}
}

// CreateUploadRequest represents the request body for reserving an upload
type CreateUploadRequest struct {
	Filename string     `json:"filename" validate:"required,max=255,excludesall=/\\"`
	FileSize int64      `json:"fileSize" validate:"required,gt=0"`
	PubDate  *time.Time `json:"pubDate"`
}

// CreateUploadResponse carries the pending task and where to PUT the file
type CreateUploadResponse struct {
	Task      *model.Task `json:"task"`
	UploadURL string      `json:"uploadUrl"`
	ExpiresAt time.Time   `json:"expiresAt"`
}

// CreateUpload handles POST /api/v1/courses/:courseId/uploads
func (h *TaskHandler) CreateUpload(c *fiber.Ctx) error {
	courseID := c.Params("courseId")

	var req CreateUploadRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		return response.ValidationError(c, validation.FormatValidationMessage(err))
	}

	task, err := h.tasks.ReserveTask(c.UserContext(), services.ReserveTaskRequest{
		CourseID: courseID,
		Filename: req.Filename,
		FileSize: req.FileSize,
		PubDate:  req.PubDate,
	})
	if err != nil {
		return handlers.ServiceError(c, h.log, err)
	}

	url, err := h.storage.SignedUploadURL(c.UserContext(), task.ObjectKey(), storage.ContentType(req.Filename), UploadURLExpiry)
	if err != nil {
		h.log.Error("failed to sign upload url", "task_id", task.ID, "error", err)
		return response.InternalServerError(c, "Failed to create upload URL")
	}

	return response.Created(c, CreateUploadResponse{
		Task:      task,
		UploadURL: url,
		ExpiresAt: time.Now().Add(UploadURLExpiry),
	})
}

// StartTask handles POST /api/v1/tasks/:taskId/start. The client calls it
// once the upload finished; processing happens on the worker.
func (h *TaskHandler) StartTask(c *fiber.Ctx) error {
	task, err := h.tasks.GetTask(c.UserContext(), c.Params("taskId"))
	if err != nil {
		return handlers.ServiceError(c, h.log, err)
	}
	if task.Status != model.TaskStatusPending {
		return response.Conflict(c, "Task has already been started")
	}

	msg := queue.TaskMessage{
		TaskID:   task.ID,
		CourseID: task.CourseID,
		Filename: task.Filename,
		FileSize: task.FileSize,
		PubDate:  task.PubDate,
	}
	if err := h.queue.Enqueue(c.UserContext(), msg); err != nil {
		h.log.Error("failed to enqueue task", "task_id", task.ID, "error", err)
		return response.ServiceUnavailable(c, "Failed to queue task")
	}

	return response.Accepted(c, "Task queued for processing", task)
}

// GetTask handles GET /api/v1/tasks/:taskId
func (h *TaskHandler) GetTask(c *fiber.Ctx) error {
	task, err := h.tasks.GetTask(c.UserContext(), c.Params("taskId"))
	if err != nil {
		return handlers.ServiceError(c, h.log, err)
	}
	return response.Success(c, task)
}

// ListCourseTasks handles GET /api/v1/courses/:courseId/tasks
func (h *TaskHandler) ListCourseTasks(c *fiber.Ctx) error {
	page, _ := strconv.Atoi(c.Query("page", "1"))
	limit, _ := strconv.Atoi(c.Query("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	status := model.TaskStatus(c.Query("status"))
	switch status {
	case "", model.TaskStatusPending, model.TaskStatusProcessing, model.TaskStatusFinished, model.TaskStatusFailed:
	default:
		return response.BadRequest(c, "Unknown task status")
	}

	tasks, total, err := h.tasks.ListTasks(c.UserContext(), services.ListTasksRequest{
		CourseID: c.Params("courseId"),
		Status:   status,
		Page:     page,
		Limit:    limit,
	})
	if err != nil {
		return handlers.ServiceError(c, h.log, err)
	}

	return response.Paginated(c, tasks, response.CalculatePagination(page, limit, total))
}
