package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sahilchouksey/study-ingest/database"
	"github.com/sahilchouksey/study-ingest/handlers"
	retrieval_handlers "github.com/sahilchouksey/study-ingest/handlers/retrieval"
	task_handlers "github.com/sahilchouksey/study-ingest/handlers/task"
	"github.com/sahilchouksey/study-ingest/services"
	"github.com/sahilchouksey/study-ingest/services/queue"
	"github.com/sahilchouksey/study-ingest/services/storage"
	"github.com/sahilchouksey/study-ingest/utils"
	"github.com/sahilchouksey/study-ingest/utils/auth"
	"github.com/sahilchouksey/study-ingest/utils/middleware"
)

// Dependencies is everything the HTTP surface needs
type Dependencies struct {
	Store     database.Storage
	Tasks     *services.TaskService
	Retrieval *services.RetrievalService
	Queue     queue.TaskQueue
	Storage   storage.ObjectStorage
	JWT       *auth.JWTManager
	Probes    map[string]handlers.Pinger
	Log       *utils.Logger
}

func SetupRoutes(app *fiber.App, deps Dependencies) {
	authMiddleware := middleware.NewAuthMiddleware(deps.JWT)

	healthHandler := handlers.NewHealthHandler(deps.Store, deps.Probes)
	taskHandler := task_handlers.NewTaskHandler(deps.Tasks, deps.Queue, deps.Storage, deps.Log)
	retrievalHandler := retrieval_handlers.NewRetrievalHandler(deps.Retrieval, deps.Log)

	app.Get("/health", healthHandler.Check)

	// every API route is service-to-service
	v1 := app.Group("/api/v1", authMiddleware.RequireService())

	// Uploads & tasks
	v1.Post("/courses/:courseId/uploads", taskHandler.CreateUpload)
	v1.Get("/courses/:courseId/tasks", taskHandler.ListCourseTasks)
	v1.Get("/tasks/:taskId", taskHandler.GetTask)
	v1.Post("/tasks/:taskId/start", taskHandler.StartTask)

	// Retrieval
	v1.Post("/search", retrievalHandler.Search)
	v1.Post("/practice/sources", retrievalHandler.PracticeSources)
	v1.Get("/files/:fileId/pages", retrievalHandler.FilePages)
}
