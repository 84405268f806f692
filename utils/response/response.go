package response

import (
	"github.com/gofiber/fiber/v2"
)

// Response is the envelope every API answer uses
type Response struct {
	Success bool         `json:"success"`
	Message string       `json:"message,omitempty"`
	Data    interface{}  `json:"data,omitempty"`
	Error   *ErrorDetail `json:"error,omitempty"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// PaginationMeta describes one page of a task listing
type PaginationMeta struct {
	CurrentPage int   `json:"current_page"`
	PerPage     int   `json:"per_page"`
	Total       int64 `json:"total"`
	TotalPages  int   `json:"total_pages"`
}

type PaginatedResponse struct {
	Success    bool           `json:"success"`
	Data       interface{}    `json:"data"`
	Pagination PaginationMeta `json:"pagination"`
}

func Success(c *fiber.Ctx, data interface{}) error {
	return c.Status(fiber.StatusOK).JSON(Response{Success: true, Data: data})
}

// Created answers a reserved upload
func Created(c *fiber.Ctx, data interface{}) error {
	return c.Status(fiber.StatusCreated).JSON(Response{Success: true, Data: data})
}

// Accepted answers work handed to the worker
func Accepted(c *fiber.Ctx, message string, data interface{}) error {
	return c.Status(fiber.StatusAccepted).JSON(Response{Success: true, Message: message, Data: data})
}

// Error writes statusCode with a machine-readable code and optional details
func Error(c *fiber.Ctx, statusCode int, message, code string, details ...string) error {
	detail := &ErrorDetail{Code: code, Message: message}
	if len(details) > 0 {
		detail.Details = details[0]
	}
	return c.Status(statusCode).JSON(Response{Success: false, Error: detail})
}

func BadRequest(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusBadRequest, message, "BAD_REQUEST")
}

func Unauthorized(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusUnauthorized, orDefault(message, "Unauthorized access"), "UNAUTHORIZED")
}

func NotFound(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusNotFound, orDefault(message, "Resource not found"), "NOT_FOUND")
}

// Conflict covers quota and task-state conflicts
func Conflict(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusConflict, message, "CONFLICT")
}

// ValidationError returns 422 with the validator's field messages as details
func ValidationError(c *fiber.Ctx, details string) error {
	return Error(c, fiber.StatusUnprocessableEntity, "Validation failed", "VALIDATION_ERROR", details)
}

// TooManyRequests is sent by the rate limiter
func TooManyRequests(c *fiber.Ctx) error {
	return Error(c, fiber.StatusTooManyRequests, "Too many requests. Please try again later.", "RATE_LIMIT_EXCEEDED")
}

func InternalServerError(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusInternalServerError, orDefault(message, "Internal server error"), "INTERNAL_ERROR")
}

func ServiceUnavailable(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusServiceUnavailable, orDefault(message, "Service temporarily unavailable"), "SERVICE_UNAVAILABLE")
}

func Paginated(c *fiber.Ctx, data interface{}, pagination PaginationMeta) error {
	return c.Status(fiber.StatusOK).JSON(PaginatedResponse{Success: true, Data: data, Pagination: pagination})
}

// CalculatePagination clamps page to >= 1 and limit to 1..100
func CalculatePagination(page, limit int, total int64) PaginationMeta {
	page = max(page, 1)
	if limit < 1 {
		limit = 10
	}
	limit = min(limit, 100)

	return PaginationMeta{
		CurrentPage: page,
		PerPage:     limit,
		Total:       total,
		TotalPages:  int((total + int64(limit) - 1) / int64(limit)),
	}
}

func orDefault(message, fallback string) string {
	if message == "" {
		return fallback
	}
	return message
}
