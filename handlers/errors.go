package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/sahilchouksey/study-ingest/services"
	"github.com/sahilchouksey/study-ingest/utils"
	"github.com/sahilchouksey/study-ingest/utils/response"
)

// ServiceError maps a service sentinel to its HTTP response. Anything
// unrecognised is logged and reported as a 500.
func ServiceError(c *fiber.Ctx, log *utils.Logger, err error) error {
	switch {
	case errors.Is(err, services.ErrTaskNotFound),
		errors.Is(err, services.ErrCourseNotFound),
		errors.Is(err, services.ErrBucketNotFound):
		return response.NotFound(c, err.Error())
	case errors.Is(err, services.ErrQuotaExceeded),
		errors.Is(err, services.ErrInvalidTransition),
		errors.Is(err, services.ErrFileAlreadyExists):
		return response.Conflict(c, err.Error())
	case errors.Is(err, services.ErrInvalidFilter):
		return response.BadRequest(c, err.Error())
	}

	log.Error("request failed", "path", c.Path(), "method", c.Method(), "error", err)
	return response.InternalServerError(c, "")
}
