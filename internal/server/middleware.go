package server

import (
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/andresmejia3/outfit360/internal/domain"
	"github.com/andresmejia3/outfit360/internal/metrics"
)

// statusFor maps an error kind onto an HTTP status.
func statusFor(err error) int {
	switch domain.Kind(err) {
	case domain.ErrConfig.Code:
		return fiber.StatusBadRequest
	case domain.ErrModelInit.Code:
		return fiber.StatusServiceUnavailable
	case domain.ErrDetection.Code:
		return fiber.StatusBadGateway
	}
	return fiber.StatusInternalServerError
}

func errorHandler(log *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			return c.Status(fiberErr.Code).JSON(fiber.Map{
				"error": fiber.Map{"code": "HTTP_ERROR", "message": fiberErr.Message},
			})
		}

		var appErr *domain.AppError
		if errors.As(err, &appErr) {
			status := statusFor(err)
			if status >= fiber.StatusInternalServerError {
				log.Error("request failed", zap.String("code", appErr.Code), zap.Error(err), zap.String("path", c.Path()))
			}
			return c.Status(status).JSON(fiber.Map{
				"error": fiber.Map{"code": appErr.Code, "message": appErr.Message},
			})
		}

		log.Error("unhandled error", zap.Error(err), zap.String("path", c.Path()))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": fiber.Map{"code": "INTERNAL_ERROR", "message": "An unexpected error occurred"},
		})
	}
}

func recoverer(log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic recovered",
					zap.Any("panic", r),
					zap.String("path", c.Path()),
					zap.String("method", c.Method()),
				)
				_ = c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
					"error": fiber.Map{"code": "INTERNAL_ERROR", "message": "An unexpected error occurred"},
				})
			}
		}()
		return c.Next()
	}
}

func requestLogger(log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		if err != nil {
			// Run the error handler now so the logged status is the one sent.
			if herr := c.App().ErrorHandler(c, err); herr != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
		}

		status := c.Response().StatusCode()
		level := zapcore.InfoLevel
		if status >= 500 {
			level = zapcore.ErrorLevel
		} else if status >= 400 {
			level = zapcore.WarnLevel
		}

		route := c.Route().Path
		metrics.HTTPRequestsTotal.WithLabelValues(c.Method(), route, strconv.Itoa(status)).Inc()
		log.Check(level, "http request").Write(
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("request_id", c.GetRespHeader(fiber.HeaderXRequestID)),
		)
		return nil
	}
}
