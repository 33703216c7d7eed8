package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/asset-hub/internal/asseterr"
	"github.com/any-hub/asset-hub/internal/metrics"
)

// AppOptions controls how the Fiber application should behave on a specific port.
type AppOptions struct {
	Logger     *logrus.Logger
	ListenPort int
	// Metrics overrides the /metrics handler; nil uses the default registry.
	Metrics http.Handler
}

const contextKeyRequestID = "_assethub_request_id"

// NewApp builds a Fiber application with request ID middleware, structured
// error rendering and the /metrics endpoint. Diagnostics routes are attached
// by the routes package.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
		ErrorHandler:  errorHandler(opts.Logger),
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware(opts.Logger))

	handler := opts.Metrics
	if handler == nil {
		handler = metrics.Handler()
	}
	app.Get("/metrics", adaptor.HTTPHandler(handler))

	return app, nil
}

// requestContextMiddleware 负责生成请求 ID，并在请求结束后输出访问日志。
func requestContextMiddleware(logger *logrus.Logger) fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)

		start := time.Now()
		err := c.Next()

		path := string(c.Request().URI().Path())
		if isDiagnosticsPath(path) {
			logger.WithFields(logrus.Fields{
				"action":     "diagnostics",
				"request_id": reqID,
				"method":     c.Method(),
				"path":       path,
				"status":     c.Response().StatusCode(),
				"elapsed_ms": time.Since(start).Milliseconds(),
			}).Debug("diagnostics request")
		}
		return err
	}
}

// errorHandler renders every error as JSON; asset error kinds map onto
// statuses so clients can tell missing resources from bad requests.
func errorHandler(logger *logrus.Logger) fiber.ErrorHandler {
	return func(c fiber.Ctx, err error) error {
		status, code := StatusFor(err)
		if status >= fiber.StatusInternalServerError {
			logger.WithFields(logrus.Fields{
				"action":     "request_failed",
				"request_id": RequestID(c),
				"path":       string(c.Request().URI().Path()),
				"kind":       string(asseterr.KindOf(err)),
			}).Warn(err.Error())
		}
		return c.Status(status).JSON(fiber.Map{
			"error":   code,
			"message": err.Error(),
		})
	}
}

// StatusFor maps an error onto an HTTP status and a stable error code.
func StatusFor(err error) (int, string) {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code, strings.ReplaceAll(strings.ToLower(fe.Message), " ", "_")
	}
	switch kind := asseterr.KindOf(err); kind {
	case asseterr.KindUnsupportedFormat:
		return fiber.StatusUnsupportedMediaType, string(kind)
	case asseterr.KindParse:
		return fiber.StatusUnprocessableEntity, string(kind)
	case asseterr.KindNetwork, asseterr.KindBundleManifest, asseterr.KindSubpackageLoad:
		return fiber.StatusBadGateway, string(kind)
	case asseterr.KindFileSystem:
		return fiber.StatusNotFound, string(kind)
	}
	return fiber.StatusInternalServerError, "internal_error"
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

func isDiagnosticsPath(path string) bool {
	return strings.HasPrefix(path, "/-/")
}
