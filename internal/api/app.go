package api

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/udprip/udprip/internal/router"
	"github.com/udprip/udprip/internal/routing"
)

// NodeControl 是诊断面操纵路由器所需的能力，测试里可注入假实现。
type NodeControl interface {
	Address() string
	AddLink(address string, weight int) error
	RemoveLink(address string) error
	StartTrace(destination string) error
	Links() []routing.Link
	Routes() []routing.Route
	Status() router.Status
	HandledKinds() []string
}

// AppOptions controls how the diagnostics application should behave.
type AppOptions struct {
	Logger     *logrus.Logger
	Node       NodeControl
	ListenPort int
}

const contextKeyRequestID = "_udprip_request_id"

// NewApp builds a Fiber application with panic recovery and request-ID
// middleware. Diagnostics routes are registered separately.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Node == nil {
		return nil, errors.New("node is required")
	}
	if opts.ListenPort <= 0 || opts.ListenPort > 65535 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestIDMiddleware())

	return app, nil
}

// requestIDMiddleware 为每个请求生成 ID，写入响应头并存入 Locals。
func requestIDMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

// RequestID returns the request identifier stored by the middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}
