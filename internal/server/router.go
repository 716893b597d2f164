package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DiagnosticsPrefix 之下的路径由本服务自身应答，不进入 worker 拦截。
const DiagnosticsPrefix = "/-/"

const localsRequestID = "_shellcache_request_id"

// ProxyHandler 应答所有非诊断请求；测试中可注入假实现。
type ProxyHandler interface {
	Handle(fiber.Ctx) error
}

// ProxyHandlerFunc 把普通函数适配为 ProxyHandler。
type ProxyHandlerFunc func(fiber.Ctx) error

func (f ProxyHandlerFunc) Handle(c fiber.Ctx) error { return f(c) }

// AppOptions 描述单端口 Fiber 应用的依赖。
type AppOptions struct {
	Logger     *logrus.Logger
	Proxy      ProxyHandler
	ListenPort int
	// Domain 非空时只接受该 Host 的请求。
	Domain string
}

func (o AppOptions) validate() error {
	switch {
	case o.Logger == nil:
		return errors.New("logger is required")
	case o.Proxy == nil:
		return errors.New("proxy handler is required")
	case o.ListenPort <= 0:
		return fmt.Errorf("invalid listen port: %d", o.ListenPort)
	}
	return nil
}

// NewApp 组装 Fiber 应用：panic 恢复、请求 ID、Host 作用域校验，
// 最后由 catch-all 路由把请求交给 worker 代理。诊断路由需在返回后注册。
func NewApp(opts AppOptions) (*fiber.App, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	app := fiber.New(fiber.Config{CaseSensitive: true})
	app.Use(recover.New())
	app.Use(assignRequestID)
	app.Use(hostGuard(NewHostScope(opts.Domain), opts.Logger, opts.ListenPort))

	app.All("/*", func(c fiber.Ctx) error {
		if isDiagnostics(c) {
			return c.Next()
		}
		return opts.Proxy.Handle(c)
	})
	return app, nil
}

func assignRequestID(c fiber.Ctx) error {
	id := uuid.NewString()
	c.Locals(localsRequestID, id)
	c.Set("X-Request-ID", id)
	return c.Next()
}

// hostGuard 拒绝作用域外的 Host，避免 worker 缓存其他站点的响应。诊断路径不受限。
func hostGuard(scope HostScope, logger *logrus.Logger, port int) fiber.Handler {
	return func(c fiber.Ctx) error {
		if isDiagnostics(c) {
			return c.Next()
		}
		host := requestHost(c)
		if scope.Allows(host) {
			return c.Next()
		}

		logger.WithFields(logrus.Fields{
			"action":     "host_scope",
			"host":       host,
			"domain":     scope.Domain(),
			"port":       port,
			"request_id": RequestID(c),
		}).Warn("请求 Host 不在作用域内")
		if host != "" {
			c.Set("X-Shellcache-Host", host)
		}
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "host_unmapped"})
	}
}

func requestHost(c fiber.Ctx) string {
	if raw := c.Request().Header.Peek(fiber.HeaderHost); len(raw) > 0 {
		return strings.TrimSpace(string(raw))
	}
	return strings.TrimSpace(c.Hostname())
}

// RequestID 返回中间件为当前请求分配的标识，未经过中间件时为空。
func RequestID(c fiber.Ctx) string {
	id, _ := c.Locals(localsRequestID).(string)
	return id
}

func isDiagnostics(c fiber.Ctx) bool {
	return strings.HasPrefix(string(c.Request().URI().Path()), DiagnosticsPrefix)
}
