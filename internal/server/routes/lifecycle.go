package routes

import (
	"context"
	"errors"
	"sort"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/shellcache/internal/server"
	"github.com/any-hub/shellcache/internal/worker"
)

// RegisterLifecycleRoutes 暴露 /-/status、/-/manifest 与 /-/message 诊断接口，
// 供运维查询 worker 状态并投递 skipWaiting/downloadOffline 消息。
func RegisterLifecycleRoutes(app *fiber.App, registration *worker.Registration, logger *logrus.Logger) {
	if app == nil || registration == nil {
		return
	}

	app.Get("/-/status", func(c fiber.Ctx) error {
		return c.JSON(registration.Status(requestContext(c)))
	})

	app.Get("/-/manifest", func(c fiber.Ctx) error {
		active := registration.Active()
		if active == nil {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "no_active_worker"})
		}
		return c.JSON(encodeManifest(active))
	})

	app.Post("/-/message", func(c fiber.Ctx) error {
		data := string(c.Body())
		signal, err := registration.Post(requestContext(c), data)
		if err != nil {
			code, status := classifyMessageError(err)
			if logger != nil {
				logger.WithError(err).WithFields(logrus.Fields{
					"action":     "message",
					"signal":     string(signal),
					"request_id": server.RequestID(c),
				}).Error("message_failed")
			}
			return c.Status(status).JSON(fiber.Map{"error": code, "signal": string(signal)})
		}
		if signal == worker.SignalNone {
			return c.SendStatus(fiber.StatusNoContent)
		}
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"signal": string(signal)})
	})
}

type manifestPayload struct {
	Version   string            `json:"version"`
	Digest    string            `json:"digest"`
	Resources []resourcePayload `json:"resources"`
	Core      []string          `json:"core"`
}

type resourcePayload struct {
	Key         string `json:"key"`
	Fingerprint string `json:"fingerprint"`
}

func encodeManifest(w *worker.Worker) manifestPayload {
	m := w.Manifest()
	resources := make([]resourcePayload, 0, len(m))
	for _, key := range m.Keys() {
		resources = append(resources, resourcePayload{Key: key, Fingerprint: m.Fingerprint(key)})
	}
	core := w.Core()
	sort.Strings(core)
	return manifestPayload{
		Version:   w.Version(),
		Digest:    w.Digest().String(),
		Resources: resources,
		Core:      core,
	}
}

func classifyMessageError(err error) (string, int) {
	switch {
	case errors.Is(err, worker.ErrNoActiveWorker):
		return "no_active_worker", fiber.StatusConflict
	case errors.Is(err, worker.ErrActivationFailed):
		return "activation_failed", fiber.StatusBadGateway
	default:
		return "backfill_failed", fiber.StatusBadGateway
	}
}

func requestContext(c fiber.Ctx) context.Context {
	if ctx := c.UserContext(); ctx != nil {
		return ctx
	}
	return context.Background()
}
