package routes

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/tripcache/tripcache/internal/control"
	"github.com/tripcache/tripcache/internal/logging"
)

// RegisterControlRoutes 暴露 POST /-/control，把 JSON 命令转交给控制通道。
// 每个请求恰好得到一个 Reply 形状的响应体。
func RegisterControlRoutes(app *fiber.App, channel control.Channel, logger *logrus.Logger) {
	if app == nil || channel == nil {
		return
	}

	app.Post(control.Path, func(c fiber.Ctx) error {
		msg, err := control.ParseMessage(c.Body())
		if err != nil {
			logControl(logger, msg, err)
			return c.Status(fiber.StatusBadRequest).JSON(control.ErrorReply(msg, err))
		}

		ctx := c.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		reply, err := channel.Post(ctx, msg)
		if err != nil {
			logControl(logger, msg, err)
			status := fiber.StatusBadGateway
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				status = fiber.StatusGatewayTimeout
			}
			return c.Status(status).JSON(control.ErrorReply(msg, err))
		}
		return c.JSON(reply)
	})
}

func logControl(logger *logrus.Logger, msg control.Message, err error) {
	if logger == nil {
		return
	}
	logger.WithFields(logging.ControlFields(string(msg.Type), msg.CountryISO2)).
		WithError(err).
		Warn("control_request_failed")
}
