package rest

import (
	"github.com/chafiq1992/wagateway/config"
	"github.com/chafiq1992/wagateway/infrastructure/valkey"
	"github.com/gofiber/fiber/v2"
)

type Health struct {
	Valkey *valkey.Client
}

func InitRestHealth(app fiber.Router, vk *valkey.Client) Health {
	rest := Health{Valkey: vk}
	app.Get("/health", rest.Check)
	return rest
}

func (controller *Health) Check(c *fiber.Ctx) error {
	cacheUp := controller.Valkey != nil && controller.Valkey.IsConnected()
	return c.JSON(fiber.Map{
		"status":  "ok",
		"version": config.AppVersion,
		"cache":   cacheUp,
	})
}
