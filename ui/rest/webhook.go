package rest

import (
	"github.com/chafiq1992/wagateway/processor"
	"github.com/chafiq1992/wagateway/pkg/utils"
	"github.com/gofiber/fiber/v2"
)

type Webhook struct {
	Processor *processor.Processor
}

func InitRestWebhook(app fiber.Router, proc *processor.Processor) Webhook {
	rest := Webhook{Processor: proc}
	app.Get("/webhook", rest.Verify)
	app.Post("/webhook", rest.Receive)
	return rest
}

// Verify answers the Cloud API subscription handshake: echo the
// challenge when the presented token matches, 403 otherwise.
func (handler *Webhook) Verify(c *fiber.Ctx) error {
	challenge, ok := processor.VerifyWebhook(
		c.Query("hub.mode"),
		c.Query("hub.verify_token"),
		c.Query("hub.challenge"),
	)
	if !ok {
		return c.Status(fiber.StatusForbidden).SendString("verification failed")
	}
	return c.SendString(challenge)
}

func (handler *Webhook) Receive(c *fiber.Ctx) error {
	var payload processor.WebhookPayload
	if err := c.BodyParser(&payload); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(utils.ResponseData{
			Status:  400,
			Code:    "VALIDATION_ERROR",
			Message: err.Error(),
		})
	}

	handler.Processor.HandleWebhook(c.UserContext(), payload)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Webhook processed",
	})
}
