package rest

import (
	domain "github.com/chafiq1992/wagateway/domains/chatstorage"
	"github.com/chafiq1992/wagateway/pkg/utils"
	"github.com/gofiber/fiber/v2"
)

type Orders struct {
	Store domain.IChatStorageRepository
}

func InitRestOrders(app fiber.Router, store domain.IChatStorageRepository) Orders {
	rest := Orders{Store: store}
	app.Post("/orders/:id/delivered", rest.MarkDelivered)
	app.Post("/payouts/:id/mark-paid", rest.MarkPaid)
	app.Get("/payouts", rest.ListPayouts)
	app.Get("/archive", rest.ListArchive)
	return rest
}

// MarkDelivered enters an order into the payout queue. Idempotent: a
// repeat call on a known order id is a no-op.
func (controller *Orders) MarkDelivered(c *fiber.Ctx) error {
	err := controller.Store.UpsertOrder(c.UserContext(), c.Params("id"))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Order queued for payout",
	})
}

func (controller *Orders) MarkPaid(c *fiber.Ctx) error {
	err := controller.Store.SetOrderStatus(c.UserContext(), c.Params("id"), domain.OrderArchived)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Order archived",
	})
}

func (controller *Orders) ListPayouts(c *fiber.Ctx) error {
	orders, err := controller.Store.ListOrders(c.UserContext(), domain.OrderPayout)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Payouts retrieved",
		Results: orders,
	})
}

func (controller *Orders) ListArchive(c *fiber.Ctx) error {
	orders, err := controller.Store.ListOrders(c.UserContext(), domain.OrderArchived)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Archive retrieved",
		Results: orders,
	})
}
