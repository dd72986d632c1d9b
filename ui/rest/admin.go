package rest

import (
	domain "github.com/chafiq1992/wagateway/domains/chatstorage"
	domainSend "github.com/chafiq1992/wagateway/domains/send"
	pkgError "github.com/chafiq1992/wagateway/pkg/error"
	"github.com/chafiq1992/wagateway/pkg/secure"
	"github.com/chafiq1992/wagateway/pkg/utils"
	"github.com/chafiq1992/wagateway/validations"
	"github.com/gofiber/fiber/v2"
)

// tagOptionsKey is the settings entry holding the tag catalog.
const tagOptionsKey = "tag_options"

type Admin struct {
	Store domain.IChatStorageRepository
}

func InitRestAdmin(app fiber.Router, store domain.IChatStorageRepository) Admin {
	rest := Admin{Store: store}
	app.Post("/login", rest.Login)
	app.Get("/agents", rest.ListAgents)
	app.Post("/agents", rest.CreateAgent)
	app.Put("/agents/:username", rest.UpdateAgent)
	app.Delete("/agents/:username", rest.DeleteAgent)
	app.Get("/tag-options", rest.GetTagOptions)
	app.Put("/tag-options", rest.SetTagOptions)
	return rest
}

func (controller *Admin) Login(c *fiber.Ctx) error {
	var request domainSend.LoginRequest
	err := c.BodyParser(&request)
	utils.PanicIfNeeded(err)

	err = validations.ValidateLogin(c.UserContext(), request)
	utils.PanicIfNeeded(err)

	agent, err := controller.Store.GetAgent(c.UserContext(), request.Username)
	if err != nil || agent == nil || !secure.VerifyPassword(request.Password, agent.PasswordHash) {
		panic(pkgError.UnauthorizedError("invalid username or password"))
	}

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Login success",
		Results: agent,
	})
}

func (controller *Admin) ListAgents(c *fiber.Ctx) error {
	agents, err := controller.Store.ListAgents(c.UserContext())
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Agents retrieved",
		Results: agents,
	})
}

func (controller *Admin) CreateAgent(c *fiber.Ctx) error {
	var request domainSend.AgentRequest
	err := c.BodyParser(&request)
	utils.PanicIfNeeded(err)

	err = validations.ValidateAgent(c.UserContext(), request, true)
	utils.PanicIfNeeded(err)

	hash, err := secure.HashPassword(request.Password)
	utils.PanicIfNeeded(err)

	err = controller.Store.CreateAgent(c.UserContext(), domain.Agent{
		Username:     request.Username,
		Name:         request.Name,
		PasswordHash: hash,
		IsAdmin:      request.IsAdmin,
	})
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Agent created",
	})
}

func (controller *Admin) UpdateAgent(c *fiber.Ctx) error {
	var request domainSend.AgentRequest
	err := c.BodyParser(&request)
	utils.PanicIfNeeded(err)

	request.Username = c.Params("username")
	err = validations.ValidateAgent(c.UserContext(), request, false)
	utils.PanicIfNeeded(err)

	hash := ""
	if request.Password != "" {
		hash, err = secure.HashPassword(request.Password)
		utils.PanicIfNeeded(err)
	}

	err = controller.Store.UpdateAgent(c.UserContext(), domain.Agent{
		Username:     request.Username,
		Name:         request.Name,
		PasswordHash: hash,
		IsAdmin:      request.IsAdmin,
	})
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Agent updated",
	})
}

func (controller *Admin) DeleteAgent(c *fiber.Ctx) error {
	err := controller.Store.DeleteAgent(c.UserContext(), c.Params("username"))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Agent deleted",
	})
}

func (controller *Admin) GetTagOptions(c *fiber.Ctx) error {
	options := []string{}
	if err := controller.Store.GetSetting(c.UserContext(), tagOptionsKey, &options); err != nil {
		options = []string{}
	}

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Tag options retrieved",
		Results: options,
	})
}

func (controller *Admin) SetTagOptions(c *fiber.Ctx) error {
	var request struct {
		Options []string `json:"options"`
	}
	err := c.BodyParser(&request)
	utils.PanicIfNeeded(err)

	if request.Options == nil {
		panic(pkgError.ValidationError("options: cannot be blank"))
	}

	err = controller.Store.SetSetting(c.UserContext(), tagOptionsKey, request.Options)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Tag options updated",
	})
}
