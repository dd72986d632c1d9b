package rest

import (
	"strings"

	domain "github.com/chafiq1992/wagateway/domains/chatstorage"
	pkgError "github.com/chafiq1992/wagateway/pkg/error"
	"github.com/chafiq1992/wagateway/pkg/utils"
	"github.com/chafiq1992/wagateway/processor"
	"github.com/gofiber/fiber/v2"
)

const (
	historyDefaultLimit = 50
	historyMaxLimit     = 500
)

type Conversation struct {
	Store     domain.IChatStorageRepository
	Processor *processor.Processor
}

func InitRestConversation(app fiber.Router, store domain.IChatStorageRepository, proc *processor.Processor) Conversation {
	rest := Conversation{Store: store, Processor: proc}
	app.Get("/messages/:user_id", rest.Messages)
	app.Get("/conversations", rest.List)
	app.Post("/conversations/:user_id/mark-read", rest.MarkRead)
	app.Post("/conversations/:user_id/assign", rest.Assign)
	app.Post("/conversations/:user_id/tags", rest.Tags)
	return rest
}

// Messages serves the history window. Three access patterns: offset
// paging, since-cursor (ascending, for resume) and before-cursor
// (ascending, for backscroll).
func (controller *Conversation) Messages(c *fiber.Ctx) error {
	userID := c.Params("user_id")
	limit := clampLimit(c.QueryInt("limit", historyDefaultLimit))

	var (
		messages []domain.Message
		err      error
	)
	switch {
	case c.Query("since") != "":
		messages, err = controller.Store.GetMessagesSince(c.UserContext(), userID, c.Query("since"), limit)
	case c.Query("before") != "":
		messages, err = controller.Store.GetMessagesBefore(c.UserContext(), userID, c.Query("before"), limit)
	default:
		messages, err = controller.Store.GetMessages(c.UserContext(), userID, c.QueryInt("offset", 0), limit)
	}
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "History retrieved",
		Results: messages,
	})
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return historyDefaultLimit
	}
	if limit > historyMaxLimit {
		return historyMaxLimit
	}
	return limit
}

func (controller *Conversation) List(c *fiber.Ctx) error {
	filter := domain.ConversationFilter{
		Query:           c.Query("q"),
		UnreadOnly:      c.QueryBool("unread_only"),
		UnrespondedOnly: c.QueryBool("unresponded_only"),
		AssignedAgent:   c.Query("assigned"),
		Limit:           c.QueryInt("limit", 0),
	}
	if tags := strings.TrimSpace(c.Query("tags")); tags != "" {
		for _, tag := range strings.Split(tags, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				filter.Tags = append(filter.Tags, tag)
			}
		}
	}

	conversations, err := controller.Store.ListConversations(c.UserContext(), filter)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Conversations retrieved",
		Results: conversations,
	})
}

func (controller *Conversation) MarkRead(c *fiber.Ctx) error {
	var request struct {
		MessageIDs []string `json:"message_ids"`
	}
	if len(c.Body()) > 0 {
		err := c.BodyParser(&request)
		utils.PanicIfNeeded(err)
	}

	count, err := controller.Processor.MarkConversationRead(c.UserContext(), c.Params("user_id"), request.MessageIDs)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Marked read",
		Results: map[string]any{"count": count},
	})
}

func (controller *Conversation) Assign(c *fiber.Ctx) error {
	var request struct {
		Agent string `json:"agent"`
	}
	err := c.BodyParser(&request)
	utils.PanicIfNeeded(err)

	err = controller.Store.SetAssignedAgent(c.UserContext(), c.Params("user_id"), request.Agent)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Conversation assigned",
	})
}

func (controller *Conversation) Tags(c *fiber.Ctx) error {
	var request struct {
		Tags []string `json:"tags"`
	}
	err := c.BodyParser(&request)
	utils.PanicIfNeeded(err)

	if request.Tags == nil {
		panic(pkgError.ValidationError("tags: cannot be blank"))
	}

	err = controller.Store.SetTags(c.UserContext(), c.Params("user_id"), request.Tags)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Tags updated",
	})
}
