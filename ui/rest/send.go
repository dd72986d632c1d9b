package rest

import (
	"context"
	"fmt"
	"mime/multipart"
	"path/filepath"
	"strings"
	"time"

	"github.com/chafiq1992/wagateway/config"
	domain "github.com/chafiq1992/wagateway/domains/chatstorage"
	domainSend "github.com/chafiq1992/wagateway/domains/send"
	"github.com/chafiq1992/wagateway/infrastructure/storage"
	pkgError "github.com/chafiq1992/wagateway/pkg/error"
	"github.com/chafiq1992/wagateway/pkg/utils"
	"github.com/chafiq1992/wagateway/processor"
	"github.com/chafiq1992/wagateway/registry"
	"github.com/chafiq1992/wagateway/validations"
	"github.com/disintegration/imaging"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"
)

// maxImageDim bounds uploaded image dimensions; the upstream rejects
// oversized media.
const maxImageDim = 1600

type Send struct {
	Processor *processor.Processor
	Store     domain.IChatStorageRepository
	Limiter   *registry.SendLimiter
}

func InitRestSend(app fiber.Router, proc *processor.Processor, store domain.IChatStorageRepository, limiter *registry.SendLimiter) Send {
	rest := Send{Processor: proc, Store: store, Limiter: limiter}
	app.Post("/send-message", rest.SendMessage)
	app.Post("/send-media", rest.SendMedia)
	app.Post("/send-media-async", rest.SendMediaAsync)
	app.Post("/send-catalog-set", rest.SendCatalogSet)
	app.Post("/send-catalog-set-all", rest.SendCatalogSetAll)
	app.Post("/send-catalog-item", rest.SendCatalogItem)
	app.Post("/send-catalog-all", rest.SendCatalogAll)
	return rest
}

func agentKey(agentID string) string {
	if agentID == "" {
		return "api"
	}
	return agentID
}

func (controller *Send) SendMessage(c *fiber.Ctx) error {
	var request domainSend.MessageRequest
	err := c.BodyParser(&request)
	utils.PanicIfNeeded(err)

	err = validations.ValidateSendMessage(c.UserContext(), request)
	utils.PanicIfNeeded(err)

	if !controller.Limiter.AllowText(agentKey(request.AgentID)) {
		panic(pkgError.RateLimitedError("text send rate exceeded, retry later"))
	}

	kind := request.Type
	if kind == "" {
		kind = string(domain.KindText)
	}
	record, err := controller.Processor.ProcessOutgoing(c.UserContext(), processor.OutgoingMessage{
		UserID:  request.UserID,
		Kind:    kind,
		Body:    request.Message,
		ReplyTo: request.ReplyTo,
		TempID:  request.TempID,
		AgentID: request.AgentID,
	})
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Message queued",
		Results: record,
	})
}

func (controller *Send) SendMedia(c *fiber.Ctx) error {
	request, files := controller.parseMediaForm(c)

	records := make([]*domain.Message, 0, len(files))
	for _, fh := range files {
		path, err := saveUpload(fh, request.MediaType)
		utils.PanicIfNeeded(err)

		record, err := controller.Processor.ProcessOutgoing(c.UserContext(), processor.OutgoingMessage{
			UserID:         request.UserID,
			Kind:           request.MediaType,
			Caption:        request.Caption,
			Price:          request.Price,
			AgentID:        request.AgentID,
			MediaLocalPath: path,
		})
		utils.PanicIfNeeded(err)
		records = append(records, record)
	}

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: fmt.Sprintf("Queued %d media message(s)", len(records)),
		Results: records,
	})
}

// SendMediaAsync accepts the upload, answers 202 and runs the pipeline
// in the background.
func (controller *Send) SendMediaAsync(c *fiber.Ctx) error {
	request, files := controller.parseMediaForm(c)

	paths := make([]string, 0, len(files))
	for _, fh := range files {
		path, err := saveUpload(fh, request.MediaType)
		utils.PanicIfNeeded(err)
		paths = append(paths, path)
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		for _, path := range paths {
			_, err := controller.Processor.ProcessOutgoing(ctx, processor.OutgoingMessage{
				UserID:         request.UserID,
				Kind:           request.MediaType,
				Caption:        request.Caption,
				Price:          request.Price,
				AgentID:        request.AgentID,
				MediaLocalPath: path,
			})
			if err != nil {
				logrus.WithError(err).WithField("user_id", request.UserID).
					Error("[SEND] async media send failed")
			}
		}
	}()

	return c.Status(fiber.StatusAccepted).JSON(utils.ResponseData{
		Status:  202,
		Code:    "ACCEPTED",
		Message: fmt.Sprintf("Processing %d media message(s)", len(paths)),
	})
}

// parseMediaForm validates the multipart request and enforces the media
// token bucket before any file hits the disk.
func (controller *Send) parseMediaForm(c *fiber.Ctx) (domainSend.MediaRequest, []*multipart.FileHeader) {
	var request domainSend.MediaRequest
	err := c.BodyParser(&request)
	utils.PanicIfNeeded(err)

	err = validations.ValidateSendMedia(c.UserContext(), request)
	utils.PanicIfNeeded(err)

	form, err := c.MultipartForm()
	utils.PanicIfNeeded(err)

	files := form.File["files"]
	if len(files) == 0 {
		panic(pkgError.ValidationError("files: at least one file is required"))
	}

	for range files {
		if !controller.Limiter.AllowMedia(agentKey(request.AgentID)) {
			panic(pkgError.RateLimitedError("media send rate exceeded, retry later"))
		}
	}

	return request, files
}

// saveUpload stores the upload under the send-items scratch dir and
// normalizes oversized images in place.
func saveUpload(fh *multipart.FileHeader, mediaType string) (string, error) {
	ext := strings.ToLower(filepath.Ext(fh.Filename))
	if ext == "" {
		ext = "." + storage.ExtForContentType(fh.Header.Get("Content-Type"))
	}
	name := fmt.Sprintf("%s_%s_%s%s",
		mediaType,
		time.Now().UTC().Format("20060102150405"),
		uuid.NewString()[:8],
		ext,
	)
	path := filepath.Join(config.PathSendItems, name)

	if err := fasthttp.SaveMultipartFile(fh, path); err != nil {
		return "", err
	}

	if mediaType == string(domain.KindImage) || mediaType == string(domain.KindSticker) {
		normalizeImage(path)
	}
	return path, nil
}

func normalizeImage(path string) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return
	}
	bounds := img.Bounds()
	if bounds.Dx() <= maxImageDim && bounds.Dy() <= maxImageDim {
		return
	}
	img = imaging.Fit(img, maxImageDim, maxImageDim, imaging.Lanczos)
	if err := imaging.Save(img, path); err != nil {
		logrus.WithError(err).WithField("path", path).Debug("[SEND] image normalization failed")
	}
}

func (controller *Send) SendCatalogSet(c *fiber.Ctx) error {
	var request domainSend.CatalogSetRequest
	err := c.BodyParser(&request)
	utils.PanicIfNeeded(err)

	err = validations.ValidateCatalogSet(c.UserContext(), request)
	utils.PanicIfNeeded(err)

	err = controller.Processor.SendCatalogSet(c.UserContext(), request.UserID, request.SetName)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Catalog set sent",
	})
}

func (controller *Send) SendCatalogSetAll(c *fiber.Ctx) error {
	var request domainSend.CatalogSetAllRequest
	err := c.BodyParser(&request)
	utils.PanicIfNeeded(err)

	err = validations.ValidateCatalogSetAll(c.UserContext(), request)
	utils.PanicIfNeeded(err)

	userIDs := request.UserIDs
	if len(userIDs) == 0 {
		userIDs = controller.allConversationIDs(c)
	}

	failures := controller.Processor.SendCatalogSetToAll(c.UserContext(), request.SetName, userIDs)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: fmt.Sprintf("Dispatched to %d conversation(s), %d failure(s)", len(userIDs), len(failures)),
		Results: map[string]any{"failures": failures},
	})
}

func (controller *Send) SendCatalogItem(c *fiber.Ctx) error {
	var request domainSend.CatalogItemRequest
	err := c.BodyParser(&request)
	utils.PanicIfNeeded(err)

	err = validations.ValidateCatalogItem(c.UserContext(), request)
	utils.PanicIfNeeded(err)

	record, err := controller.Processor.SendCatalogItem(c.UserContext(), request.UserID, request.RetailerID, request.Caption)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Catalog item queued",
		Results: record,
	})
}

func (controller *Send) SendCatalogAll(c *fiber.Ctx) error {
	var request domainSend.CatalogItemAllRequest
	err := c.BodyParser(&request)
	utils.PanicIfNeeded(err)

	err = validations.ValidateCatalogItemAll(c.UserContext(), request)
	utils.PanicIfNeeded(err)

	userIDs := request.UserIDs
	if len(userIDs) == 0 {
		userIDs = controller.allConversationIDs(c)
	}

	failures := map[string]string{}
	for _, userID := range userIDs {
		if processor.IsInternalChannel(userID) {
			continue
		}
		if _, err := controller.Processor.SendCatalogItem(c.UserContext(), userID, request.RetailerID, request.Caption); err != nil {
			failures[userID] = err.Error()
		}
	}

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: fmt.Sprintf("Dispatched to %d conversation(s), %d failure(s)", len(userIDs), len(failures)),
		Results: map[string]any{"failures": failures},
	})
}

func (controller *Send) allConversationIDs(c *fiber.Ctx) []string {
	conversations, err := controller.Store.ListConversations(c.UserContext(), domain.ConversationFilter{})
	utils.PanicIfNeeded(err)

	ids := make([]string, 0, len(conversations))
	for _, conv := range conversations {
		if processor.IsInternalChannel(conv.UserID) {
			continue
		}
		ids = append(ids, conv.UserID)
	}
	return ids
}
