package middleware

import (
	"fmt"

	pkgError "github.com/chafiq1992/wagateway/pkg/error"
	"github.com/chafiq1992/wagateway/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

func Recovery() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		defer func() {
			err := recover()
			if err != nil {
				var res utils.ResponseData
				res.Status = 500
				res.Code = "INTERNAL_SERVER_ERROR"
				res.Message = fmt.Sprintf("%v", err)

				logrus.Errorf("Panic recovered in middleware: %v", err)

				typedError, isTypedError := err.(pkgError.GenericError)
				if isTypedError {
					res.Status = typedError.StatusCode()
					res.Code = typedError.ErrCode()
					res.Message = typedError.Error()
				}

				_ = ctx.Status(res.Status).JSON(res)
			}
		}()

		return ctx.Next()
	}
}
