package validations

import (
	"context"

	domainSend "github.com/chafiq1992/wagateway/domains/send"
	pkgError "github.com/chafiq1992/wagateway/pkg/error"
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

func ValidateSendMessage(ctx context.Context, request domainSend.MessageRequest) error {
	err := validation.ValidateStructWithContext(ctx, &request,
		validation.Field(&request.UserID, validation.Required),
		validation.Field(&request.Message, validation.Required),
	)

	if err != nil {
		return pkgError.ValidationError(err.Error())
	}

	return nil
}

func ValidateSendMedia(ctx context.Context, request domainSend.MediaRequest) error {
	err := validation.ValidateStructWithContext(ctx, &request,
		validation.Field(&request.UserID, validation.Required),
		validation.Field(&request.MediaType, validation.Required,
			validation.In("image", "audio", "video", "document", "sticker")),
	)

	if err != nil {
		return pkgError.ValidationError(err.Error())
	}

	return nil
}

func ValidateCatalogSet(ctx context.Context, request domainSend.CatalogSetRequest) error {
	err := validation.ValidateStructWithContext(ctx, &request,
		validation.Field(&request.UserID, validation.Required),
		validation.Field(&request.SetName, validation.Required),
	)

	if err != nil {
		return pkgError.ValidationError(err.Error())
	}

	return nil
}

func ValidateCatalogSetAll(ctx context.Context, request domainSend.CatalogSetAllRequest) error {
	err := validation.ValidateStructWithContext(ctx, &request,
		validation.Field(&request.SetName, validation.Required),
	)

	if err != nil {
		return pkgError.ValidationError(err.Error())
	}

	return nil
}

func ValidateCatalogItem(ctx context.Context, request domainSend.CatalogItemRequest) error {
	err := validation.ValidateStructWithContext(ctx, &request,
		validation.Field(&request.UserID, validation.Required),
		validation.Field(&request.RetailerID, validation.Required),
	)

	if err != nil {
		return pkgError.ValidationError(err.Error())
	}

	return nil
}

func ValidateCatalogItemAll(ctx context.Context, request domainSend.CatalogItemAllRequest) error {
	err := validation.ValidateStructWithContext(ctx, &request,
		validation.Field(&request.RetailerID, validation.Required),
	)

	if err != nil {
		return pkgError.ValidationError(err.Error())
	}

	return nil
}

func ValidateLogin(ctx context.Context, request domainSend.LoginRequest) error {
	err := validation.ValidateStructWithContext(ctx, &request,
		validation.Field(&request.Username, validation.Required),
		validation.Field(&request.Password, validation.Required),
	)

	if err != nil {
		return pkgError.ValidationError(err.Error())
	}

	return nil
}

func ValidateAgent(ctx context.Context, request domainSend.AgentRequest, requirePassword bool) error {
	rules := []*validation.FieldRules{
		validation.Field(&request.Username, validation.Required),
	}
	if requirePassword {
		rules = append(rules, validation.Field(&request.Password, validation.Required, validation.Length(8, 128)))
	}

	if err := validation.ValidateStructWithContext(ctx, &request, rules...); err != nil {
		return pkgError.ValidationError(err.Error())
	}

	return nil
}
