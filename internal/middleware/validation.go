package middleware

import (
	"errors"
	"unicode/utf8"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/zapcrm/zapcrm/internal/model"
)

const maxContentLength = 100000

var validUTF8 = validation.By(func(value interface{}) error {
	s, _ := value.(string)
	if !utf8.ValidString(s) {
		return errors.New("must be valid UTF-8")
	}
	return nil
})

var validKind = validation.By(func(value interface{}) error {
	k, _ := value.(model.Kind)
	if k != "" && !k.Valid() {
		return errors.New("must be one of text, image, audio, video, document")
	}
	return nil
})

// ValidateSendMessage validates the internal send API body.
func ValidateSendMessage(req *model.SendMessageRequest) error {
	return validation.ValidateStruct(req,
		validation.Field(&req.To, validation.Required, validation.Length(1, 32), is.Digit),
		validation.Field(&req.Content, validation.Required, validation.Length(1, maxContentLength), validUTF8),
		validation.Field(&req.Kind, validKind),
		validation.Field(&req.Caption, validation.Length(0, 1024), validUTF8),
		validation.Field(&req.ChannelID, validation.Length(0, 64)),
	)
}

// ValidateStatus validates a pipeline stage change.
func ValidateStatus(req *model.UpdateStatusRequest) error {
	status := model.NormalizeStatus(req.Status)
	return validation.Errors{
		"status": validation.Validate(status, validation.Required, validation.Length(1, 32)),
	}.Filter()
}

// ValidateRegisterConnection validates a connection registration.
func ValidateRegisterConnection(req *model.RegisterConnectionRequest) error {
	return validation.ValidateStruct(req,
		validation.Field(&req.PhoneNumberID, validation.Required, validation.Length(1, 64)),
		validation.Field(&req.AccessToken, validation.Required),
		validation.Field(&req.DisplayName, validation.Length(0, 128), validUTF8),
	)
}

// ValidateTenant validates a tenant settings change.
func ValidateTenant(req *model.UpdateTenantRequest) error {
	return validation.ValidateStruct(req,
		validation.Field(&req.Name, validation.Length(0, 256), validUTF8),
		validation.Field(&req.WebhookURL, is.URL),
	)
}
