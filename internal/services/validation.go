package services

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/nimasrn/time-capsule/internal/mail"
	"github.com/nimasrn/time-capsule/internal/model"
)

const maxTitleLength = 255

// normalizeCreate trims the request, applies defaults and collects every
// field error at once.
func normalizeCreate(req *model.CapsuleCreateRequest) error {
	verr := &ValidationError{}

	req.Title = strings.TrimSpace(req.Title)
	req.Description = strings.TrimSpace(req.Description)
	req.DeliveryDate = strings.TrimSpace(req.DeliveryDate)
	req.DeliveryTime = strings.TrimSpace(req.DeliveryTime)
	req.RecipientEmail = strings.TrimSpace(req.RecipientEmail)
	req.TransferRecipientEmail = strings.TrimSpace(req.TransferRecipientEmail)

	switch {
	case req.Title == "":
		verr.Add("title", "This field is required.")
	case utf8.RuneCountInString(req.Title) > maxTitleLength:
		verr.Add("title", "Ensure this field has no more than 255 characters.")
	}

	if req.DeliveryDate == "" {
		verr.Add("delivery_date", "This field is required.")
	} else if _, err := time.Parse(model.DateLayout, req.DeliveryDate); err != nil {
		verr.Add("delivery_date", "Date has wrong format. Use YYYY-MM-DD.")
	}

	if req.DeliveryTime == "" {
		req.DeliveryTime = model.DefaultDeliveryAt
	} else if !validClock(req.DeliveryTime) {
		verr.Add("delivery_time", "Time has wrong format. Use hh:mm or hh:mm:ss.")
	}

	if req.DeliveryMethod == "" {
		req.DeliveryMethod = model.DeliveryMethodEmail
	} else if !req.DeliveryMethod.Valid() {
		verr.Add("delivery_method", "\""+string(req.DeliveryMethod)+"\" is not a valid choice.")
	}
	if req.PrivacyStatus == "" {
		req.PrivacyStatus = model.PrivacyPrivate
	} else if !req.PrivacyStatus.Valid() {
		verr.Add("privacy_status", "\""+string(req.PrivacyStatus)+"\" is not a valid choice.")
	}

	switch {
	case req.RecipientEmail == "":
		verr.Add("recipient_email", "This field is required.")
	case !mail.ValidAddress(req.RecipientEmail):
		verr.Add("recipient_email", "Enter a valid email address.")
	}
	if req.TransferRecipientEmail != "" && !mail.ValidAddress(req.TransferRecipientEmail) {
		verr.Add("transfer_recipient_email", "Enter a valid email address.")
	}

	if verr.Empty() {
		return nil
	}
	return verr
}

func validClock(s string) bool {
	if _, err := time.Parse(model.TimeLayout, s); err == nil {
		return true
	}
	_, err := time.Parse(model.TimeLayoutSeconds, s)
	return err == nil
}
