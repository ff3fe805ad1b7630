package fixtures

import (
	"strings"
	"time"

	"github.com/nimasrn/time-capsule/internal/model"
)

var (
	ValidRecipientEmails = []string{
		"bob@example.com",
		"carol.smith@example.org",
		"dave+capsules@mail.example.net",
	}

	InvalidRecipientEmails = []string{
		"",
		"bob",
		"bob@",
		"@example.com",
		"bob example.com",
	}

	InvalidDeliveryTimes = []string{
		"25:00",
		"9am",
		"12:60",
	}
)

// DateOffset formats the date days away from now in loc.
func DateOffset(days int, loc *time.Location) string {
	return time.Now().In(loc).AddDate(0, 0, days).Format(model.DateLayout)
}

func NewTestCapsuleCreateRequest(ownerID int64, deliveryDate, recipient string) model.CapsuleCreateRequest {
	return model.CapsuleCreateRequest{
		OwnerID:        ownerID,
		Title:          "Letter to the future",
		Description:    "Open when it is time",
		DeliveryDate:   deliveryDate,
		DeliveryTime:   "00:00",
		TextContent:    "Hello from the past.",
		RecipientEmail: recipient,
	}
}

// CapsuleDueNow is a request whose delivery instant has already passed.
func CapsuleDueNow(ownerID int64, recipient string) model.CapsuleCreateRequest {
	return NewTestCapsuleCreateRequest(ownerID, DateOffset(-1, time.UTC), recipient)
}

func CapsuleDueNextYear(ownerID int64, recipient string) model.CapsuleCreateRequest {
	return NewTestCapsuleCreateRequest(ownerID, DateOffset(365, time.UTC), recipient)
}

func WithFile(req model.CapsuleCreateRequest, name, content string) model.CapsuleCreateRequest {
	req.Files = append(req.Files, model.Upload{
		Name: name,
		Size: int64(len(content)),
		Body: strings.NewReader(content),
	})
	return req
}
