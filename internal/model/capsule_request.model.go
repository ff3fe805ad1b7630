package model

import "io"

// Upload is a media file attached to a capsule creation request.
type Upload struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

type CapsuleCreateRequest struct {
	OwnerID                int64
	Title                  string
	Description            string
	DeliveryDate           string
	DeliveryTime           string
	DeliveryMethod         DeliveryMethod
	PrivacyStatus          PrivacyStatus
	TextContent            string
	RecipientEmail         string
	TransferOnInactivity   bool
	TransferRecipientEmail string
	Files                  []Upload
}
