package model

// PublicCapsule is what an access token holder may see. It never carries the
// owner's id or contact fields.
type PublicCapsule struct {
	ID           int64            `json:"id"`
	Title        string           `json:"title"`
	Description  string           `json:"description"`
	DeliveryDate string           `json:"delivery_date"`
	OwnerName    string           `json:"owner_name"`
	Contents     []*PublicContent `json:"contents"`
}

type PublicContent struct {
	ID      int64       `json:"id"`
	Type    ContentType `json:"content_type"`
	Text    string      `json:"text_content,omitempty"`
	FileURL string      `json:"file_url,omitempty"`
	Order   int         `json:"order"`
}

func NewPublicCapsule(c *Capsule, owner *Principal) *PublicCapsule {
	p := &PublicCapsule{
		ID:           c.ID,
		Title:        c.Title,
		Description:  c.Description,
		DeliveryDate: c.DeliveryDate,
		OwnerName:    owner.DisplayName(),
		Contents:     make([]*PublicContent, 0, len(c.Contents)),
	}
	for _, content := range c.Contents {
		p.Contents = append(p.Contents, &PublicContent{
			ID:      content.ID,
			Type:    content.Type,
			Text:    content.Text,
			FileURL: content.FileURL(),
			Order:   content.Order,
		})
	}
	return p
}
