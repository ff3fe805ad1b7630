package mail

import (
	"bytes"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
)

const SuccessMessage = "Email sent successfully."

var plainTemplate = texttemplate.Must(texttemplate.New("plain").Parse(`Hello,

A time capsule titled "{{.Title}}" created by {{.OwnerName}} has been unsealed and is now available for you to view.
{{if .Text}}
Here's a message from the capsule:
---
{{.Text}}
---
{{end}}
You can view the full capsule contents, including any media, here:
{{.Link}}

Enjoy your journey to the past!

Sincerely,
The Time Capsule Team`))

var htmlTemplate = htmltemplate.Must(htmltemplate.New("html").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>{{.Subject}}</title>
</head>
<body style="font-family: Arial, Helvetica, sans-serif; font-size: 14px; line-height: 1.6; color: #333;">
<p>Hello,</p>
<p>A time capsule titled "<strong>{{.Title}}</strong>" created by <em>{{.OwnerName}}</em> has been unsealed and is now available for you to view.</p>
{{- if .Text}}
<div style="margin-top: 20px; margin-bottom: 20px; padding: 15px; border: 1px solid #dddddd; background-color: #f9f9f9; border-radius: 4px;">
<p style="margin-top: 0; margin-bottom: 10px;"><strong>Here's a message from the capsule:</strong></p>
<div style="white-space: pre-wrap; word-wrap: break-word;">{{.Text}}</div>
</div>
{{- end}}
<p>You can view the full capsule contents, including any media, by clicking the link below:</p>
<p><a href="{{.Link}}" style="color: #007bff; text-decoration: none;">View Your Time Capsule</a></p>
<p>Enjoy your journey to the past!</p>
<br />
<p>Sincerely,<br />The Time Capsule Team</p>
</body>
</html>`))

// CapsuleLink is the data of the "your capsule is ready" email.
type CapsuleLink struct {
	To        string
	Title     string
	OwnerName string
	Text      string
	Link      string
}

type capsuleLinkView struct {
	CapsuleLink
	Subject string
}

// ViewURL is the public link a recipient opens.
func ViewURL(frontendBase, token string) string {
	return strings.TrimRight(frontendBase, "/") + "/view-capsule/" + token + "/"
}

func CapsuleLinkSubject(ownerName string) string {
	return "A Time Capsule from " + ownerName + " is ready for you!"
}

// ComposeCapsuleLink renders both bodies. User text is escaped in the HTML
// body only.
func ComposeCapsuleLink(data CapsuleLink) (Email, error) {
	view := capsuleLinkView{CapsuleLink: data, Subject: CapsuleLinkSubject(data.OwnerName)}

	var plain bytes.Buffer
	if err := plainTemplate.Execute(&plain, view); err != nil {
		return Email{}, err
	}

	var html bytes.Buffer
	if err := htmlTemplate.Execute(&html, view); err != nil {
		return Email{}, err
	}

	return Email{
		To:      data.To,
		Subject: view.Subject,
		Plain:   plain.String(),
		HTML:    html.String(),
	}, nil
}
