package mail

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestViewURL(t *testing.T) {
	assert.Equal(t, "http://localhost:5173/view-capsule/abc/", ViewURL("http://localhost:5173", "abc"))
	assert.Equal(t, "https://tc.example/view-capsule/abc/", ViewURL("https://tc.example/", "abc"))
}

func TestComposeCapsuleLink(t *testing.T) {
	email, err := ComposeCapsuleLink(CapsuleLink{
		To:        "bob@example.com",
		Title:     "Summer <2024>",
		OwnerName: "Ada",
		Text:      "see you <b>soon</b>",
		Link:      "http://localhost:5173/view-capsule/tok/",
	})
	require.NoError(t, err)

	assert.Equal(t, "bob@example.com", email.To)
	assert.Equal(t, "A Time Capsule from Ada is ready for you!", email.Subject)

	assert.Contains(t, email.Plain, `A time capsule titled "Summer <2024>" created by Ada`)
	assert.Contains(t, email.Plain, "---\nsee you <b>soon</b>\n---")
	assert.Contains(t, email.Plain, "http://localhost:5173/view-capsule/tok/")

	assert.Contains(t, email.HTML, "Summer &lt;2024&gt;")
	assert.Contains(t, email.HTML, "see you &lt;b&gt;soon&lt;/b&gt;")
	assert.NotContains(t, email.HTML, "<b>soon</b>")
	assert.Contains(t, email.HTML, `href="http://localhost:5173/view-capsule/tok/"`)
}

func TestComposeCapsuleLink_NoText(t *testing.T) {
	email, err := ComposeCapsuleLink(CapsuleLink{To: "bob@example.com", Title: "T", OwnerName: "A friend", Link: "l"})
	require.NoError(t, err)
	assert.NotContains(t, email.Plain, "Here's a message")
	assert.NotContains(t, email.HTML, "Here's a message")
}

func TestValidAddress(t *testing.T) {
	assert.True(t, ValidAddress("bob@example.com"))
	assert.False(t, ValidAddress(""))
	assert.False(t, ValidAddress("bob"))
	assert.False(t, ValidAddress("Bob <bob@example.com>"))
	assert.Equal(t, "bob", LocalPart("bob@example.com"))
}

func TestSenderFunc(t *testing.T) {
	var got Email
	s := SenderFunc(func(_ context.Context, e Email) (bool, string) {
		got = e
		return true, SuccessMessage
	})
	ok, msg := s.Send(context.Background(), Email{To: "x@example.com"})
	assert.True(t, ok)
	assert.Equal(t, SuccessMessage, msg)
	assert.Equal(t, "x@example.com", got.To)
}
