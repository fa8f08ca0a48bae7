package notify

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderNewComment(t *testing.T) {
	subject, body, err := Render(Message{
		Kind:      KindNewComment,
		Recipient: Recipient{UserID: 1, Username: "alice", FirstName: "Alice"},
		Comment:   &CommentContext{AdTitle: "iPhone", Author: "bob", Content: "is it new?", Link: "https://b.example/rubric/2/ad/3"},
	})
	require.NoError(t, err)
	assert.Equal(t, `New comment on "iPhone"`, subject)
	assert.True(t, strings.HasPrefix(body, "Hello, Alice!"))
	assert.Contains(t, body, "bob wrote:\nis it new?")
	assert.Contains(t, body, "Open the ad: https://b.example/rubric/2/ad/3")
}

func TestRenderActivation(t *testing.T) {
	subject, body, err := Render(Message{
		Kind:       KindActivation,
		Recipient:  Recipient{UserID: 1, Username: "alice"},
		Activation: &ActivationContext{Link: "https://b.example/v1/auth/activate/sig"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Activate your account, alice", subject)
	assert.Contains(t, body, "Hello, alice!")
	assert.Contains(t, body, "https://b.example/v1/auth/activate/sig")
}

func TestValidateRejectsMismatchedContext(t *testing.T) {
	cases := []Message{
		{Kind: KindNewComment, Recipient: Recipient{UserID: 1}},
		{Kind: KindActivation, Recipient: Recipient{UserID: 1}},
		{Kind: "digest", Recipient: Recipient{UserID: 1}},
		{Kind: KindActivation, Activation: &ActivationContext{}},
	}
	for _, msg := range cases {
		assert.Error(t, msg.Validate(), "%+v", msg)
		_, _, err := Render(msg)
		assert.Error(t, err)
	}
}

func TestBuildMessageHeaders(t *testing.T) {
	raw := string(buildMessage("board@example.com", "alice@example.com", "Привет", "line1\nline2"))
	assert.Contains(t, raw, "From: board@example.com\r\n")
	assert.Contains(t, raw, "To: alice@example.com\r\n")
	assert.Contains(t, raw, "Subject: =?utf-8?q?")
	assert.True(t, strings.HasSuffix(raw, "\r\n\r\nline1\r\nline2"))
}
